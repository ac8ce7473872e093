package model

import "time"

// 启用记录状态
const (
	ActivationStatusActive      = "active"
	ActivationStatusDeactivated = "deactivated"
	ActivationStatusBlacklisted = "blacklisted"
)

type Activation struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	LicenseID       uint       `json:"license_id" gorm:"not null;index"`
	MachineCode     string     `json:"machine_code" gorm:"size:255;not null;index"`
	IPAddress       string     `json:"ip_address" gorm:"size:45"`
	Status          string     `json:"status" gorm:"size:20;default:'active';not null"`
	ActivatedAt     time.Time  `json:"activated_at"`
	DeactivatedAt   *time.Time `json:"deactivated_at"`
	BlacklistedAt   *time.Time `json:"blacklisted_at"`
	LastValidatedAt *time.Time `json:"last_validated_at"`

	// 硬件ID字段（选填，支持硬件变化检测），空字符串视为未提供
	KeyproID      string `json:"keypro_id" gorm:"size:255;index"`
	MotherboardID string `json:"motherboard_id" gorm:"size:255;index"`
	DiskID        string `json:"disk_id" gorm:"size:255;index"`
	AppVersion    string `json:"app_version" gorm:"size:50"`
}

// MachineTag 机器码前16位，作为粗粒度的机器标识
func (a *Activation) MachineTag() string {
	return MachineTag(a.MachineCode)
}

func MachineTag(machineCode string) string {
	if len(machineCode) > 16 {
		return machineCode[:16]
	}
	return machineCode
}
