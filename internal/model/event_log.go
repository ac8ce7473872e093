package model

import "time"

// 事件类型
const (
	EventTypeActivation     = "activation"
	EventTypeReActivation   = "re_activation"
	EventTypeHardwareChange = "hardware_change"
	EventTypeValidation     = "validation"
	EventTypeDeactivation   = "deactivation"
)

// 事件子类型
const (
	EventSubtypeNewActivation      = "new_activation"
	EventSubtypeNoChange           = "no_change"
	EventSubtypeMachineCodeChange  = "machine_code_change"
	EventSubtypeHardwareChange     = "hardware_change"
	EventSubtypeMachineAndHardware = "machine_code_and_hardware_change"
	EventSubtypeNormalValidation   = "normal_validation"
	EventSubtypeValidationHardware = "validation_hardware_change"
	EventSubtypeBlacklistHit       = "blacklist_hit"
	EventSubtypeUserDeactivation   = "user_deactivation"
)

// 严重等级
const (
	SeverityInfo       = "info"
	SeverityWarning    = "warning"
	SeveritySuspicious = "suspicious"
	SeverityCritical   = "critical"
)

// EventLog 审计事件，只追加不修改，确认字段只允许写入一次
type EventLog struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	LicenseID    *uint          `json:"license_id" gorm:"index"`
	ActivationID *uint          `json:"activation_id" gorm:"index"`
	EventType    string         `json:"event_type" gorm:"size:30;not null"`
	EventSubtype string         `json:"event_subtype" gorm:"size:100"`
	SerialNumber string         `json:"serial_number" gorm:"size:255;not null;index"`
	MachineCode  string         `json:"machine_code" gorm:"size:255"`
	IPAddress    string         `json:"ip_address" gorm:"size:45"`
	UserAgent    string         `json:"user_agent"`
	Details      map[string]any `json:"details" gorm:"serializer:json"`
	Severity     string         `json:"severity" gorm:"size:20;default:'info'"`
	IsConfirmed  bool           `json:"is_confirmed" gorm:"default:false;not null"`
	ConfirmedBy  string         `json:"confirmed_by" gorm:"size:255"`
	ConfirmedAt  *time.Time     `json:"confirmed_at"`
	CreatedAt    time.Time      `json:"created_at"`
}
