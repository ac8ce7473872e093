package model

import (
	"time"
)

// 许可证状态
const (
	LicenseStatusPending  = "pending"
	LicenseStatusActive   = "active"
	LicenseStatusExpired  = "expired"
	LicenseStatusDisabled = "disabled"
)

// 连接类型
const (
	ConnectionTypeNetwork    = "network"
	ConnectionTypeStandalone = "standalone"
)

type License struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	CustomerID     uint       `json:"customer_id" gorm:"not null"`
	ProductID      uint       `json:"product_id" gorm:"not null"`
	SerialNumber   string     `json:"serial_number" gorm:"size:255;uniqueIndex;not null"`
	Features       []string   `json:"features" gorm:"serializer:json"`
	ExpiresAt      *time.Time `json:"expires_at"`
	MaxActivations int        `json:"max_activations" gorm:"default:1"`
	Status         string     `json:"status" gorm:"size:20;default:'pending';not null"`
	ConnectionType string     `json:"connection_type" gorm:"size:20;default:'network';not null"`
	Notes          string     `json:"notes"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`

	Customer Customer `json:"customer" gorm:"foreignKey:CustomerID"`
	Product  Product  `json:"product" gorm:"foreignKey:ProductID"`
}

// IsExpired 仅供后台到期扫描使用，验证流程只看 Status
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}
