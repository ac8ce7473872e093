package model

import "time"

type Customer struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	TaxID     string    `json:"tax_id" gorm:"size:80;uniqueIndex;not null"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	Email     string    `json:"email" gorm:"size:255;uniqueIndex"`
	Phone     string    `json:"phone" gorm:"size:50"`
	Address   string    `json:"address"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
