package models

import (
	"time"

	"gorm.io/gorm"
)

// GatewaySettings holds payment gateway credentials for one tenant.
// TenantID 0 is the global row; tenant rows override it.
type GatewaySettings struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TenantID      uint   `gorm:"uniqueIndex" json:"tenant_id"`
	StoreID       string `gorm:"type:varchar(100)" json:"store_id"`
	StorePassword string `gorm:"type:varchar(255)" json:"-"`
	IsLive        bool   `gorm:"default:false" json:"is_live"`
}

// Complete reports whether the row carries usable credentials
func (g GatewaySettings) Complete() bool {
	return g.StoreID != "" && g.StorePassword != ""
}
