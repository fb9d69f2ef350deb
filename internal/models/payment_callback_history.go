package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// CallbackChannel identifies which inbound channel delivered a gateway callback
type CallbackChannel string

const (
	CallbackChannelSuccessReturn CallbackChannel = "success_return"
	CallbackChannelFailReturn    CallbackChannel = "fail_return"
	CallbackChannelCancelReturn  CallbackChannel = "cancel_return"
	CallbackChannelIPN           CallbackChannel = "ipn"
)

// PaymentCallbackHistory is an audit row for every inbound gateway callback,
// recorded before any state transition is attempted
type PaymentCallbackHistory struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TransactionID string          `gorm:"type:varchar(100);index" json:"transaction_id"`
	Channel       CallbackChannel `gorm:"type:varchar(50);not null" json:"channel"`
	Metadata      json.RawMessage `gorm:"type:jsonb" json:"metadata"`
}
