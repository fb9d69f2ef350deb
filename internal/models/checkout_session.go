package models

import (
	"time"

	"gorm.io/gorm"
)

// CheckoutStatus is the lifecycle status of a checkout session.
// Once it leaves pending it is terminal.
type CheckoutStatus string

const (
	CheckoutStatusPending   CheckoutStatus = "pending"
	CheckoutStatusCompleted CheckoutStatus = "completed"
	CheckoutStatusFailed    CheckoutStatus = "failed"
	CheckoutStatusCancelled CheckoutStatus = "cancelled"
)

// IsTerminal reports whether the status can no longer change
func (s CheckoutStatus) IsTerminal() bool {
	return s != CheckoutStatusPending
}

// CheckoutSession records one purchase attempt. Sessions are never deleted;
// they are the audit trail for the purchase.
type CheckoutSession struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TransactionID string `gorm:"type:varchar(100);uniqueIndex;not null" json:"transaction_id"`
	TenantID      uint   `gorm:"index" json:"tenant_id"`

	PlanID             uint    `json:"plan_id"`
	PlanName           string  `gorm:"type:varchar(255)" json:"plan_name"`
	PlanPrice          float64 `gorm:"type:decimal(15,2)" json:"plan_price"`
	BillingCycleMonths int     `json:"billing_cycle_months"`
	Currency           string  `gorm:"type:varchar(10)" json:"currency"`

	// Buyer fields, opaque to the payment core
	CustomerName     string `gorm:"type:varchar(255)" json:"customer_name"`
	CustomerEmail    string `gorm:"type:varchar(255)" json:"customer_email"`
	CustomerPhone    string `gorm:"type:varchar(50)" json:"customer_phone"`
	CustomerAddress  string `gorm:"type:varchar(255)" json:"customer_address"`
	CustomerCity     string `gorm:"type:varchar(100)" json:"customer_city"`
	CustomerPostcode string `gorm:"type:varchar(20)" json:"customer_postcode"`
	CustomerCountry  string `gorm:"type:varchar(100)" json:"customer_country"`
	Subdomain        string `gorm:"type:varchar(100)" json:"subdomain"`

	Status            CheckoutStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	GatewaySessionKey string         `gorm:"type:varchar(255)" json:"gateway_session_key"`

	// Populated only by authoritative validator verification
	ValidationID      string `gorm:"type:varchar(100)" json:"validation_id"`
	CardType          string `gorm:"type:varchar(100)" json:"card_type"`
	BankTransactionID string `gorm:"type:varchar(100)" json:"bank_transaction_id"`
	RiskLevel         string `gorm:"type:varchar(20)" json:"risk_level"`

	Error string `gorm:"type:text" json:"error"`
}

// HasPaymentDetails reports whether verified payment attributes are present
func (s CheckoutSession) HasPaymentDetails() bool {
	return s.ValidationID != ""
}
