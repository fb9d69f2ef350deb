package models

import (
	"time"

	"gorm.io/gorm"
)

// SubscriptionStatus is the stored status of a tenant subscription.
// Readers derive the effective status from the period dates at read time,
// so a stored "active" may present as grace_period or expired.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusPastDue   SubscriptionStatus = "past_due"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Derived-only statuses, never stored
const (
	DerivedStatusGracePeriod = "grace_period"
	DerivedStatusExpired     = "expired"
)

// GracePeriodDays is the window after the period end during which access
// is not yet revoked, pending late payment
const GracePeriodDays = 7

// Subscription is one tenant's current billing state. At most one
// non-terminal record exists per tenant. Records are never physically
// deleted while the tenant exists.
type Subscription struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	TenantID           uint    `gorm:"index" json:"tenant_id"`
	PlanID             uint    `json:"plan_id"`
	BillingCycleMonths int     `json:"billing_cycle_months"`
	Amount             float64 `gorm:"type:decimal(15,2)" json:"amount"`
	Currency           string  `gorm:"type:varchar(10)" json:"currency"`

	Status SubscriptionStatus `gorm:"type:varchar(20);default:'active';index" json:"status"`

	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `gorm:"index" json:"current_period_end"`
	GracePeriodEndsAt  time.Time `json:"grace_period_ends_at"`

	TotalPaid    float64 `gorm:"type:decimal(15,2)" json:"total_paid"`
	RenewalCount int     `json:"renewal_count"`

	AutoRenew         bool `gorm:"default:true" json:"auto_renew"`
	CancelAtPeriodEnd bool `gorm:"default:false" json:"cancel_at_period_end"`

	// Optimistic concurrency token; every write is conditional on it
	Version int `gorm:"default:1" json:"-"`
}
