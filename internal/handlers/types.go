package handlers

import (
	"time"

	"merchantdesk/internal/models"
	"merchantdesk/internal/services"
)

// InitCheckoutBody is the inbound payload for starting a checkout
type InitCheckoutBody struct {
	TenantID           uint    `json:"tenantId"`
	PlanID             uint    `json:"planId"`
	PlanName           string  `json:"planName"`
	PlanPrice          float64 `json:"planPrice"`
	BillingCycleMonths int     `json:"billingCycleMonths"`
	Currency           string  `json:"currency"`

	CustomerName     string `json:"customerName"`
	CustomerEmail    string `json:"customerEmail"`
	CustomerPhone    string `json:"customerPhone"`
	CustomerAddress  string `json:"customerAddress"`
	CustomerCity     string `json:"customerCity"`
	CustomerPostcode string `json:"customerPostcode"`
	CustomerCountry  string `json:"customerCountry"`
	Subdomain        string `json:"subdomain"`
}

// InitCheckoutResponse is the outcome of starting a checkout
type InitCheckoutResponse struct {
	Success        bool   `json:"success"`
	TransactionID  string `json:"transactionId"`
	Status         string `json:"status"`
	GatewayPageURL string `json:"gatewayPageUrl,omitempty"`
	DemoMode       bool   `json:"demoMode,omitempty"`
}

// CheckoutSessionResponse is the read view of a session. Verified payment
// attributes are redacted to a single boolean.
type CheckoutSessionResponse struct {
	TransactionID      string    `json:"transactionId"`
	PlanID             uint      `json:"planId"`
	PlanName           string    `json:"planName"`
	PlanPrice          float64   `json:"planPrice"`
	BillingCycleMonths int       `json:"billingCycleMonths"`
	Currency           string    `json:"currency"`
	Status             string    `json:"status"`
	HasPaymentDetails  bool      `json:"hasPaymentDetails"`
	Error              string    `json:"error,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func newCheckoutSessionResponse(session *models.CheckoutSession) CheckoutSessionResponse {
	return CheckoutSessionResponse{
		TransactionID:      session.TransactionID,
		PlanID:             session.PlanID,
		PlanName:           session.PlanName,
		PlanPrice:          session.PlanPrice,
		BillingCycleMonths: session.BillingCycleMonths,
		Currency:           session.Currency,
		Status:             string(session.Status),
		HasPaymentDetails:  session.HasPaymentDetails(),
		Error:              session.Error,
		CreatedAt:          session.CreatedAt,
		UpdatedAt:          session.UpdatedAt,
	}
}

// SubscriptionResponse pairs the stored record with its derived status
type SubscriptionResponse struct {
	TenantID           uint                   `json:"tenantId"`
	PlanID             uint                   `json:"planId"`
	BillingCycleMonths int                    `json:"billingCycleMonths"`
	Amount             float64                `json:"amount"`
	Currency           string                 `json:"currency"`
	StoredStatus       string                 `json:"storedStatus"`
	CurrentPeriodStart time.Time              `json:"currentPeriodStart"`
	CurrentPeriodEnd   time.Time              `json:"currentPeriodEnd"`
	GracePeriodEndsAt  time.Time              `json:"gracePeriodEndsAt"`
	TotalPaid          float64                `json:"totalPaid"`
	RenewalCount       int                    `json:"renewalCount"`
	AutoRenew          bool                   `json:"autoRenew"`
	CancelAtPeriodEnd  bool                   `json:"cancelAtPeriodEnd"`
	Dynamic            services.DynamicStatus `json:"dynamic"`
}

func newSubscriptionResponse(sub *models.Subscription, dynamic services.DynamicStatus) SubscriptionResponse {
	return SubscriptionResponse{
		TenantID:           sub.TenantID,
		PlanID:             sub.PlanID,
		BillingCycleMonths: sub.BillingCycleMonths,
		Amount:             sub.Amount,
		Currency:           sub.Currency,
		StoredStatus:       string(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		GracePeriodEndsAt:  sub.GracePeriodEndsAt,
		TotalPaid:          sub.TotalPaid,
		RenewalCount:       sub.RenewalCount,
		AutoRenew:          sub.AutoRenew,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Dynamic:            dynamic,
	}
}

// GatewaySettingsBody is the inbound payload for credential overrides
type GatewaySettingsBody struct {
	StoreID       string `json:"storeId"`
	StorePassword string `json:"storePassword"`
	IsLive        bool   `json:"isLive"`
}

// CancelSubscriptionBody selects immediate or period-end cancellation
type CancelSubscriptionBody struct {
	AtPeriodEnd bool `json:"atPeriodEnd"`
}
