package services

import (
	"context"
	"sync"
	"time"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
)

// fakeSessionRepo is an in-memory CheckoutSessionRepository faithful to the
// conditional-update semantics of the real store
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.CheckoutSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*models.CheckoutSession)}
}

func (r *fakeSessionRepo) Create(_ context.Context, session *models.CheckoutSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session.CreatedAt = time.Now()
	copied := *session
	r.sessions[session.TransactionID] = &copied
	return nil
}

func (r *fakeSessionRepo) GetByTransactionID(_ context.Context, tranID string) (*models.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[tranID]
	if !ok {
		return nil, apperrors.NotFound("checkout session", tranID)
	}
	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) UpdateIfPending(_ context.Context, tranID string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[tranID]
	if !ok {
		return apperrors.NotFound("checkout session", tranID)
	}
	if session.Status.IsTerminal() {
		return apperrors.New(apperrors.KindConflict, "checkout session already in terminal state")
	}
	applySessionUpdates(session, updates)
	return nil
}

func (r *fakeSessionRepo) UpdateVerifiedDetails(_ context.Context, tranID string, updates map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[tranID]
	if !ok {
		return apperrors.NotFound("checkout session", tranID)
	}
	delete(updates, "status")
	applySessionUpdates(session, updates)
	return nil
}

func (r *fakeSessionRepo) ListStalePending(_ context.Context, olderThan time.Time) ([]models.CheckoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CheckoutSession
	for _, session := range r.sessions {
		if session.Status == models.CheckoutStatusPending && session.CreatedAt.Before(olderThan) {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func applySessionUpdates(session *models.CheckoutSession, updates map[string]interface{}) {
	for key, value := range updates {
		switch key {
		case "status":
			session.Status = value.(models.CheckoutStatus)
		case "error":
			session.Error = value.(string)
		case "gateway_session_key":
			session.GatewaySessionKey = value.(string)
		case "validation_id":
			session.ValidationID = value.(string)
		case "card_type":
			session.CardType = value.(string)
		case "bank_transaction_id":
			session.BankTransactionID = value.(string)
		case "risk_level":
			session.RiskLevel = value.(string)
		}
	}
	session.UpdatedAt = time.Now()
}

// fakeCallbackRepo records callback audit rows in memory
type fakeCallbackRepo struct {
	mu      sync.Mutex
	entries []models.PaymentCallbackHistory
}

func (r *fakeCallbackRepo) Record(_ context.Context, entry *models.PaymentCallbackHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// fakeGateway is a scriptable PaymentGateway that counts outbound calls
type fakeGateway struct {
	mu            sync.Mutex
	initCalls     int
	validateCalls int

	initResp *InitResponse
	initErr  error
	valResp  *ValidationResponse
	valErr   error
}

func (g *fakeGateway) InitiatePayment(_ context.Context, _ Credentials, _ InitRequest) (*InitResponse, error) {
	g.mu.Lock()
	g.initCalls++
	g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	return g.initResp, nil
}

func (g *fakeGateway) ValidatePayment(_ context.Context, _ Credentials, _ string) (*ValidationResponse, error) {
	g.mu.Lock()
	g.validateCalls++
	g.mu.Unlock()
	if g.valErr != nil {
		return nil, g.valErr
	}
	return g.valResp, nil
}

func (g *fakeGateway) calls() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initCalls, g.validateCalls
}

// fakeResolver returns fixed credentials for every tenant
type fakeResolver struct {
	creds Credentials
}

func (r *fakeResolver) Resolve(_ context.Context, _ uint) (Credentials, error) {
	return r.creds, nil
}

// fakeCompletionHandler counts completion events
type fakeCompletionHandler struct {
	mu       sync.Mutex
	sessions []models.CheckoutSession
}

func (h *fakeCompletionHandler) OnCheckoutCompleted(_ context.Context, session *models.CheckoutSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, *session)
	return nil
}

func (h *fakeCompletionHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// fakeSubscriptionRepo is an in-memory SubscriptionRepository with
// version-checked writes
type fakeSubscriptionRepo struct {
	mu     sync.Mutex
	nextID uint
	subs   map[uint]*models.Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{subs: make(map[uint]*models.Subscription)}
}

func (r *fakeSubscriptionRepo) Create(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = r.nextID
	copied := *sub
	r.subs[sub.ID] = &copied
	return nil
}

func (r *fakeSubscriptionRepo) GetCurrentByTenant(_ context.Context, tenantID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.TenantID != tenantID {
			continue
		}
		switch sub.Status {
		case models.SubscriptionStatusActive, models.SubscriptionStatusTrial, models.SubscriptionStatusPastDue:
			copied := *sub
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSubscriptionRepo) GetByID(_ context.Context, id uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, apperrors.New(apperrors.KindNotFound, "subscription not found")
	}
	copied := *sub
	return &copied, nil
}

func (r *fakeSubscriptionRepo) UpdateWithVersion(_ context.Context, sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.subs[sub.ID]
	if !ok {
		return apperrors.New(apperrors.KindNotFound, "subscription not found")
	}
	if stored.Version != sub.Version {
		return apperrors.New(apperrors.KindConflict, "subscription was modified concurrently")
	}
	sub.Version++
	copied := *sub
	r.subs[sub.ID] = &copied
	return nil
}

func (r *fakeSubscriptionRepo) ListExpiring(_ context.Context, now time.Time, daysAhead int) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := now.AddDate(0, 0, daysAhead)
	var out []models.Subscription
	for _, sub := range r.subs {
		if sub.Status == models.SubscriptionStatusActive &&
			!sub.CurrentPeriodEnd.Before(now) && !sub.CurrentPeriodEnd.After(until) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

// fakeSettingsRepo is an in-memory GatewaySettingsRepository
type fakeSettingsRepo struct {
	mu   sync.Mutex
	rows map[uint]*models.GatewaySettings
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{rows: make(map[uint]*models.GatewaySettings)}
}

func (r *fakeSettingsRepo) GetByTenant(_ context.Context, tenantID uint) (*models.GatewaySettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[tenantID]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (r *fakeSettingsRepo) Upsert(_ context.Context, settings *models.GatewaySettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *settings
	r.rows[settings.TenantID] = &copied
	return nil
}
