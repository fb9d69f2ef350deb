package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
	"merchantdesk/internal/repository"
)

const (
	defaultCurrency = "BDT"

	// How long one transaction's callback reconciliation may hold the
	// distributed mutex, validator call included
	checkoutLockExpiry = 30 * time.Second
)

// CredentialResolver supplies gateway credentials per tenant scope
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID uint) (Credentials, error)
}

// CheckoutCompletedHandler consumes the completion of a checkout exactly
// once per transaction. The subscription ledger implements it.
type CheckoutCompletedHandler interface {
	OnCheckoutCompleted(ctx context.Context, session *models.CheckoutSession) error
}

// InitCheckoutRequest is one purchase attempt as submitted by a client
type InitCheckoutRequest struct {
	TenantID           uint
	PlanID             uint
	PlanName           string
	PlanPrice          float64
	BillingCycleMonths int
	Currency           string

	CustomerName     string
	CustomerEmail    string
	CustomerPhone    string
	CustomerAddress  string
	CustomerCity     string
	CustomerPostcode string
	CustomerCountry  string
	Subdomain        string
}

// InitCheckoutResult is the outcome of initiating a checkout
type InitCheckoutResult struct {
	TransactionID  string
	Status         models.CheckoutStatus
	GatewayPageURL string
	DemoMode       bool
}

// CallbackPayload carries the field set the gateway delivers on both the
// browser return redirects and the server-to-server notification
type CallbackPayload struct {
	TransactionID     string `json:"tran_id" form:"tran_id" query:"tran_id"`
	ValidationID      string `json:"val_id" form:"val_id" query:"val_id"`
	Status            string `json:"status" form:"status" query:"status"`
	Amount            string `json:"amount" form:"amount" query:"amount"`
	Currency          string `json:"currency" form:"currency" query:"currency"`
	BankTransactionID string `json:"bank_tran_id" form:"bank_tran_id" query:"bank_tran_id"`
	CardType          string `json:"card_type" form:"card_type" query:"card_type"`
	Error             string `json:"error" form:"error" query:"error"`
}

// CheckoutService drives a checkout session from creation through gateway
// init to callback reconciliation. All session mutations go through it.
type CheckoutService struct {
	sessions  repository.CheckoutSessionRepository
	callbacks repository.CallbackHistoryRepository
	gateway   PaymentGateway
	creds     CredentialResolver
	cache     *RedisCache // optional; reconciliation degrades to conditional updates alone
	completed CheckoutCompletedHandler
	appURL    string
	logger    *zap.Logger
}

func NewCheckoutService(
	sessions repository.CheckoutSessionRepository,
	callbacks repository.CallbackHistoryRepository,
	gateway PaymentGateway,
	creds CredentialResolver,
	cache *RedisCache,
	completed CheckoutCompletedHandler,
	appURL string,
	logger *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		sessions:  sessions,
		callbacks: callbacks,
		gateway:   gateway,
		creds:     creds,
		cache:     cache,
		completed: completed,
		appURL:    appURL,
		logger:    logger,
	}
}

// InitCheckout creates a checkout session and, for priced plans with a
// configured gateway, registers a hosted payment page. Free plans complete
// immediately without any gateway call.
func (s *CheckoutService) InitCheckout(ctx context.Context, req InitCheckoutRequest) (*InitCheckoutResult, error) {
	if fields := validateInitCheckout(req); len(fields) > 0 {
		return nil, apperrors.Validation("invalid checkout request", fields)
	}
	if req.Currency == "" {
		req.Currency = defaultCurrency
	}

	session := &models.CheckoutSession{
		TransactionID:      "TXN-" + uuid.NewString(),
		TenantID:           req.TenantID,
		PlanID:             req.PlanID,
		PlanName:           req.PlanName,
		PlanPrice:          req.PlanPrice,
		BillingCycleMonths: req.BillingCycleMonths,
		Currency:           req.Currency,
		CustomerName:       req.CustomerName,
		CustomerEmail:      req.CustomerEmail,
		CustomerPhone:      req.CustomerPhone,
		CustomerAddress:    orDefault(req.CustomerAddress, "N/A"),
		CustomerCity:       orDefault(req.CustomerCity, "N/A"),
		CustomerPostcode:   orDefault(req.CustomerPostcode, "0000"),
		CustomerCountry:    orDefault(req.CustomerCountry, "Bangladesh"),
		Subdomain:          req.Subdomain,
		Status:             models.CheckoutStatusPending,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	if req.PlanPrice == 0 {
		if err := s.completeSession(ctx, session.TransactionID, map[string]interface{}{
			"status": models.CheckoutStatusCompleted,
		}); err != nil {
			return nil, err
		}
		s.logger.Info("free checkout short-circuited",
			zap.String("transaction_id", session.TransactionID),
			zap.Uint("plan_id", req.PlanID),
		)
		return &InitCheckoutResult{
			TransactionID: session.TransactionID,
			Status:        models.CheckoutStatusCompleted,
		}, nil
	}

	creds, err := s.creds.Resolve(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if !creds.Enabled {
		s.logger.Warn("gateway not configured, checkout recorded in demo mode",
			zap.String("transaction_id", session.TransactionID),
			zap.Uint("tenant_id", req.TenantID),
		)
		return &InitCheckoutResult{
			TransactionID: session.TransactionID,
			Status:        models.CheckoutStatusPending,
			DemoMode:      true,
		}, nil
	}

	initResp, err := s.gateway.InitiatePayment(ctx, creds, InitRequest{
		TransactionID:    session.TransactionID,
		Amount:           session.PlanPrice,
		Currency:         session.Currency,
		SuccessURL:       s.appURL + "/payment/success",
		FailURL:          s.appURL + "/payment/fail",
		CancelURL:        s.appURL + "/payment/cancel",
		IPNURL:           s.appURL + "/payment/ipn",
		ProductName:      session.PlanName,
		ProductCategory:  "subscription",
		CustomerName:     session.CustomerName,
		CustomerEmail:    session.CustomerEmail,
		CustomerPhone:    session.CustomerPhone,
		CustomerAddress:  session.CustomerAddress,
		CustomerCity:     session.CustomerCity,
		CustomerPostcode: session.CustomerPostcode,
		CustomerCountry:  session.CustomerCountry,
	})
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindGatewayRejected) {
			// Rejection is not retryable; record the terminal failure
			_ = s.sessions.UpdateIfPending(ctx, session.TransactionID, map[string]interface{}{
				"status": models.CheckoutStatusFailed,
				"error":  err.Error(),
			})
		}
		// Network failure leaves the session pending and safe to retry
		return nil, err
	}

	if err := s.sessions.UpdateIfPending(ctx, session.TransactionID, map[string]interface{}{
		"gateway_session_key": initResp.SessionKey,
	}); err != nil {
		return nil, err
	}

	return &InitCheckoutResult{
		TransactionID:  session.TransactionID,
		Status:         models.CheckoutStatusPending,
		GatewayPageURL: initResp.GatewayPageURL,
	}, nil
}

// GetSession returns the session for the given transaction id
func (s *CheckoutService) GetSession(ctx context.Context, tranID string) (*models.CheckoutSession, error) {
	if tranID == "" {
		return nil, apperrors.Validation("missing transaction id", map[string]string{"transactionId": "required"})
	}
	return s.sessions.GetByTransactionID(ctx, tranID)
}

// HandleSuccessReturn processes the browser's success redirect. The
// redirect's own status flag is client-controlled and never trusted: the
// claim only triggers a pull-based validation, and the session completes
// solely on a validator VALID/VALIDATED.
func (s *CheckoutService) HandleSuccessReturn(ctx context.Context, payload CallbackPayload) (*models.CheckoutSession, error) {
	s.recordCallback(ctx, models.CallbackChannelSuccessReturn, payload)
	return s.reconcile(ctx, payload)
}

// HandleIPN processes the asynchronous server-to-server gateway
// notification. With a validation id it runs the same verification path as
// the success return; without one it can only record an explicit
// failure or cancellation the gateway reports.
func (s *CheckoutService) HandleIPN(ctx context.Context, payload CallbackPayload) (*models.CheckoutSession, error) {
	s.recordCallback(ctx, models.CallbackChannelIPN, payload)
	if payload.ValidationID == "" {
		switch payload.Status {
		case "FAILED":
			return s.markTerminal(ctx, payload.TransactionID, models.CheckoutStatusFailed, orDefault(payload.Error, "payment failed"))
		case "CANCELLED":
			return s.markTerminal(ctx, payload.TransactionID, models.CheckoutStatusCancelled, "")
		default:
			return nil, apperrors.Validation("notification carries no validation id", map[string]string{"val_id": "required"})
		}
	}
	return s.reconcile(ctx, payload)
}

// HandleFailReturn processes the browser's failure redirect
func (s *CheckoutService) HandleFailReturn(ctx context.Context, payload CallbackPayload) (*models.CheckoutSession, error) {
	s.recordCallback(ctx, models.CallbackChannelFailReturn, payload)
	return s.markTerminal(ctx, payload.TransactionID, models.CheckoutStatusFailed, orDefault(payload.Error, "payment failed"))
}

// HandleCancelReturn processes the browser's cancel redirect
func (s *CheckoutService) HandleCancelReturn(ctx context.Context, payload CallbackPayload) (*models.CheckoutSession, error) {
	s.recordCallback(ctx, models.CallbackChannelCancelReturn, payload)
	return s.markTerminal(ctx, payload.TransactionID, models.CheckoutStatusCancelled, "")
}

// reconcile is the single path through which a session can become
// completed. It requires an authoritative validator confirmation; the
// success return and the IPN both funnel here and race safely.
func (s *CheckoutService) reconcile(ctx context.Context, payload CallbackPayload) (*models.CheckoutSession, error) {
	if payload.TransactionID == "" {
		return nil, apperrors.Validation("missing transaction id", map[string]string{"tran_id": "required"})
	}

	if mutex := s.lock(payload.TransactionID); mutex != nil {
		if err := mutex.LockContext(ctx); err != nil {
			// The other channel holds the lock; the conditional update below
			// still protects the terminal transition
			s.logger.Warn("could not acquire checkout lock",
				zap.String("transaction_id", payload.TransactionID),
				zap.Error(err),
			)
		} else {
			defer mutex.UnlockContext(ctx)
		}
	}

	session, err := s.sessions.GetByTransactionID(ctx, payload.TransactionID)
	if err != nil {
		return nil, err
	}

	if session.Status.IsTerminal() {
		s.logger.Info("callback for terminal session ignored",
			zap.String("transaction_id", session.TransactionID),
			zap.String("status", string(session.Status)),
		)
		// A later authoritative verification may still upgrade the payment
		// detail fields of a completed session
		if session.Status == models.CheckoutStatusCompleted && !session.HasPaymentDetails() && payload.ValidationID != "" {
			return s.upgradeDetails(ctx, session, payload.ValidationID)
		}
		return session, nil
	}

	if payload.ValidationID == "" {
		// Nothing verifiable yet; leave the session pending so the IPN can
		// settle it
		return session, apperrors.Validation("redirect carries no validation id", map[string]string{"val_id": "required"})
	}

	creds, err := s.creds.Resolve(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	if !creds.Enabled {
		return session, apperrors.New(apperrors.KindConfigMissing, "gateway not configured for this tenant")
	}

	verification, err := s.gateway.ValidatePayment(ctx, creds, payload.ValidationID)
	if err != nil {
		// Timeout or transport failure: assume not yet verified and let the
		// other channel decide
		return session, err
	}

	if !verification.Accepted() {
		return s.markTerminal(ctx, session.TransactionID, models.CheckoutStatusFailed,
			fmt.Sprintf("payment validation returned %s", verification.Status))
	}
	if verification.TransactionID != "" && verification.TransactionID != session.TransactionID {
		return s.markTerminal(ctx, session.TransactionID, models.CheckoutStatusFailed,
			"validator transaction id mismatch")
	}
	if !amountMatches(verification.Amount, session.PlanPrice) {
		return s.markTerminal(ctx, session.TransactionID, models.CheckoutStatusFailed,
			fmt.Sprintf("validated amount %s does not match plan price %.2f", verification.Amount, session.PlanPrice))
	}

	err = s.completeSession(ctx, session.TransactionID, map[string]interface{}{
		"status":              models.CheckoutStatusCompleted,
		"validation_id":       verification.ValidationID,
		"card_type":           verification.CardType,
		"bank_transaction_id": verification.BankTransactionID,
		"risk_level":          verification.RiskLevel,
	})
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindConflict) {
			// The other channel verified first; nothing left to do
			return s.sessions.GetByTransactionID(ctx, session.TransactionID)
		}
		return nil, err
	}
	return s.sessions.GetByTransactionID(ctx, session.TransactionID)
}

// completeSession performs the pending→completed transition and, when it
// wins the conditional update, fires the completion handler exactly once
func (s *CheckoutService) completeSession(ctx context.Context, tranID string, updates map[string]interface{}) error {
	if err := s.sessions.UpdateIfPending(ctx, tranID, updates); err != nil {
		return err
	}

	session, err := s.sessions.GetByTransactionID(ctx, tranID)
	if err != nil {
		return err
	}
	s.logger.Info("checkout completed",
		zap.String("transaction_id", session.TransactionID),
		zap.Uint("tenant_id", session.TenantID),
		zap.Float64("amount", session.PlanPrice),
	)
	if s.completed != nil {
		if err := s.completed.OnCheckoutCompleted(ctx, session); err != nil {
			// The checkout itself is settled; the ledger can be reconciled
			// from the session audit trail
			s.logger.Error("checkout completion handler failed",
				zap.String("transaction_id", session.TransactionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *CheckoutService) upgradeDetails(ctx context.Context, session *models.CheckoutSession, validationID string) (*models.CheckoutSession, error) {
	creds, err := s.creds.Resolve(ctx, session.TenantID)
	if err != nil || !creds.Enabled {
		return session, err
	}
	verification, err := s.gateway.ValidatePayment(ctx, creds, validationID)
	if err != nil || !verification.Accepted() {
		return session, nil
	}
	// Same cross-checks as the completion path: a validation record for a
	// different transaction or amount must not attach to this session
	if verification.TransactionID != "" && verification.TransactionID != session.TransactionID {
		s.logger.Warn("validation for foreign transaction ignored",
			zap.String("transaction_id", session.TransactionID),
			zap.String("validator_transaction_id", verification.TransactionID),
		)
		return session, nil
	}
	if !amountMatches(verification.Amount, session.PlanPrice) {
		s.logger.Warn("validation with mismatched amount ignored",
			zap.String("transaction_id", session.TransactionID),
			zap.String("validated_amount", verification.Amount),
		)
		return session, nil
	}
	err = s.sessions.UpdateVerifiedDetails(ctx, session.TransactionID, map[string]interface{}{
		"validation_id":       verification.ValidationID,
		"card_type":           verification.CardType,
		"bank_transaction_id": verification.BankTransactionID,
		"risk_level":          verification.RiskLevel,
	})
	if err != nil {
		return nil, err
	}
	return s.sessions.GetByTransactionID(ctx, session.TransactionID)
}

// markTerminal moves a pending session to failed or cancelled; a session
// already terminal is returned unchanged
func (s *CheckoutService) markTerminal(ctx context.Context, tranID string, status models.CheckoutStatus, reason string) (*models.CheckoutSession, error) {
	if tranID == "" {
		return nil, apperrors.Validation("missing transaction id", map[string]string{"tran_id": "required"})
	}
	updates := map[string]interface{}{"status": status}
	if reason != "" {
		updates["error"] = reason
	}
	err := s.sessions.UpdateIfPending(ctx, tranID, updates)
	if err != nil && !apperrors.IsKind(err, apperrors.KindConflict) {
		return nil, err
	}
	return s.sessions.GetByTransactionID(ctx, tranID)
}

// ExpireStale cancels pending sessions older than the cutoff; run by the
// worker sweep so abandoned redirects do not linger forever
func (s *CheckoutService) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := s.sessions.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, session := range stale {
		err := s.sessions.UpdateIfPending(ctx, session.TransactionID, map[string]interface{}{
			"status": models.CheckoutStatusCancelled,
			"error":  "abandoned",
		})
		if err != nil {
			if apperrors.IsKind(err, apperrors.KindConflict) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *CheckoutService) recordCallback(ctx context.Context, channel models.CallbackChannel, payload CallbackPayload) {
	metadata, err := json.Marshal(payload)
	if err != nil {
		return
	}
	entry := &models.PaymentCallbackHistory{
		TransactionID: payload.TransactionID,
		Channel:       channel,
		Metadata:      metadata,
	}
	if err := s.callbacks.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record callback history",
			zap.String("transaction_id", payload.TransactionID),
			zap.String("channel", string(channel)),
			zap.Error(err),
		)
	}
}

func (s *CheckoutService) lock(tranID string) lockHandle {
	if s.cache == nil {
		return nil
	}
	return s.cache.NewMutex("checkout:lock:"+tranID, checkoutLockExpiry)
}

// lockHandle abstracts the redsync mutex so reconciliation can run without
// Redis in tests and degraded deployments
type lockHandle interface {
	LockContext(ctx context.Context) error
	UnlockContext(ctx context.Context) (bool, error)
}

func validateInitCheckout(req InitCheckoutRequest) map[string]string {
	fields := map[string]string{}
	if req.PlanName == "" {
		fields["planName"] = "required"
	}
	if req.PlanPrice < 0 {
		fields["planPrice"] = "must not be negative"
	}
	if req.BillingCycleMonths <= 0 {
		fields["billingCycleMonths"] = "must be positive"
	}
	if req.CustomerName == "" {
		fields["customerName"] = "required"
	}
	if req.CustomerEmail == "" {
		fields["customerEmail"] = "required"
	}
	if req.CustomerPhone == "" {
		fields["customerPhone"] = "required"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// amountMatches compares the validator's reported amount with the plan
// price, tolerating formatting differences. An unparseable amount is not
// treated as a mismatch; the validator status already vouched for it.
func amountMatches(reported string, expected float64) bool {
	if reported == "" {
		return true
	}
	value, err := strconv.ParseFloat(reported, 64)
	if err != nil {
		return true
	}
	diff := value - expected
	return diff < 0.01 && diff > -0.01
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
