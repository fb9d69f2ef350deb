package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
)

func enabledCreds() Credentials {
	return Credentials{StoreID: "teststore", StorePassword: "secret", Enabled: true}
}

func validInitRequest() InitCheckoutRequest {
	return InitCheckoutRequest{
		TenantID:           7,
		PlanID:             3,
		PlanName:           "Growth",
		PlanPrice:          1500,
		BillingCycleMonths: 1,
		CustomerName:       "Rahim Uddin",
		CustomerEmail:      "rahim@example.com",
		CustomerPhone:      "01700000000",
	}
}

func newTestCheckout(gw *fakeGateway, creds Credentials) (*CheckoutService, *fakeSessionRepo, *fakeCompletionHandler) {
	sessions := newFakeSessionRepo()
	completed := &fakeCompletionHandler{}
	svc := NewCheckoutService(sessions, &fakeCallbackRepo{}, gw, &fakeResolver{creds: creds}, nil, completed, "http://localhost:8080", zap.NewNop())
	return svc, sessions, completed
}

func TestInitCheckoutValidation(t *testing.T) {
	gw := &fakeGateway{}
	svc, sessions, _ := newTestCheckout(gw, enabledCreds())

	req := validInitRequest()
	req.CustomerEmail = ""
	req.BillingCycleMonths = 0

	_, err := svc.InitCheckout(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	// Rejected requests must not leak half-built sessions
	assert.Equal(t, 0, sessions.count())
	initCalls, _ := gw.calls()
	assert.Equal(t, 0, initCalls)
}

func TestInitCheckoutFreePlanCompletesWithoutGateway(t *testing.T) {
	gw := &fakeGateway{}
	svc, sessions, completed := newTestCheckout(gw, enabledCreds())

	req := validInitRequest()
	req.PlanPrice = 0

	result, err := svc.InitCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, result.Status)
	assert.Empty(t, result.GatewayPageURL)

	initCalls, validateCalls := gw.calls()
	assert.Equal(t, 0, initCalls)
	assert.Equal(t, 0, validateCalls)
	assert.Equal(t, 1, completed.count())

	session, err := sessions.GetByTransactionID(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, session.Status)
}

func TestInitCheckoutDemoModeWhenNotConfigured(t *testing.T) {
	gw := &fakeGateway{}
	svc, sessions, completed := newTestCheckout(gw, Credentials{Enabled: false})

	result, err := svc.InitCheckout(context.Background(), validInitRequest())
	require.NoError(t, err)
	assert.True(t, result.DemoMode)
	assert.Equal(t, models.CheckoutStatusPending, result.Status)

	initCalls, _ := gw.calls()
	assert.Equal(t, 0, initCalls)
	assert.Equal(t, 0, completed.count())

	session, err := sessions.GetByTransactionID(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusPending, session.Status)
}

func TestInitCheckoutReturnsHostedPage(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{
		Status:         "SUCCESS",
		SessionKey:     "sess-abc",
		GatewayPageURL: "https://sandbox.sslcommerz.com/pay/sess-abc",
	}}
	svc, sessions, _ := newTestCheckout(gw, enabledCreds())

	result, err := svc.InitCheckout(context.Background(), validInitRequest())
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusPending, result.Status)
	assert.Equal(t, "https://sandbox.sslcommerz.com/pay/sess-abc", result.GatewayPageURL)

	session, err := sessions.GetByTransactionID(context.Background(), result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "sess-abc", session.GatewaySessionKey)
}

func TestInitCheckoutGatewayRejectionFailsSession(t *testing.T) {
	gw := &fakeGateway{initErr: apperrors.New(apperrors.KindGatewayRejected, "store credentials invalid")}
	svc, sessions, _ := newTestCheckout(gw, enabledCreds())

	_, err := svc.InitCheckout(context.Background(), validInitRequest())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindGatewayRejected, apperrors.KindOf(err))

	// The one created session must be terminally failed
	assert.Equal(t, 1, sessions.count())
	for tranID := range sessions.sessions {
		session, getErr := sessions.GetByTransactionID(context.Background(), tranID)
		require.NoError(t, getErr)
		assert.Equal(t, models.CheckoutStatusFailed, session.Status)
	}
}

func TestInitCheckoutNetworkFailureLeavesPending(t *testing.T) {
	gw := &fakeGateway{initErr: apperrors.New(apperrors.KindGatewayUnavailable, "connection refused")}
	svc, sessions, _ := newTestCheckout(gw, enabledCreds())

	_, err := svc.InitCheckout(context.Background(), validInitRequest())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindGatewayUnavailable, apperrors.KindOf(err))

	for tranID := range sessions.sessions {
		session, getErr := sessions.GetByTransactionID(context.Background(), tranID)
		require.NoError(t, getErr)
		assert.Equal(t, models.CheckoutStatusPending, session.Status)
	}
}

// startPending creates one priced, gateway-backed pending session and
// returns its transaction id
func startPending(t *testing.T, svc *CheckoutService) string {
	t.Helper()
	result, err := svc.InitCheckout(context.Background(), validInitRequest())
	require.NoError(t, err)
	require.Equal(t, models.CheckoutStatusPending, result.Status)
	return result.TransactionID
}

func TestSuccessReturnCompletesOnlyAfterValidation(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, _, completed := newTestCheckout(gw, enabledCreds())
	tranID := startPending(t, svc)

	gw.valResp = &ValidationResponse{
		Status:            "VALIDATED",
		TransactionID:     tranID,
		ValidationID:      "val-001",
		Amount:            "1500.00",
		CardType:          "VISA-Dutch Bangla",
		BankTransactionID: "bank-001",
		RiskLevel:         "0",
	}

	session, err := svc.HandleSuccessReturn(context.Background(), CallbackPayload{
		TransactionID: tranID,
		ValidationID:  "val-001",
		Status:        "VALID",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, session.Status)
	assert.Equal(t, "val-001", session.ValidationID)
	assert.Equal(t, "VISA-Dutch Bangla", session.CardType)
	assert.Equal(t, "bank-001", session.BankTransactionID)
	assert.Equal(t, 1, completed.count())
}

func TestForgedSuccessReturnCannotComplete(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, _, completed := newTestCheckout(gw, enabledCreds())
	tranID := startPending(t, svc)

	// A redirect claiming success but carrying no validation id must leave
	// the session pending regardless of its status flag
	session, err := svc.HandleSuccessReturn(context.Background(), CallbackPayload{
		TransactionID: tranID,
		Status:        "VALID",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, models.CheckoutStatusPending, session.Status)
	assert.Equal(t, 0, completed.count())

	// A forged validation id fails verification and terminates the session
	gw.valResp = &ValidationResponse{Status: "INVALID_TRANSACTION"}
	session, err = svc.HandleSuccessReturn(context.Background(), CallbackPayload{
		TransactionID: tranID,
		ValidationID:  "val-forged",
		Status:        "VALID",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusFailed, session.Status)
	assert.Equal(t, 0, completed.count())
}

func TestReconcileRejectsValidatorMismatches(t *testing.T) {
	cases := []struct {
		name    string
		valResp *ValidationResponse
	}{
		{
			name: "transaction id mismatch",
			valResp: &ValidationResponse{
				Status:        "VALID",
				TransactionID: "TXN-some-other-purchase",
				Amount:        "1500.00",
			},
		},
		{
			name: "amount mismatch",
			valResp: &ValidationResponse{
				Status: "VALID",
				Amount: "10.00",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
			svc, _, completed := newTestCheckout(gw, enabledCreds())
			tranID := startPending(t, svc)
			gw.valResp = tc.valResp

			session, err := svc.HandleSuccessReturn(context.Background(), CallbackPayload{
				TransactionID: tranID,
				ValidationID:  "val-001",
			})
			require.NoError(t, err)
			assert.Equal(t, models.CheckoutStatusFailed, session.Status)
			assert.Equal(t, 0, completed.count())
		})
	}
}

func TestValidatorOutageLeavesSessionPending(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, _, completed := newTestCheckout(gw, enabledCreds())
	tranID := startPending(t, svc)

	gw.valErr = apperrors.New(apperrors.KindGatewayUnavailable, "validator timeout")
	session, err := svc.HandleSuccessReturn(context.Background(), CallbackPayload{
		TransactionID: tranID,
		ValidationID:  "val-001",
	})
	require.Error(t, err)
	assert.Equal(t, models.CheckoutStatusPending, session.Status)
	assert.Equal(t, 0, completed.count())
}

func TestTerminalStatusIsMonotonic(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, _, completed := newTestCheckout(gw, enabledCreds())
	tranID := startPending(t, svc)

	gw.valResp = &ValidationResponse{
		Status:       "VALID",
		ValidationID: "val-001",
		Amount:       "1500.00",
	}
	session, err := svc.HandleIPN(context.Background(), CallbackPayload{
		TransactionID: tranID,
		ValidationID:  "val-001",
		Status:        "VALID",
	})
	require.NoError(t, err)
	require.Equal(t, models.CheckoutStatusCompleted, session.Status)

	// Later fail and cancel callbacks must not move a completed session
	session, err = svc.HandleFailReturn(context.Background(), CallbackPayload{TransactionID: tranID})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, session.Status)

	session, err = svc.HandleCancelReturn(context.Background(), CallbackPayload{TransactionID: tranID})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, session.Status)

	// Replaying the notification neither re-validates nor re-fires
	_, validateBefore := gw.calls()
	session, err = svc.HandleIPN(context.Background(), CallbackPayload{
		TransactionID: tranID,
		ValidationID:  "val-001",
		Status:        "VALID",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, session.Status)
	_, validateAfter := gw.calls()
	assert.Equal(t, validateBefore, validateAfter)
	assert.Equal(t, 1, completed.count())
}

func TestFailedSessionStaysFailedAfterValidCallback(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, _, completed := newTestCheckout(gw, enabledCreds())
	tranID := startPending(t, svc)

	session, err := svc.HandleFailReturn(context.Background(), CallbackPayload{TransactionID: tranID, Error: "insufficient funds"})
	require.NoError(t, err)
	require.Equal(t, models.CheckoutStatusFailed, session.Status)

	gw.valResp = &ValidationResponse{Status: "VALID", ValidationID: "val-001", Amount: "1500.00"}
	session, err = svc.HandleSuccessReturn(context.Background(), CallbackPayload{
		TransactionID: tranID,
		ValidationID:  "val-001",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusFailed, session.Status)
	assert.Equal(t, 0, completed.count())
}

func TestIPNWithoutValidationID(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, _, _ := newTestCheckout(gw, enabledCreds())

	failed := startPending(t, svc)
	session, err := svc.HandleIPN(context.Background(), CallbackPayload{TransactionID: failed, Status: "FAILED"})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusFailed, session.Status)

	cancelled := startPending(t, svc)
	session, err = svc.HandleIPN(context.Background(), CallbackPayload{TransactionID: cancelled, Status: "CANCELLED"})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCancelled, session.Status)

	pending := startPending(t, svc)
	_, err = svc.HandleIPN(context.Background(), CallbackPayload{TransactionID: pending, Status: "VALID"})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestSuccessReturnAndIPNRace(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, _, completed := newTestCheckout(gw, enabledCreds())
	tranID := startPending(t, svc)

	gw.valResp = &ValidationResponse{
		Status:       "VALIDATED",
		ValidationID: "val-001",
		Amount:       "1500.00",
		CardType:     "VISA",
	}
	payload := CallbackPayload{TransactionID: tranID, ValidationID: "val-001", Status: "VALID"}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = svc.HandleSuccessReturn(context.Background(), payload)
	}()
	go func() {
		defer wg.Done()
		_, _ = svc.HandleIPN(context.Background(), payload)
	}()
	wg.Wait()

	session, err := svc.GetSession(context.Background(), tranID)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, session.Status)
	assert.Equal(t, "val-001", session.ValidationID)
	// Both channels may validate, but exactly one wins the transition
	assert.Equal(t, 1, completed.count())
}

func TestCompletedSessionRejectsForeignValidationDetails(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, completed := newTestCheckout(gw, enabledCreds())

	// A free checkout completes with no payment details
	req := validInitRequest()
	req.PlanPrice = 0
	result, err := svc.InitCheckout(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, models.CheckoutStatusCompleted, result.Status)

	// A replayed success return carrying a validation record that belongs
	// to someone else's payment must not attach that payment's attributes
	gw.valResp = &ValidationResponse{
		Status:            "VALID",
		TransactionID:     "TXN-someone-elses-purchase",
		ValidationID:      "val-foreign",
		Amount:            "99999.00",
		BankTransactionID: "bank-foreign",
		CardType:          "VISA",
	}
	session, err := svc.HandleSuccessReturn(context.Background(), CallbackPayload{
		TransactionID: result.TransactionID,
		ValidationID:  "val-foreign",
		Status:        "VALID",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, session.Status)
	assert.Empty(t, session.ValidationID)
	assert.Empty(t, session.BankTransactionID)
	assert.Equal(t, 1, completed.count())

	// Same for a record whose amount does not match the session
	gw.valResp = &ValidationResponse{
		Status:       "VALID",
		ValidationID: "val-foreign",
		Amount:       "99999.00",
	}
	session, err = svc.HandleSuccessReturn(context.Background(), CallbackPayload{
		TransactionID: result.TransactionID,
		ValidationID:  "val-foreign",
		Status:        "VALID",
	})
	require.NoError(t, err)
	assert.Empty(t, session.ValidationID)
}

func TestCompletedSessionAcceptsMatchingLateValidation(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, sessions, _ := newTestCheckout(gw, enabledCreds())
	tranID := startPending(t, svc)

	// Completed without details, e.g. via an operator reconciliation
	require.NoError(t, sessions.UpdateIfPending(context.Background(), tranID, map[string]interface{}{
		"status": models.CheckoutStatusCompleted,
	}))

	gw.valResp = &ValidationResponse{
		Status:            "VALIDATED",
		TransactionID:     tranID,
		ValidationID:      "val-001",
		Amount:            "1500.00",
		BankTransactionID: "bank-001",
	}
	session, err := svc.HandleIPN(context.Background(), CallbackPayload{
		TransactionID: tranID,
		ValidationID:  "val-001",
		Status:        "VALID",
	})
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCompleted, session.Status)
	assert.Equal(t, "val-001", session.ValidationID)
	assert.Equal(t, "bank-001", session.BankTransactionID)
}

func TestGetSessionRequiresTransactionID(t *testing.T) {
	gw := &fakeGateway{}
	svc, _, _ := newTestCheckout(gw, enabledCreds())

	_, err := svc.GetSession(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = svc.GetSession(context.Background(), "TXN-unknown")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestExpireStaleCancelsOldPendingOnly(t *testing.T) {
	gw := &fakeGateway{initResp: &InitResponse{Status: "SUCCESS", SessionKey: "k", GatewayPageURL: "https://pay"}}
	svc, sessions, _ := newTestCheckout(gw, enabledCreds())

	stale := startPending(t, svc)
	fresh := startPending(t, svc)
	settled := startPending(t, svc)
	_, err := svc.HandleFailReturn(context.Background(), CallbackPayload{TransactionID: settled})
	require.NoError(t, err)

	// Age the stale session past the cutoff
	sessions.mu.Lock()
	sessions.sessions[stale].CreatedAt = sessions.sessions[stale].CreatedAt.Add(-48 * time.Hour)
	sessions.mu.Unlock()

	expired, err := svc.ExpireStale(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	session, err := sessions.GetByTransactionID(context.Background(), stale)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusCancelled, session.Status)

	session, err = sessions.GetByTransactionID(context.Background(), fresh)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusPending, session.Status)

	session, err = sessions.GetByTransactionID(context.Background(), settled)
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusFailed, session.Status)
}
