package handlers

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
	"merchantdesk/internal/services"
)

// CheckoutHandler exposes the checkout flow: init, session read, the three
// browser return endpoints the gateway redirects to, and the IPN endpoint
type CheckoutHandler struct {
	checkout *services.CheckoutService
	appURL   string
	logger   *zap.Logger
}

func NewCheckoutHandler(checkout *services.CheckoutService, appURL string, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, appURL: appURL, logger: logger}
}

// InitCheckout starts a purchase attempt
func (h *CheckoutHandler) InitCheckout(c echo.Context) error {
	var body InitCheckoutBody
	if err := c.Bind(&body); err != nil {
		return apperrors.Validation("malformed request body", nil)
	}

	result, err := h.checkout.InitCheckout(c.Request().Context(), services.InitCheckoutRequest{
		TenantID:           body.TenantID,
		PlanID:             body.PlanID,
		PlanName:           body.PlanName,
		PlanPrice:          body.PlanPrice,
		BillingCycleMonths: body.BillingCycleMonths,
		Currency:           body.Currency,
		CustomerName:       body.CustomerName,
		CustomerEmail:      body.CustomerEmail,
		CustomerPhone:      body.CustomerPhone,
		CustomerAddress:    body.CustomerAddress,
		CustomerCity:       body.CustomerCity,
		CustomerPostcode:   body.CustomerPostcode,
		CustomerCountry:    body.CustomerCountry,
		Subdomain:          body.Subdomain,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, InitCheckoutResponse{
		Success:        true,
		TransactionID:  result.TransactionID,
		Status:         string(result.Status),
		GatewayPageURL: result.GatewayPageURL,
		DemoMode:       result.DemoMode,
	})
}

// GetSession returns one session with payment details redacted
func (h *CheckoutHandler) GetSession(c echo.Context) error {
	session, err := h.checkout.GetSession(c.Request().Context(), c.QueryParam("transactionId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newCheckoutSessionResponse(session))
}

// SuccessReturn handles the gateway's success redirect. The outcome shown
// to the buyer reflects the session state after verification, never the
// redirect's own claim.
func (h *CheckoutHandler) SuccessReturn(c echo.Context) error {
	payload, err := bindCallback(c)
	if err != nil {
		return err
	}

	session, err := h.checkout.HandleSuccessReturn(c.Request().Context(), payload)
	if err != nil && session == nil {
		return err
	}
	if err != nil {
		h.logger.Warn("success return left session unsettled",
			zap.String("transaction_id", payload.TransactionID),
			zap.Error(err),
		)
	}
	return h.redirectToResult(c, session)
}

// FailReturn handles the gateway's failure redirect
func (h *CheckoutHandler) FailReturn(c echo.Context) error {
	payload, err := bindCallback(c)
	if err != nil {
		return err
	}
	session, err := h.checkout.HandleFailReturn(c.Request().Context(), payload)
	if err != nil {
		return err
	}
	return h.redirectToResult(c, session)
}

// CancelReturn handles the gateway's cancel redirect
func (h *CheckoutHandler) CancelReturn(c echo.Context) error {
	payload, err := bindCallback(c)
	if err != nil {
		return err
	}
	session, err := h.checkout.HandleCancelReturn(c.Request().Context(), payload)
	if err != nil {
		return err
	}
	return h.redirectToResult(c, session)
}

// IPN handles the asynchronous server-to-server gateway notification
func (h *CheckoutHandler) IPN(c echo.Context) error {
	payload, err := bindCallback(c)
	if err != nil {
		return err
	}

	session, err := h.checkout.HandleIPN(c.Request().Context(), payload)
	if err != nil && session == nil {
		return err
	}
	if err != nil {
		// Verification could not settle the session yet; acknowledge so the
		// gateway retries rather than giving up
		h.logger.Warn("notification left session unsettled",
			zap.String("transaction_id", payload.TransactionID),
			zap.Error(err),
		)
		return c.JSON(http.StatusOK, map[string]string{"status": "pending"})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "received",
		"outcome": string(session.Status),
	})
}

func bindCallback(c echo.Context) (services.CallbackPayload, error) {
	var payload services.CallbackPayload
	if err := c.Bind(&payload); err != nil {
		return payload, apperrors.Validation("malformed callback payload", nil)
	}
	// GET redirects carry the fields in the query string
	if payload.TransactionID == "" {
		payload.TransactionID = c.QueryParam("tran_id")
		payload.ValidationID = c.QueryParam("val_id")
		payload.Status = c.QueryParam("status")
		payload.Amount = c.QueryParam("amount")
		payload.Currency = c.QueryParam("currency")
		payload.BankTransactionID = c.QueryParam("bank_tran_id")
		payload.CardType = c.QueryParam("card_type")
		payload.Error = c.QueryParam("error")
	}
	if payload.TransactionID == "" {
		return payload, apperrors.Validation("missing transaction id", map[string]string{"tran_id": "required"})
	}
	return payload, nil
}

// redirectToResult sends the buyer's browser to the result page with the
// settled outcome
func (h *CheckoutHandler) redirectToResult(c echo.Context, session *models.CheckoutSession) error {
	query := url.Values{}
	query.Set("transactionId", session.TransactionID)
	query.Set("status", string(session.Status))
	return c.Redirect(http.StatusFound, h.appURL+"/checkout/result?"+query.Encode())
}
