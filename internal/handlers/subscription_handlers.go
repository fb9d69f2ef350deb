package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/services"
)

// SubscriptionHandler exposes the admin view of the billing ledger
type SubscriptionHandler struct {
	subscriptions *services.SubscriptionService
}

func NewSubscriptionHandler(subscriptions *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions}
}

// GetTenantSubscription returns a tenant's subscription with its derived status
func (h *SubscriptionHandler) GetTenantSubscription(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	sub, dynamic, err := h.subscriptions.GetForTenant(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newSubscriptionResponse(sub, dynamic))
}

// CancelSubscription cancels a tenant's subscription, immediately or at the
// period end
func (h *SubscriptionHandler) CancelSubscription(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	var body CancelSubscriptionBody
	if err := c.Bind(&body); err != nil {
		return apperrors.Validation("malformed request body", nil)
	}

	sub, err := h.subscriptions.Cancel(c.Request().Context(), tenantID, body.AtPeriodEnd)
	if err != nil {
		return err
	}
	dynamic := services.ComputeDynamicStatus(sub, time.Now().UTC())
	return c.JSON(http.StatusOK, newSubscriptionResponse(sub, dynamic))
}

// ListExpiring returns subscriptions whose period ends within daysAhead days
func (h *SubscriptionHandler) ListExpiring(c echo.Context) error {
	daysAhead := 7
	if raw := c.QueryParam("daysAhead"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return apperrors.Validation("invalid daysAhead", map[string]string{"daysAhead": "must be a positive integer"})
		}
		daysAhead = parsed
	}

	subs, err := h.subscriptions.ListExpiring(c.Request().Context(), daysAhead)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	out := make([]SubscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, newSubscriptionResponse(&subs[i], services.ComputeDynamicStatus(&subs[i], now)))
	}
	return c.JSON(http.StatusOK, out)
}

func parseTenantID(c echo.Context) (uint, error) {
	raw := c.Param("tenantId")
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || parsed == 0 {
		return 0, apperrors.Validation("invalid tenant id", map[string]string{"tenantId": "must be a positive integer"})
	}
	return uint(parsed), nil
}
