package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"merchantdesk/internal/apperrors"
	"merchantdesk/internal/models"
	"merchantdesk/internal/services"
)

// SettingsHandler exposes the admin surface for per-tenant gateway
// credential overrides
type SettingsHandler struct {
	settings *services.SettingsService
}

func NewSettingsHandler(settings *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetSettings returns a tenant's credential override row. The password is
// never serialized.
func (h *SettingsHandler) GetSettings(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	settings, err := h.settings.Get(c.Request().Context(), tenantID)
	if err != nil {
		return err
	}
	if settings == nil {
		return apperrors.New(apperrors.KindNotFound, "no gateway settings for this tenant")
	}
	return c.JSON(http.StatusOK, settings)
}

// PutSettings creates or replaces a tenant's credential override
func (h *SettingsHandler) PutSettings(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}

	var body GatewaySettingsBody
	if err := c.Bind(&body); err != nil {
		return apperrors.Validation("malformed request body", nil)
	}
	if body.StoreID == "" || body.StorePassword == "" {
		return apperrors.Validation("incomplete credentials", map[string]string{
			"storeId":       "required",
			"storePassword": "required",
		})
	}

	settings := &models.GatewaySettings{
		TenantID:      tenantID,
		StoreID:       body.StoreID,
		StorePassword: body.StorePassword,
		IsLive:        body.IsLive,
	}
	if err := h.settings.Save(c.Request().Context(), settings); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, settings)
}

// TestConnection verifies the tenant's resolved credentials against the
// gateway. Missing configuration is a hard error here, unlike checkout.
func (h *SettingsHandler) TestConnection(c echo.Context) error {
	tenantID, err := parseTenantID(c)
	if err != nil {
		return err
	}
	if err := h.settings.TestConnection(c.Request().Context(), tenantID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}
