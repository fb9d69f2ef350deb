package middleware

import (
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/labstack/echo/v4"
)

// RequireAuth returns a middleware that verifies Firebase ID tokens from
// the Authorization header. It gates the administrative API surface.
func RequireAuth(authClient *auth.Client) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if authClient == nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "authentication is not configured")
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			decoded, err := authClient.VerifyIDToken(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}

			c.Set("userUID", decoded.UID)
			if email, ok := decoded.Claims["email"].(string); ok {
				c.Set("userEmail", email)
			}
			return next(c)
		}
	}
}
