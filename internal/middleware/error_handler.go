package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"merchantdesk/internal/apperrors"
)

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// NewErrorHandler builds the central Echo error handler translating the
// application error taxonomy into JSON responses
func NewErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := errorBody{Code: string(apperrors.KindInternal), Message: "something went wrong"}

		var appErr *apperrors.Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			body.Code = string(appErr.Kind)
			body.Message = appErr.Message
			body.Fields = appErr.Fields
			switch appErr.Kind {
			case apperrors.KindValidation:
				status = http.StatusBadRequest
			case apperrors.KindNotFound:
				status = http.StatusNotFound
			case apperrors.KindConflict:
				status = http.StatusConflict
			case apperrors.KindConfigMissing:
				status = http.StatusPreconditionFailed
			case apperrors.KindGatewayUnavailable:
				status = http.StatusBadGateway
			case apperrors.KindGatewayRejected:
				status = http.StatusBadGateway
				// Gateway detail stays in the logs; callers get an opaque reason
				body.Message = "payment gateway rejected the request"
			}
		case errors.As(err, &httpErr):
			status = httpErr.Code
			if msg, ok := httpErr.Message.(string); ok && msg != "" {
				body.Message = msg
			} else {
				body.Message = http.StatusText(status)
			}
			body.Code = http.StatusText(status)
		}

		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Error(err),
			)
		} else {
			logger.Warn("request rejected",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", status),
				zap.Error(err),
			)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, errorEnvelope{Error: body})
	}
}
