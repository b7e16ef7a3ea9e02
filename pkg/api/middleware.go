package api

import (
	"crypto/subtle"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// requireWebhookToken returns middleware that rejects webhook deliveries
// without the shared secret in X-Webhook-Token.
func requireWebhookToken(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			got := c.Request().Header.Get("X-Webhook-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook token")
			}
			return next(c)
		}
	}
}
