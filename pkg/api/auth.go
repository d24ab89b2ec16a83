package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractAuthor reads the submitting identity from the oauth2-proxy
// forwarded headers, preferring the username over the email; direct API
// clients without a proxy in front get a fixed label.
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	return "api-client"
}
