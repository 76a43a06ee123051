package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
)

// GitlabToken verifies the X-Gitlab-Token header against the configured
// webhook secrets. Comparison is constant time per token.
func GitlabToken(tokens []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("X-Gitlab-Token")

			for _, token := range tokens {
				if token == "" {
					continue
				}
				if subtle.ConstantTimeCompare([]byte(header), []byte(token)) == 1 {
					return next(c)
				}
			}

			return c.JSON(http.StatusForbidden, map[string]string{
				"code":    "FORBIDDEN",
				"message": "X-Gitlab-Token header is invalid",
			})
		}
	}
}
