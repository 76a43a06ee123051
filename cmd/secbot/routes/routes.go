package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/secstack/secbot/cmd/secbot/handlers"
	"github.com/secstack/secbot/cmd/secbot/middleware"
	"github.com/secstack/secbot/common/config"
	"github.com/secstack/secbot/common/logger"
)

// Register wires all routes of the secbot API.
func Register(e *echo.Echo, cfg *config.Config, service handlers.SecurityService, log *logger.Logger) {
	webhook := handlers.NewWebhookHandler(service, log)
	security := handlers.NewSecurityHandler(service, log)

	v1 := e.Group("/v1")

	gl := v1.Group("/gitlab")
	gl.Use(middleware.GitlabToken(cfg.WebhookTokens()))
	gl.POST("/webhook", webhook.Receive)

	v1.GET("/security/gitlab/check/:id", security.Status)
}
