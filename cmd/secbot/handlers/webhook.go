package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/secstack/secbot/common/logger"
	"github.com/secstack/secbot/common/models"
	"github.com/secstack/secbot/secbot"
	"github.com/secstack/secbot/secbot/gitlab"
)

// SecurityService is the part of the GitLab input the HTTP layer needs.
type SecurityService interface {
	Handle(ctx context.Context, event gitlab.Event, body []byte) error
	FetchStatus(ctx context.Context, externalID string) (models.SecurityCheckStatus, error)
}

// WebhookHandler accepts GitLab webhook deliveries.
type WebhookHandler struct {
	service SecurityService
	log     *logger.Logger
}

// NewWebhookHandler creates the webhook handler.
func NewWebhookHandler(service SecurityService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{service: service, log: log.WithComponent("webhook")}
}

// Receive handles POST /v1/gitlab/webhook. GitLab retries on non-2xx, so
// events this service does not support, and payloads it cannot parse, are
// acknowledged with 200 and dropped.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	event, ok := gitlab.EventFromHeader(c.Request().Header.Get("X-Gitlab-Event"), body)
	if !ok {
		h.log.Info("ignoring unsupported webhook event",
			"event", c.Request().Header.Get("X-Gitlab-Event"))
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	if err := h.service.Handle(c.Request().Context(), event, body); err != nil {
		if errors.Is(err, secbot.ErrInput) {
			h.log.Warn("dropping unprocessable webhook payload", "event", string(event), "error", err)
			return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
		}
		h.log.Error("webhook processing failed", "event", string(event), "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process webhook")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
