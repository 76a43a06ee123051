package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/secstack/secbot/common/logger"
)

// SecurityHandler answers verdict queries for checks.
type SecurityHandler struct {
	service SecurityService
	log     *logger.Logger
}

// NewSecurityHandler creates the security status handler.
func NewSecurityHandler(service SecurityService, log *logger.Logger) *SecurityHandler {
	return &SecurityHandler{service: service, log: log.WithComponent("security")}
}

// Status handles GET /v1/security/gitlab/check/:id where id is the external
// check id.
func (h *SecurityHandler) Status(c echo.Context) error {
	externalID := c.Param("id")
	if externalID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "check id is required")
	}

	status, err := h.service.FetchStatus(c.Request().Context(), externalID)
	if err != nil {
		h.log.Error("status fetch failed", "external_id", externalID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to fetch check status")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": string(status)})
}
