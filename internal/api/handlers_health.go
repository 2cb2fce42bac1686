// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	ledger  UploadLedger
}

// NewHealthHandler creates a new health handler. ledger may be nil.
func NewHealthHandler(version string, ledger UploadLedger) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		ledger:  ledger,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	if h.ledger != nil {
		if err := h.ledger.Ping(c.Request().Context()); err != nil {
			return NewServiceUnavailableError("upload ledger unreachable")
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	})
}
