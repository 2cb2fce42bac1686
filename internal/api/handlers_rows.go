// handlers_rows.go - Per-row upload listings
package api

import (
	"net/http"

	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/andrewbassily0/Dashboard-bot/internal/storage"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// RowHandlerImpl implements the RowHandler interface
type RowHandlerImpl struct {
	store  storage.Store
	ledger UploadLedger
}

// NewRowHandler creates a row handler. Without a ledger, listings fall back
// to the in-process store index.
func NewRowHandler(store storage.Store, ledger UploadLedger) RowHandler {
	return &RowHandlerImpl{store: store, ledger: ledger}
}

// HandleListRows returns one summary per row that has uploads
func (h *RowHandlerImpl) HandleListRows(c echo.Context) error {
	if h.ledger == nil {
		return NewServiceUnavailableError("upload ledger is not available")
	}
	rows, err := h.ledger.Rows(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to list rows", err)
	}
	return c.JSON(http.StatusOK, rows)
}

// HandleRowFiles returns the images stored for a row
func (h *RowHandlerImpl) HandleRowFiles(c echo.Context) error {
	files, err := h.rowFiles(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, files)
}

// HandleRowFilesMsgpack returns the same listing as HandleRowFiles encoded
// with MessagePack
func (h *RowHandlerImpl) HandleRowFilesMsgpack(c echo.Context) error {
	files, err := h.rowFiles(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"rowId": c.Param("rowId"),
		"files": files,
		"total": len(files),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

func (h *RowHandlerImpl) rowFiles(c echo.Context) ([]*models.FileInfo, error) {
	rowID := c.Param("rowId")
	if rowID == "" {
		return nil, NewValidationError("rowId")
	}

	if h.ledger != nil {
		files, err := h.ledger.ByRow(c.Request().Context(), rowID)
		if err != nil {
			return nil, NewInternalError("failed to list row files", err)
		}
		return files, nil
	}

	files, err := h.store.ListByRow(rowID)
	if err != nil {
		return nil, NewInternalError("failed to list row files", err)
	}
	return files, nil
}
