// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/andrewbassily0/Dashboard-bot/internal/ledger"
	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/labstack/echo/v4"
)

// ImageHandler handles per-row image uploads
type ImageHandler interface {
	HandleUploadImage(c echo.Context) error
	HandleGetImage(c echo.Context) error
	HandleRecentImages(c echo.Context) error
	HandleDeleteImage(c echo.Context) error
}

// RowHandler serves what has been uploaded for each row
type RowHandler interface {
	HandleListRows(c echo.Context) error
	HandleRowFiles(c echo.Context) error
	HandleRowFilesMsgpack(c echo.Context) error
}

// FormHandler renders the request form page
type FormHandler interface {
	HandleRequestForm(c echo.Context) error
}

// FeedHandler streams stored-image events over a websocket
type FeedHandler interface {
	HandleWebSocket(c echo.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// UploadLedger is the durable record of stored images
type UploadLedger interface {
	Record(ctx context.Context, info *models.FileInfo) error
	ByRow(ctx context.Context, rowID string) ([]*models.FileInfo, error)
	Rows(ctx context.Context) ([]ledger.RowSummary, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Publisher receives an event for every image the server stores
type Publisher interface {
	Publish(info *models.FileInfo)
}
