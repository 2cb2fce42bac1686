// handlers_upload.go - Row image upload handlers
package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/andrewbassily0/Dashboard-bot/internal/storage"
	"github.com/gabriel-vasile/mimetype"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ImageOptions limits what the upload endpoint accepts
type ImageOptions struct {
	MaxSize       int64    // bytes, 0 for no limit
	AllowedTypes  []string // lower-case MIME types, empty allows any image/*
	AllowDeletion bool
}

// ImageHandlerImpl implements the ImageHandler interface
type ImageHandlerImpl struct {
	store  storage.Store
	ledger UploadLedger
	feed   Publisher
	opts   ImageOptions
	logger *zap.Logger
}

// NewImageHandler creates a new image handler instance. ledger and feed may
// be nil.
func NewImageHandler(store storage.Store, ledger UploadLedger, feed Publisher, opts ImageOptions, logger *zap.Logger) ImageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImageHandlerImpl{
		store:  store,
		ledger: ledger,
		feed:   feed,
		opts:   opts,
		logger: logger,
	}
}

// HandleUploadImage accepts one multipart image for a row.
// Form fields: file (required), row_id (optional).
func (h *ImageHandlerImpl) HandleUploadImage(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	rowID := strings.TrimSpace(c.FormValue("row_id"))

	if h.opts.MaxSize > 0 && fh.Size > h.opts.MaxSize {
		return NewPayloadTooLargeError(h.opts.MaxSize)
	}

	src, err := fh.Open()
	if err != nil {
		return NewBadRequestError("failed to read upload", err)
	}
	defer src.Close()

	contentType, err := detectContentType(fh.Header.Get(echo.HeaderContentType), src)
	if err != nil {
		return NewBadRequestError("failed to read upload", err)
	}
	if !h.allowed(contentType) {
		return NewUnsupportedTypeError(contentType)
	}

	info, err := h.store.Save(fh.Filename, rowID, contentType, src)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return NewPayloadTooLargeError(h.opts.MaxSize)
		}
		return NewInternalError("failed to save image", err)
	}

	if h.ledger != nil {
		if err := h.ledger.Record(c.Request().Context(), info); err != nil {
			// Keep disk and ledger in step.
			if delErr := h.store.Delete(info.ID); delErr != nil {
				h.logger.Warn("failed to remove unrecorded image", zap.String("id", info.ID), zap.Error(delErr))
			}
			return NewInternalError("failed to record image", err)
		}
	}

	h.logger.Info("image stored",
		zap.String("id", info.ID),
		zap.String("row", rowID),
		zap.String("name", info.Name),
		zap.Int64("size", info.Size))

	if h.feed != nil {
		h.feed.Publish(info)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleGetImage streams a stored image
func (h *ImageHandlerImpl) HandleGetImage(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("image", id)
	}

	rc, err := h.store.Open(id)
	if err != nil {
		return NewNotFoundError("image", id)
	}
	defer rc.Close()

	return c.Stream(http.StatusOK, info.ContentType, rc)
}

// HandleRecentImages lists the most recently stored images
func (h *ImageHandlerImpl) HandleRecentImages(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 20
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list images", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleDeleteImage removes an image from storage and the ledger
func (h *ImageHandlerImpl) HandleDeleteImage(c echo.Context) error {
	if !h.opts.AllowDeletion {
		return NewForbiddenError("image deletion is disabled")
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return NewNotFoundError("image", id)
		}
		return NewInternalError("failed to delete image", err)
	}
	if h.ledger != nil {
		if err := h.ledger.Delete(c.Request().Context(), id); err != nil {
			return NewInternalError("failed to delete image record", err)
		}
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *ImageHandlerImpl) allowed(contentType string) bool {
	if len(h.opts.AllowedTypes) == 0 {
		return strings.HasPrefix(contentType, "image/")
	}
	for _, t := range h.opts.AllowedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// detectContentType normalizes the declared part type and sniffs the bytes
// when the client sent none or a generic binary type. src is rewound
// afterwards.
func detectContentType(declared string, src io.ReadSeeker) (string, error) {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return strings.ToLower(mt), nil
		}
	}

	sniffed, err := mimetype.DetectReader(src)
	if err != nil {
		return "", err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	mt, _, _ := mime.ParseMediaType(sniffed.String())
	return mt, nil
}
