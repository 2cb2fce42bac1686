package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/andrewbassily0/Dashboard-bot/internal/form"
	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"
)

// Uploader sends one file for a row and returns the decoded response.
type Uploader interface {
	UploadFile(ctx context.Context, file form.File, rowID string) (json.RawMessage, error)
}

// StatusRenderer shows a row status to the user.
type StatusRenderer interface {
	UpdateRowStatus(rowID string, status models.UploadStatus)
}

// Coordinator tracks the upload state of every row of one form and uploads
// the files selected for a row concurrently. Create one per form.
type Coordinator struct {
	mu       sync.RWMutex
	states   map[string]UploadState
	uploader Uploader
	renderer StatusRenderer
	doc      *form.Document
	bound    map[*html.Node]bool
	logger   *zap.Logger
	limit    int
	newRowID RowIDGenerator
	pending  sync.WaitGroup
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConcurrency caps the number of uploads in flight per row. Zero or a
// negative value leaves it unbounded.
func WithConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.limit = n
	}
}

// WithRowIDGenerator replaces the identifier source for added rows.
func WithRowIDGenerator(gen RowIDGenerator) CoordinatorOption {
	return func(c *Coordinator) {
		if gen != nil {
			c.newRowID = gen
		}
	}
}

// WithRenderer sets where row statuses are shown. Init defaults it to the
// bound document.
func WithRenderer(r StatusRenderer) CoordinatorOption {
	return func(c *Coordinator) {
		c.renderer = r
	}
}

// NewCoordinator creates a coordinator that sends files through uploader.
func NewCoordinator(uploader Uploader, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		states:   make(map[string]UploadState),
		bound:    make(map[*html.Node]bool),
		uploader: uploader,
		logger:   zap.NewNop(),
		newRowID: TimestampRowIDs(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init binds the coordinator to the form matched by formSelector: file
// selections on multi-file inputs start uploads and clicks on add-row
// controls append rows. It returns false, doing nothing, when the form is
// not in the document. Binding the same form again is a no-op, so a
// selection never starts its uploads twice.
func (c *Coordinator) Init(doc *form.Document, formSelector string) bool {
	target := doc.Query(formSelector)
	if target == nil {
		return false
	}

	c.mu.Lock()
	if c.bound[target] {
		c.mu.Unlock()
		return true
	}
	c.bound[target] = true
	c.doc = doc
	if c.renderer == nil {
		c.renderer = doc
	}
	c.mu.Unlock()

	doc.AddEventListener(target, form.EventChange, func(ctx context.Context, ev form.Event) {
		if doc.IsMultiFileInput(ev.Target) {
			c.HandleFileSelection(ctx, ev.Target)
		}
	})
	doc.AddEventListener(target, form.EventClick, func(ctx context.Context, ev form.Event) {
		if doc.HasClass(ev.Target, form.AddRowClass) {
			c.AddNewItemRow(ev.Target)
		}
	})

	c.logger.Debug("upload coordinator attached", zap.String("form", formSelector))
	return true
}

// HandleFileSelection starts uploading the files of a file input. The row is
// marked uploading right away; the uploads run in the background, see Wait.
// An empty selection leaves the row untouched.
func (c *Coordinator) HandleFileSelection(ctx context.Context, input *html.Node) {
	doc := c.document()
	if doc == nil {
		return
	}

	rowID := doc.RowID(input)
	files := doc.Files(input)
	if len(files) == 0 {
		return
	}

	c.setState(rowID, UploadState{
		Status:   models.UploadStatusUploading,
		Files:    files,
		Progress: 0,
	})
	c.render(rowID, models.UploadStatusUploading)

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		c.ProcessUploads(ctx, rowID, files)
	}()
}

// ProcessUploads uploads every file of a row at once, waits until all of
// them have settled and records the aggregate status.
func (c *Coordinator) ProcessUploads(ctx context.Context, rowID string, files []form.File) (status models.UploadStatus) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("upload error",
				zap.String("rowId", rowID),
				zap.Any("panic", r))
			status = models.UploadStatusFailed
			c.setState(rowID, UploadState{Status: status, Files: files})
			c.renderQuietly(rowID, status)
		}
	}()

	results := c.uploadAll(ctx, rowID, files)
	status = Aggregate(results)

	c.setState(rowID, UploadState{Status: status, Files: files})
	c.render(rowID, status)

	c.logger.Debug("row uploads settled",
		zap.String("rowId", rowID),
		zap.Int("files", len(files)),
		zap.String("status", string(status)))
	return status
}

func (c *Coordinator) uploadAll(ctx context.Context, rowID string, files []form.File) []FileResult {
	results := make([]FileResult, len(files))

	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			results[i] = c.uploadOne(ctx, file, rowID)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (c *Coordinator) uploadOne(ctx context.Context, file form.File, rowID string) (result FileResult) {
	result.File = file
	defer func() {
		if r := recover(); r != nil {
			result.Response = nil
			result.Err = fmt.Errorf("upload of %s panicked: %v", file.Name, r)
		}
		if result.Err != nil {
			c.logger.Warn("file upload error",
				zap.String("rowId", rowID),
				zap.String("file", file.Name),
				zap.Error(result.Err))
		}
	}()

	result.Response, result.Err = c.uploader.UploadFile(ctx, file, rowID)
	return result
}

// AddNewItemRow appends a blank copy of the template row next to trigger and
// tracks it as ready. It returns the new row identifier, or "" when the
// trigger is not inside an items container with a template row.
func (c *Coordinator) AddNewItemRow(trigger *html.Node) string {
	doc := c.document()
	if doc == nil {
		return ""
	}

	rowID := c.newRowID()
	if !doc.CloneRow(trigger, rowID) {
		return ""
	}

	c.setState(rowID, UploadState{Status: models.UploadStatusReady, Files: []form.File{}})
	c.logger.Debug("item row added", zap.String("rowId", rowID))
	return rowID
}

// HasActiveUploads reports whether any row is still uploading.
func (c *Coordinator) HasActiveUploads() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, state := range c.states {
		if state.Status == models.UploadStatusUploading {
			return true
		}
	}
	return false
}

// RowStatus returns the state of a row, or a ready state with no files for
// rows that were never tracked.
func (c *Coordinator) RowStatus(rowID string) UploadState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, ok := c.states[rowID]
	if !ok {
		return UploadState{Status: models.UploadStatusReady, Files: []form.File{}}
	}
	state.Files = append([]form.File{}, state.Files...)
	return state
}

// Wait blocks until every upload batch started by HandleFileSelection has
// settled.
func (c *Coordinator) Wait() {
	c.pending.Wait()
}

func (c *Coordinator) document() *form.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc
}

func (c *Coordinator) setState(rowID string, state UploadState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[rowID] = state
}

// render skips rows without an identifier.
func (c *Coordinator) render(rowID string, status models.UploadStatus) {
	c.mu.RLock()
	renderer := c.renderer
	c.mu.RUnlock()

	if rowID == "" || renderer == nil {
		return
	}
	renderer.UpdateRowStatus(rowID, status)
}

func (c *Coordinator) renderQuietly(rowID string, status models.UploadStatus) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("rendering row status failed",
				zap.String("rowId", rowID),
				zap.Any("panic", r))
		}
	}()
	c.render(rowID, status)
}
