package upload

import (
	"encoding/json"

	"github.com/andrewbassily0/Dashboard-bot/internal/form"
	"github.com/andrewbassily0/Dashboard-bot/internal/models"
)

// UploadState is the upload state of one form row.
type UploadState struct {
	Status   models.UploadStatus `json:"status"`
	Files    []form.File         `json:"-"`
	Progress float64             `json:"progress"`
}

// FileResult is the settled outcome of one file upload.
type FileResult struct {
	File     form.File
	Response json.RawMessage
	Err      error
}

// Aggregate folds the outcomes of a row's uploads into the row status:
// completed when nothing failed, partial when some succeeded, failed
// otherwise.
func Aggregate(results []FileResult) models.UploadStatus {
	var succeeded, failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	switch {
	case failed == 0:
		return models.UploadStatusCompleted
	case succeeded > 0:
		return models.UploadStatusPartial
	default:
		return models.UploadStatusFailed
	}
}
