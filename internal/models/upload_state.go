package models

// UploadStatus represents the aggregate upload status of a form row.
type UploadStatus string

const (
	UploadStatusReady     UploadStatus = "ready"
	UploadStatusUploading UploadStatus = "uploading"
	UploadStatusCompleted UploadStatus = "completed"
	UploadStatusPartial   UploadStatus = "partial"
	UploadStatusFailed    UploadStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s UploadStatus) Valid() bool {
	switch s {
	case UploadStatusReady, UploadStatusUploading, UploadStatusCompleted,
		UploadStatusPartial, UploadStatusFailed:
		return true
	}
	return false
}

// Settled reports whether s is a terminal outcome of an upload batch.
func (s UploadStatus) Settled() bool {
	return s == UploadStatusCompleted || s == UploadStatusPartial || s == UploadStatusFailed
}
