package models

// StoredEvent is published on the upload feed whenever the server stores an
// image for a row.
type StoredEvent struct {
	Type      string    `json:"type"`
	RowID     string    `json:"rowId"`
	File      *FileInfo `json:"file"`
	Timestamp int64     `json:"timestamp"` // Unix ms
}
