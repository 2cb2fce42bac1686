// Package ledger records every stored image in a DuckDB table so uploads can
// be listed per row and the image index survives restarts.
package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"
)

// Options tunes the DuckDB instance.
type Options struct {
	Threads     int
	MemoryLimit string
	Logger      *zap.Logger
}

// RowSummary aggregates the uploads of one row.
type RowSummary struct {
	RowID      string    `json:"rowId" msgpack:"rowId"`
	Files      int       `json:"files" msgpack:"files"`
	TotalBytes int64     `json:"totalBytes" msgpack:"totalBytes"`
	LastUpload time.Time `json:"lastUpload" msgpack:"lastUpload"`
}

// Ledger is a DuckDB-backed upload log.
type Ledger struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
}

// Open opens or creates the ledger at path. An empty path keeps the ledger
// in memory.
func Open(path string, opts Options) (*Ledger, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var pragmas []string
	if opts.MemoryLimit != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit))
	}
	if opts.Threads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", opts.Threads))
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS uploads (
			id           VARCHAR PRIMARY KEY,
			row_id       VARCHAR NOT NULL,
			name         VARCHAR NOT NULL,
			content_type VARCHAR NOT NULL,
			size         BIGINT NOT NULL,
			uploaded_at  TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create uploads table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_uploads_row ON uploads(row_id)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create row index: %w", err)
	}

	logger.Info("upload ledger opened", zap.String("path", displayPath(path)))
	return &Ledger{db: db, path: path, logger: logger}, nil
}

// Record appends a stored file to the ledger.
func (l *Ledger) Record(ctx context.Context, info *models.FileInfo) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO uploads (id, row_id, name, content_type, size, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		info.ID, info.RowID, info.Name, info.ContentType, info.Size, info.UploadedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording upload %s: %w", info.ID, err)
	}
	return nil
}

// ByRow lists the uploads of a row, oldest first.
func (l *Ledger) ByRow(ctx context.Context, rowID string) ([]*models.FileInfo, error) {
	return l.query(ctx,
		`SELECT id, row_id, name, content_type, size, uploaded_at FROM uploads WHERE row_id = ? ORDER BY uploaded_at, id`,
		rowID)
}

// All lists every upload, oldest first.
func (l *Ledger) All(ctx context.Context) ([]*models.FileInfo, error) {
	return l.query(ctx,
		`SELECT id, row_id, name, content_type, size, uploaded_at FROM uploads ORDER BY uploaded_at, id`)
}

// Rows summarizes uploads per row, most recently active first.
func (l *Ledger) Rows(ctx context.Context) ([]RowSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT row_id, COUNT(*), CAST(SUM(size) AS BIGINT), MAX(uploaded_at)
		FROM uploads
		GROUP BY row_id
		ORDER BY MAX(uploaded_at) DESC, row_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying row summaries: %w", err)
	}
	defer rows.Close()

	summaries := make([]RowSummary, 0)
	for rows.Next() {
		var s RowSummary
		if err := rows.Scan(&s.RowID, &s.Files, &s.TotalBytes, &s.LastUpload); err != nil {
			return nil, fmt.Errorf("scanning row summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Delete removes an upload from the ledger. Unknown ids are ignored.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM uploads WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting upload %s: %w", id, err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close releases the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]*models.FileInfo, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying uploads: %w", err)
	}
	defer rows.Close()

	files := make([]*models.FileInfo, 0)
	for rows.Next() {
		info := &models.FileInfo{Status: "uploaded"}
		if err := rows.Scan(&info.ID, &info.RowID, &info.Name, &info.ContentType, &info.Size, &info.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning upload: %w", err)
		}
		files = append(files, info)
	}
	return files, rows.Err()
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}
