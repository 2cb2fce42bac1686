package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T, path string) *Ledger {
	t.Helper()
	l, err := Open(path, Options{Threads: 1, MemoryLimit: "256MB"})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func fileInfo(id, rowID string, size int64, at time.Time) *models.FileInfo {
	return &models.FileInfo{
		ID:          id,
		Name:        id + ".jpg",
		RowID:       rowID,
		ContentType: "image/jpeg",
		Size:        size,
		UploadedAt:  at,
		Status:      "uploaded",
	}
}

func TestLedger_RecordAndByRow(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, "")
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, fileInfo("a", "row_1", 10, base)))
	require.NoError(t, l.Record(ctx, fileInfo("b", "row_2", 20, base.Add(time.Second))))
	require.NoError(t, l.Record(ctx, fileInfo("c", "row_1", 30, base.Add(2*time.Second))))

	files, err := l.ByRow(ctx, "row_1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a", files[0].ID)
	assert.Equal(t, "c", files[1].ID)
	assert.Equal(t, "a.jpg", files[0].Name)
	assert.Equal(t, "image/jpeg", files[0].ContentType)
	assert.Equal(t, int64(10), files[0].Size)
	assert.True(t, base.Equal(files[0].UploadedAt))

	none, err := l.ByRow(ctx, "row_404")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestLedger_DuplicateID(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, "")
	info := fileInfo("a", "row_1", 10, time.Now())

	require.NoError(t, l.Record(ctx, info))
	assert.Error(t, l.Record(ctx, info))
}

func TestLedger_Rows(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, "")
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, l.Record(ctx, fileInfo("a", "row_1", 10, base)))
	require.NoError(t, l.Record(ctx, fileInfo("b", "row_1", 15, base.Add(time.Minute))))
	require.NoError(t, l.Record(ctx, fileInfo("c", "row_2", 7, base.Add(2*time.Minute))))

	rows, err := l.Rows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "row_2", rows[0].RowID)
	assert.Equal(t, 1, rows[0].Files)
	assert.Equal(t, "row_1", rows[1].RowID)
	assert.Equal(t, 2, rows[1].Files)
	assert.Equal(t, int64(25), rows[1].TotalBytes)
	assert.True(t, base.Add(time.Minute).Equal(rows[1].LastUpload))
}

func TestLedger_Delete(t *testing.T) {
	ctx := context.Background()
	l := openTestLedger(t, "")

	require.NoError(t, l.Record(ctx, fileInfo("a", "row_1", 10, time.Now())))
	require.NoError(t, l.Delete(ctx, "a"))
	require.NoError(t, l.Delete(ctx, "missing"))

	all, err := l.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "uploads.duckdb")

	l, err := Open(path, Options{})
	require.NoError(t, err)
	require.NoError(t, l.Record(ctx, fileInfo("a", "row_1", 10, time.Now())))
	require.NoError(t, l.Close())

	reopened := openTestLedger(t, path)
	all, err := reopened.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "row_1", all[0].RowID)
}
