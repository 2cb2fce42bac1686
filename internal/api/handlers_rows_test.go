package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andrewbassily0/Dashboard-bot/internal/ledger"
	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/andrewbassily0/Dashboard-bot/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func rowContext(e *echo.Echo, path, rowID string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("rowId")
	c.SetParamValues(rowID)
	return c, rec
}

func seededLedger(t *testing.T) *testutil.MockLedger {
	t.Helper()
	store := testutil.NewMockStorage()
	l := testutil.NewMockLedger()
	for _, f := range []struct{ id, row string }{{"a", "row_1"}, {"b", "row_1"}, {"c", "row_2"}} {
		require.NoError(t, l.Record(context.Background(), store.AddFile(f.id, f.row, f.id+".png", pngBytes)))
	}
	return l
}

func TestRowHandler_HandleRowFiles(t *testing.T) {
	handler := NewRowHandler(testutil.NewMockStorage(), seededLedger(t))
	e := echo.New()

	c, rec := rowContext(e, "/api/upload/rows/row_1", "row_1")
	require.NoError(t, handler.HandleRowFiles(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var files []models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 2)
	assert.Equal(t, "a", files[0].ID)
	assert.Equal(t, "b", files[1].ID)

	c, rec = rowContext(e, "/api/upload/rows/row_9", "row_9")
	require.NoError(t, handler.HandleRowFiles(c))
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRowHandler_HandleRowFilesMsgpack(t *testing.T) {
	handler := NewRowHandler(testutil.NewMockStorage(), seededLedger(t))

	c, rec := rowContext(echo.New(), "/api/upload/rows/row_2/msgpack", "row_2")
	require.NoError(t, handler.HandleRowFilesMsgpack(c))
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var decoded struct {
		RowID string            `msgpack:"rowId"`
		Files []models.FileInfo `msgpack:"files"`
		Total int               `msgpack:"total"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &decoded))
	assert.Equal(t, "row_2", decoded.RowID)
	assert.Equal(t, 1, decoded.Total)
	require.Len(t, decoded.Files, 1)
	assert.Equal(t, "c", decoded.Files[0].ID)
	assert.Equal(t, "image/png", decoded.Files[0].ContentType)
}

func TestRowHandler_FallsBackToStore(t *testing.T) {
	store := testutil.NewMockStorage()
	store.AddFile("x", "row_1", "x.png", pngBytes)
	handler := NewRowHandler(store, nil)
	e := echo.New()

	c, rec := rowContext(e, "/api/upload/rows/row_1", "row_1")
	require.NoError(t, handler.HandleRowFiles(c))

	var files []models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "x", files[0].ID)

	req := httptest.NewRequest(http.MethodGet, "/api/upload/rows", nil)
	var apiErr *APIError
	require.True(t, errors.As(handler.HandleListRows(e.NewContext(req, httptest.NewRecorder())), &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}

func TestRowHandler_HandleListRows(t *testing.T) {
	handler := NewRowHandler(testutil.NewMockStorage(), seededLedger(t))

	req := httptest.NewRequest(http.MethodGet, "/api/upload/rows", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, handler.HandleListRows(echo.New().NewContext(req, rec)))

	var rows []ledger.RowSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	byRow := map[string]ledger.RowSummary{}
	for _, r := range rows {
		byRow[r.RowID] = r
	}
	assert.Equal(t, 2, byRow["row_1"].Files)
	assert.Equal(t, int64(2*len(pngBytes)), byRow["row_1"].TotalBytes)
	assert.Equal(t, 1, byRow["row_2"].Files)
}

func TestRowHandler_MissingRowID(t *testing.T) {
	handler := NewRowHandler(testutil.NewMockStorage(), nil)
	c, _ := rowContext(echo.New(), "/api/upload/rows/", "")

	var apiErr *APIError
	require.True(t, errors.As(handler.HandleRowFiles(c), &apiErr))
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
}
