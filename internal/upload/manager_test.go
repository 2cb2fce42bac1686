package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrewbassily0/Dashboard-bot/internal/form"
	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const requestForm = `<!DOCTYPE html>
<html><body>
<form id="request-form" method="post">
  <input type="hidden" name="csrfmiddlewaretoken" value="tok-123">
  <div class="items-container">
    <div class="item-row" data-row-id="row_1">
      <input type="text" name="part_name" value="Headlight">
      <textarea name="notes">left side</textarea>
      <input type="file" name="images" multiple>
      <span class="upload-status"></span>
    </div>
    <div class="item-row-template">
      <input type="text" name="part_name" value="placeholder">
      <textarea name="notes">template notes</textarea>
      <input type="file" name="images" multiple>
      <span class="upload-status"></span>
    </div>
    <button type="button" class="add-item-row">+</button>
  </div>
  <div class="orphan"><input type="file" name="loose" multiple></div>
</form>
</body></html>`

// fakeUploader fails files whose name is listed in fail.
type fakeUploader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
	rows  []string
}

func (f *fakeUploader) UploadFile(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, file.Name)
	f.rows = append(f.rows, rowID)
	fail := f.fail[file.Name]
	f.mu.Unlock()

	if fail {
		return nil, &StatusError{Code: http.StatusInternalServerError, Text: "Server Error"}
	}
	return json.RawMessage(`{"ok":true}`), nil
}

type uploaderFunc func(ctx context.Context, file form.File, rowID string) (json.RawMessage, error)

func (fn uploaderFunc) UploadFile(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
	return fn(ctx, file, rowID)
}

func images(names ...string) []form.File {
	var files []form.File
	for _, n := range names {
		files = append(files, form.FileFromBytes(n, "image/jpeg", []byte("jpeg:"+n)))
	}
	return files
}

func setup(t *testing.T, uploader Uploader, opts ...CoordinatorOption) (*Coordinator, *form.Document) {
	t.Helper()
	doc, err := form.ParseString(requestForm)
	require.NoError(t, err)

	c := NewCoordinator(uploader, opts...)
	require.True(t, c.Init(doc, form.DefaultFormSelector))
	return c, doc
}

func selectFiles(t *testing.T, c *Coordinator, doc *form.Document, rowID string, files []form.File) {
	t.Helper()
	input := doc.RowFileInput(rowID)
	require.NotNil(t, input)
	doc.SelectFiles(context.Background(), input, files)
	c.Wait()
}

func TestCoordinator_AggregateStatus(t *testing.T) {
	tests := []struct {
		name       string
		files      []string
		fail       []string
		wantStatus models.UploadStatus
		wantText   string
	}{
		{
			name:       "all files succeed",
			files:      []string{"a.jpg", "b.jpg", "c.jpg"},
			wantStatus: models.UploadStatusCompleted,
			wantText:   "تم الرفع بنجاح",
		},
		{
			name:       "some files fail",
			files:      []string{"a.jpg", "b.jpg"},
			fail:       []string{"b.jpg"},
			wantStatus: models.UploadStatusPartial,
			wantText:   "رفع جزئي",
		},
		{
			name:       "all files fail",
			files:      []string{"a.jpg", "b.jpg"},
			fail:       []string{"a.jpg", "b.jpg"},
			wantStatus: models.UploadStatusFailed,
			wantText:   "فشل الرفع",
		},
		{
			name:       "single failing file",
			files:      []string{"a.jpg"},
			fail:       []string{"a.jpg"},
			wantStatus: models.UploadStatusFailed,
			wantText:   "فشل الرفع",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{fail: map[string]bool{}}
			for _, n := range tt.fail {
				up.fail[n] = true
			}
			c, doc := setup(t, up)

			selectFiles(t, c, doc, "row_1", images(tt.files...))

			state := c.RowStatus("row_1")
			assert.Equal(t, tt.wantStatus, state.Status)
			assert.Len(t, state.Files, len(tt.files))
			assert.ElementsMatch(t, tt.files, up.calls, "every file must be uploaded")
			assert.False(t, c.HasActiveUploads())

			text, status, ok := doc.StatusText("row_1")
			require.True(t, ok)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestCoordinator_EmptySelectionKeepsState(t *testing.T) {
	up := &fakeUploader{}
	c, doc := setup(t, up)

	selectFiles(t, c, doc, "row_1", images("a.jpg"))
	require.Equal(t, models.UploadStatusCompleted, c.RowStatus("row_1").Status)

	selectFiles(t, c, doc, "row_1", nil)

	assert.Equal(t, models.UploadStatusCompleted, c.RowStatus("row_1").Status)
	assert.Len(t, up.calls, 1)
}

func TestCoordinator_EmptySelectionOnUntrackedRow(t *testing.T) {
	c, doc := setup(t, &fakeUploader{})

	selectFiles(t, c, doc, "row_1", nil)

	assert.Equal(t, models.UploadStatusReady, c.RowStatus("row_1").Status)
	_, status, ok := doc.StatusText("row_1")
	require.True(t, ok)
	assert.Equal(t, models.UploadStatusReady, status)
}

func TestCoordinator_RowStatusUntracked(t *testing.T) {
	c := NewCoordinator(&fakeUploader{})

	state := c.RowStatus("row_unknown")

	assert.Equal(t, models.UploadStatusReady, state.Status)
	assert.NotNil(t, state.Files)
	assert.Empty(t, state.Files)
}

func TestCoordinator_HasActiveUploads(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	up := uploaderFunc(func(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
		started <- struct{}{}
		<-release
		return json.RawMessage(`{}`), nil
	})
	c, doc := setup(t, up)

	doc.SelectFiles(context.Background(), doc.RowFileInput("row_1"), images("a.jpg", "b.jpg"))
	<-started
	<-started

	assert.True(t, c.HasActiveUploads())
	assert.Equal(t, models.UploadStatusUploading, c.RowStatus("row_1").Status)
	_, status, _ := doc.StatusText("row_1")
	assert.Equal(t, models.UploadStatusUploading, status)

	close(release)
	c.Wait()

	assert.False(t, c.HasActiveUploads())
	assert.Equal(t, models.UploadStatusCompleted, c.RowStatus("row_1").Status)
}

func TestCoordinator_FanOutIsConcurrent(t *testing.T) {
	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	up := uploaderFunc(func(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
		// Blocks until all n uploads are in flight at the same time.
		wg.Done()
		wg.Wait()
		return json.RawMessage(`{}`), nil
	})
	c, doc := setup(t, up)

	doc.SelectFiles(context.Background(), doc.RowFileInput("row_1"), images("1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg"))
	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("uploads were not dispatched concurrently")
	}
	assert.Equal(t, models.UploadStatusCompleted, c.RowStatus("row_1").Status)
}

func TestCoordinator_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	up := uploaderFunc(func(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return json.RawMessage(`{}`), nil
	})
	c, doc := setup(t, up, WithConcurrency(2))

	selectFiles(t, c, doc, "row_1", images("1.jpg", "2.jpg", "3.jpg", "4.jpg", "5.jpg", "6.jpg"))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, models.UploadStatusCompleted, c.RowStatus("row_1").Status)
}

func TestCoordinator_InputOutsideRow(t *testing.T) {
	up := &fakeUploader{}
	c, doc := setup(t, up)

	input := doc.Query(`input[name="loose"]`)
	require.NotNil(t, input)
	doc.SelectFiles(context.Background(), input, images("a.jpg"))
	c.Wait()

	assert.Equal(t, []string{"a.jpg"}, up.calls, "uploads still proceed without a row")
	assert.Equal(t, []string{""}, up.rows)
	assert.Equal(t, models.UploadStatusCompleted, c.RowStatus("").Status)
	_, status, _ := doc.StatusText("row_1")
	assert.Equal(t, models.UploadStatusReady, status)
}

func TestCoordinator_IgnoresSingleFileInputs(t *testing.T) {
	doc, err := form.ParseString(`<form id="request-form"><div data-row-id="r"><input type="file" name="one"><span class="upload-status"></span></div></form>`)
	require.NoError(t, err)
	up := &fakeUploader{}
	c := NewCoordinator(up)
	require.True(t, c.Init(doc, "#request-form"))

	doc.SelectFiles(context.Background(), doc.Query(`input[name="one"]`), images("a.jpg"))
	c.Wait()

	assert.Empty(t, up.calls)
	assert.Equal(t, models.UploadStatusReady, c.RowStatus("r").Status)
}

type panickingRenderer struct {
	mu       sync.Mutex
	panicOn  models.UploadStatus
	rendered []models.UploadStatus
}

func (p *panickingRenderer) UpdateRowStatus(rowID string, status models.UploadStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == p.panicOn {
		panic("renderer exploded")
	}
	p.rendered = append(p.rendered, status)
}

func TestCoordinator_AggregationPanicFailsRow(t *testing.T) {
	renderer := &panickingRenderer{panicOn: models.UploadStatusCompleted}
	c, doc := setup(t, &fakeUploader{}, WithRenderer(renderer))

	selectFiles(t, c, doc, "row_1", images("a.jpg"))

	assert.Equal(t, models.UploadStatusFailed, c.RowStatus("row_1").Status)
	assert.Equal(t, []models.UploadStatus{models.UploadStatusUploading, models.UploadStatusFailed}, renderer.rendered)
}

func TestCoordinator_UploaderPanicCountsAsFailure(t *testing.T) {
	up := uploaderFunc(func(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
		if file.Name == "bad.jpg" {
			panic("boom")
		}
		return json.RawMessage(`{}`), nil
	})
	c, doc := setup(t, up)

	selectFiles(t, c, doc, "row_1", images("good.jpg", "bad.jpg"))

	assert.Equal(t, models.UploadStatusPartial, c.RowStatus("row_1").Status)
}

func TestCoordinator_NewSelectionReplacesState(t *testing.T) {
	up := &fakeUploader{fail: map[string]bool{"x.jpg": true}}
	c, doc := setup(t, up)

	selectFiles(t, c, doc, "row_1", images("x.jpg"))
	require.Equal(t, models.UploadStatusFailed, c.RowStatus("row_1").Status)

	selectFiles(t, c, doc, "row_1", images("y.jpg", "z.jpg"))

	state := c.RowStatus("row_1")
	assert.Equal(t, models.UploadStatusCompleted, state.Status)
	require.Len(t, state.Files, 2)
	assert.Equal(t, "y.jpg", state.Files[0].Name)
}

func TestCoordinator_AddNewItemRow(t *testing.T) {
	c, doc := setup(t, &fakeUploader{})
	button := doc.Query(form.AddRowSelector)
	require.NotNil(t, button)

	doc.Click(context.Background(), button)
	doc.Click(context.Background(), button)

	ids := doc.RowIDs()
	require.Len(t, ids, 3)
	assert.Equal(t, "row_1", ids[0])
	assert.NotEqual(t, ids[1], ids[2])

	for _, id := range ids[1:] {
		assert.Regexp(t, `^row_\d+$`, id)
		assert.Equal(t, models.UploadStatusReady, c.RowStatus(id).Status)

		row := doc.Row(id)
		require.NotNil(t, row)
		assert.True(t, doc.HasClass(row, form.RowClass))
		assert.False(t, doc.HasClass(row, form.TemplateClass))
	}

	tmpl := doc.Query(form.TemplateSelector)
	require.NotNil(t, tmpl)
	assert.Empty(t, doc.Attr(tmpl, form.RowIDAttr), "template must stay unmarked")
	assert.Equal(t, "placeholder", doc.Value(doc.Query(`.item-row-template input[name="part_name"]`)))

	// New rows upload like server-rendered ones.
	up := &fakeUploader{}
	c2, doc2 := setup(t, up)
	id := c2.AddNewItemRow(doc2.Query(form.AddRowSelector))
	require.NotEmpty(t, id)
	selectFiles(t, c2, doc2, id, images("n.jpg"))
	assert.Equal(t, models.UploadStatusCompleted, c2.RowStatus(id).Status)
	assert.Equal(t, []string{id}, up.rows)
}

func TestCoordinator_AddRowClearsFields(t *testing.T) {
	c, doc := setup(t, &fakeUploader{})

	id := c.AddNewItemRow(doc.Query(form.AddRowSelector))
	require.NotEmpty(t, id)

	for _, field := range doc.QueryAll(fmt.Sprintf(`[data-row-id=%q] input:not([type=file]), [data-row-id=%q] textarea`, id, id)) {
		assert.Empty(t, doc.Value(field))
	}
	assert.NotNil(t, doc.RowFileInput(id))
}

func TestCoordinator_AddRowWithoutTemplate(t *testing.T) {
	doc, err := form.ParseString(`<form id="f"><div class="items-container"><button class="add-item-row">+</button></div><button class="add-item-row" id="stray">+</button></form>`)
	require.NoError(t, err)
	c := NewCoordinator(&fakeUploader{})
	require.True(t, c.Init(doc, "#f"))

	assert.Empty(t, c.AddNewItemRow(doc.Query(".items-container .add-item-row")))
	assert.Empty(t, c.AddNewItemRow(doc.Query("#stray")))
	assert.Empty(t, doc.RowIDs())
}

func TestCoordinator_InitMissingForm(t *testing.T) {
	doc, err := form.ParseString(`<div>no form</div>`)
	require.NoError(t, err)
	c := NewCoordinator(&fakeUploader{})

	assert.False(t, c.Init(doc, "#request-form"))
	assert.Empty(t, c.AddNewItemRow(nil))
}

func TestCoordinator_InitTwiceUploadsOnce(t *testing.T) {
	up := &fakeUploader{}
	c, doc := setup(t, up)
	require.True(t, c.Init(doc, form.DefaultFormSelector))

	selectFiles(t, c, doc, "row_1", images("a.jpg", "b.jpg"))
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg"}, up.calls)

	doc.Click(context.Background(), doc.Query(form.AddRowSelector))
	assert.Len(t, doc.RowIDs(), 2, "one click adds one row")
}

func TestCoordinator_RemovedRowIsSkipped(t *testing.T) {
	release := make(chan struct{})
	up := uploaderFunc(func(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{}`), nil
	})
	c, doc := setup(t, up)

	doc.SelectFiles(context.Background(), doc.RowFileInput("row_1"), images("a.jpg"))
	doc.Remove(doc.Row("row_1"))
	close(release)
	c.Wait()

	assert.Equal(t, models.UploadStatusCompleted, c.RowStatus("row_1").Status)
	_, _, ok := doc.StatusText("row_1")
	assert.False(t, ok)
}

func TestCoordinator_ContextCancelFailsUploads(t *testing.T) {
	up := uploaderFunc(func(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c, doc := setup(t, up)

	ctx, cancel := context.WithCancel(context.Background())
	doc.SelectFiles(ctx, doc.RowFileInput("row_1"), images("a.jpg"))
	cancel()
	c.Wait()

	assert.Equal(t, models.UploadStatusFailed, c.RowStatus("row_1").Status)
}

// End to end against a real endpoint: one upload succeeds with {"id":1},
// the other gets a 500.
func TestCoordinator_EndToEndPartial(t *testing.T) {
	var tokens []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		mu.Lock()
		tokens = append(tokens, r.Header.Get(CSRFHeader))
		mu.Unlock()

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		f.Close()

		assert.Equal(t, "row_1", r.FormValue("row_id"))
		if hdr.Filename == "second.jpg" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		assert.Equal(t, "jpeg:first.jpg", string(data))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	doc, err := form.ParseString(requestForm)
	require.NoError(t, err)
	uploader, err := NewHTTPUploader(srv.URL, srv.Client(), doc)
	require.NoError(t, err)
	c := NewCoordinator(uploader)
	require.True(t, c.Init(doc, "#request-form"))

	selectFiles(t, c, doc, "row_1", images("first.jpg", "second.jpg"))

	assert.Equal(t, models.UploadStatusPartial, c.RowStatus("row_1").Status)
	text, status, ok := doc.StatusText("row_1")
	require.True(t, ok)
	assert.Equal(t, models.UploadStatusPartial, status)
	assert.Equal(t, "رفع جزئي", text)
	assert.Contains(t, doc.String(), `<i class="fas fa-exclamation-triangle"></i>`)
	assert.Equal(t, []string{"tok-123", "tok-123"}, tokens)
}

func TestAggregate(t *testing.T) {
	errFail := errors.New("fail")
	tests := []struct {
		name    string
		results []FileResult
		want    models.UploadStatus
	}{
		{"no results", nil, models.UploadStatusCompleted},
		{"one success", []FileResult{{}}, models.UploadStatusCompleted},
		{"one failure", []FileResult{{Err: errFail}}, models.UploadStatusFailed},
		{"mixed", []FileResult{{}, {Err: errFail}, {}}, models.UploadStatusPartial},
		{"all failed", []FileResult{{Err: errFail}, {Err: errFail}}, models.UploadStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.results))
		})
	}
}
