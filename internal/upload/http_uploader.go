package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andrewbassily0/Dashboard-bot/internal/form"
)

const (
	// DefaultEndpoint is the path images are posted to.
	DefaultEndpoint = "/api/upload/image/"
	// CSRFHeader carries the anti-forgery token.
	CSRFHeader = "X-CSRFToken"

	fileField  = "file"
	rowIDField = "row_id"
)

// TokenSource supplies the anti-forgery token sent with every upload.
// *form.Document reads it from the page's hidden field.
type TokenSource interface {
	CSRFToken() string
}

// StatusError is returned for non-2xx upload responses.
type StatusError struct {
	Code int
	Text string
}

func (e *StatusError) Error() string {
	return "Upload failed: " + e.Text
}

// HTTPUploader posts files as multipart forms to the upload endpoint.
type HTTPUploader struct {
	client   *http.Client
	endpoint string
	tokens   TokenSource
	timeout  time.Duration
}

// HTTPOption configures an HTTPUploader.
type HTTPOption func(*HTTPUploader)

// WithEndpoint overrides the upload path or URL.
func WithEndpoint(endpoint string) HTTPOption {
	return func(u *HTTPUploader) {
		u.endpoint = endpoint
	}
}

// WithRequestTimeout bounds each upload request. Zero means no timeout.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(u *HTTPUploader) {
		u.timeout = d
	}
}

// NewHTTPUploader creates an uploader posting to baseURL. A nil client uses
// http.DefaultClient; a nil token source sends an empty token.
func NewHTTPUploader(baseURL string, client *http.Client, tokens TokenSource, opts ...HTTPOption) (*HTTPUploader, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u := &HTTPUploader{
		client:   client,
		endpoint: DefaultEndpoint,
		tokens:   tokens,
	}
	for _, opt := range opts {
		opt(u)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	ref, err := url.Parse(u.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid upload endpoint %q: %w", u.endpoint, err)
	}
	u.endpoint = base.ResolveReference(ref).String()
	return u, nil
}

// Endpoint returns the absolute upload URL.
func (u *HTTPUploader) Endpoint() string {
	return u.endpoint
}

// UploadFile posts file and rowID and returns the JSON response body.
func (u *HTTPUploader) UploadFile(ctx context.Context, file form.File, rowID string) (json.RawMessage, error) {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	body, contentType := multipartBody(file, rowID)
	defer body.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(CSRFHeader, u.csrfToken())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", file.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, Text: statusText(resp)}
	}

	var result json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding upload response for %s: %w", file.Name, err)
	}
	return result, nil
}

func (u *HTTPUploader) csrfToken() string {
	if u.tokens == nil {
		return ""
	}
	return u.tokens.CSRFToken()
}

// multipartBody streams the form through a pipe so large images are never
// held in memory.
func multipartBody(file form.File, rowID string) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, file, rowID))
	}()

	return pr, mw.FormDataContentType()
}

func writeMultipart(mw *multipart.Writer, file form.File, rowID string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, file.Name))
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("creating file part: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("writing file part: %w", err)
	}
	if err := mw.WriteField(rowIDField, rowID); err != nil {
		return fmt.Errorf("writing row_id: %w", err)
	}
	return mw.Close()
}

// statusText returns the reason phrase of the response status line.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
