package form

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/net/html"
)

// File is a handle to a file selected in a file input.
type File struct {
	Name        string
	ContentType string
	Size        int64
	open        func() (io.ReadCloser, error)
}

// Open returns a reader over the file content.
func (f File) Open() (io.ReadCloser, error) {
	if f.open == nil {
		return nil, fmt.Errorf("file %s has no content", f.Name)
	}
	return f.open()
}

// FileFromBytes wraps in-memory content as a File.
func FileFromBytes(name, contentType string, data []byte) File {
	if contentType == "" {
		contentType = detectContentType(name, data)
	}
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FileFromPath returns a File backed by a file on disk. The content is read
// on every Open.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	head, err := readHead(path)
	if err != nil {
		return File{}, err
	}

	return File{
		Name:        filepath.Base(path),
		ContentType: detectContentType(path, head),
		Size:        info.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// sniffLen matches the default read limit of mimetype.
const sniffLen = 3072

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return buf[:n], nil
}

// detectContentType sniffs the content and only trusts the extension when
// the bytes say nothing more specific than plain text or raw binary.
func detectContentType(name string, head []byte) string {
	mt := mimetype.Detect(head)
	if mt.Is("application/octet-stream") || mt.Is("text/plain") {
		if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
			return ct
		}
	}
	return mt.String()
}

// SetFiles replaces the file list of a file input.
func (d *Document) SetFiles(input *html.Node, files []File) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[input] = append([]File(nil), files...)
}

// Files returns a copy of the file list of a file input.
func (d *Document) Files(input *html.Node) []File {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]File(nil), d.files[input]...)
}

// IsMultiFileInput reports whether n is an <input type=file multiple>.
func (d *Document) IsMultiFileInput(n *html.Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return n != nil && n.Type == html.ElementNode && n.Data == "input" &&
		getAttr(n, "type") == "file" && hasAttr(n, "multiple")
}
