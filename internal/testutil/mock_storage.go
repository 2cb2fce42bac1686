// mock_storage.go - In-memory storage and ledger doubles for handler tests
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/andrewbassily0/Dashboard-bot/internal/ledger"
	"github.com/andrewbassily0/Dashboard-bot/internal/models"
	"github.com/andrewbassily0/Dashboard-bot/internal/storage"
)

// MockStorage implements storage.Store in memory
type MockStorage struct {
	mu       sync.RWMutex
	files    map[string]*models.FileInfo
	fileData map[string][]byte

	// SaveErr, when set, is returned by Save
	SaveErr error
}

// NewMockStorage creates an empty mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
	}
}

func (m *MockStorage) Save(name, rowID, contentType string, r io.Reader) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := generateTestID()
	file := &models.FileInfo{
		ID:          id,
		Name:        name,
		RowID:       rowID,
		ContentType: contentType,
		Size:        int64(len(data)),
		UploadedAt:  time.Now(),
		Status:      "uploaded",
	}
	m.files[id] = file
	m.fileData[id] = data
	return file, nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return file, nil
}

func (m *MockStorage) Open(id string) (io.ReadCloser, error) {
	data, err := m.GetFileData(id)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var files []*models.FileInfo
	for _, file := range m.files {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) ListByRow(rowID string) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*models.FileInfo, 0)
	for _, file := range m.files {
		if file.RowID == rowID {
			files = append(files, file)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[id]; !exists {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	return "/mock/path/" + id, nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// Test Helper Methods

// AddFile adds a file directly to the mock
func (m *MockStorage) AddFile(id, rowID, name string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	file := &models.FileInfo{
		ID:          id,
		Name:        name,
		RowID:       rowID,
		ContentType: "image/png",
		Size:        int64(len(data)),
		UploadedAt:  time.Now(),
		Status:      "uploaded",
	}
	m.files[id] = file
	m.fileData[id] = data
	return file
}

// GetFileData returns the file content
func (m *MockStorage) GetFileData(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.fileData[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return data, nil
}

// GetFileCount returns the number of stored files
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// MockLedger is an in-memory upload ledger
type MockLedger struct {
	mu      sync.Mutex
	records []*models.FileInfo

	// RecordErr, when set, is returned by Record
	RecordErr error
	// PingErr, when set, is returned by Ping
	PingErr error
}

// NewMockLedger creates an empty ledger
func NewMockLedger() *MockLedger {
	return &MockLedger{}
}

func (l *MockLedger) Record(ctx context.Context, info *models.FileInfo) error {
	if l.RecordErr != nil {
		return l.RecordErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, info)
	return nil
}

func (l *MockLedger) ByRow(ctx context.Context, rowID string) ([]*models.FileInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files := make([]*models.FileInfo, 0)
	for _, r := range l.records {
		if r.RowID == rowID {
			files = append(files, r)
		}
	}
	return files, nil
}

func (l *MockLedger) Rows(ctx context.Context) ([]ledger.RowSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	index := make(map[string]int)
	summaries := make([]ledger.RowSummary, 0)
	for _, r := range l.records {
		i, ok := index[r.RowID]
		if !ok {
			i = len(summaries)
			index[r.RowID] = i
			summaries = append(summaries, ledger.RowSummary{RowID: r.RowID})
		}
		s := &summaries[i]
		s.Files++
		s.TotalBytes += r.Size
		if r.UploadedAt.After(s.LastUpload) {
			s.LastUpload = r.UploadedAt
		}
	}
	return summaries, nil
}

func (l *MockLedger) Delete(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0]
	for _, r := range l.records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	l.records = kept
	return nil
}

func (l *MockLedger) Ping(ctx context.Context) error {
	return l.PingErr
}

// Len returns the number of recorded uploads
func (l *MockLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// generateTestID generates a simple test ID
var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
