package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medrex/medsync/internal/api"
)

// testLogger returns an slog.Logger at Debug level that writes to t.Log,
// so all engine activity appears in test output with -v.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testWriter adapts testing.T to io.Writer for slog output.
type testWriter struct {
	t *testing.T
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// newTestStore opens a SQLite store in the test's temp directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"), testLogger(t))
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

// fields builds a JSON fields blob for test records.
func fields(t *testing.T, kv map[string]any) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(kv)
	require.NoError(t, err)

	return data
}

// --- Mock RecordClient ---

// mockClient implements RecordClient with call recording and per-method
// error injection. Created server IDs are sequential ("srv-1", "srv-2", …).
type mockClient struct {
	createCalls []clientCall
	updateCalls []clientCall
	deleteCalls []clientCall

	createErr error
	updateErr error
	deleteErr error

	// failLocalFields injects createErr/updateErr only for payloads
	// containing this substring. Empty matches every call.
	failMatch string

	nextID int
}

type clientCall struct {
	EntityType string
	ServerID   string
	Fields     string
}

func (m *mockClient) CreateRecord(_ context.Context, entityType string, f json.RawMessage) (*api.RemoteRecord, error) {
	m.createCalls = append(m.createCalls, clientCall{EntityType: entityType, Fields: string(f)})

	if m.createErr != nil && m.matches(f) {
		return nil, m.createErr
	}

	m.nextID++

	return &api.RemoteRecord{
		ServerID:   fmt.Sprintf("srv-%d", m.nextID),
		EntityType: entityType,
		Fields:     f,
	}, nil
}

func (m *mockClient) UpdateRecord(_ context.Context, entityType, serverID string, f json.RawMessage) (*api.RemoteRecord, error) {
	m.updateCalls = append(m.updateCalls, clientCall{EntityType: entityType, ServerID: serverID, Fields: string(f)})

	if m.updateErr != nil && m.matches(f) {
		return nil, m.updateErr
	}

	return &api.RemoteRecord{ServerID: serverID, EntityType: entityType, Fields: f}, nil
}

func (m *mockClient) DeleteRecord(_ context.Context, entityType, serverID string) error {
	m.deleteCalls = append(m.deleteCalls, clientCall{EntityType: entityType, ServerID: serverID})

	return m.deleteErr
}

func (m *mockClient) matches(f json.RawMessage) bool {
	if m.failMatch == "" {
		return true
	}

	return strings.Contains(string(f), m.failMatch)
}

// --- Mock ChangeFetcher ---

// mockFetcher returns pre-configured pages in sequence. Each served Changes
// call pops the next page; an error can be injected at a specific call
// index without consuming a page, so the retry that follows gets the next
// configured page.
type mockFetcher struct {
	pages    []*api.ChangePage
	pageIdx  int
	errAtIdx int   // inject error at this call index (-1 = never)
	err      error // the error to inject
	calls    []fetchCall
}

type fetchCall struct {
	EntityType string
	Cursor     string
}

func newMockFetcher(pages ...*api.ChangePage) *mockFetcher {
	return &mockFetcher{pages: pages, errAtIdx: -1}
}

func (m *mockFetcher) Changes(_ context.Context, entityType, cursor string) (*api.ChangePage, error) {
	call := len(m.calls)
	m.calls = append(m.calls, fetchCall{EntityType: entityType, Cursor: cursor})

	if m.errAtIdx >= 0 && call == m.errAtIdx {
		return nil, m.err
	}

	if m.pageIdx >= len(m.pages) {
		return nil, fmt.Errorf("no more pages configured in mock")
	}

	page := m.pages[m.pageIdx]
	m.pageIdx++

	return page, nil
}
