package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i3lani/paywatch/common/config"
	"github.com/i3lani/paywatch/common/logging"
	"github.com/i3lani/paywatch/payments/internal/models"
	"github.com/i3lani/paywatch/payments/internal/repository"
)

type fakeMirror struct {
	mu      sync.Mutex
	err     error
	indexed []*models.AuditEntry
}

func (f *fakeMirror) Index(ctx context.Context, entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, entry)
	return f.err
}

func TestLog_RecordMirrorsInsertedOnly(t *testing.T) {
	mirror := &fakeMirror{}
	log := NewLog(repository.NewMemoryRepository(), mirror, logging.Discard())
	ctx := context.Background()

	entry := &models.AuditEntry{Memo: "AB1234", TxHash: "tx-1", Action: models.AuditRejected, Watcher: models.WatcherMonitor}
	inserted, err := log.Record(ctx, entry)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *entry
	inserted, err = log.Record(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	assert.Len(t, mirror.indexed, 1)

	trail, err := log.Trail(ctx, "AB1234")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestLog_MirrorFailureIsNotFatal(t *testing.T) {
	mirror := &fakeMirror{err: errors.New("cluster red")}
	log := NewLog(repository.NewMemoryRepository(), mirror, logging.Discard())

	inserted, err := log.Record(context.Background(), &models.AuditEntry{Memo: "AB1234", Action: models.AuditExpired})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestLog_NilMirror(t *testing.T) {
	log := NewLog(repository.NewMemoryRepository(), nil, logging.Discard())
	_, err := log.Record(context.Background(), &models.AuditEntry{Memo: "AB1234", Action: models.AuditExpired})
	assert.NoError(t, err)

	_, err = log.Search(context.Background(), "AB1234", 10)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

func TestLog_SearchNeedsSearchableMirror(t *testing.T) {
	log := NewLog(repository.NewMemoryRepository(), &fakeMirror{}, logging.Discard())
	_, err := log.Search(context.Background(), "tx-1", 10)
	assert.ErrorIs(t, err, ErrSearchUnavailable)
}

// fakeOpenSearch answers the handful of endpoints the mirror uses.
func fakeOpenSearch(t *testing.T, indexExists bool) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var calls []string
	docs := map[string]json.RawMessage{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/":
			_, _ = io.WriteString(w, `{"version":{"number":"2.11.0","distribution":"opensearch"}}`)
		case r.Method == http.MethodHead && r.URL.Path == "/paywatch-audit":
			if !indexExists {
				w.WriteHeader(http.StatusNotFound)
			}
		case r.Method == http.MethodPut && r.URL.Path == "/paywatch-audit":
			_, _ = io.WriteString(w, `{"acknowledged":true}`)
		case strings.HasPrefix(r.URL.Path, "/paywatch-audit/_doc/"):
			body, _ := io.ReadAll(r.Body)
			docs[strings.TrimPrefix(r.URL.Path, "/paywatch-audit/_doc/")] = body
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"result":"created"}`)
		case r.URL.Path == "/paywatch-audit/_search":
			hits := []map[string]json.RawMessage{}
			for _, d := range docs {
				hits = append(hits, map[string]json.RawMessage{"_source": d})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"hits": map[string]any{"hits": hits}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestOpenSearchMirror_InitializeCreatesIndex(t *testing.T) {
	server, calls := fakeOpenSearch(t, false)

	mirror, err := NewOpenSearchMirror(config.OpenSearchConfig{URL: server.URL})
	require.NoError(t, err)
	require.NoError(t, mirror.Initialize(context.Background()))

	assert.Contains(t, *calls, "PUT /paywatch-audit")
}

func TestOpenSearchMirror_InitializeExistingIndex(t *testing.T) {
	server, calls := fakeOpenSearch(t, true)

	mirror, err := NewOpenSearchMirror(config.OpenSearchConfig{URL: server.URL, Index: "paywatch-audit"})
	require.NoError(t, err)
	require.NoError(t, mirror.Initialize(context.Background()))

	assert.NotContains(t, *calls, "PUT /paywatch-audit")
}

func TestOpenSearchMirror_IndexAndSearch(t *testing.T) {
	server, _ := fakeOpenSearch(t, true)

	mirror, err := NewOpenSearchMirror(config.OpenSearchConfig{URL: server.URL})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, mirror.Index(ctx, &models.AuditEntry{ID: 7, Memo: "AB1234", TxHash: "tx-1", Action: models.AuditConfirmed}))

	entries, err := mirror.Search(ctx, "AB1234", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditConfirmed, entries[0].Action)
	assert.Equal(t, int64(7), entries[0].ID)

	log := NewLog(repository.NewMemoryRepository(), mirror, logging.Discard())
	entries, err = log.Search(ctx, "tx-1", 5)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
