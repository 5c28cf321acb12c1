package moderation

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/modledger/internal/database"
	"github.com/MarcoPoloResearchLab/modledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/modledger/internal/store"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)

type staticIDProvider struct {
	id string
}

func (p staticIDProvider) NewID() (string, error) {
	return p.id, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}

type testHarness struct {
	service *Service
	store   store.Store
	events  *recordingSink
}

func newTestHarness(t *testing.T, policy Policy) testHarness {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	documents := store.NewBounded(store.NewSQLiteStore(db), store.BackendSQLite, time.Second)
	t.Cleanup(func() { _ = documents.Close() })

	events := &recordingSink{}
	service, err := NewService(ServiceConfig{
		Store:      documents,
		Policy:     policy,
		Clock:      func() time.Time { return testNow },
		IDProvider: staticIDProvider{id: "import-1"},
		Events:     events,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return testHarness{service: service, store: documents, events: events}
}

func (h testHarness) putDocument(t *testing.T, key string, document string) {
	t.Helper()
	if err := h.store.SetWhole(context.Background(), key, []byte(document)); err != nil {
		t.Fatalf("failed to seed %s: %v", key, err)
	}
}

func (h testHarness) mustRecord(t *testing.T, id string) ledger.UserRecord {
	t.Helper()
	record, found, err := h.service.LookupUser(context.Background(), id)
	if err != nil {
		t.Fatalf("lookup %s: %v", id, err)
	}
	if !found {
		t.Fatalf("expected a ledger entry for %s", id)
	}
	return record
}

func (h testHarness) userKeys(t *testing.T) []string {
	t.Helper()
	keys, err := h.store.ListKeys(context.Background(), ledger.UserKeyPrefix)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	return keys
}

func feedOf(rows ...ImportRow) ImportFeed {
	return ImportFeed{Rows: rows}
}

// snowflakeAt builds an identifier whose embedded creation time is createdAt.
func snowflakeAt(createdAt time.Time) uint64 {
	return uint64(createdAt.UnixMilli()-snowflakeEpochMillis) << snowflakeTimestampShift
}
