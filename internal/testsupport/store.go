package testsupport

import (
	"context"
	"testing"
	"time"

	"framecut/internal/config"
	"framecut/internal/history"
)

// MustOpenHistory opens the config's history store for tests and registers
// cleanup.
func MustOpenHistory(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()

	store, err := history.Open(context.Background(), cfg.Paths.HistoryDB)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// RecordExport appends a finished export to store.
func RecordExport(t testing.TB, store *history.Store, id, kind, status string, size int64) history.Entry {
	t.Helper()

	entry := history.Entry{
		ID:        id,
		Kind:      kind,
		Filename:  kind + "_" + id + ".mp4",
		Size:      size,
		Status:    status,
		Duration:  1200 * time.Millisecond,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if status == history.StatusError {
		entry.Filename = ""
		entry.Size = 0
		entry.ErrorKind = "ExecutionFailure"
		entry.Error = "execution failure: engine: " + kind + ": Invalid data found when processing input"
	}
	if err := store.Record(context.Background(), entry); err != nil {
		t.Fatalf("store.Record: %v", err)
	}
	return entry
}
