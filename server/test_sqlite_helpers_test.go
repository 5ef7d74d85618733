package server

import (
	"path/filepath"
	"testing"

	"github.com/petal-labs/nodeschema/bus"
)

func newTestEventStore(t *testing.T) *bus.SQLiteEventStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "events.sqlite")
	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: path})
	if err != nil {
		t.Fatalf("NewSQLiteEventStore(events): %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
