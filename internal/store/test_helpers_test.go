package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/docstate/internal/audit"
	"github.com/roach88/docstate/internal/ir"
)

// createTestStore opens a fresh database in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(id string, ts int64, action string) audit.Entry {
	return audit.Entry{
		ID:        id,
		Timestamp: ts,
		Action:    action,
		Data:      ir.Obj(ir.O("n", ir.IRInt(ts))),
	}
}
