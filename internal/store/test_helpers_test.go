package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/indextrack/internal/record"
)

// createTestStore creates a new file-backed store in a temp dir.
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

// createTestRecord creates an active record whose timestamps all equal at.
func createTestRecord(namespace, id string, at time.Time) record.TrackedRecord {
	return record.TrackedRecord{
		Key:              record.Key{Namespace: namespace, Identifier: id},
		FirstIndexed:     record.Time(at),
		LastIndexed:      record.Time(at),
		LastRecordChange: record.Time(at),
	}
}

// createTestTombstone creates a tombstone deleted at the given instant.
func createTestTombstone(namespace, id string, deleted time.Time) record.TrackedRecord {
	return record.TrackedRecord{
		Key:              record.Key{Namespace: namespace, Identifier: id},
		LastIndexed:      record.Time(deleted.Add(-time.Hour)),
		LastRecordChange: record.Time(deleted.Add(-time.Hour)),
		Deleted:          record.Time(deleted),
	}
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
