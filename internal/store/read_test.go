package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roach88/indextrack/internal/record"
)

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Get(context.Background(), record.Key{Namespace: "biblio", Identifier: "nope"})
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestGet_NamespaceIsolation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, createTestRecord("biblio", "u1", t0)); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	_, err := s.Get(ctx, record.Key{Namespace: "authority", Identifier: "u1"})
	if !errors.Is(err, record.ErrNotFound) {
		t.Errorf("Get() in other namespace error = %v, want ErrNotFound", err)
	}
}

func TestListDeleted_RangeAndOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	fixtures := []record.TrackedRecord{
		createTestTombstone("biblio", "b", t0.Add(2*time.Hour)),
		createTestTombstone("biblio", "a", t0.Add(2*time.Hour)),
		createTestTombstone("biblio", "c", t0.Add(1*time.Hour)),
		createTestTombstone("biblio", "early", t0.Add(-time.Hour)),
		createTestTombstone("authority", "x", t0.Add(time.Hour)),
		createTestRecord("biblio", "active", t0.Add(time.Hour)),
	}
	for _, rec := range fixtures {
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert(%s) failed: %v", rec.Key, err)
		}
	}

	got, err := s.ListDeleted(ctx, "biblio", t0, t0.Add(3*time.Hour), 0, 0)
	if err != nil {
		t.Fatalf("ListDeleted() failed: %v", err)
	}

	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("ListDeleted() returned %d rows, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].Identifier != id {
			t.Errorf("row %d = %q, want %q", i, got[i].Identifier, id)
		}
	}

	count, err := s.CountDeleted(ctx, "biblio", t0, t0.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("CountDeleted() failed: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDeleted() = %d, want 3", count)
	}
}

func TestListDeleted_Paging(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c", "d", "e"} {
		if err := s.Insert(ctx, createTestTombstone("biblio", id, t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	page, err := s.ListDeleted(ctx, "biblio", t0, t0.Add(time.Hour), 2, 2)
	if err != nil {
		t.Fatalf("ListDeleted() failed: %v", err)
	}
	if len(page) != 2 || page[0].Identifier != "c" || page[1].Identifier != "d" {
		t.Errorf("page = %+v, want [c d]", page)
	}
}

func TestListDeleted_EmptyIsNotNil(t *testing.T) {
	s := createTestStore(t)

	got, err := s.ListDeleted(context.Background(), "biblio", t0, t0.Add(time.Hour), 0, 10)
	if err != nil {
		t.Fatalf("ListDeleted() failed: %v", err)
	}
	if got == nil {
		t.Error("expected empty slice, got nil")
	}
}

func TestListChanged_ExcludesTombstones(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	fixtures := []record.TrackedRecord{
		createTestRecord("biblio", "old", t0.Add(-time.Hour)),
		createTestRecord("biblio", "new2", t0.Add(2*time.Minute)),
		createTestRecord("biblio", "new1", t0.Add(time.Minute)),
		createTestTombstone("biblio", "dead", t0.Add(time.Minute)),
	}
	for _, rec := range fixtures {
		if err := s.Insert(ctx, rec); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	got, err := s.ListChanged(ctx, "biblio", t0, t0.Add(time.Hour), 0, 0)
	if err != nil {
		t.Fatalf("ListChanged() failed: %v", err)
	}
	if len(got) != 2 || got[0].Identifier != "new1" || got[1].Identifier != "new2" {
		t.Errorf("ListChanged() = %+v, want [new1 new2]", got)
	}
}

func TestListChanged_SubSecondBoundaries(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, createTestRecord("biblio", "frac", t0.Add(500*time.Millisecond))); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	got, err := s.ListChanged(ctx, "biblio", t0, t0.Add(time.Second), 0, 0)
	if err != nil {
		t.Fatalf("ListChanged() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected fractional instant inside [t0, t0+1s], got %d rows", len(got))
	}

	got, err = s.ListChanged(ctx, "biblio", t0.Add(600*time.Millisecond), t0.Add(time.Second), 0, 0)
	if err != nil {
		t.Fatalf("ListChanged() failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no rows after the instant, got %d", len(got))
	}
}
