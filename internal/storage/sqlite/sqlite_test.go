package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/vaxscrape/internal/storage"
)

func TestSQLiteBackend(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "vaxscrape.db")

	b, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	loaded, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load empty table: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("Expected empty table, got %d", len(loaded))
	}

	// Same timestamp on purpose: order must follow insertion, not time.
	e1 := &storage.Entry{URL: "http://example.com/b", Title: "B", Query: "q1", Topic: "vaccine safety", Timestamp: now, SearchDepth: "basic"}
	e2 := &storage.Entry{URL: "http://example.com/a", Title: "A", Query: "q1", Topic: "vaccine safety", Timestamp: now, SearchDepth: "basic"}
	e3 := &storage.Entry{URL: "http://example.com/b", Content: "again", Query: "q2", Topic: "vaccine mandates", Timestamp: now.Add(time.Minute), Perspective: "economic factors"}

	if err := b.Flush(ctx, []*storage.Entry{e1, e2}, []*storage.Entry{e1, e2}); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	if err := b.Flush(ctx, []*storage.Entry{e1, e2, e3}, []*storage.Entry{e3}); err != nil {
		t.Fatalf("Failed to flush: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b2, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer b2.Close()

	got, err := b2.Load(ctx)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(got))
	}
	if got[0].Title != "B" || got[1].Title != "A" {
		t.Errorf("Expected insertion order B, A; got %s, %s", got[0].Title, got[1].Title)
	}
	if got[2].Perspective != "economic factors" || got[2].Content != "again" {
		t.Errorf("Unexpected third entry: %+v", got[2])
	}
	if !got[2].Timestamp.Equal(e3.Timestamp) {
		t.Errorf("Expected timestamp %v, got %v", e3.Timestamp, got[2].Timestamp)
	}
}

func TestSQLiteBackend_StoreCatchesUpAfterFailedFlush(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "vaxscrape.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	b, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	store := storage.NewStore(context.Background(), b, logger)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	e1 := &storage.Entry{URL: "http://example.com/1", Query: "q", Topic: "vaccine safety", Timestamp: time.Now().UTC()}
	e2 := &storage.Entry{URL: "http://example.com/2", Query: "q", Topic: "vaccine safety", Timestamp: time.Now().UTC()}

	if err := store.Add(cancelled, []*storage.Entry{e1}); err == nil {
		t.Fatalf("Expected flush with a cancelled context to fail")
	}
	if err := store.Add(context.Background(), []*storage.Entry{e2}); err != nil {
		t.Fatalf("Second add: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b2, err := New(dsn)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer b2.Close()

	got, err := b2.Load(context.Background())
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected both entries on disk, got %d", len(got))
	}
	if got[0].URL != e1.URL || got[1].URL != e2.URL {
		t.Errorf("Expected insertion order, got %s, %s", got[0].URL, got[1].URL)
	}
}
