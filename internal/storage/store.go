package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPersist wraps backend failures during Add. The entries are kept in
// memory regardless.
var ErrPersist = errors.New("storage: persist failed")

// Store is the append-only master table: an in-memory, insertion-ordered
// slice of entries flushed to a Backend after every batch.
type Store struct {
	backend Backend
	logger  *slog.Logger

	mu      sync.RWMutex
	entries []*Entry
	// flushed counts the leading entries the backend is known to hold.
	flushed int
}

// NewStore loads existing entries from backend. A load failure is logged
// and the store starts empty.
func NewStore(ctx context.Context, backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{backend: backend, logger: logger}

	entries, err := backend.Load(ctx)
	if err != nil {
		logger.Error("error loading result store, starting empty", "err", err)
		return s
	}
	s.entries = entries
	s.flushed = len(entries)
	logger.Info("result store loaded", "records", len(entries))
	return s
}

// Add appends entries in order and flushes the backend before returning.
// An empty slice is a no-op. On flush failure the in-memory table keeps the
// entries and the returned error wraps ErrPersist; the next Add hands them to
// the backend again together with its own batch.
func (s *Store) Add(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entries...)
	snapshot := s.entries[:len(s.entries):len(s.entries)]
	pending := s.entries[s.flushed:len(s.entries):len(s.entries)]

	if err := s.backend.Flush(ctx, snapshot, pending); err != nil {
		s.logger.Error("error saving result store", "err", err, "records", len(snapshot), "pending", len(pending))
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	s.flushed = len(s.entries)
	return nil
}

// Snapshot returns a copy of the table in insertion order.
func (s *Store) Snapshot() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Query filters the table in insertion order (newest first when
// filter.Desc is set), then applies Offset and Limit.
func (s *Store) Query(filter Filter) []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entry
	for i := range s.entries {
		e := s.entries[i]
		if filter.Desc {
			e = s.entries[len(s.entries)-1-i]
		}
		if filter.Match(e) {
			matched = append(matched, e)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Entry{}
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	if matched == nil {
		matched = []*Entry{}
	}
	return matched
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
