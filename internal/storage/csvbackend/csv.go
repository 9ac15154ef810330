package csvbackend

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/FranksOps/vaxscrape/internal/storage"
)

// Ext is the file extension used for CSV tables and batches.
const Ext = "csv"

// ensure csvBackend implements storage.Backend
var _ storage.Backend = (*csvBackend)(nil)

type csvBackend struct {
	mu   sync.Mutex
	path string
}

// New creates a CSV-backed storage.Backend at filePath. The parent directory
// is created if needed; the file itself is written on the first flush.
func New(filePath string) (storage.Backend, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("csvbackend: %w", err)
	}
	return &csvBackend{path: filePath}, nil
}

func (b *csvBackend) Load(ctx context.Context) ([]*storage.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := ReadBatch(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return []*storage.Entry{}, nil
	}
	return entries, err
}

// Flush rewrites the whole table. The master file is replaced atomically so
// a crash mid-write leaves the previous version intact.
func (b *csvBackend) Flush(ctx context.Context, snapshot, added []*storage.Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return storage.WriteFileAtomic(b.path, func(f *os.File) error {
		return writeAll(f, snapshot)
	})
}

func (b *csvBackend) Close() error {
	return nil
}

// WriteBatch writes entries to a new CSV file at path. It fails if the
// file already exists.
func WriteBatch(path string, entries []*storage.Entry) error {
	f, err := storage.CreateExclusive(path)
	if err != nil {
		return err
	}
	if err := writeAll(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvbackend: sync: %w", err)
	}
	return f.Close()
}

// ReadBatch parses a CSV table written by this package or by older exports
// that carry a subset of the columns.
func ReadBatch(path string) ([]*storage.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return []*storage.Entry{}, nil
		}
		return nil, fmt.Errorf("csvbackend: read header: %w", err)
	}

	entries := []*storage.Entry{}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvbackend: read %s: %w", filepath.Base(path), err)
		}
		entries = append(entries, storage.EntryFromRecord(header, record))
	}
	return entries, nil
}

func writeAll(w io.Writer, entries []*storage.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(storage.Columns); err != nil {
		return fmt.Errorf("csvbackend: write header: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write(e.Record()); err != nil {
			return fmt.Errorf("csvbackend: write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("csvbackend: flush: %w", err)
	}
	return nil
}
