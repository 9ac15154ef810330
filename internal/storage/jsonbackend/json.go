package jsonbackend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/FranksOps/vaxscrape/internal/storage"
)

// Ext is the file extension used for NDJSON tables and batches.
const Ext = "jsonl"

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

type jsonBackend struct {
	mu   sync.Mutex
	file *os.File
}

// New creates a new NDJSON-backed storage.Backend. Each entry is one line, so
// a flush only appends the entries added since the previous one.
func New(filePath string) (storage.Backend, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("jsonbackend: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonbackend: %w", err)
	}

	return &jsonBackend{
		file: f,
	}, nil
}

func (b *jsonBackend) Load(ctx context.Context) ([]*storage.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("jsonbackend: %w", err)
	}
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	return decode(b.file)
}

func (b *jsonBackend) Flush(ctx context.Context, snapshot, added []*storage.Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	end, err := b.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}
	if err := encode(b.file, added); err != nil {
		return b.rollback(end, err)
	}
	if err := b.file.Sync(); err != nil {
		return b.rollback(end, fmt.Errorf("jsonbackend: sync: %w", err))
	}
	return nil
}

// rollback cuts the file back to size so a partial line never reaches the
// next Load.
func (b *jsonBackend) rollback(size int64, cause error) error {
	if err := b.file.Truncate(size); err != nil {
		return errors.Join(cause, fmt.Errorf("jsonbackend: truncate: %w", err))
	}
	return cause
}

func (b *jsonBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.file.Close()
}

// WriteBatch writes entries to a new NDJSON file at path. It fails if the
// file already exists.
func WriteBatch(path string, entries []*storage.Entry) error {
	f, err := storage.CreateExclusive(path)
	if err != nil {
		return err
	}
	if err := encode(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("jsonbackend: sync: %w", err)
	}
	return f.Close()
}

// ReadBatch parses an NDJSON batch file.
func ReadBatch(path string) ([]*storage.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

func encode(w io.Writer, entries []*storage.Entry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("jsonbackend: %w", err)
		}
		if _, err := bw.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("jsonbackend: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}
	return nil
}

func decode(r io.Reader) ([]*storage.Entry, error) {
	scanner := bufio.NewScanner(r)
	// page content can make lines far longer than the default token size
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	entries := []*storage.Entry{}
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var e storage.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("jsonbackend: line %d: %w", line, err)
		}
		entries = append(entries, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonbackend: %w", err)
	}
	return entries, nil
}
