package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BatchTimeLayout is the timestamp prefix of batch file names.
const BatchTimeLayout = "20060102_150405"

// ErrBatchNotFound is returned when a batch file does not exist or the name
// does not refer to a file inside the results directory.
var ErrBatchNotFound = errors.New("storage: batch not found")

// BatchName builds the deterministic file name for one query batch:
// {YYYYmmdd_HHMMSS}-{topic}-Q{index}.{ext}.
func BatchName(ts time.Time, topic string, index int, ext string) string {
	return fmt.Sprintf("%s-%s-Q%d.%s", ts.Format(BatchTimeLayout), sanitizeTopic(topic), index, strings.TrimPrefix(ext, "."))
}

func sanitizeTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, topic)
}

// ResolveBatchPath joins name onto dir, refusing anything that would escape
// dir or name a file that does not exist.
func ResolveBatchPath(dir, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrBatchNotFound, name)
	}
	p := filepath.Join(dir, name)
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrBatchNotFound, name)
	}
	return p, nil
}

// ListBatches returns batch file names in dir with one of the given
// extensions, sorted by name (and therefore by time). exclude is skipped,
// typically the master table file.
func ListBatches(dir string, exclude string, exts ...string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list batches: %w", err)
	}
	names := []string{}
	for _, de := range des {
		if de.IsDir() || de.Name() == exclude {
			continue
		}
		ext := strings.TrimPrefix(filepath.Ext(de.Name()), ".")
		for _, want := range exts {
			if ext == strings.TrimPrefix(want, ".") {
				names = append(names, de.Name())
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// WriteFileAtomic writes data through a temp file in the same directory and
// renames it over path.
func WriteFileAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// CreateExclusive opens a new file for writing and fails if it exists.
// Batch files are immutable once written.
func CreateExclusive(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	return f, nil
}
