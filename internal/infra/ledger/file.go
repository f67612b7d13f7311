// Package ledger provides Interaction Ledger backends: a JSON file, an
// in-memory fake, a Redis list, and a fallback that writes to a local file
// when the primary store is unavailable.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
	"github.com/finly-network/finly/internal/logging"
)

// ─── File Ledger ────────────────────────────────────────────────────────────

// File keeps the ledger as one JSON array on disk. Appends are
// read-modify-write, serialized by a mutex within the process, and land via
// a temp file and rename so a crash never leaves half a file behind.
// It assumes a single writing process.
type File struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger

	// Injectable clock for naming quarantined files.
	now func() time.Time
}

// NewFile creates a file ledger at path. The file is created on first append.
func NewFile(path string) *File {
	return &File{path: path, log: logging.New("ledger.file"), now: time.Now}
}

// Path returns the ledger file path.
func (f *File) Path() string { return f.path }

// Append adds one record.
func (f *File) Append(_ context.Context, rec domain.LedgerRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, corrupt := f.readRaw()
	if corrupt {
		f.quarantine()
	}

	entry, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", domain.ErrPersistence, err)
	}
	raw = append(raw, entry)

	if err := f.writeRaw(raw); err != nil {
		observability.LedgerAppends.WithLabelValues("file", observability.ResultError).Inc()
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	observability.LedgerAppends.WithLabelValues("file", observability.ResultOK).Inc()
	return nil
}

// ReadAll returns every record in append order. A missing file or a file
// that does not hold a JSON array reads as empty.
func (f *File) ReadAll(_ context.Context) ([]domain.LedgerRecord, error) {
	f.mu.Lock()
	raw, _ := f.readRaw()
	f.mu.Unlock()

	out := make([]domain.LedgerRecord, 0, len(raw))
	for i, entry := range raw {
		var rec domain.LedgerRecord
		if err := json.Unmarshal(entry, &rec); err != nil {
			f.log.Warn("skipping unreadable ledger entry", "path", f.path, "index", i, "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// readRaw loads the entries. corrupt is true when the file exists but is not
// a JSON array.
func (f *File) readRaw() (entries []json.RawMessage, corrupt bool) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false
	}
	if err != nil {
		f.log.Warn("ledger file unreadable, treating as empty", "path", f.path, "error", err)
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		f.log.Warn("ledger file is not a list of records, treating as empty", "path", f.path, "error", err)
		return nil, true
	}
	return entries, false
}

// quarantine moves a corrupt file aside so the next write does not destroy it.
func (f *File) quarantine() {
	dst := fmt.Sprintf("%s.corrupt-%s", f.path, f.now().UTC().Format("20060102T150405"))
	if err := os.Rename(f.path, dst); err != nil {
		f.log.Warn("could not move corrupt ledger aside", "path", f.path, "error", err)
		return
	}
	f.log.Warn("corrupt ledger moved aside", "from", f.path, "to", dst)
}

func (f *File) writeRaw(entries []json.RawMessage) error {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
