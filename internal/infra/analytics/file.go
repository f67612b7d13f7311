package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/finly-network/finly/internal/domain"
)

// DefaultFileCapacity bounds the history file.
const DefaultFileCapacity = 500

// File keeps analysis history as a JSON array, oldest first, trimmed to
// Capacity entries.
type File struct {
	mu       sync.Mutex
	path     string
	Capacity int
}

// NewFile creates a file sink at path.
func NewFile(path string) *File {
	return &File{path: path, Capacity: DefaultFileCapacity}
}

// Save appends rec, replacing an entry with the same ID.
func (f *File) Save(_ context.Context, rec domain.AnalysisRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := f.load()
	kept := all[:0]
	for _, r := range all {
		if r.ID != rec.ID {
			kept = append(kept, r)
		}
	}
	kept = append(kept, rec)
	if f.Capacity > 0 && len(kept) > f.Capacity {
		kept = kept[len(kept)-f.Capacity:]
	}

	data, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Recent returns up to limit analyses, newest first.
func (f *File) Recent(_ context.Context, limit int) ([]domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	f.mu.Lock()
	all := f.load()
	f.mu.Unlock()

	out := make([]domain.AnalysisRecord, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (f *File) load() []domain.AnalysisRecord {
	// missing and unreadable files both start a fresh history
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil
	}
	var all []domain.AnalysisRecord
	if json.Unmarshal(data, &all) != nil {
		return nil
	}
	return all
}
