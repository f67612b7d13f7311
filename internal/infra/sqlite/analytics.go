// Analysis history table.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finly-network/finly/internal/domain"
)

// ─── Analytics Schema ───────────────────────────────────────────────────────

// AnalyticsMigrations returns the analysis history schema statements.
func AnalyticsMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS analysis_history (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			strategy   TEXT NOT NULL DEFAULT '',
			response   TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_created ON analysis_history(created_at)`,
	}
}

// ─── Analytics Operations ───────────────────────────────────────────────────

// createdLayout has fixed-width fractions so stored times sort as text.
const createdLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Analytics adapts the database to domain.AnalyticsSink.
type Analytics struct {
	db *DB
}

// Analytics returns the analysis history view of the database.
func (db *DB) Analytics() *Analytics { return &Analytics{db: db} }

// Save stores one analysis. Saving the same ID twice replaces the row.
func (a *Analytics) Save(ctx context.Context, rec domain.AnalysisRecord) error {
	body, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	_, err = a.db.db.ExecContext(ctx, `
		INSERT INTO analysis_history (id, created_at, strategy, response)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			strategy   = excluded.strategy,
			response   = excluded.response
	`, rec.ID, rec.CreatedAt.UTC().Format(createdLayout), string(rec.Response.Decision.Strategy), string(body))
	return err
}

// Recent returns up to limit analyses, newest first.
func (a *Analytics) Recent(ctx context.Context, limit int) ([]domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.db.QueryContext(ctx, `
		SELECT id, created_at, response FROM analysis_history
		ORDER BY created_at DESC, rowid DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.AnalysisRecord{}
	for rows.Next() {
		var id, created, body string
		if err := rows.Scan(&id, &created, &body); err != nil {
			return nil, err
		}
		rec := domain.AnalysisRecord{ID: id}
		rec.CreatedAt, _ = time.Parse(createdLayout, created)
		if json.Unmarshal([]byte(body), &rec.Response) != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
