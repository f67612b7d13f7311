// Package analytics stores full analysis responses for the dashboard.
// Nothing in the decision core reads it back, so every sink here is best
// effort: a failed save is logged and counted, never surfaced to the cycle.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finly-network/finly/internal/domain"
)

// DefaultRecentLimit is used when a caller asks for a non-positive limit.
const DefaultRecentLimit = 50

// ─── Postgres Sink ──────────────────────────────────────────────────────────

// Postgres keeps analysis history in an analysis_history table with the
// response stored as JSONB.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, pings and ensures the table exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS analysis_history (
			id         TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			strategy   TEXT NOT NULL DEFAULT '',
			response   JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_history_created ON analysis_history (created_at DESC)`,
	} {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Save upserts one analysis.
func (p *Postgres) Save(ctx context.Context, rec domain.AnalysisRecord) error {
	body, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO analysis_history (id, created_at, strategy, response)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			strategy   = EXCLUDED.strategy,
			response   = EXCLUDED.response
	`, rec.ID, rec.CreatedAt.UTC(), string(rec.Response.Decision.Strategy), body)
	return err
}

// Recent returns up to limit analyses, newest first.
func (p *Postgres) Recent(ctx context.Context, limit int) ([]domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, created_at, response FROM analysis_history
		ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.AnalysisRecord{}
	for rows.Next() {
		var (
			rec  domain.AnalysisRecord
			body []byte
		)
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &body); err != nil {
			return nil, err
		}
		if json.Unmarshal(body, &rec.Response) != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }
