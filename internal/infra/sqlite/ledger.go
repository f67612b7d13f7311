// Interaction ledger tables.
// One row per appended record plus one row per (record, client) pair so a
// client's history can be read without scanning every record.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/finly-network/finly/internal/domain"
	"github.com/finly-network/finly/internal/infra/observability"
)

// ─── Ledger Schema ──────────────────────────────────────────────────────────

// LedgerMigrations returns the ledger schema statements.
func LedgerMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ledger_records (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      TEXT NOT NULL,
			batch_id       TEXT,
			strategy       TEXT NOT NULL DEFAULT '',
			action_taken   TEXT NOT NULL DEFAULT '',
			outcome_status TEXT NOT NULL DEFAULT '',
			payload        TEXT NOT NULL,
			created_at     TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_clients (
			record_id INTEGER NOT NULL REFERENCES ledger_records(id),
			client_id TEXT NOT NULL,
			PRIMARY KEY (record_id, client_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_clients_client ON ledger_clients(client_id, record_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_batch ON ledger_records(batch_id)`,
	}
}

// ─── Ledger Operations ──────────────────────────────────────────────────────

// Append stores one record in a single transaction: either the record and
// all its client rows land, or nothing does.
func (db *DB) Append(ctx context.Context, rec domain.LedgerRecord) error {
	err := db.append(ctx, rec)
	result := observability.ResultOK
	if err != nil {
		result = observability.ResultError
	}
	observability.LedgerAppends.WithLabelValues("sqlite", result).Inc()
	return err
}

func (db *DB) append(ctx context.Context, rec domain.LedgerRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", domain.ErrPersistence, err)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_records (timestamp, batch_id, strategy, action_taken, outcome_status, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.Timestamp, nullString(rec.BatchID), string(rec.Strategy), rec.ActionTaken, rec.OutcomeStatus, string(payload))
	if err != nil {
		return fmt.Errorf("%w: insert record: %v", domain.ErrPersistence, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	clients := rec.Clients
	if len(clients) == 0 && rec.Target != "" {
		clients = []string{rec.Target}
	}
	for _, c := range clients {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO ledger_clients (record_id, client_id) VALUES (?, ?)`, id, c); err != nil {
			return fmt.Errorf("%w: insert client: %v", domain.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrPersistence, err)
	}
	return nil
}

// ReadAll returns every record in append order.
func (db *DB) ReadAll(ctx context.Context) ([]domain.LedgerRecord, error) {
	return db.queryRecords(ctx, `SELECT payload FROM ledger_records ORDER BY id`)
}

// ReadForClient returns the records naming clientID, in append order.
func (db *DB) ReadForClient(ctx context.Context, clientID string) ([]domain.LedgerRecord, error) {
	return db.queryRecords(ctx, `
		SELECT r.payload FROM ledger_records r
		JOIN ledger_clients c ON c.record_id = r.id
		WHERE c.client_id = ?
		ORDER BY r.id
	`, clientID)
}

// CountRecords returns the number of ledger records.
func (db *DB) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_records`).Scan(&n)
	return n, err
}

// queryRecords decodes payload rows. Rows that no longer decode are skipped
// rather than failing the whole read.
func (db *DB) queryRecords(ctx context.Context, query string, args ...any) ([]domain.LedgerRecord, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.LedgerRecord{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec domain.LedgerRecord
		if json.Unmarshal([]byte(payload), &rec) != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
