package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/finly-network/finly/internal/domain"
)

// Memory is an in-process ledger. Records are deep-copied on the way in and
// out so callers cannot mutate history.
type Memory struct {
	mu      sync.Mutex
	records []domain.LedgerRecord

	// FailAppend, when set, is returned (wrapped) by every Append.
	FailAppend error
}

// NewMemory creates a ledger pre-loaded with records.
func NewMemory(records ...domain.LedgerRecord) *Memory {
	m := &Memory{}
	for _, r := range records {
		m.records = append(m.records, copyRecord(r))
	}
	return m
}

// Append adds one record.
func (m *Memory) Append(_ context.Context, rec domain.LedgerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAppend != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, m.FailAppend)
	}
	m.records = append(m.records, copyRecord(rec))
	return nil
}

// ReadAll returns every record in append order.
func (m *Memory) ReadAll(_ context.Context) ([]domain.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.LedgerRecord, len(m.records))
	for i, r := range m.records {
		out[i] = copyRecord(r)
	}
	return out, nil
}

// Len returns the number of records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func copyRecord(r domain.LedgerRecord) domain.LedgerRecord {
	if r.Clients != nil {
		r.Clients = append([]string(nil), r.Clients...)
	}
	if r.Details != nil {
		d := *r.Details
		if d.TargetsProcessed != nil {
			d.TargetsProcessed = append([]domain.TargetResult(nil), d.TargetsProcessed...)
		}
		if d.Result != nil {
			res := *d.Result
			d.Result = &res
		}
		r.Details = &d
	}
	return r
}
