package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ─── Ledger Types ───────────────────────────────────────────────────────────

// TimestampLayout is the layout written into new ledger records.
const TimestampLayout = time.RFC3339Nano

// LedgerRecord is one dispatch event. Once appended it is never mutated.
type LedgerRecord struct {
	Timestamp     string     `json:"timestamp"`
	BatchID       string     `json:"batch_id,omitempty"`
	Clients       []string   `json:"clients"`
	Target        string     `json:"target,omitempty"` // legacy single-target shape
	Strategy      Strategy   `json:"strategy"`
	ActionTaken   string     `json:"action_taken"`
	OutcomeStatus string     `json:"outcome_status"`
	Details       *ActionLog `json:"details,omitempty"`
}

// UnmarshalJSON accepts the current shape and the legacy one, where the
// status lived under "result" (as a string or as an object with a status)
// and details could be any JSON value.
func (r *LedgerRecord) UnmarshalJSON(data []byte) error {
	var wire struct {
		Timestamp     string          `json:"timestamp"`
		BatchID       string          `json:"batch_id"`
		Clients       []string        `json:"clients"`
		Target        json.RawMessage `json:"target"`
		Strategy      Strategy        `json:"strategy"`
		ActionTaken   string          `json:"action_taken"`
		OutcomeStatus string          `json:"outcome_status"`
		Result        json.RawMessage `json:"result"`
		Details       json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	*r = LedgerRecord{
		Timestamp:     wire.Timestamp,
		BatchID:       wire.BatchID,
		Clients:       wire.Clients,
		Strategy:      wire.Strategy,
		ActionTaken:   wire.ActionTaken,
		OutcomeStatus: wire.OutcomeStatus,
	}

	// target may be a string, a list, or null in older records
	if len(wire.Target) > 0 {
		var single string
		if json.Unmarshal(wire.Target, &single) == nil {
			r.Target = single
		}
	}
	if r.OutcomeStatus == "" && len(wire.Result) > 0 {
		r.OutcomeStatus = statusFromRaw(wire.Result)
	}
	if len(wire.Details) > 0 && string(wire.Details) != "null" {
		var details ActionLog
		if json.Unmarshal(wire.Details, &details) == nil {
			r.Details = &details
		}
	}
	return nil
}

// Mentions reports whether the record references clientID, either in the
// client set or in the legacy flattened target field.
func (r LedgerRecord) Mentions(clientID string) bool {
	if r.Target == clientID {
		return true
	}
	for _, c := range r.Clients {
		if c == clientID {
			return true
		}
	}
	return false
}

// StatusFor returns the outcome status that applies to clientID. Batch
// records carry one sub-result per target; everything else uses the
// record's own status.
func (r LedgerRecord) StatusFor(clientID string) string {
	status := r.OutcomeStatus
	if status == StatusBatch && r.Details != nil {
		for _, tr := range r.Details.TargetsProcessed {
			if tr.Target == clientID {
				if tr.Result.Status == "" {
					return StatusUnknown
				}
				return tr.Result.Status
			}
		}
	}
	if status == "" {
		return StatusUnknown
	}
	return status
}

// Time parses the record timestamp.
func (r LedgerRecord) Time() (time.Time, bool) {
	return ParseTimestamp(r.Timestamp)
}

// ParseTimestamp accepts RFC 3339 and the zone-less ISO-8601 form older
// records were written with (interpreted as local time).
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DeliveryResult is what the delivery collaborator reports.
type DeliveryResult struct {
	Status      string `json:"status"`
	To          string `json:"to,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Tone        Tone   `json:"tone,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
	Note        string `json:"note,omitempty"`
	ErrorMasked string `json:"error_masked,omitempty"`
}

// UnmarshalJSON accepts either a full result object or a bare status string.
func (d *DeliveryResult) UnmarshalJSON(data []byte) error {
	var status string
	if err := json.Unmarshal(data, &status); err == nil {
		*d = DeliveryResult{Status: status}
		return nil
	}
	type plain DeliveryResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = DeliveryResult(p)
	return nil
}

func statusFromRaw(raw json.RawMessage) string {
	var res DeliveryResult
	if err := json.Unmarshal(raw, &res); err != nil || res.Status == "" {
		return StatusUnknown
	}
	return res.Status
}

// ─── Trust Profile ──────────────────────────────────────────────────────────

// ClientTrustProfile is derived from the ledger on every read; it is never
// persisted, so it cannot drift from the history it summarises.
type ClientTrustProfile struct {
	ClientID            string  `json:"client_id"`
	Attempts            int     `json:"attempts"`
	Failures            int     `json:"failures"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastContactedAt     string  `json:"last_contacted_at,omitempty"`
	Tier                int     `json:"tier"`
	RiskModifier        float64 `json:"risk_score_modifier"`
}

// LastContact parses LastContactedAt.
func (p ClientTrustProfile) LastContact() (time.Time, bool) {
	return ParseTimestamp(p.LastContactedAt)
}

// TierFor maps a consecutive failure streak to a trust tier:
// 0 → 1, 1 → 2, ≥2 → 3.
func TierFor(consecutiveFailures int) int {
	switch {
	case consecutiveFailures >= 2:
		return 3
	case consecutiveFailures == 1:
		return 2
	default:
		return 1
	}
}

// RiskModifierFor maps a streak to the probability discount used in
// scenario simulation: 0 → 1.0, 1 → 1.2, ≥2 → 1.5.
func RiskModifierFor(consecutiveFailures int) float64 {
	switch {
	case consecutiveFailures >= 2:
		return 1.5
	case consecutiveFailures == 1:
		return 1.2
	default:
		return 1.0
	}
}

// ─── Analytics ──────────────────────────────────────────────────────────────

// AnalysisRecord is one stored analysis response.
type AnalysisRecord struct {
	ID        string           `json:"id"`
	CreatedAt time.Time        `json:"created_at"`
	Response  AnalysisResponse `json:"response"`
}
