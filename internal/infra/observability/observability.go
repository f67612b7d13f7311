// Package observability holds the in-process cycle tracer and the
// Prometheus metrics every stage reports to.
//
// One trace covers one analysis cycle; each stage (risk, decide, enforce,
// dispatch, record) is a span inside it. Spans live in a ring buffer and
// are served by the API for inspection.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Trace Spans
// ═══════════════════════════════════════════════════════════════════════════

// Span represents one stage of a cycle.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time,omitempty"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SpanStatus indicates success/failure.
type SpanStatus int

const (
	SpanOK SpanStatus = iota
	SpanError
)

// String returns the status name.
func (s SpanStatus) String() string {
	if s == SpanError {
		return "error"
	}
	return "ok"
}

// MarshalText renders the status by name in JSON.
func (s SpanStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// SetAttr sets an attribute on a span that is still open.
func (s *Span) SetAttr(key, value string) {
	if s.Attrs == nil {
		s.Attrs = make(map[string]string)
	}
	s.Attrs[key] = value
}

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer keeps the most recent finished spans in memory.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool

	now func() time.Time
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // ring buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
		now:      time.Now,
	}
}

// StartSpan begins a span. The trace ID comes from ctx (see WithTraceID);
// a fresh one is generated when ctx carries none.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]string) *Span {
	if t == nil || !t.enabled {
		return &Span{Operation: operation}
	}
	return &Span{
		TraceID:   TraceIDFromContext(ctx),
		SpanID:    NewID(),
		ParentID:  spanIDFromContext(ctx),
		Operation: operation,
		StartTime: t.now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
}

// EndSpan completes a span and records it.
func (t *Tracer) EndSpan(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}

	span.EndTime = t.now()
	span.Duration = span.EndTime.Sub(span.StartTime)
	if err != nil {
		span.Status = SpanError
		span.SetAttr("error", err.Error())
		TraceErrors.Inc()
	}
	TracesRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Ring buffer: overwrite oldest if at capacity
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns a copy of the most recent spans, oldest first.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}

	start := len(t.spans) - limit
	out := make([]Span, limit)
	copy(out, t.spans[start:])
	return out
}

// Trace returns every recorded span of one trace, oldest first.
func (t *Tracer) Trace(traceID string) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Span
	for _, s := range t.spans {
		if s.TraceID == traceID {
			out = append(out, s)
		}
	}
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type contextKey string

const (
	traceIDKey contextKey = "finly-trace-id"
	spanIDKey  contextKey = "finly-span-id"
)

// WithTraceID returns a context with the given trace ID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// WithSpanID returns a context whose new spans are children of spanID.
func WithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, spanIDKey, spanID)
}

// TraceIDFromContext returns the trace ID carried by ctx, or a new one.
func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok && v != "" {
		return v
	}
	return NewID()
}

func spanIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// NewID returns a random identifier for traces, cycles and batches.
func NewID() string {
	return uuid.NewString()
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Cycle Metrics ──────────────────────────────────────────────────────────

// CyclesTotal counts analysis cycles by final state.
var CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "cycle",
	Name:      "total",
	Help:      "Total analysis cycles by final state.",
}, []string{"state"})

// CycleDuration tracks end-to-end cycle latency.
var CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "finly",
	Subsystem: "cycle",
	Name:      "duration_seconds",
	Help:      "End-to-end analysis cycle latency.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 20, 40},
})

// ─── Decision Metrics ───────────────────────────────────────────────────────

// DecisionsTotal counts final decisions by strategy and proposal source.
var DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "decision",
	Name:      "total",
	Help:      "Final decisions by strategy and proposal source.",
}, []string{"strategy", "source"})

// EscalationsTotal counts proposals overridden to a founder alert.
var EscalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "decision",
	Name:      "escalations_total",
	Help:      "Proposals overridden to ALERT_FOUNDER by trust tier.",
})

// SuppressedTargets counts targets held back by the grace period.
var SuppressedTargets = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "decision",
	Name:      "suppressed_targets_total",
	Help:      "Targets removed from a decision because they were contacted recently.",
})

// GenerationFailures counts text-generation failures by stage.
var GenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "llm",
	Name:      "failures_total",
	Help:      "Text-generation calls that failed or returned unusable output.",
}, []string{"stage"})

// ─── Dispatch Metrics ───────────────────────────────────────────────────────

// DeliveriesTotal counts delivery attempts by result status.
var DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "dispatch",
	Name:      "deliveries_total",
	Help:      "Delivery attempts by result status.",
}, []string{"status"})

// DispatchDuration tracks the dispatch stage latency by strategy.
var DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "finly",
	Subsystem: "dispatch",
	Name:      "duration_seconds",
	Help:      "Dispatch stage latency by strategy.",
	Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 10, 30},
}, []string{"strategy"})

// ─── Persistence Metrics ────────────────────────────────────────────────────

// LedgerAppends counts ledger writes by backend and result.
var LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "ledger",
	Name:      "appends_total",
	Help:      "Ledger appends by backend and result.",
}, []string{"backend", "result"})

// AnalyticsSaves counts analysis history writes by sink and result.
var AnalyticsSaves = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "analytics",
	Name:      "saves_total",
	Help:      "Analysis history writes by sink and result.",
}, []string{"sink", "result"})

// ─── Trace Metrics ──────────────────────────────────────────────────────────

// TracesRecorded tracks total spans recorded.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "finly",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultFallback = "fallback"
)
