// Package metrics maintains per-program running aggregates so status
// endpoints never re-scan logs.
//
// Record is called exactly once per completed request, from the
// dispatcher's completion step — that single-writer discipline keeps
// the scalar counters simple. Completions can overlap across
// requests, so the duration-sample window takes a short lock.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/internal/telemetry"
)

// maxSamples bounds the per-program duration window (ring buffer).
const maxSamples = 1024

type record struct {
	calls   atomic.Int64
	success atomic.Int64
	errs    atomic.Int64
	tokIn   atomic.Int64
	tokOut  atomic.Int64

	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
	byModel map[string]model.TokenUsage
}

// Store holds running aggregates for all programs.
type Store struct {
	mu       sync.RWMutex
	programs map[string]*record

	execCounter   otelmetric.Int64Counter
	execDuration  otelmetric.Float64Histogram
	tokensCounter otelmetric.Int64Counter
}

// New creates an empty store and registers its OTEL instruments.
func New() *Store {
	meter := telemetry.Meter("enso/metrics")
	execCounter, _ := meter.Int64Counter("enso.executions",
		otelmetric.WithDescription("Completed program executions"))
	execDuration, _ := meter.Float64Histogram("enso.execution.duration_ms",
		otelmetric.WithDescription("Program execution duration in milliseconds"))
	tokensCounter, _ := meter.Int64Counter("enso.tokens",
		otelmetric.WithDescription("Tokens consumed by program executions"))

	return &Store{
		programs:      make(map[string]*record),
		execCounter:   execCounter,
		execDuration:  execDuration,
		tokensCounter: tokensCounter,
	}
}

func (s *Store) recordFor(program string) *record {
	s.mu.RLock()
	r, ok := s.programs[program]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.programs[program]; ok {
		return r
	}
	r = &record{
		samples: make([]float64, maxSamples),
		byModel: make(map[string]model.TokenUsage),
	}
	s.programs[program] = r
	return r
}

// Record folds one completed request into the program's aggregates
// and mirrors it to OTEL.
func (s *Store) Record(program string, duration time.Duration, success bool, usage *model.UsageSummary) {
	r := s.recordFor(program)
	durMS := float64(duration) / float64(time.Millisecond)

	r.calls.Add(1)
	status := "success"
	if success {
		r.success.Add(1)
	} else {
		r.errs.Add(1)
		status = "error"
	}

	r.mu.Lock()
	r.samples[r.next] = durMS
	r.next++
	if r.next == maxSamples {
		r.next = 0
		r.full = true
	}
	if !usage.IsZero() {
		r.tokIn.Add(usage.InputTokens)
		r.tokOut.Add(usage.OutputTokens)
		for m, u := range usage.ByModel {
			r.byModel[m] = r.byModel[m].Add(u)
		}
	}
	r.mu.Unlock()

	ctx := context.Background()
	attrs := otelmetric.WithAttributes(
		attribute.String("program", program),
		attribute.String("status", status),
	)
	s.execCounter.Add(ctx, 1, attrs)
	s.execDuration.Record(ctx, durMS, otelmetric.WithAttributes(attribute.String("program", program)))
	if !usage.IsZero() {
		s.tokensCounter.Add(ctx, usage.InputTokens, otelmetric.WithAttributes(
			attribute.String("program", program), attribute.String("direction", "input")))
		s.tokensCounter.Add(ctx, usage.OutputTokens, otelmetric.WithAttributes(
			attribute.String("program", program), attribute.String("direction", "output")))
	}
}

// Snapshot returns a point-in-time view for one program. Reads race
// benignly with concurrent Record calls.
func (s *Store) Snapshot(program string) model.MetricsRecord {
	s.mu.RLock()
	r, ok := s.programs[program]
	s.mu.RUnlock()

	out := model.MetricsRecord{Program: program}
	if !ok {
		return out
	}

	out.CallCount = r.calls.Load()
	out.SuccessCount = r.success.Load()
	out.ErrorCount = r.errs.Load()
	out.TotalInputTokens = r.tokIn.Load()
	out.TotalOutputTokens = r.tokOut.Load()

	r.mu.Lock()
	n := r.next
	if r.full {
		n = maxSamples
	}
	window := make([]float64, n)
	copy(window, r.samples[:n])
	out.TokensByModel = make(map[string]model.TokenUsage, len(r.byModel))
	for m, u := range r.byModel {
		out.TokensByModel[m] = u
	}
	r.mu.Unlock()

	if len(window) > 0 {
		var sum float64
		for _, v := range window {
			sum += v
		}
		out.AvgDurationMS = sum / float64(len(window))
		sort.Float64s(window)
		out.P50DurationMS = percentile(window, 0.50)
		out.P95DurationMS = percentile(window, 0.95)
	}
	return out
}

// SnapshotAll returns snapshots for every known program, sorted by
// call count descending (name ascending as tiebreaker).
func (s *Store) SnapshotAll() []model.MetricsRecord {
	s.mu.RLock()
	names := make([]string, 0, len(s.programs))
	for name := range s.programs {
		names = append(names, name)
	}
	s.mu.RUnlock()

	out := make([]model.MetricsRecord, 0, len(names))
	for _, name := range names {
		out = append(out, s.Snapshot(name))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CallCount != out[j].CallCount {
			return out[i].CallCount > out[j].CallCount
		}
		return out[i].Program < out[j].Program
	})
	return out
}

// percentile expects a sorted window.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
