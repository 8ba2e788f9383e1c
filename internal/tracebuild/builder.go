// Package tracebuild folds a flat, ordered event sequence into a
// hierarchical trace.
//
// Folding is deterministic: the same ordered sequence always produces
// a structurally identical trace, whether the events arrive one at a
// time (live) or all at once from a drained backlog. That property is
// what lets the dispatcher stream a trace and persist it from the
// same source of truth.
package tracebuild

import (
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/model"
)

// Builder consumes one request's events and assembles the span tree.
// Not safe for concurrent use; the dispatcher owns one per request.
type Builder struct {
	traceID   uuid.UUID
	requestID uuid.UUID
	program   string

	spans   map[uuid.UUID]*model.Span
	open    map[uuid.UUID]struct{}
	rootIDs []uuid.UUID
	firstAt time.Time
}

// New creates a builder. The trace id is supplied by the caller so
// that refolding a persisted event sequence reproduces the original
// trace exactly.
func New(traceID, requestID uuid.UUID, program string) *Builder {
	return &Builder{
		traceID:   traceID,
		requestID: requestID,
		program:   program,
		spans:     make(map[uuid.UUID]*model.Span),
		open:      make(map[uuid.UUID]struct{}),
	}
}

// Add folds one event into the trace under construction.
func (b *Builder) Add(ev model.Event) {
	if b.firstAt.IsZero() || ev.Timestamp.Before(b.firstAt) {
		b.firstAt = ev.Timestamp
	}
	switch {
	case ev.Type.IsStart():
		b.addStart(ev)
	case ev.Type.IsEnd():
		b.addEnd(ev)
	}
}

// AddAll folds a buffered event list in order.
func (b *Builder) AddAll(events []model.Event) {
	for _, ev := range events {
		b.Add(ev)
	}
}

func (b *Builder) addStart(ev model.Event) {
	span := &model.Span{
		CallID:       ev.CallID,
		ParentCallID: ev.ParentCallID,
		Type:         ev.Type.SpanType(),
		Name:         ev.Name,
		Depth:        ev.Depth,
		StartedAt:    ev.Timestamp,
		Model:        ev.Model,
		Inputs:       ev.Inputs,
		Attributes:   ev.Attributes,
	}
	b.spans[ev.CallID] = span
	b.open[ev.CallID] = struct{}{}

	if ev.ParentCallID == nil {
		b.rootIDs = append(b.rootIDs, ev.CallID)
	} else if parent, ok := b.spans[*ev.ParentCallID]; ok {
		parent.Children = append(parent.Children, ev.CallID)
	}
}

func (b *Builder) addEnd(ev model.Event) {
	span, ok := b.spans[ev.CallID]
	if !ok {
		// Start event was missed (e.g. refolding a truncated log).
		// Keep a minimal span rather than dropping the end.
		span = &model.Span{
			CallID:       ev.CallID,
			ParentCallID: ev.ParentCallID,
			Type:         ev.Type.SpanType(),
			Name:         "unknown",
			Depth:        ev.Depth,
			StartedAt:    ev.Timestamp,
		}
		b.spans[ev.CallID] = span
		if ev.ParentCallID == nil {
			b.rootIDs = append(b.rootIDs, ev.CallID)
		}
	}
	delete(b.open, ev.CallID)

	endedAt := ev.Timestamp
	span.EndedAt = &endedAt
	span.DurationMS = float64(endedAt.Sub(span.StartedAt)) / float64(time.Millisecond)
	span.Outputs = ev.Outputs
	span.Success = ev.Success
	span.Error = ev.Error

	if ev.Usage != nil && span.Type == model.SpanInvocation {
		span.Usage = &model.UsageSummary{}
		span.Usage.AddInvocation(span.Model, *ev.Usage)
	}
}

// Build finalizes and returns the trace. Spans still open are marked
// incomplete rather than discarded — a truncated execution keeps its
// partial trace. Unit spans receive the token rollup of their
// descendant invocation spans, grouped by model.
func (b *Builder) Build() *model.Trace {
	for id := range b.open {
		b.spans[id].Incomplete = true
	}

	total := &model.UsageSummary{}
	for _, span := range b.spans {
		if span.Type == model.SpanUnit {
			span.Usage = b.rollup(span)
		}
		if span.Type == model.SpanInvocation && span.Usage != nil {
			for m, u := range span.Usage.ByModel {
				total.AddInvocation(m, u)
			}
		}
	}
	if total.IsZero() {
		total = nil
	}

	trace := &model.Trace{
		TraceID:     b.traceID,
		RequestID:   b.requestID,
		Program:     b.program,
		RootCallIDs: b.rootIDs,
		Spans:       b.spans,
		Usage:       total,
		SpanCount:   len(b.spans),
		Incomplete:  len(b.open) > 0,
		CreatedAt:   b.firstAt,
	}
	return trace
}

// rollup sums token usage of all descendant invocation spans of root,
// grouped by model identity.
func (b *Builder) rollup(root *model.Span) *model.UsageSummary {
	sum := &model.UsageSummary{}
	var walk func(id uuid.UUID)
	walk = func(id uuid.UUID) {
		span, ok := b.spans[id]
		if !ok {
			return
		}
		if span.Type == model.SpanInvocation && span.Usage != nil {
			for m, u := range span.Usage.ByModel {
				sum.AddInvocation(m, u)
			}
		}
		for _, child := range span.Children {
			walk(child)
		}
	}
	for _, child := range root.Children {
		walk(child)
	}
	if sum.IsZero() {
		return nil
	}
	return sum
}
