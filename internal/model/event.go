// Package model defines the core domain types for Enso.
//
// Types use strong typing (UUIDs, time.Time, enums) and avoid
// interface{} wherever possible. Events and spans correspond directly
// to the wire payloads streamed to clients and persisted to logs.
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the callback call-site that emitted an event.
type EventType string

const (
	EventUnitStart       EventType = "unit_start"
	EventUnitEnd         EventType = "unit_end"
	EventInvocationStart EventType = "invocation_start"
	EventInvocationEnd   EventType = "invocation_end"
	EventToolStart       EventType = "tool_start"
	EventToolEnd         EventType = "tool_end"
	EventFormatStart     EventType = "format_start"
	EventFormatEnd       EventType = "format_end"
	EventParseStart      EventType = "parse_start"
	EventParseEnd        EventType = "parse_end"
)

// IsStart reports whether the event opens a span.
func (t EventType) IsStart() bool {
	switch t {
	case EventUnitStart, EventInvocationStart, EventToolStart, EventFormatStart, EventParseStart:
		return true
	}
	return false
}

// IsEnd reports whether the event closes a span.
func (t EventType) IsEnd() bool {
	switch t {
	case EventUnitEnd, EventInvocationEnd, EventToolEnd, EventFormatEnd, EventParseEnd:
		return true
	}
	return false
}

// SpanType returns the span type derived from the event type.
func (t EventType) SpanType() SpanType {
	switch t {
	case EventUnitStart, EventUnitEnd:
		return SpanUnit
	case EventInvocationStart, EventInvocationEnd:
		return SpanInvocation
	case EventToolStart, EventToolEnd:
		return SpanTool
	case EventFormatStart, EventFormatEnd:
		return SpanFormat
	case EventParseStart, EventParseEnd:
		return SpanParse
	}
	return SpanUnknown
}

// Event is an immutable record emitted at a callback call-site.
// A *_start event generates the CallID; the matching *_end event
// reuses it. Once emitted an event is never mutated.
type Event struct {
	Type         EventType  `json:"type"`
	CallID       uuid.UUID  `json:"call_id"`
	ParentCallID *uuid.UUID `json:"parent_call_id,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
	Depth        int        `json:"depth"`

	// Start-event payload.
	Name   string         `json:"name,omitempty"`
	Model  string         `json:"model,omitempty"`
	Inputs map[string]any `json:"inputs,omitempty"`

	// End-event payload.
	Outputs any         `json:"outputs,omitempty"`
	Usage   *TokenUsage `json:"token_usage,omitempty"`
	Success *bool       `json:"success,omitempty"`
	Error   string      `json:"error,omitempty"`

	Attributes map[string]any `json:"attributes,omitempty"`
}

// TokenUsage counts tokens consumed by a single model invocation.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// UsageSummary aggregates token usage across invocations, grouped by
// model identity. Unit spans and traces carry one of these; a single
// invocation span carries a summary with exactly one ByModel entry.
type UsageSummary struct {
	InputTokens  int64                 `json:"total_input_tokens"`
	OutputTokens int64                 `json:"total_output_tokens"`
	ByModel      map[string]TokenUsage `json:"by_model,omitempty"`
}

// AddInvocation folds one invocation's usage into the summary.
func (s *UsageSummary) AddInvocation(model string, u TokenUsage) {
	s.InputTokens += u.InputTokens
	s.OutputTokens += u.OutputTokens
	if s.ByModel == nil {
		s.ByModel = make(map[string]TokenUsage)
	}
	s.ByModel[model] = s.ByModel[model].Add(u)
}

// IsZero reports whether no tokens were recorded.
func (s *UsageSummary) IsZero() bool {
	return s == nil || (s.InputTokens == 0 && s.OutputTokens == 0 && len(s.ByModel) == 0)
}
