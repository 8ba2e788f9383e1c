package model

import (
	"time"

	"github.com/google/uuid"
)

// SpanType classifies a reconstructed unit of work.
type SpanType string

const (
	SpanUnit       SpanType = "unit"       // a program (module) execution
	SpanInvocation SpanType = "invocation" // a model call
	SpanTool       SpanType = "tool"
	SpanFormat     SpanType = "format"
	SpanParse      SpanType = "parse"
	SpanUnknown    SpanType = "unknown"
)

// Span is a timed unit of work derived from a *_start/*_end event
// pair sharing a call id. Spans are built by the trace builder and
// immutable once the trace is finalized.
//
// A span whose end event never arrived (crash mid-call, client
// disconnect) is preserved with Incomplete=true rather than dropped.
type Span struct {
	CallID       uuid.UUID  `json:"call_id"`
	ParentCallID *uuid.UUID `json:"parent_call_id,omitempty"`
	Type         SpanType   `json:"type"`
	Name         string     `json:"name"`
	Depth        int        `json:"depth"`

	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS float64    `json:"duration_ms"`

	Model   string         `json:"model,omitempty"`
	Inputs  map[string]any `json:"inputs,omitempty"`
	Outputs any            `json:"outputs,omitempty"`

	Usage      *UsageSummary  `json:"token_usage,omitempty"`
	Success    *bool          `json:"success,omitempty"`
	Error      string         `json:"error,omitempty"`
	Incomplete bool           `json:"incomplete,omitempty"`
	Children   []uuid.UUID    `json:"children,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Trace is the full span tree plus aggregated metrics for one request.
// It is exclusively owned by the request until finalized, immutable
// thereafter.
type Trace struct {
	TraceID     uuid.UUID             `json:"trace_id"`
	RequestID   uuid.UUID             `json:"request_id"`
	Program     string                `json:"program"`
	RootCallIDs []uuid.UUID           `json:"root_call_ids"`
	Spans       map[uuid.UUID]*Span   `json:"spans"`
	Usage       *UsageSummary         `json:"token_usage,omitempty"`
	SpanCount   int                   `json:"span_count"`
	Incomplete  bool                  `json:"incomplete,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
}

// Result is the caller-facing outcome of one program execution.
type Result struct {
	RequestID  uuid.UUID      `json:"request_id"`
	Program    string         `json:"program"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	DurationMS float64        `json:"duration_ms"`
	Usage      *UsageSummary  `json:"token_usage,omitempty"`
}
