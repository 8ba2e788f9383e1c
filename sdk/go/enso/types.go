package enso

import (
	"time"

	"github.com/google/uuid"
)

// TokenUsage counts tokens consumed by a single model invocation.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// UsageSummary aggregates token usage across invocations, grouped by
// model identity.
type UsageSummary struct {
	InputTokens  int64                 `json:"total_input_tokens"`
	OutputTokens int64                 `json:"total_output_tokens"`
	ByModel      map[string]TokenUsage `json:"by_model,omitempty"`
}

// Result is the outcome of one program execution.
type Result struct {
	RequestID  uuid.UUID      `json:"request_id"`
	Program    string         `json:"program"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	DurationMS float64        `json:"duration_ms"`
	Usage      *UsageSummary  `json:"token_usage,omitempty"`
}

// Span is one node of an execution trace.
type Span struct {
	CallID       uuid.UUID  `json:"call_id"`
	ParentCallID *uuid.UUID `json:"parent_call_id,omitempty"`
	Type         string     `json:"type"`
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

// Trace is the full span tree for one request.
type Trace struct {
	TraceID     uuid.UUID           `json:"trace_id"`
	RequestID   uuid.UUID           `json:"request_id"`
	Program     string              `json:"program"`
	RootCallIDs []uuid.UUID         `json:"root_call_ids"`
	Spans       map[uuid.UUID]*Span `json:"spans"`
	Usage       *UsageSummary       `json:"token_usage,omitempty"`
	SpanCount   int                 `json:"span_count"`
	Incomplete  bool                `json:"incomplete,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Event is one live execution event from a streaming run.
type Event struct {
	Type         string         `json:"type"`
	CallID       uuid.UUID      `json:"call_id"`
	ParentCallID *uuid.UUID     `json:"parent_call_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Depth        int            `json:"depth"`
	Name         string         `json:"name,omitempty"`
	Model        string         `json:"model,omitempty"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Outputs      any            `json:"outputs,omitempty"`
	Usage        *TokenUsage    `json:"token_usage,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// ProgramInfo describes one registered program.
type ProgramInfo struct {
	Name  string `json:"name"`
	Model string `json:"model"`
	Kind  string `json:"kind"`
}

// ProgramMetrics is a snapshot of one program's running aggregates.
type ProgramMetrics struct {
	Program           string                `json:"program"`
	CallCount         int64                 `json:"call_count"`
	SuccessCount      int64                 `json:"success_count"`
	ErrorCount        int64                 `json:"error_count"`
	AvgDurationMS     float64               `json:"avg_duration_ms"`
	P50DurationMS     float64               `json:"p50_duration_ms"`
	P95DurationMS     float64               `json:"p95_duration_ms"`
	TotalInputTokens  int64                 `json:"total_input_tokens"`
	TotalOutputTokens int64                 `json:"total_output_tokens"`
	TokensByModel     map[string]TokenUsage `json:"tokens_by_model,omitempty"`
}

// HealthStatus is the response of the health endpoints.
type HealthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   int64  `json:"uptime"`
	Programs int    `json:"programs"`
}
