package enso

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/internal/registry"
	"github.com/ashita-ai/enso/internal/runctx"
)

// RunContext is the per-request execution context handed to every
// program invocation. It carries the request identity, the mutable
// model handle, and the span-emitting call API (StartUnit, and from a
// call: StartInvocation, StartTool, StartFormat, StartParse).
type RunContext = runctx.Context

// Call is an open span within a run. End it exactly once.
type Call = runctx.Call

// Program is a named unit of computation. Implement exactly one of
// ContextProgram or BlockingProgram.
type Program = registry.Program

// ContextProgram is a suspension-capable program: it honors ctx and
// runs directly on the request goroutine.
type ContextProgram = registry.ContextProgram

// BlockingProgram is a pre-existing blocking routine, executed on the
// bridge worker pool.
type BlockingProgram = registry.BlockingProgram

// Result is the outcome of one program execution.
type Result = model.Result

// Trace is the finalized span tree for one execution.
type Trace = model.Trace

// Event is one raw execution event, as streamed over SSE.
type Event = model.Event

// TokenUsage is a model call's token consumption.
type TokenUsage = model.TokenUsage

// TraceStore persists finalized traces. The built-in implementations
// cover SQLite and Postgres; WithTraceStore accepts replacements.
type TraceStore interface {
	Save(ctx context.Context, trace *Trace) error
	Get(ctx context.Context, requestID uuid.UUID) (*Trace, error)
	Close() error
}
