// Package dispatch orchestrates one request end to end: resolve the
// program, acquire admission, clone the run context, execute, fold
// the event stream into a trace, persist, record metrics, release.
//
// The per-request state machine is
//
//	RESOLVED → ADMITTED → EXECUTING → {COMPLETED, FAILED, REJECTED}
//
// Failures follow the same trace/log/metrics path as successes, with
// success=false and the error recorded verbatim. Persistence is
// best-effort: a log or store failure never fails the user-facing
// request.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/admission"
	"github.com/ashita-ai/enso/internal/bus"
	"github.com/ashita-ai/enso/internal/logwriter"
	"github.com/ashita-ai/enso/internal/metrics"
	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/internal/registry"
	"github.com/ashita-ai/enso/internal/syncbridge"
	"github.com/ashita-ai/enso/internal/tracebuild"
	"github.com/ashita-ai/enso/internal/tracestore"
)

// persistTimeout bounds best-effort persistence after the request's
// own context is done.
const persistTimeout = 5 * time.Second

// streamHeadroom is the live-subscriber buffer beyond the backlog.
const streamHeadroom = 1024

// Engine is the request dispatcher.
type Engine struct {
	registry  *registry.Registry
	admission *admission.Controller
	bridge    *syncbridge.Bridge
	logs      *logwriter.Writer
	metrics   *metrics.Store
	traces    tracestore.Store
	logger    *slog.Logger
	liveFold  bool
}

// Config holds the engine's collaborators. All fields are required
// except Traces (nil = tracestore.Noop) and LiveFold.
type Config struct {
	Registry  *registry.Registry
	Admission *admission.Controller
	Bridge    *syncbridge.Bridge
	Logs      *logwriter.Writer
	Metrics   *metrics.Store
	Traces    tracestore.Store
	Logger    *slog.Logger

	// LiveFold folds events into the trace as they are emitted
	// instead of from the drained backlog at completion. Both modes
	// produce identical traces; live folding just spreads the work.
	LiveFold bool
}

// New creates an engine.
func New(cfg Config) *Engine {
	traces := cfg.Traces
	if traces == nil {
		traces = tracestore.Noop{}
	}
	return &Engine{
		registry:  cfg.Registry,
		admission: cfg.Admission,
		bridge:    cfg.Bridge,
		logs:      cfg.Logs,
		metrics:   cfg.Metrics,
		traces:    traces,
		logger:    cfg.Logger,
		liveFold:  cfg.LiveFold,
	}
}

// Execute runs a program to completion and returns its result.
//
// Error semantics: model.ErrNotFound and *model.AdmissionError are
// returned with a zero result and nothing recorded. When the routine
// itself fails, the returned error is a *model.ExecutionError and the
// result is still fully populated (success=false, error text,
// duration) — the failure was traced, logged and counted.
func (e *Engine) Execute(ctx context.Context, program string, inputs map[string]any) (model.Result, error) {
	prog, tmpl, err := e.registry.Resolve(program)
	if err != nil {
		return model.Result{}, err
	}

	ticket, err := e.admission.Acquire(ctx, program)
	if err != nil {
		return model.Result{}, err
	}
	defer ticket.Release()

	return e.execute(ctx, uuid.New(), prog, tmpl, inputs, bus.New())
}

// StreamingExecution is a running execution with a live event feed.
// Events is finite and non-restartable: it replays nothing across
// consumers and closes once the execution's last event is emitted.
// Result delivers exactly one value at completion.
type StreamingExecution struct {
	RequestID uuid.UUID
	Events    <-chan model.Event
	Result    <-chan model.Result
}

// ExecuteStreaming starts a program and returns a live event sequence
// alongside the eventual result. Resolution and admission failures
// are returned synchronously, before any streaming begins. Consuming
// (or abandoning) Events never blocks the execution.
func (e *Engine) ExecuteStreaming(ctx context.Context, program string, inputs map[string]any) (*StreamingExecution, error) {
	prog, tmpl, err := e.registry.Resolve(program)
	if err != nil {
		return nil, err
	}

	ticket, err := e.admission.Acquire(ctx, program)
	if err != nil {
		return nil, err
	}

	b := bus.New()
	events := b.Subscribe(streamHeadroom)
	resultCh := make(chan model.Result, 1)
	requestID := uuid.New()

	exec := &StreamingExecution{RequestID: requestID, Events: events, Result: resultCh}

	go func() {
		defer ticket.Release()
		res, _ := e.execute(ctx, requestID, prog, tmpl, inputs, b)
		resultCh <- res
	}()

	return exec, nil
}

// ReadTrace loads a finalized trace for post-hoc inspection.
func (e *Engine) ReadTrace(ctx context.Context, requestID uuid.UUID) (*model.Trace, error) {
	return e.traces.Get(ctx, requestID)
}

// Registry exposes the program registry for listings.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Metrics exposes the metrics store for snapshots.
func (e *Engine) Metrics() *metrics.Store { return e.metrics }

// execute owns the EXECUTING state: clone context, run the routine,
// fold, persist, count. The caller holds the admission ticket.
func (e *Engine) execute(ctx context.Context, requestID uuid.UUID, prog registry.Program, tmpl registry.ConfigTemplate, inputs map[string]any, b *bus.Bus) (model.Result, error) {
	program := prog.Name()
	builder := tracebuild.New(uuid.New(), requestID, program)

	if e.liveFold {
		// The tap fires under the bus lock in emission order, so the
		// builder sees exactly the sequence a post-hoc Drain returns.
		b.SetTap(builder.Add)
	}

	rc := tmpl.CloneForRequest(requestID, program, b)

	start := time.Now()
	root := rc.StartUnit(program, inputs)

	var outputs map[string]any
	var execErr error
	switch p := prog.(type) {
	case registry.ContextProgram:
		outputs, execErr = p.Forward(ctx, rc, inputs)
	case registry.BlockingProgram:
		outputs, execErr = e.bridge.Run(ctx, rc, p.ForwardBlocking, inputs)
	}

	// Client gone: stop event consumption and discard the partial
	// trace. The blocking routine (if any) finishes on its own and
	// its late events land on a closed bus.
	if ctx.Err() != nil {
		b.Close()
		e.logger.Info("dispatch: request cancelled, trace discarded",
			"program", program, "request_id", requestID)
		return model.Result{RequestID: requestID, Program: program, Error: ctx.Err().Error()}, ctx.Err()
	}

	root.End(outputs, execErr)
	b.Close()
	duration := time.Since(start)

	if !e.liveFold {
		builder.AddAll(b.Drain())
	}
	trace := builder.Build()

	result := model.Result{
		RequestID:  requestID,
		Program:    program,
		Outputs:    outputs,
		Success:    execErr == nil,
		DurationMS: float64(duration) / float64(time.Millisecond),
		Usage:      trace.Usage,
	}
	if execErr != nil {
		result.Error = execErr.Error()
	}

	e.finalize(program, rc.Model().Name(), inputs, result, trace, duration)

	if execErr != nil {
		return result, &model.ExecutionError{Program: program, Err: execErr}
	}
	return result, nil
}

// logRecord is the per-request JSONL document, shaped after the
// inference log the trace viewer consumes.
type logRecord struct {
	Timestamp  string              `json:"timestamp"`
	RequestID  uuid.UUID           `json:"request_id"`
	TraceID    uuid.UUID           `json:"trace_id"`
	Program    string              `json:"program"`
	Model      string              `json:"model"`
	DurationMS float64             `json:"duration_ms"`
	Inputs     map[string]any      `json:"inputs"`
	Outputs    map[string]any      `json:"outputs,omitempty"`
	Success    bool                `json:"success"`
	Error      string              `json:"error,omitempty"`
	Tokens     *model.UsageSummary `json:"tokens,omitempty"`
	SpanCount  int                 `json:"span_count"`
	Incomplete bool                `json:"incomplete,omitempty"`
}

// finalize persists the completed request and updates the running
// aggregates. Every step is best-effort except metrics, which cannot
// fail.
func (e *Engine) finalize(program, modelName string, inputs map[string]any, result model.Result, trace *model.Trace, duration time.Duration) {
	rec := logRecord{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  result.RequestID,
		TraceID:    trace.TraceID,
		Program:    program,
		Model:      modelName,
		DurationMS: result.DurationMS,
		Inputs:     inputs,
		Outputs:    result.Outputs,
		Success:    result.Success,
		Error:      result.Error,
		Tokens:     trace.Usage,
		SpanCount:  trace.SpanCount,
		Incomplete: trace.Incomplete,
	}
	if line, err := json.Marshal(rec); err != nil {
		e.logger.Error("dispatch: marshal log record", "program", program, "error", err)
	} else {
		e.logs.Enqueue(program, line)
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.traces.Save(saveCtx, trace); err != nil {
		e.logger.Error("dispatch: save trace", "program", program,
			"request_id", result.RequestID, "error", err)
	}

	e.metrics.Record(program, duration, result.Success, trace.Usage)
}
