// Package tracestore persists finalized traces for post-hoc
// inspection.
//
// Two implementations ship: an embedded SQLite store (the default, no
// external service) and a Postgres store for deployments that already
// run one. Both keep the trace as a single JSON document keyed by
// request id — traces are immutable after finalization, so there is
// nothing to normalize.
package tracestore

import (
	"context"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/model"
)

// Store saves and loads finalized traces. Implementations must be
// safe for concurrent use.
type Store interface {
	// Save persists a finalized trace. Called once per request from
	// the dispatcher's completion step; failures are logged by the
	// caller, never surfaced to the requester.
	Save(ctx context.Context, trace *model.Trace) error

	// Get loads a trace by request id. Returns model.ErrNotFound for
	// unknown ids.
	Get(ctx context.Context, requestID uuid.UUID) (*model.Trace, error)

	// Close releases the underlying handles.
	Close() error
}

// Noop discards traces. Used when trace persistence is disabled;
// ReadTrace then always reports not found.
type Noop struct{}

// Save discards the trace.
func (Noop) Save(context.Context, *model.Trace) error { return nil }

// Get always reports not found.
func (Noop) Get(context.Context, uuid.UUID) (*model.Trace, error) {
	return nil, model.ErrNotFound
}

// Close is a no-op.
func (Noop) Close() error { return nil }
