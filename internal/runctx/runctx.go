// Package runctx holds the mutable, request-scoped execution context
// handed to a program routine.
//
// A Context is created by cloning a program's config template and is
// exclusively owned by one request's execution lifetime. It is passed
// explicitly into the routine — including across the sync-bridge
// thread boundary, where ambient state does not propagate on its own.
// Exactly one goroutine touches a Context at a time (the request
// goroutine or the bridge worker, never both), so its mutators take
// no locks. The event emitter behind it is thread-safe.
package runctx

import (
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/model"
)

// Emitter receives execution events. Implemented by bus.Bus.
type Emitter interface {
	Emit(model.Event)
}

// InvocationRecord is one entry of a model handle's call history.
type InvocationRecord struct {
	Model string
	Usage model.TokenUsage
	At    time.Time
}

// ModelHandle is the request's private view of its model
// configuration. Overrides applied here are never visible to other
// requests or to the template the handle was cloned from.
type ModelHandle struct {
	name    string
	params  map[string]any
	history []InvocationRecord
}

// Name returns the model identity, e.g. "anthropic/claude-sonnet-4".
func (m *ModelHandle) Name() string { return m.name }

// SetModel overrides the model identity for this request only.
func (m *ModelHandle) SetModel(name string) { m.name = name }

// Param returns a model parameter (temperature, max_tokens, ...).
func (m *ModelHandle) Param(key string) (any, bool) {
	v, ok := m.params[key]
	return v, ok
}

// SetParam overrides a model parameter for this request only.
func (m *ModelHandle) SetParam(key string, value any) {
	m.params[key] = value
}

// Params returns a copy of the current parameter set.
func (m *ModelHandle) Params() map[string]any {
	out := make(map[string]any, len(m.params))
	for k, v := range m.params {
		out[k] = v
	}
	return out
}

// History returns the model calls recorded so far in this request.
// It starts empty on every clone.
func (m *ModelHandle) History() []InvocationRecord {
	out := make([]InvocationRecord, len(m.history))
	copy(out, m.history)
	return out
}

func (m *ModelHandle) record(rec InvocationRecord) {
	m.history = append(m.history, rec)
}

// Context is the request-scoped execution context.
type Context struct {
	requestID uuid.UUID
	program   string
	modelH    *ModelHandle
	emitter   Emitter
	now       func() time.Time
	root      *Call
}

// New clones template fields into a fresh Context. The params map is
// deep-copied so the caller's template stays untouched.
func New(requestID uuid.UUID, program, modelName string, params map[string]any, emitter Emitter) *Context {
	cloned := make(map[string]any, len(params))
	for k, v := range params {
		cloned[k] = v
	}
	return &Context{
		requestID: requestID,
		program:   program,
		modelH:    &ModelHandle{name: modelName, params: cloned},
		emitter:   emitter,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RequestID returns the id of the request this context belongs to.
func (c *Context) RequestID() uuid.UUID { return c.requestID }

// Program returns the program name being executed.
func (c *Context) Program() string { return c.program }

// Model returns the request's private model handle.
func (c *Context) Model() *ModelHandle { return c.modelH }

// Root returns the request's root unit call, under which routines
// open their own spans. Nil until the dispatcher starts the unit.
func (c *Context) Root() *Call { return c.root }

// SetClock overrides the timestamp source. Test hook.
func (c *Context) SetClock(now func() time.Time) { c.now = now }

func (c *Context) emit(ev model.Event) {
	if c.emitter != nil {
		c.emitter.Emit(ev)
	}
}
