package runctx

import (
	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/model"
)

// Call is an open span of work. Start* methods emit the *_start event
// and return a handle; End emits the matching *_end event with the
// same call id. Calls nest: children started from a call carry its id
// as parent and its depth plus one, which is what gives the trace
// builder a well-ordered event stream.
type Call struct {
	ctx    *Context
	id     uuid.UUID
	parent *Call
	typ    model.SpanType
	model  string
	depth  int
	ended  bool
}

// ID returns the call id shared by the start and end events.
func (c *Call) ID() uuid.UUID { return c.id }

// Depth returns the call's nesting depth (root = 0).
func (c *Call) Depth() int { return c.depth }

// StartUnit opens a root-level unit (program) span. The dispatcher
// calls this once per request around the routine.
func (c *Context) StartUnit(name string, inputs map[string]any) *Call {
	call := c.start(nil, model.SpanUnit, name, "", inputs)
	c.root = call
	return call
}

// StartInvocation opens a model-call span under this call. If
// modelName is empty, the context's current model identity is used.
func (c *Call) StartInvocation(modelName string, inputs map[string]any) *Call {
	if modelName == "" {
		modelName = c.ctx.modelH.name
	}
	return c.ctx.start(c, model.SpanInvocation, "invoke("+modelName+")", modelName, inputs)
}

// StartTool opens a tool span under this call.
func (c *Call) StartTool(name string, inputs map[string]any) *Call {
	return c.ctx.start(c, model.SpanTool, name, "", inputs)
}

// StartFormat opens an adapter-format span under this call.
func (c *Call) StartFormat(name string) *Call {
	return c.ctx.start(c, model.SpanFormat, name, "", nil)
}

// StartParse opens an adapter-parse span under this call.
func (c *Call) StartParse(name string) *Call {
	return c.ctx.start(c, model.SpanParse, name, "", nil)
}

func (c *Context) start(parent *Call, typ model.SpanType, name, modelName string, inputs map[string]any) *Call {
	call := &Call{
		ctx:   c,
		id:    uuid.New(),
		typ:   typ,
		model: modelName,
	}
	var parentID *uuid.UUID
	if parent != nil {
		call.parent = parent
		call.depth = parent.depth + 1
		pid := parent.id
		parentID = &pid
	}
	c.emit(model.Event{
		Type:         startEventType(typ),
		CallID:       call.id,
		ParentCallID: parentID,
		Timestamp:    c.now(),
		Depth:        call.depth,
		Name:         name,
		Model:        modelName,
		Inputs:       inputs,
	})
	return call
}

// End closes the call, emitting the matching *_end event. Err may be
// nil. Ending an already-ended call is a no-op.
func (c *Call) End(outputs any, err error) {
	c.end(outputs, nil, err)
}

// EndInvocation closes a model-call span, recording token usage on
// the event and appending to the model handle's history.
func (c *Call) EndInvocation(outputs any, usage model.TokenUsage, err error) {
	u := usage
	c.ctx.modelH.record(InvocationRecord{
		Model: c.model,
		Usage: usage,
		At:    c.ctx.now(),
	})
	c.end(outputs, &u, err)
}

func (c *Call) end(outputs any, usage *model.TokenUsage, err error) {
	if c.ended {
		return
	}
	c.ended = true
	success := err == nil
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	var parentID *uuid.UUID
	if c.parent != nil {
		pid := c.parent.id
		parentID = &pid
	}
	c.ctx.emit(model.Event{
		Type:         endEventType(c.typ),
		CallID:       c.id,
		ParentCallID: parentID,
		Timestamp:    c.ctx.now(),
		Depth:        c.depth,
		Model:        c.model,
		Outputs:      outputs,
		Usage:        usage,
		Success:      &success,
		Error:        errText,
	})
}

func startEventType(typ model.SpanType) model.EventType {
	switch typ {
	case model.SpanUnit:
		return model.EventUnitStart
	case model.SpanInvocation:
		return model.EventInvocationStart
	case model.SpanTool:
		return model.EventToolStart
	case model.SpanFormat:
		return model.EventFormatStart
	default:
		return model.EventParseStart
	}
}

func endEventType(typ model.SpanType) model.EventType {
	switch typ {
	case model.SpanUnit:
		return model.EventUnitEnd
	case model.SpanInvocation:
		return model.EventInvocationEnd
	case model.SpanTool:
		return model.EventToolEnd
	case model.SpanFormat:
		return model.EventFormatEnd
	default:
		return model.EventParseEnd
	}
}
