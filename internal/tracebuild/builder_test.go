package tracebuild

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/internal/runctx"
)

// collector records emitted events for folding.
type collector struct {
	events []model.Event
}

func (c *collector) Emit(ev model.Event) { c.events = append(c.events, ev) }

// runSample drives a small execution and returns its ordered events:
// a unit span containing a tool call and two model invocations.
func runSample(t *testing.T) []model.Event {
	t.Helper()
	col := &collector{}
	rc := runctx.New(uuid.New(), "sample", "test/model-a", nil, col)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	rc.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 10 * time.Millisecond)
	})

	root := rc.StartUnit("sample", map[string]any{"q": "hello"})
	tool := root.StartTool("lookup", nil)
	tool.End(map[string]any{"hits": 2}, nil)

	inv1 := root.StartInvocation("", nil)
	inv1.EndInvocation("first", model.TokenUsage{InputTokens: 100, OutputTokens: 20}, nil)

	inv2 := root.StartInvocation("test/model-b", nil)
	inv2.EndInvocation("second", model.TokenUsage{InputTokens: 50, OutputTokens: 10}, nil)

	root.End(map[string]any{"answer": "hello"}, nil)
	return col.events
}

func fold(events []model.Event) *model.Trace {
	b := New(uuid.New(), uuid.New(), "sample")
	b.AddAll(events)
	return b.Build()
}

func TestBuildSpanTree(t *testing.T) {
	trace := fold(runSample(t))

	require.Len(t, trace.RootCallIDs, 1)
	require.Equal(t, 4, trace.SpanCount)
	assert.False(t, trace.Incomplete)

	root := trace.Spans[trace.RootCallIDs[0]]
	require.NotNil(t, root)
	assert.Equal(t, model.SpanUnit, root.Type)
	assert.Equal(t, "sample", root.Name)
	require.Len(t, root.Children, 3)

	for _, childID := range root.Children {
		child := trace.Spans[childID]
		require.NotNil(t, child)
		assert.Equal(t, 1, child.Depth)
		require.NotNil(t, child.ParentCallID)
		assert.Equal(t, root.CallID, *child.ParentCallID)
		require.NotNil(t, child.EndedAt)
		assert.Greater(t, child.DurationMS, 0.0)
	}
}

func TestTokenRollupByModel(t *testing.T) {
	trace := fold(runSample(t))

	require.NotNil(t, trace.Usage)
	assert.Equal(t, int64(150), trace.Usage.InputTokens)
	assert.Equal(t, int64(30), trace.Usage.OutputTokens)
	assert.Equal(t, model.TokenUsage{InputTokens: 100, OutputTokens: 20}, trace.Usage.ByModel["test/model-a"])
	assert.Equal(t, model.TokenUsage{InputTokens: 50, OutputTokens: 10}, trace.Usage.ByModel["test/model-b"])

	// The unit span carries the same rollup.
	root := trace.Spans[trace.RootCallIDs[0]]
	require.NotNil(t, root.Usage)
	assert.Equal(t, int64(150), root.Usage.InputTokens)
}

func TestFoldingIsDeterministic(t *testing.T) {
	events := runSample(t)

	traceID := uuid.New()
	requestID := uuid.New()

	// Fold live (one at a time) and post-hoc (all at once) with the
	// same ids; the traces must be identical.
	live := New(traceID, requestID, "sample")
	for _, ev := range events {
		live.Add(ev)
	}
	liveTrace := live.Build()

	post := New(traceID, requestID, "sample")
	post.AddAll(events)
	postTrace := post.Build()

	assert.Equal(t, postTrace.TraceID, liveTrace.TraceID)
	assert.Equal(t, postTrace.SpanCount, liveTrace.SpanCount)
	assert.Equal(t, postTrace.RootCallIDs, liveTrace.RootCallIDs)
	assert.Equal(t, postTrace.Usage, liveTrace.Usage)
	require.Equal(t, len(postTrace.Spans), len(liveTrace.Spans))
	for id, postSpan := range postTrace.Spans {
		assert.Equal(t, postSpan, liveTrace.Spans[id], "span %s differs", id)
	}
}

func TestIncompleteSpansKept(t *testing.T) {
	events := runSample(t)
	// Drop the last two end events (invocation_end, unit_end) to
	// simulate a truncated execution.
	truncated := events[:len(events)-2]

	trace := fold(truncated)

	assert.True(t, trace.Incomplete)
	assert.Equal(t, 4, trace.SpanCount)

	root := trace.Spans[trace.RootCallIDs[0]]
	assert.True(t, root.Incomplete)
	assert.Nil(t, root.EndedAt)

	// Ended spans are untouched.
	var complete int
	for _, span := range trace.Spans {
		if !span.Incomplete {
			complete++
			assert.NotNil(t, span.EndedAt)
		}
	}
	assert.Equal(t, 2, complete)
}

func TestEndWithoutStartKeepsMinimalSpan(t *testing.T) {
	now := time.Now().UTC()
	id := uuid.New()
	b := New(uuid.New(), uuid.New(), "sample")
	b.Add(model.Event{
		Type: model.EventToolEnd, CallID: id, Timestamp: now, Error: "late",
	})
	trace := b.Build()

	require.Contains(t, trace.Spans, id)
	span := trace.Spans[id]
	assert.Equal(t, "unknown", span.Name)
	assert.Equal(t, model.SpanTool, span.Type)
	assert.False(t, span.Incomplete)
}

func TestErrorRecordedVerbatim(t *testing.T) {
	col := &collector{}
	rc := runctx.New(uuid.New(), "sample", "test/model-a", nil, col)
	root := rc.StartUnit("sample", nil)
	root.End(nil, errors.New("model quota exceeded: code 429"))

	trace := fold(col.events)
	span := trace.Spans[trace.RootCallIDs[0]]
	require.NotNil(t, span.Success)
	assert.False(t, *span.Success)
	assert.Equal(t, "model quota exceeded: code 429", span.Error)
}

func TestCreatedAtIsFirstEventTime(t *testing.T) {
	events := runSample(t)
	trace := fold(events)
	assert.Equal(t, events[0].Timestamp, trace.CreatedAt)
}
