package tracestore_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/internal/tracestore"
)

func sampleTrace(program string) *model.Trace {
	rootID := uuid.New()
	childID := uuid.New()
	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	ended := started.Add(120 * time.Millisecond)
	ok := true

	usage := &model.UsageSummary{}
	usage.AddInvocation("openai/gpt-4o", model.TokenUsage{InputTokens: 100, OutputTokens: 25})

	return &model.Trace{
		TraceID:     uuid.New(),
		RequestID:   uuid.New(),
		Program:     program,
		RootCallIDs: []uuid.UUID{rootID},
		Spans: map[uuid.UUID]*model.Span{
			rootID: {
				CallID:    rootID,
				Type:      model.SpanUnit,
				Name:      program,
				StartedAt: started,
				EndedAt:   &ended,
				Success:   &ok,
				Usage:     usage,
				Children:  []uuid.UUID{childID},
			},
			childID: {
				CallID:       childID,
				ParentCallID: &rootID,
				Type:         model.SpanInvocation,
				Name:         "openai/gpt-4o",
				Depth:        1,
				Model:        "openai/gpt-4o",
				StartedAt:    started,
				EndedAt:      &ended,
				Success:      &ok,
			},
		},
		Usage:     usage,
		SpanCount: 2,
		CreatedAt: started,
	}
}

func newSQLiteStore(t *testing.T) *tracestore.SQLiteStore {
	t.Helper()
	s, err := tracestore.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteSaveAndGet(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	trace := sampleTrace("summarize")
	require.NoError(t, s.Save(ctx, trace))

	got, err := s.Get(ctx, trace.RequestID)
	require.NoError(t, err)
	assert.Equal(t, trace.TraceID, got.TraceID)
	assert.Equal(t, "summarize", got.Program)
	assert.Equal(t, 2, got.SpanCount)
	assert.Len(t, got.Spans, 2)
	require.NotNil(t, got.Usage)
	assert.Equal(t, int64(100), got.Usage.InputTokens)

	root := got.Spans[trace.RootCallIDs[0]]
	require.NotNil(t, root)
	assert.Equal(t, model.SpanUnit, root.Type)
	assert.Len(t, root.Children, 1)
	child := got.Spans[root.Children[0]]
	require.NotNil(t, child)
	require.NotNil(t, child.ParentCallID)
	assert.Equal(t, root.CallID, *child.ParentCallID)
}

func TestSQLiteGetUnknownIsNotFound(t *testing.T) {
	s := newSQLiteStore(t)
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSQLiteSaveIsIdempotentPerRequest(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	trace := sampleTrace("repeat")
	require.NoError(t, s.Save(ctx, trace))

	trace.SpanCount = 5
	require.NoError(t, s.Save(ctx, trace))

	got, err := s.Get(ctx, trace.RequestID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.SpanCount, "second save replaces the document")
}

func TestSQLiteConcurrentSaves(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	traces := make([]*model.Trace, 10)
	done := make(chan error, len(traces))
	for i := range traces {
		traces[i] = sampleTrace("concurrent")
		go func(tr *model.Trace) { done <- s.Save(ctx, tr) }(traces[i])
	}
	for range traces {
		require.NoError(t, <-done)
	}
	for _, tr := range traces {
		got, err := s.Get(ctx, tr.RequestID)
		require.NoError(t, err)
		assert.Equal(t, tr.TraceID, got.TraceID)
	}
}

func TestNoopStore(t *testing.T) {
	var s tracestore.Noop
	require.NoError(t, s.Save(context.Background(), sampleTrace("void")))
	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, s.Close())
}
