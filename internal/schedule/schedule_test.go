package schedule_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/enso/internal/admission"
	"github.com/ashita-ai/enso/internal/dispatch"
	"github.com/ashita-ai/enso/internal/logwriter"
	"github.com/ashita-ai/enso/internal/metrics"
	"github.com/ashita-ai/enso/internal/model"
	"github.com/ashita-ai/enso/internal/registry"
	"github.com/ashita-ai/enso/internal/runctx"
	"github.com/ashita-ai/enso/internal/schedule"
	"github.com/ashita-ai/enso/internal/syncbridge"
	"github.com/ashita-ai/enso/internal/tracestore"
)

type tick struct{}

func (tick) Name() string { return "tick" }
func (tick) Forward(ctx context.Context, rc *runctx.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"ticked": true}, nil
}

func newEngine(t *testing.T) *dispatch.Engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New()
	require.NoError(t, reg.Register(tick{}, registry.ConfigTemplate{Model: "m"}))

	logs, err := logwriter.New(t.TempDir(), 64, logger)
	require.NoError(t, err)
	logs.Start()
	t.Cleanup(func() { logs.Drain(context.Background()) })

	traces, err := tracestore.NewSQLite(context.Background(), filepath.Join(t.TempDir(), "traces.db"))
	require.NoError(t, err)
	t.Cleanup(func() { traces.Close() })

	bridge := syncbridge.New(1, logger)
	t.Cleanup(func() { bridge.Shutdown(context.Background()) })

	return dispatch.New(dispatch.Config{
		Registry:  reg,
		Admission: admission.New(4, 50*time.Millisecond),
		Bridge:    bridge,
		Logs:      logs,
		Metrics:   metrics.New(),
		Traces:    traces,
		Logger:    logger,
	})
}

func TestAddValidatesProgramAndSpec(t *testing.T) {
	s := schedule.New(newEngine(t), slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := s.Add(schedule.Job{Program: "ghost", Spec: "* * * * *"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	err = s.Add(schedule.Job{Program: "tick", Spec: "not a cron spec"})
	assert.Error(t, err)

	assert.NoError(t, s.Add(schedule.Job{Program: "tick", Spec: "*/5 * * * *"}))
	assert.NoError(t, s.Add(schedule.Job{Program: "tick", Spec: "@every 1h"}))
}

func TestScheduledRunsFlowThroughDispatch(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}
	engine := newEngine(t)
	s := schedule.New(engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Add(schedule.Job{
		Program: "tick",
		Spec:    "@every 1s",
		Inputs:  map[string]any{"source": "cron"},
	}))

	s.Start()
	defer s.Stop(context.Background())

	deadline := time.After(5 * time.Second)
	for {
		if engine.Metrics().Snapshot("tick").CallCount >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduled run never fired")
		case <-time.After(50 * time.Millisecond):
		}
	}

	snap := engine.Metrics().Snapshot("tick")
	assert.GreaterOrEqual(t, snap.SuccessCount, int64(1), "scheduled runs are counted like any other")
}

func TestStopWithoutStart(t *testing.T) {
	s := schedule.New(newEngine(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, s.Stop(context.Background()))
}
