// Package syncbridge runs blocking routines on a bounded worker pool
// so the request goroutine can keep honoring its context.
//
// The run context is re-established inside the worker by passing it
// explicitly into the closure — ambient request state never crosses a
// goroutine boundary on its own. Cancellation is cooperative only: a
// cancelled caller returns immediately while the worker runs the
// routine to completion and its result is discarded. That is a
// documented limitation, not a bug; blocking routines cannot be
// forcibly stopped.
package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/ashita-ai/enso/internal/runctx"
)

// ErrClosed is returned for submissions after Shutdown.
var ErrClosed = errors.New("syncbridge: pool is shut down")

// Routine is a blocking program entry point. It receives the
// request's run context explicitly and must not retain it.
type Routine func(rc *runctx.Context, inputs map[string]any) (map[string]any, error)

type outcome struct {
	outputs map[string]any
	err     error
}

type task struct {
	fn     func() outcome
	result chan outcome // buffered; worker never blocks on delivery
}

// Bridge is a fixed-size worker pool.
type Bridge struct {
	tasks  chan task
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// DefaultWorkers derives the pool size from available parallelism.
func DefaultWorkers() int {
	n := runtime.NumCPU() + 4
	if n > 32 {
		n = 32
	}
	return n
}

// New starts a pool with the given number of workers (<=0 uses
// DefaultWorkers). Call Shutdown to stop it.
func New(workers int, logger *slog.Logger) *Bridge {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	b := &Bridge{
		tasks:  make(chan task),
		done:   make(chan struct{}),
		logger: logger,
	}
	b.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go b.worker()
	}
	logger.Info("syncbridge: pool started", "workers", workers)
	return b
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for {
		select {
		case t := <-b.tasks:
			t.result <- t.fn()
		case <-b.done:
			return
		}
	}
}

// Run executes routine(rc, inputs) on a pool worker and waits for the
// result or ctx cancellation. The worker slot is always returned to
// the pool: panics inside the routine are recovered into an error.
func (b *Bridge) Run(ctx context.Context, rc *runctx.Context, routine Routine, inputs map[string]any) (map[string]any, error) {
	t := task{
		result: make(chan outcome, 1),
		fn: func() (out outcome) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("syncbridge: routine panicked",
						"program", rc.Program(), "panic", fmt.Sprint(r))
					out = outcome{err: fmt.Errorf("syncbridge: routine panic: %v", r)}
				}
			}()
			outputs, err := routine(rc, inputs)
			return outcome{outputs: outputs, err: err}
		},
	}

	select {
	case b.tasks <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.done:
		return nil, ErrClosed
	}

	select {
	case out := <-t.result:
		return out.outputs, out.err
	case <-ctx.Done():
		// The worker finishes on its own and the buffered result
		// channel absorbs the discarded outcome.
		return nil, ctx.Err()
	}
}

// Shutdown stops accepting work and waits for in-flight routines to
// finish, up to ctx's deadline.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.closeOnce.Do(func() {
		close(b.done)
	})

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		b.logger.Warn("syncbridge: shutdown timed out waiting for workers")
		return ctx.Err()
	}
}
