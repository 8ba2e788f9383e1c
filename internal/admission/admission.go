// Package admission caps concurrent executions per program.
//
// Each program gets a counting semaphore. Acquisition tries
// immediately, then waits up to a bounded budget before giving up
// with a typed rejection carrying a retry hint. The controller never
// queues indefinitely.
package admission

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/enso/internal/model"
)

const (
	// DefaultCapacity is the per-program concurrency ceiling.
	DefaultCapacity = 20

	// DefaultWaitBudget bounds how long an acquisition may wait for a
	// slot before rejection. MaxWaitBudget is the hard cap.
	DefaultWaitBudget = 10 * time.Second
	MaxWaitBudget     = 30 * time.Second
)

type entry struct {
	sem      *semaphore.Weighted
	inFlight int64
}

// Controller enforces per-program concurrency ceilings.
type Controller struct {
	capacity   int64
	waitBudget time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a controller. Zero or negative arguments fall back to
// defaults; waitBudget is clamped to MaxWaitBudget.
func New(capacity int64, waitBudget time.Duration) *Controller {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if waitBudget <= 0 {
		waitBudget = DefaultWaitBudget
	}
	if waitBudget > MaxWaitBudget {
		waitBudget = MaxWaitBudget
	}
	return &Controller{
		capacity:   capacity,
		waitBudget: waitBudget,
		entries:    make(map[string]*entry),
	}
}

func (c *Controller) entryFor(program string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[program]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(c.capacity)}
		c.entries[program] = e
	}
	return e
}

// Acquire obtains an execution slot for program, waiting up to the
// controller's budget. On exhaustion it returns *model.AdmissionError
// with a retry hint; if ctx is cancelled first, it returns ctx's
// error. The returned ticket must be released exactly once, on every
// outcome path.
func (c *Controller) Acquire(ctx context.Context, program string) (*Ticket, error) {
	e := c.entryFor(program)

	if !e.sem.TryAcquire(1) {
		waitCtx, cancel := context.WithTimeout(ctx, c.waitBudget)
		defer cancel()

		if err := e.sem.Acquire(waitCtx, 1); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &model.AdmissionError{
				Program:    program,
				Capacity:   c.capacity,
				RetryAfter: c.retryHint(),
			}
		}
	}

	c.mu.Lock()
	e.inFlight++
	c.mu.Unlock()

	return &Ticket{controller: c, entry: e}, nil
}

// retryHint is the backoff the rejection carries to the caller.
func (c *Controller) retryHint() time.Duration {
	hint := c.waitBudget / 4
	if hint < time.Second {
		hint = time.Second
	}
	return hint
}

// InFlight returns the number of currently admitted executions for
// program.
func (c *Controller) InFlight(program string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[program]; ok {
		return e.inFlight
	}
	return 0
}

// Ticket is a held execution slot. Release is idempotent.
type Ticket struct {
	controller *Controller
	entry      *entry
	once       sync.Once
}

// Release returns the slot to the program's semaphore.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.controller.mu.Lock()
		t.entry.inFlight--
		t.controller.mu.Unlock()
		t.entry.sem.Release(1)
	})
}
