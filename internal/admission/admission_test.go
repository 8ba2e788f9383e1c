package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashita-ai/enso/internal/model"
)

func TestAcquireUpToCapacity(t *testing.T) {
	c := New(3, 50*time.Millisecond)
	ctx := context.Background()

	var tickets []*Ticket
	for i := range 3 {
		tk, err := c.Acquire(ctx, "prog")
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		tickets = append(tickets, tk)
	}
	if got := c.InFlight("prog"); got != 3 {
		t.Fatalf("in flight = %d", got)
	}

	// Fourth waits out the budget and is rejected with a typed error.
	start := time.Now()
	_, err := c.Acquire(ctx, "prog")
	var admErr *model.AdmissionError
	if !errors.As(err, &admErr) {
		t.Fatalf("expected AdmissionError, got %v", err)
	}
	if admErr.Program != "prog" || admErr.Capacity != 3 {
		t.Fatalf("error fields: %+v", admErr)
	}
	if admErr.RetryAfter <= 0 {
		t.Fatal("missing retry hint")
	}
	if waited := time.Since(start); waited < 50*time.Millisecond {
		t.Fatalf("rejected before wait budget elapsed: %s", waited)
	}

	for _, tk := range tickets {
		tk.Release()
	}
	if got := c.InFlight("prog"); got != 0 {
		t.Fatalf("in flight after release = %d", got)
	}
}

func TestBoundedWaitAdmitsWhenSlotFrees(t *testing.T) {
	c := New(1, time.Second)
	ctx := context.Background()

	first, err := c.Acquire(ctx, "prog")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		first.Release()
	}()

	// The waiter gets the slot well inside its budget.
	second, err := c.Acquire(ctx, "prog")
	if err != nil {
		t.Fatalf("waiter rejected: %v", err)
	}
	second.Release()
}

func TestProgramsAreIndependent(t *testing.T) {
	c := New(1, 10*time.Millisecond)
	ctx := context.Background()

	tk, err := c.Acquire(ctx, "busy")
	if err != nil {
		t.Fatal(err)
	}
	defer tk.Release()

	// A different program's ceiling is unaffected.
	other, err := c.Acquire(ctx, "idle")
	if err != nil {
		t.Fatalf("independent program rejected: %v", err)
	}
	other.Release()
}

func TestContextCancellationWinsOverRejection(t *testing.T) {
	c := New(1, time.Minute)
	tk, err := c.Acquire(context.Background(), "prog")
	if err != nil {
		t.Fatal(err)
	}
	defer tk.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = c.Acquire(ctx, "prog")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := New(1, 10*time.Millisecond)
	tk, err := c.Acquire(context.Background(), "prog")
	if err != nil {
		t.Fatal(err)
	}
	tk.Release()
	tk.Release() // must not over-release the semaphore

	if got := c.InFlight("prog"); got != 0 {
		t.Fatalf("in flight = %d", got)
	}

	// Capacity is still exactly one.
	tk2, err := c.Acquire(context.Background(), "prog")
	if err != nil {
		t.Fatal(err)
	}
	defer tk2.Release()
	if _, err := c.Acquire(context.Background(), "prog"); err == nil {
		t.Fatal("over-released semaphore admitted beyond capacity")
	}
}

func TestConcurrencyNeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	c := New(capacity, 500*time.Millisecond)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := c.Acquire(context.Background(), "prog")
			if err != nil {
				return
			}
			defer tk.Release()

			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	if peak.Load() > capacity {
		t.Fatalf("observed %d concurrent holders, capacity %d", peak.Load(), capacity)
	}
}

func TestDefaultsAndClamp(t *testing.T) {
	c := New(0, 0)
	if c.capacity != DefaultCapacity {
		t.Fatalf("capacity default = %d", c.capacity)
	}
	if c.waitBudget != DefaultWaitBudget {
		t.Fatalf("wait budget default = %s", c.waitBudget)
	}

	c = New(5, time.Hour)
	if c.waitBudget != MaxWaitBudget {
		t.Fatalf("wait budget not clamped: %s", c.waitBudget)
	}
}
