package bus

import (
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/ashita-ai/enso/internal/model"
)

func event(typ model.EventType) model.Event {
	return model.Event{Type: typ, CallID: uuid.New()}
}

func TestEmitPreservesOrder(t *testing.T) {
	b := New()
	types := []model.EventType{
		model.EventUnitStart, model.EventToolStart,
		model.EventToolEnd, model.EventUnitEnd,
	}
	for _, typ := range types {
		b.Emit(event(typ))
	}

	drained := b.Drain()
	if len(drained) != len(types) {
		t.Fatalf("expected %d events, got %d", len(types), len(drained))
	}
	for i, typ := range types {
		if drained[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, drained[i].Type)
		}
	}
}

func TestDrainReturnsCopy(t *testing.T) {
	b := New()
	b.Emit(event(model.EventUnitStart))

	first := b.Drain()
	b.Emit(event(model.EventUnitEnd))

	if len(first) != 1 {
		t.Fatalf("earlier drain mutated, len=%d", len(first))
	}
	if len(b.Drain()) != 2 {
		t.Fatal("second emit lost")
	}
}

func TestSubscribeReplaysBacklogThenLive(t *testing.T) {
	b := New()
	b.Emit(event(model.EventUnitStart))
	b.Emit(event(model.EventToolStart))

	ch := b.Subscribe(8)
	b.Emit(event(model.EventToolEnd))
	b.Emit(event(model.EventUnitEnd))
	b.Close()

	var got []model.EventType
	for ev := range ch {
		got = append(got, ev.Type)
	}
	want := []model.EventType{
		model.EventUnitStart, model.EventToolStart,
		model.EventToolEnd, model.EventUnitEnd,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	b := New()
	_ = b.Subscribe(0) // nobody ever reads

	done := make(chan struct{})
	go func() {
		for range 100 {
			b.Emit(event(model.EventToolStart))
		}
		close(done)
	}()
	<-done

	if b.Len() != 100 {
		t.Fatalf("backlog short: %d", b.Len())
	}
}

func TestTapSeesEveryEventInOrder(t *testing.T) {
	b := New()
	var tapped []model.EventType
	b.SetTap(func(ev model.Event) { tapped = append(tapped, ev.Type) })

	// A full, never-read subscriber drops live copies; the tap must not.
	_ = b.Subscribe(0)

	for range 50 {
		b.Emit(event(model.EventToolStart))
		b.Emit(event(model.EventToolEnd))
	}

	if len(tapped) != 100 {
		t.Fatalf("tap missed events: %d of 100", len(tapped))
	}
	for i, typ := range tapped {
		want := model.EventToolStart
		if i%2 == 1 {
			want = model.EventToolEnd
		}
		if typ != want {
			t.Fatalf("tap order broken at %d: %s", i, typ)
		}
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	b := New()
	b.Emit(event(model.EventUnitStart))
	b.Close()
	b.Emit(event(model.EventUnitEnd))

	if b.Len() != 1 {
		t.Fatalf("post-close emit recorded, len=%d", b.Len())
	}
	b.Close() // idempotent
}

func TestSubscribeAfterCloseGetsClosedBacklog(t *testing.T) {
	b := New()
	b.Emit(event(model.EventUnitStart))
	b.Close()

	ch := b.Subscribe(4)
	var n int
	for range ch {
		n++
	}
	if n != 1 {
		t.Fatalf("expected backlog of 1, got %d", n)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(4)
	b.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Fatal("channel still open after Unsubscribe")
	}
	b.Emit(event(model.EventUnitStart)) // must not panic on closed sub
}

func TestConcurrentEmitters(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				b.Emit(event(model.EventToolStart))
			}
		}()
	}
	wg.Wait()

	if b.Len() != 800 {
		t.Fatalf("lost events under concurrency: %d", b.Len())
	}
}
