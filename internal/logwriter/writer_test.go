package logwriter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWriter(t *testing.T, queueSize int) *Writer {
	t.Helper()
	w, err := New(t.TempDir(), queueSize, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		t.Fatal(err)
	}
	return lines
}

func TestWritesOneJSONLinePerRecord(t *testing.T) {
	w := newTestWriter(t, 64)
	w.Start()

	const n = 20
	for i := 0; i < n; i++ {
		rec, _ := json.Marshal(map[string]any{"seq": i, "success": true})
		if !w.Enqueue("summarize", rec) {
			t.Fatalf("enqueue %d rejected", i)
		}
	}
	w.Drain(context.Background())

	lines := readLines(t, w.Path("summarize"))
	if len(lines) != n {
		t.Fatalf("got %d lines, want %d", len(lines), n)
	}
	for i, line := range lines {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if int(parsed["seq"].(float64)) != i {
			t.Fatalf("line %d out of order: %v", i, parsed["seq"])
		}
	}
}

func TestRecordsRoutedByProgram(t *testing.T) {
	w := newTestWriter(t, 64)
	w.Start()

	for i := 0; i < 5; i++ {
		w.Enqueue("alpha", []byte(fmt.Sprintf(`{"program":"alpha","seq":%d}`, i)))
		w.Enqueue("beta", []byte(fmt.Sprintf(`{"program":"beta","seq":%d}`, i)))
	}
	w.Drain(context.Background())

	for _, program := range []string{"alpha", "beta"} {
		lines := readLines(t, w.Path(program))
		if len(lines) != 5 {
			t.Fatalf("%s: got %d lines, want 5", program, len(lines))
		}
		for _, line := range lines {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				t.Fatal(err)
			}
			if parsed["program"] != program {
				t.Fatalf("record %q landed in %s's file", line, program)
			}
		}
	}
}

func TestDrainFlushesQueuedBacklog(t *testing.T) {
	// Enqueue before Start so everything sits in the queue, then rely
	// on Drain's final flush.
	w := newTestWriter(t, 256)
	for i := 0; i < 100; i++ {
		w.Enqueue("backlog", []byte(`{"ok":true}`))
	}
	w.Start()
	w.Drain(context.Background())

	lines := readLines(t, w.Path("backlog"))
	if len(lines) != 100 {
		t.Fatalf("got %d lines after drain, want 100", len(lines))
	}
}

func TestFullQueueDropsAndCounts(t *testing.T) {
	// No consumer running: the queue fills and the overflow is dropped.
	w := newTestWriter(t, 4)

	accepted := 0
	for i := 0; i < 10; i++ {
		if w.Enqueue("busy", []byte(`{}`)) {
			accepted++
		}
	}
	if accepted != 4 {
		t.Fatalf("accepted %d records on a queue of 4", accepted)
	}
	if got := w.Dropped(); got != 6 {
		t.Fatalf("Dropped() = %d, want 6", got)
	}
}

func TestConsumerRunsUntilDrain(t *testing.T) {
	// The consumer must outlive any request context: records enqueued
	// after earlier ones have already been flushed still get written,
	// and only Drain stops the loop.
	w := newTestWriter(t, 64)
	w.Start()

	w.Enqueue("late", []byte(`{"seq":0}`))
	waitFor(t, func() bool {
		_, err := os.Stat(w.Path("late"))
		return err == nil
	})

	w.Enqueue("late", []byte(`{"seq":1}`))
	w.Drain(context.Background())

	lines := readLines(t, w.Path("late"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDrainWithoutStartReturns(t *testing.T) {
	w := newTestWriter(t, 4)
	// Must not hang when the consumer was never launched.
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	w.Drain(ctx)
}
