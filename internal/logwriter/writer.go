// Package logwriter persists one JSON record per completed request to
// per-program append-only files.
//
// Producers never touch file handles: they enqueue (program, record)
// pairs and a single consumer goroutine owns every handle, which is
// what guarantees atomic, non-interleaved lines without per-write
// locking. Durability is best-effort — a full queue drops the record
// and counts it, it never fails the request.
package logwriter

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// maxBatch bounds how many queued records one flush writes.
const maxBatch = 50

type entry struct {
	program string
	record  []byte // serialized JSON, no trailing newline
}

// Writer is the single-consumer log drain.
type Writer struct {
	dir    string
	logger *slog.Logger

	queue   chan entry
	files   map[string]*os.File
	dropped atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a writer for dir, creating it if needed. queueSize <= 0
// defaults to 1024.
func New(dir string, queueSize int, logger *slog.Logger) (*Writer, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{
		dir:    dir,
		logger: logger,
		queue:  make(chan entry, queueSize),
		files:  make(map[string]*os.File),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the consumer goroutine. The consumer runs until
// Drain is called; requests completing during process shutdown still
// get their records flushed.
func (w *Writer) Start() {
	go w.loop()
}

// Enqueue hands a record to the consumer. Returns false if the queue
// is full and the record was dropped.
func (w *Writer) Enqueue(program string, record []byte) bool {
	select {
	case w.queue <- entry{program: program, record: record}:
		return true
	default:
		n := w.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			w.logger.Warn("logwriter: queue full, dropping records", "dropped_total", n)
		}
		return false
	}
}

// Dropped returns the total number of records dropped on enqueue.
// Non-zero means data loss in the durable log, never in responses.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

func (w *Writer) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			w.drainRemaining()
			w.closeFiles()
			return
		case e := <-w.queue:
			w.flush(w.batchFrom(e))
		}
	}
}

// batchFrom grabs up to maxBatch-1 additional queued entries without
// blocking, so bursts amortize file writes.
func (w *Writer) batchFrom(first entry) []entry {
	batch := append(make([]entry, 0, maxBatch), first)
	for len(batch) < maxBatch {
		select {
		case e := <-w.queue:
			batch = append(batch, e)
		default:
			return batch
		}
	}
	return batch
}

func (w *Writer) drainRemaining() {
	for {
		select {
		case e := <-w.queue:
			w.flush(w.batchFrom(e))
		default:
			return
		}
	}
}

// flush groups a batch by program and appends one line per record.
func (w *Writer) flush(batch []entry) {
	grouped := make(map[string][][]byte)
	for _, e := range batch {
		grouped[e.program] = append(grouped[e.program], e.record)
	}
	for program, records := range grouped {
		f, err := w.fileFor(program)
		if err != nil {
			w.logger.Error("logwriter: open log file", "program", program, "error", err)
			continue
		}
		buf := make([]byte, 0, 256*len(records))
		for _, rec := range records {
			buf = append(buf, rec...)
			buf = append(buf, '\n')
		}
		if _, err := f.Write(buf); err != nil {
			w.logger.Error("logwriter: write", "program", program, "error", err)
		}
	}
}

func (w *Writer) fileFor(program string) (*os.File, error) {
	if f, ok := w.files[program]; ok {
		return f, nil
	}
	f, err := os.OpenFile(w.Path(program), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w.files[program] = f
	return f, nil
}

func (w *Writer) closeFiles() {
	for program, f := range w.files {
		if err := f.Close(); err != nil {
			w.logger.Warn("logwriter: close", "program", program, "error", err)
		}
	}
	w.files = make(map[string]*os.File)
}

// Path returns the log file path for a program.
func (w *Writer) Path(program string) string {
	return filepath.Join(w.dir, program+".log")
}

// Drain stops the consumer, flushing everything still queued, and
// waits for it to finish up to ctx's deadline.
func (w *Writer) Drain(ctx context.Context) {
	w.stopOnce.Do(func() { close(w.stop) })
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("logwriter: drain timed out")
	}
}
