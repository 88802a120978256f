package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// writeOp is a line to emit or, when line is nil, a flush barrier whose
// result is delivered on ack.
type writeOp struct {
	line []byte
	ack  chan error
}

// asyncWriter decouples log producers from sink latency: lines are queued
// and a single goroutine fans them out to every buffered sink.
type asyncWriter struct {
	ops  chan writeOp
	done chan struct{}

	closeOnce sync.Once

	mu    sync.Mutex
	sinks []*bufio.Writer
	err   error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	w := &asyncWriter{
		ops:  make(chan writeOp, 256),
		done: make(chan struct{}),
	}
	for _, out := range writers {
		if out != nil {
			w.sinks = append(w.sinks, bufio.NewWriterSize(out, bufSize))
		}
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for op := range w.ops {
		if op.ack != nil {
			op.ack <- w.syncSinks()
			continue
		}
		if len(op.line) == 0 {
			continue
		}
		if err := w.emit(op.line); err != nil {
			w.recordErr(err)
		}
	}
	w.recordErr(w.syncSinks())
}

// Write queues one formatted line. It blocks only when the queue is full,
// trading producer latency for never dropping a line.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.firstErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	line := make([]byte, len(p))
	copy(line, p)
	w.ops <- writeOp{line: line}
	return nil
}

// Flush blocks until everything queued so far has reached the sinks.
func (w *asyncWriter) Flush() error {
	if err := w.firstErr(); err != nil {
		return err
	}
	ack := make(chan error, 1)
	w.ops <- writeOp{ack: ack}
	return <-ack
}

// Close stops the writer after draining the queue.
func (w *asyncWriter) Close() error {
	w.closeOnce.Do(func() { close(w.ops) })
	<-w.done
	return w.firstErr()
}

func (w *asyncWriter) emit(line []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sink := range w.sinks {
		if _, err := sink.Write(line); err != nil {
			return err
		}
		if err := sink.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *asyncWriter) syncSinks() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	for _, sink := range w.sinks {
		if err := sink.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *asyncWriter) firstErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *asyncWriter) recordErr(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
