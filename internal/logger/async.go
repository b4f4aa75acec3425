package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and releases a logging sink.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the derived handler that must format it, so
// attributes added through With survive the hop to a worker.
type entry struct {
	handler slog.Handler
	rec     slog.Record
}

// asyncQueue is shared by an AsyncHandler and every handler derived from it.
type asyncQueue struct {
	ch        chan entry
	wg        sync.WaitGroup
	dropped   atomic.Int64
	closeOnce sync.Once
}

// AsyncHandler wraps an slog.Handler with a buffered channel and worker pool
// so the executor and coordination loops never block on log I/O.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	q := &asyncQueue{ch: make(chan entry, chanSize)}
	for range workers {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for e := range q.ch {
		_ = e.handler.Handle(context.Background(), e.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Records below ERROR are dropped when the
// channel is full; ERROR records (escalations, emergency trips) wait for room.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	e := entry{handler: h.inner, rec: rec.Clone()}
	if rec.Level >= slog.LevelError {
		select {
		case h.q.ch <- e:
		case <-ctx.Done():
			h.q.dropped.Add(1)
		}
		return nil
	}
	select {
	case h.q.ch <- e:
	default:
		h.q.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler on the same queue whose records carry attrs.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup returns a handler on the same queue that nests under name.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close stops accepting records and waits for the workers to drain. It is
// safe to call more than once.
func (h *AsyncHandler) Close() {
	h.q.closeOnce.Do(func() {
		close(h.q.ch)
		h.q.wg.Wait()
	})
}
