package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes pending log records on shutdown.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous logging.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples the coordinating goroutines from log I/O: Handle
// enqueues onto a bounded channel and a small worker pool writes through
// the inner handler. When the channel is full the record is dropped and
// counted; an advisory request never waits on a slow log sink.
type AsyncHandler struct {
	inner slog.Handler
	ch    chan slog.Record
	wg    *sync.WaitGroup
	drops *atomic.Int64
}

// NewAsyncHandler starts workers goroutines draining a channel of the
// given capacity into inner. Call Close to flush on shutdown.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner: inner,
		ch:    make(chan slog.Record, chanSize),
		wg:    &sync.WaitGroup{},
		drops: &atomic.Int64{},
	}
	for range workers {
		h.wg.Add(1)
		go h.drain()
	}
	return h
}

func (h *AsyncHandler) drain() {
	defer h.wg.Done()
	for rec := range h.ch {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it if the channel is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.ch <- rec:
	default:
		h.drops.Add(1)
	}
	return nil
}

// WithAttrs wraps the derived inner handler; the channel, worker pool,
// and drop counter stay shared so Close flushes every derivation.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{
		inner: h.inner.WithAttrs(attrs),
		ch:    h.ch,
		wg:    h.wg,
		drops: h.drops,
	}
}

// WithGroup wraps the derived inner handler; shared state as in WithAttrs.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{
		inner: h.inner.WithGroup(name),
		ch:    h.ch,
		wg:    h.wg,
		drops: h.drops,
	}
}

// DroppedCount returns how many records were shed under backpressure.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.drops.Load()
}

// Close stops accepting records and blocks until the workers have
// written everything still queued.
func (h *AsyncHandler) Close() {
	close(h.ch)
	h.wg.Wait()
}
