package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finsight-ai/finsight/internal/domain/trace"
	"github.com/finsight-ai/finsight/internal/port/messagequeue"
	"github.com/finsight-ai/finsight/internal/port/tracestore"
)

// TraceRecorder persists trace records off the response path. Records are
// queued on a buffered channel and written by a background worker; a full
// queue or a failed write degrades observability, never the request.
//
// When a message queue is attached, records are additionally published to
// the trace subject so remote consumers can mirror the trace stream.
type TraceRecorder struct {
	store tracestore.Store
	queue messagequeue.Queue // optional

	ch       chan trace.Record
	wg       sync.WaitGroup
	dropped  atomic.Int64
	failures atomic.Int64
	closed   atomic.Bool
}

// NewTraceRecorder creates a recorder with the given queue depth and
// starts its writer worker.
func NewTraceRecorder(store tracestore.Store, queue messagequeue.Queue, depth int) *TraceRecorder {
	if depth < 1 {
		depth = 256
	}
	r := &TraceRecorder{
		store: store,
		queue: queue,
		ch:    make(chan trace.Record, depth),
	}
	r.wg.Add(1)
	go r.drain()
	return r
}

// Record enqueues one trace record. Fire-and-forget: drops when the
// queue is full rather than blocking the caller.
func (r *TraceRecorder) Record(rec trace.Record) {
	if r.closed.Load() {
		return
	}
	select {
	case r.ch <- rec:
	default:
		r.dropped.Add(1)
	}
}

func (r *TraceRecorder) drain() {
	defer r.wg.Done()

	for rec := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Append(ctx, &rec); err != nil {
			r.failures.Add(1)
			slog.Error("trace write failed",
				"correlation_id", rec.CorrelationID,
				"hop_index", rec.HopIndex,
				"error", err,
			)
		}

		if r.queue != nil {
			if data, err := json.Marshal(rec); err == nil {
				if err := r.queue.Publish(ctx, messagequeue.SubjectTraceAppend, data); err != nil {
					slog.Debug("trace publish failed", "error", err)
				}
			}
		}
		cancel()
	}
}

// GetTrace returns the persisted records for a correlation id, ordered
// by hop index.
func (r *TraceRecorder) GetTrace(ctx context.Context, correlationID string) ([]trace.Record, error) {
	return r.store.GetTrace(ctx, correlationID)
}

// DroppedCount returns how many records were dropped on a full queue.
func (r *TraceRecorder) DroppedCount() int64 { return r.dropped.Load() }

// FailureCount returns how many persisted writes failed.
func (r *TraceRecorder) FailureCount() int64 { return r.failures.Load() }

// Close flushes pending records and stops the worker.
func (r *TraceRecorder) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.ch)
		r.wg.Wait()
	}
}
