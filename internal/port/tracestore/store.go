// Package tracestore defines the port interface for the append-only
// trace record store.
package tracestore

import (
	"context"

	"github.com/finsight-ai/finsight/internal/domain/trace"
)

// Store is the port interface for persisting and querying trace records.
type Store interface {
	// Append persists one record. Implementations must be idempotent on
	// (correlation_id, hop_index) so fire-and-forget retries are safe.
	Append(ctx context.Context, rec *trace.Record) error

	// GetTrace returns all records for a correlation id ordered by hop index.
	GetTrace(ctx context.Context, correlationID string) ([]trace.Record, error)
}
