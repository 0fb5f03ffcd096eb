package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsight-ai/finsight/internal/domain/trace"
)

// TraceStore implements the trace store port on a pgx pool.
type TraceStore struct {
	pool *pgxpool.Pool
}

// NewTraceStore creates a TraceStore backed by the given pool.
func NewTraceStore(pool *pgxpool.Pool) *TraceStore {
	return &TraceStore{pool: pool}
}

// Append persists one trace record. ON CONFLICT DO NOTHING makes the
// write idempotent on (correlation_id, hop_index), so at-least-once
// delivery from the recorder never duplicates hops.
func (s *TraceStore) Append(ctx context.Context, rec *trace.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trace_records
			(correlation_id, hop_index, component, detail, input_digest, output_digest, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (correlation_id, hop_index) DO NOTHING`,
		rec.CorrelationID, rec.HopIndex, string(rec.Component), rec.Detail,
		rec.InputDigest, rec.OutputDigest, rec.LatencyMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append trace record %s/%d: %w", rec.CorrelationID, rec.HopIndex, err)
	}
	return nil
}

// GetTrace returns all records for a correlation id ordered by hop index.
func (s *TraceStore) GetTrace(ctx context.Context, correlationID string) ([]trace.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT correlation_id, hop_index, component, detail, input_digest, output_digest, latency_ms, created_at
		FROM trace_records
		WHERE correlation_id = $1
		ORDER BY hop_index`,
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query trace %s: %w", correlationID, err)
	}
	defer rows.Close()

	var records []trace.Record
	for rows.Next() {
		var rec trace.Record
		var component string
		if err := rows.Scan(
			&rec.CorrelationID, &rec.HopIndex, &component, &rec.Detail,
			&rec.InputDigest, &rec.OutputDigest, &rec.LatencyMS, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trace record: %w", err)
		}
		rec.Component = trace.Component(component)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace records: %w", err)
	}
	return records, nil
}
