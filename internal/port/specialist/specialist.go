// Package specialist defines the specialist capability port and its
// registry. Specialists are narrowly-scoped analysis units invoked
// concurrently by the orchestrator; each is a pure function of the query
// and a context snapshot.
package specialist

import (
	"context"

	"github.com/finsight-ai/finsight/internal/domain/advice"
)

// Specialist is the port interface for one analysis capability.
type Specialist interface {
	// Tag returns the capability identifier from the closed enum.
	Tag() advice.SpecialistTag

	// Invoke runs the analysis against the query and snapshot. The ctx
	// carries the per-specialist timeout; a returned error is recorded
	// as a degraded result, never propagated as a burst failure.
	Invoke(ctx context.Context, query string, snap advice.ContextSnapshot) (*advice.SpecialistResult, error)
}
