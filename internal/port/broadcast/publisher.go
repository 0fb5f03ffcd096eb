// Package broadcast defines the port for publishing stream events to the
// session owning one advisory request.
package broadcast

import (
	"context"

	"github.com/finsight-ai/finsight/internal/domain/stream"
)

// Publisher appends a typed event to a session's ordered stream.
// Implementations must preserve append order per session and must not
// block the orchestration path.
type Publisher interface {
	Publish(ctx context.Context, sessionID string, eventType stream.EventType, payload any)
}
