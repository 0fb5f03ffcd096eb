package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/stream"
)

// SessionManager owns all live stream sessions. It implements the
// broadcast publisher port: orchestration publishes into a session's
// ordered buffer and never blocks on client delivery. Idle sessions are
// garbage-collected after the configured TTL.
type SessionManager struct {
	cfg config.Stream

	mu       sync.RWMutex
	sessions map[string]*stream.Session
}

// NewSessionManager creates a SessionManager from stream config.
func NewSessionManager(cfg config.Stream) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		sessions: make(map[string]*stream.Session),
	}
}

// Create registers a new session bound to a correlation id.
func (m *SessionManager) Create(correlationID string) *stream.Session {
	s := stream.NewSession(uuid.NewString(), correlationID)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	slog.Debug("stream session created", "session_id", s.ID, "correlation_id", correlationID)
	return s
}

// Get returns a live session, or ErrSessionExpired when it is gone.
func (m *SessionManager) Get(sessionID string) (*stream.Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, stream.ErrSessionExpired
	}
	return s, nil
}

// ByCorrelation returns the session for a correlation id, if still live.
func (m *SessionManager) ByCorrelation(correlationID string) (*stream.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.CorrelationID == correlationID {
			return s, true
		}
	}
	return nil, false
}

// Publish appends an event to the session stream. Implements the
// broadcast.Publisher port. Publishing to a missing or closed session is
// logged and dropped; the orchestration path never fails on delivery.
func (m *SessionManager) Publish(_ context.Context, sessionID string, eventType stream.EventType, payload any) {
	s, err := m.Get(sessionID)
	if err != nil {
		slog.Warn("publish to unknown session", "session_id", sessionID, "type", eventType)
		return
	}

	if _, err := s.Append(eventType, payload); err != nil {
		slog.Warn("publish failed", "session_id", sessionID, "type", eventType, "error", err)
	}
}

// BufferSize returns the configured subscriber channel capacity.
func (m *SessionManager) BufferSize() int {
	return m.cfg.BufferSize
}

// Run garbage-collects expired sessions until ctx is cancelled.
func (m *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *SessionManager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if s.Expired(m.cfg.SessionIdleTTL) {
			delete(m.sessions, id)
			slog.Debug("stream session expired", "session_id", id)
		}
	}
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
