package service

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/finsight-ai/finsight/internal/domain/advice"
)

// Gate failure modes.
var (
	ErrGateDisabled     = errors.New("action gate has no secret configured")
	ErrGateUnauthorized = errors.New("action authorization rejected")
	ErrActionNotFound   = errors.New("no proposed action for correlation id")
)

// ActionGate holds every proposed action in a pending state. The engine
// never executes an action itself; an operator presents the shared
// secret to mark one authorized, and execution stays outside this
// process either way.
type ActionGate struct {
	secretHash []byte

	mu      sync.Mutex
	pending map[string]*PendingAction
	now     func() time.Time
}

// PendingAction is a proposed action awaiting operator review.
type PendingAction struct {
	CorrelationID string                `json:"correlation_id"`
	Action        advice.ProposedAction `json:"action"`
	ProposedAt    time.Time             `json:"proposed_at"`
	Authorized    bool                  `json:"authorized"`
	AuthorizedAt  time.Time             `json:"authorized_at,omitempty"`
}

// NewActionGate creates a gate. secretHash is a bcrypt hash produced by
// the admin command; empty means authorization is disabled entirely.
func NewActionGate(secretHash string) *ActionGate {
	return &ActionGate{
		secretHash: []byte(secretHash),
		pending:    make(map[string]*PendingAction),
		now:        time.Now,
	}
}

// Propose registers an action for the correlation id. Re-proposing
// replaces the earlier pending entry.
func (g *ActionGate) Propose(correlationID string, action advice.ProposedAction) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[correlationID] = &PendingAction{
		CorrelationID: correlationID,
		Action:        action,
		ProposedAt:    g.now(),
	}
}

// Authorize marks the pending action approved if the secret matches.
// A wrong secret is logged and rejected; there is no lockout, the
// bcrypt cost is the rate limit.
func (g *ActionGate) Authorize(correlationID, secret string) (*PendingAction, error) {
	if len(g.secretHash) == 0 {
		return nil, ErrGateDisabled
	}
	if err := bcrypt.CompareHashAndPassword(g.secretHash, []byte(secret)); err != nil {
		slog.Warn("action authorization rejected", "correlation_id", correlationID)
		return nil, ErrGateUnauthorized
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	pa, ok := g.pending[correlationID]
	if !ok {
		return nil, ErrActionNotFound
	}
	pa.Authorized = true
	pa.AuthorizedAt = g.now()
	cp := *pa
	return &cp, nil
}

// Get returns a copy of the pending action for the correlation id.
func (g *ActionGate) Get(correlationID string) (*PendingAction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pa, ok := g.pending[correlationID]
	if !ok {
		return nil, ErrActionNotFound
	}
	cp := *pa
	return &cp, nil
}

// Pending lists copies of all actions still awaiting authorization.
func (g *ActionGate) Pending() []PendingAction {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingAction, 0, len(g.pending))
	for _, pa := range g.pending {
		if !pa.Authorized {
			out = append(out, *pa)
		}
	}
	return out
}
