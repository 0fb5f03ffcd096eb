// Package advice defines the domain entities for one advisory request:
// the decision context, specialist results, the stitched reasoning
// trajectory, the proposer/critic debate, and the confidence score.
package advice

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors.
var (
	ErrAborted              = errors.New("orchestration aborted")
	ErrAllSpecialistsFailed = errors.New("all specialists failed")
	ErrUnknownSpecialist    = errors.New("unknown specialist tag")
)

// SpecialistTag identifies one analysis capability. Closed enum; intent
// classification results are validated against it before dispatch.
type SpecialistTag string

const (
	TagQuant     SpecialistTag = "quant"
	TagSentiment SpecialistTag = "sentiment"
	TagForecast  SpecialistTag = "forecast"
	TagResearch  SpecialistTag = "research"
	TagWhale     SpecialistTag = "whale"
)

// AllTags lists every registered specialist capability.
func AllTags() []SpecialistTag {
	return []SpecialistTag{TagQuant, TagSentiment, TagForecast, TagResearch, TagWhale}
}

// ValidTag reports whether tag belongs to the closed specialist enum.
func ValidTag(tag SpecialistTag) bool {
	switch tag {
	case TagQuant, TagSentiment, TagForecast, TagResearch, TagWhale:
		return true
	}
	return false
}

// Intent is the typed result of intent classification: the set of
// specialists to invoke plus the symbols the query is about.
type Intent struct {
	Tags    []SpecialistTag `json:"tags"`
	Symbols []string        `json:"symbols,omitempty"`
}

// Validate drops unknown tags and errors if nothing valid remains.
func (in *Intent) Validate() error {
	valid := in.Tags[:0]
	for _, tag := range in.Tags {
		if ValidTag(tag) {
			valid = append(valid, tag)
		}
	}
	in.Tags = valid
	if len(in.Tags) == 0 {
		return fmt.Errorf("intent: %w", ErrUnknownSpecialist)
	}
	return nil
}

// SpecialistResult is the immutable outcome of one specialist invocation.
// Error is populated instead of aborting the burst when a specialist fails.
type SpecialistResult struct {
	Tag       SpecialistTag  `json:"tag"`
	Payload   map[string]any `json:"payload,omitempty"`
	Narrative string         `json:"narrative,omitempty"`
	LatencyMS int64          `json:"latency_ms"`
	Error     string         `json:"error,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r *SpecialistResult) OK() bool { return r.Error == "" }

// SourceModel identifies which model produced a reasoning segment.
type SourceModel string

const (
	ModelSmall SourceModel = "small"
	ModelLarge SourceModel = "large"
)

// ReasoningSegment is one stitched span of the drafted thesis. Segments
// are append-only; order is generation order.
type ReasoningSegment struct {
	Index         int         `json:"index"`
	Text          string      `json:"text"`
	SourceModel   SourceModel `json:"source_model"`
	MeanEntropy   float64     `json:"mean_entropy"`
	LowConfidence bool        `json:"low_confidence,omitempty"`
}

// Speaker identifies which side of the debate produced a turn.
type Speaker string

const (
	SpeakerProposer Speaker = "proposer"
	SpeakerCritic   Speaker = "critic"
)

// Verdict is the critic's judgement on the current thesis.
type Verdict string

const (
	VerdictApprove Verdict = "approve"
	VerdictFlag    Verdict = "flag"
	VerdictRefute  Verdict = "refute"
)

// ValidVerdict reports whether v is one of the three allowed verdicts.
func ValidVerdict(v Verdict) bool {
	return v == VerdictApprove || v == VerdictFlag || v == VerdictRefute
}

// DebateTurn is one verdict-bearing entry in the bounded critic
// exchange. The proposer's side of each round is carried by the
// reasoning segments, not recorded as a turn.
type DebateTurn struct {
	Index     int     `json:"index"`
	Speaker   Speaker `json:"speaker"`
	Verdict   Verdict `json:"verdict,omitempty"` // critic turns only
	Rationale string  `json:"rationale"`
}

// ConfidenceScore is the deterministic scalar derived from the debate
// outcome, with its term breakdown. Computed once at debate termination.
type ConfidenceScore struct {
	Value               float64 `json:"value"` // in [0,1]
	SpecialistAgreement float64 `json:"specialist_agreement"`
	DebateStability     float64 `json:"debate_stability"`
	RouterConfidence    float64 `json:"router_confidence"`
	Capped              bool    `json:"capped,omitempty"` // debate exhausted or budget expired
}

// ActionKind classifies a proposed real-world side effect.
type ActionKind string

const (
	ActionBuy   ActionKind = "buy"
	ActionSell  ActionKind = "sell"
	ActionHold  ActionKind = "hold"
	ActionWatch ActionKind = "watch"
)

// ProposedAction is an advisory-only action suggestion. The core never
// executes it; execution requires the external authorization gate.
type ProposedAction struct {
	Kind      ActionKind `json:"kind"`
	Symbol    string     `json:"symbol,omitempty"`
	Rationale string     `json:"rationale"`
}

// State is the orchestrator phase for one request.
type State string

const (
	StateClassifying State = "classifying"
	StateGathering   State = "gathering"
	StateDrafting    State = "drafting"
	StateDebating    State = "debating"
	StateFinalizing  State = "finalizing"
	StateDone        State = "done"
	StateAborted     State = "aborted"
)

// Terminal reports whether the state is a final one.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Decision is the immutable final output of one advisory request.
type Decision struct {
	CorrelationID string             `json:"correlation_id"`
	Query         string             `json:"query"`
	Thesis        string             `json:"thesis"`
	Segments      []ReasoningSegment `json:"segments"`
	Specialists   []SpecialistResult `json:"specialists"`
	Debate        []DebateTurn       `json:"debate"`
	Confidence    ConfidenceScore    `json:"confidence"`
	Action        *ProposedAction    `json:"action,omitempty"`
	Disagreement  string             `json:"disagreement,omitempty"` // unresolved critic objection, verbatim
	Degraded      bool               `json:"degraded,omitempty"`     // fewer than half the specialists succeeded
	CreatedAt     time.Time          `json:"created_at"`
}

// DecisionContext accumulates one request's state across orchestrator
// phases. It is owned exclusively by the coordinating goroutine for the
// request lifetime and must never be shared across requests; each phase
// writes its section exactly once and treats prior sections as read-only.
type DecisionContext struct {
	CorrelationID string
	Query         string
	AccountScope  string
	Intent        Intent
	Specialists   []SpecialistResult
	Segments      []ReasoningSegment
	Thesis        string
	Debate        []DebateTurn
	Confidence    ConfidenceScore
	Degraded      bool
	StartedAt     time.Time
}

// ContextSnapshot is the read-only view handed to specialists and the
// critic. It carries value copies so callees cannot mutate the context.
type ContextSnapshot struct {
	CorrelationID string             `json:"correlation_id"`
	Query         string             `json:"query"`
	AccountScope  string             `json:"account_scope,omitempty"`
	Symbols       []string           `json:"symbols,omitempty"`
	Specialists   []SpecialistResult `json:"specialists,omitempty"`
	Thesis        string             `json:"thesis,omitempty"`
}

// Snapshot returns the current read-only view of the context.
func (dc *DecisionContext) Snapshot() ContextSnapshot {
	snap := ContextSnapshot{
		CorrelationID: dc.CorrelationID,
		Query:         dc.Query,
		AccountScope:  dc.AccountScope,
		Thesis:        dc.Thesis,
	}
	snap.Symbols = append(snap.Symbols, dc.Intent.Symbols...)
	snap.Specialists = append(snap.Specialists, dc.Specialists...)
	return snap
}

// SucceededCount returns how many specialists completed without error.
func (dc *DecisionContext) SucceededCount() int {
	n := 0
	for i := range dc.Specialists {
		if dc.Specialists[i].OK() {
			n++
		}
	}
	return n
}

// Finalize seals the context into an immutable Decision.
func (dc *DecisionContext) Finalize(disagreement string, action *ProposedAction, now time.Time) *Decision {
	return &Decision{
		CorrelationID: dc.CorrelationID,
		Query:         dc.Query,
		Thesis:        dc.Thesis,
		Segments:      dc.Segments,
		Specialists:   dc.Specialists,
		Debate:        dc.Debate,
		Confidence:    dc.Confidence,
		Action:        action,
		Disagreement:  disagreement,
		Degraded:      dc.Degraded,
		CreatedAt:     now,
	}
}
