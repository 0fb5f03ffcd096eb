package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	fsotel "github.com/finsight-ai/finsight/internal/adapter/otel"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/advice"
	"github.com/finsight-ai/finsight/internal/domain/stream"
	"github.com/finsight-ai/finsight/internal/domain/trace"
	"github.com/finsight-ai/finsight/internal/port/broadcast"
	"github.com/finsight-ai/finsight/internal/port/gateway"
	"github.com/finsight-ai/finsight/internal/port/specialist"
)

// ErrUnknownRequest is returned when no request exists for a correlation id.
var ErrUnknownRequest = errors.New("unknown advisory request")

// Orchestrator coordinates one advisory request end to end: intent
// classification, the concurrent specialist burst, entropy-routed
// drafting, the bounded proposer/critic debate, and finalization. Each
// request runs on its own coordinating goroutine which exclusively owns
// the decision context.
type Orchestrator struct {
	cfg        *config.Orchestrator
	classifier *IntentClassifier
	registry   *specialist.Registry
	router     *StitchRouter
	critic     *Critic
	estimator  *ConfidenceEstimator
	sessions   *SessionManager
	publisher  broadcast.Publisher
	recorder   *TraceRecorder
	gate       *ActionGate
	metrics    *fsotel.Metrics

	mu       sync.RWMutex
	requests map[string]*requestStatus
}

type requestStatus struct {
	SessionID string
	State     advice.State
	Decision  *advice.Decision
	Err       string
	doneAt    time.Time // set when the request reaches a terminal state
}

// RequestStatus is the externally visible state of one request.
type RequestStatus struct {
	CorrelationID string           `json:"correlation_id"`
	SessionID     string           `json:"session_id"`
	State         advice.State     `json:"state"`
	Decision      *advice.Decision `json:"decision,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// StartResult identifies a newly accepted request.
type StartResult struct {
	CorrelationID string `json:"correlation_id"`
	SessionID     string `json:"session_id"`
}

// NewOrchestrator wires the orchestrator. publisher is usually the
// session manager itself; it is a separate parameter so event delivery
// stays behind the port.
func NewOrchestrator(
	cfg *config.Orchestrator,
	classifier *IntentClassifier,
	registry *specialist.Registry,
	router *StitchRouter,
	critic *Critic,
	estimator *ConfidenceEstimator,
	sessions *SessionManager,
	publisher broadcast.Publisher,
	recorder *TraceRecorder,
	gate *ActionGate,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		classifier: classifier,
		registry:   registry,
		router:     router,
		critic:     critic,
		estimator:  estimator,
		sessions:   sessions,
		publisher:  publisher,
		recorder:   recorder,
		gate:       gate,
		requests:   make(map[string]*requestStatus),
	}
}

// SetMetrics attaches pipeline metric instruments. Optional; without it
// the orchestrator records no metrics.
func (o *Orchestrator) SetMetrics(m *fsotel.Metrics) {
	o.metrics = m
}

// Start accepts an advisory request and runs it on a new coordinating
// goroutine, detached from the caller's context. The returned session id
// is the stream handle for the client.
func (o *Orchestrator) Start(query, accountScope, correlationID string) (*StartResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	sess := o.sessions.Create(correlationID)

	o.mu.Lock()
	o.requests[correlationID] = &requestStatus{
		SessionID: sess.ID,
		State:     advice.StateClassifying,
	}
	o.mu.Unlock()

	dc := &advice.DecisionContext{
		CorrelationID: correlationID,
		Query:         query,
		AccountScope:  accountScope,
		StartedAt:     time.Now(),
	}

	go o.run(dc, sess.ID)

	return &StartResult{CorrelationID: correlationID, SessionID: sess.ID}, nil
}

// Status returns the current state of a request.
func (o *Orchestrator) Status(correlationID string) (*RequestStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rs, ok := o.requests[correlationID]
	if !ok {
		return nil, ErrUnknownRequest
	}
	return &RequestStatus{
		CorrelationID: correlationID,
		SessionID:     rs.SessionID,
		State:         rs.State,
		Decision:      rs.Decision,
		Error:         rs.Err,
	}, nil
}

// run is the coordinating goroutine for one request. The wall-clock
// budget bounds everything from classification through finalization.
func (o *Orchestrator) run(dc *advice.DecisionContext, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.RequestBudget)
	defer cancel()

	ctx, span := fsotel.StartRequestSpan(ctx, dc.CorrelationID, sessionID)
	defer span.End()
	if o.metrics != nil {
		o.metrics.RequestsStarted.Add(ctx, 1)
	}

	log := slog.With("correlation_id", dc.CorrelationID)
	hops := &hopCounter{}

	// Classify.
	o.transition(ctx, dc.CorrelationID, sessionID, advice.StateClassifying, "")
	start := time.Now()
	intent, err := o.classifier.Classify(ctx, dc.Query)
	if err != nil {
		o.abort(ctx, dc, sessionID, hops, fmt.Errorf("classification: %w", err))
		return
	}
	dc.Intent = intent
	o.trace(dc.CorrelationID, hops.next(), trace.ComponentClassifier, tagsDetail(intent.Tags),
		dc.Query, fmt.Sprintf("%v", intent.Tags), start)

	// Gather: concurrent specialist burst.
	o.transition(ctx, dc.CorrelationID, sessionID, advice.StateGathering, tagsDetail(intent.Tags))
	o.gather(ctx, dc, sessionID, hops)

	succeeded := dc.SucceededCount()
	if succeeded == 0 {
		o.abort(ctx, dc, sessionID, hops, advice.ErrAllSpecialistsFailed)
		return
	}
	dc.Degraded = succeeded*2 < len(dc.Specialists)
	if dc.Degraded {
		log.Warn("running degraded", "succeeded", succeeded, "invoked", len(dc.Specialists))
	}

	// Draft and debate.
	approved, disagreement, routerConf, err := o.debate(ctx, dc, sessionID, hops)
	if err != nil {
		o.abort(ctx, dc, sessionID, hops, err)
		return
	}

	// Finalize.
	o.transition(ctx, dc.CorrelationID, sessionID, advice.StateFinalizing, "")
	dc.Confidence = o.estimator.Score(ConfidenceInput{
		SpecialistsOK:    succeeded,
		SpecialistsTotal: len(dc.Specialists),
		DebateTurns:      dc.Debate,
		RouterConfidence: routerConf,
		Approved:         approved,
		Degraded:         dc.Degraded,
	})

	action := deriveAction(dc)
	decision := dc.Finalize(disagreement, action, time.Now())
	if action != nil && o.gate != nil {
		o.gate.Propose(dc.CorrelationID, *action)
	}

	o.trace(dc.CorrelationID, hops.next(), trace.ComponentOrchestrator, "finalize",
		dc.Thesis, fmt.Sprintf("confidence=%.3f", decision.Confidence.Value), dc.StartedAt)

	// Publish before flipping state so a client seeing "done" always
	// finds the final event in the stream buffer.
	o.publisher.Publish(ctx, sessionID, stream.EventFinal, decision)
	o.setState(dc.CorrelationID, advice.StateDone, decision, "")
	if o.metrics != nil {
		o.metrics.RequestsDone.Add(ctx, 1)
		o.metrics.RequestDuration.Record(ctx, time.Since(dc.StartedAt).Seconds())
		o.metrics.ConfidenceScores.Record(ctx, decision.Confidence.Value)
	}
	log.Info("request done",
		"confidence", decision.Confidence.Value,
		"debate_turns", len(decision.Debate),
		"degraded", decision.Degraded,
		"elapsed", time.Since(dc.StartedAt).Round(time.Millisecond),
	)
}

// gather invokes the selected specialists concurrently, each under its
// own timeout. Failures become degraded results, never burst failures.
func (o *Orchestrator) gather(ctx context.Context, dc *advice.DecisionContext, sessionID string, hops *hopCounter) {
	specialists := o.registry.Select(dc.Intent.Tags)
	snap := dc.Snapshot()

	results := make([]advice.SpecialistResult, len(specialists))
	var wg sync.WaitGroup
	for i, sp := range specialists {
		wg.Add(1)
		go func(i int, sp specialist.Specialist) {
			defer wg.Done()
			results[i] = o.invokeOne(ctx, sp, dc.Query, snap)
		}(i, sp)
	}
	wg.Wait()

	// Publish in deterministic tag order after the burst; the stream is
	// ordered even though invocations were concurrent.
	for i := range results {
		dc.Specialists = append(dc.Specialists, results[i])
		o.publisher.Publish(ctx, sessionID, stream.EventSpecialistResult, results[i])
		o.trace(dc.CorrelationID, hops.next(), trace.ComponentSpecialist, string(results[i].Tag),
			dc.Query, specialistDigestInput(&results[i]),
			time.Now().Add(-time.Duration(results[i].LatencyMS)*time.Millisecond))
	}
}

func (o *Orchestrator) invokeOne(ctx context.Context, sp specialist.Specialist, query string, snap advice.ContextSnapshot) advice.SpecialistResult {
	spCtx, cancel := context.WithTimeout(ctx, o.cfg.SpecialistTimeout)
	defer cancel()

	spCtx, span := fsotel.StartSpecialistSpan(spCtx, snap.CorrelationID, string(sp.Tag()))
	defer span.End()

	start := time.Now()
	res, err := sp.Invoke(spCtx, query, snap)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		slog.Warn("specialist failed", "tag", sp.Tag(), "error", err)
		return advice.SpecialistResult{Tag: sp.Tag(), LatencyMS: latency, Error: err.Error()}
	}
	res.LatencyMS = latency
	return *res
}

// debate runs the bounded proposer/critic loop. Returns whether the
// critic approved, the unresolved objection if not, and the router's
// confidence for the surviving draft.
func (o *Orchestrator) debate(ctx context.Context, dc *advice.DecisionContext, sessionID string, hops *hopCounter) (bool, string, float64, error) {
	evidence := evidenceBlock(dc.Specialists)
	guidance := ""
	routerConf := 0.0

	for round := 0; round < o.cfg.MaxDebateTurns; round++ {
		o.transition(ctx, dc.CorrelationID, sessionID, advice.StateDrafting, fmt.Sprintf("round %d", round+1))

		draftCtx, draftSpan := fsotel.StartDraftSpan(ctx, dc.CorrelationID, round+1)
		draftStart := time.Now()
		draft, err := o.router.Draft(draftCtx, dc.Query, evidence, guidance, o.cfg.MaxSegments,
			func(seg advice.ReasoningSegment) {
				if o.metrics != nil && seg.SourceModel == advice.ModelLarge {
					o.metrics.Escalations.Add(ctx, 1)
				}
				o.publisher.Publish(ctx, sessionID, stream.EventReasoningSegment, seg)
			})
		draftSpan.End()
		if err != nil {
			if round > 0 && dc.Thesis != "" {
				// Keep the previous round's thesis if a redraft fails late.
				slog.Warn("redraft failed, keeping prior thesis", "round", round, "error", err)
				return false, guidance, routerConf, nil
			}
			return false, "", 0, fmt.Errorf("draft: %w", err)
		}
		dc.Segments = append(dc.Segments, draft.Segments...)
		dc.Thesis = draft.Thesis
		routerConf = draft.Confidence

		// The proposer's side of the exchange is already on the stream as
		// reasoning_segment events; only verdict-bearing critic turns are
		// debate turns, so len(Debate) stays within MaxDebateTurns.
		o.trace(dc.CorrelationID, hops.next(), trace.ComponentRouter, fmt.Sprintf("round %d", round+1),
			evidence, draft.Thesis, draftStart)

		o.transition(ctx, dc.CorrelationID, sessionID, advice.StateDebating, fmt.Sprintf("round %d", round+1))
		criticCtx, criticSpan := fsotel.StartCriticSpan(ctx, dc.CorrelationID, round+1)
		criticStart := time.Now()
		turn, err := o.critic.Review(criticCtx, dc.Query, evidence, dc.Thesis, len(dc.Debate))
		criticSpan.End()
		if err != nil {
			// A dead critic must not kill a drafted thesis; treat the
			// round as an unresolved flag.
			slog.Warn("critic unavailable, treating as flag", "round", round, "error", err)
			return false, "critic unavailable", routerConf, nil
		}
		dc.Debate = append(dc.Debate, turn)
		o.publisher.Publish(ctx, sessionID, stream.EventDebateTurn, turn)
		o.trace(dc.CorrelationID, hops.next(), trace.ComponentCritic, string(turn.Verdict),
			dc.Thesis, turn.Rationale, criticStart)

		if turn.Verdict == advice.VerdictApprove {
			return true, "", routerConf, nil
		}
		guidance = turn.Rationale

		if ctx.Err() != nil {
			// Budget spent mid-debate: surface the best thesis so far
			// rather than nothing, confidence capped by non-approval.
			slog.Warn("request budget exhausted mid-debate", "round", round)
			return false, guidance, routerConf, nil
		}
	}

	return false, guidance, routerConf, nil
}

func (o *Orchestrator) abort(ctx context.Context, dc *advice.DecisionContext, sessionID string, hops *hopCounter, cause error) {
	slog.Error("request aborted", "correlation_id", dc.CorrelationID, "error", cause)
	o.trace(dc.CorrelationID, hops.next(), trace.ComponentOrchestrator, "abort",
		dc.Query, cause.Error(), dc.StartedAt)
	o.publisher.Publish(ctx, sessionID, stream.EventError, stream.ErrorPayload{
		Reason: cause.Error(),
		Kind:   errorKindOf(cause),
	})
	o.setState(dc.CorrelationID, advice.StateAborted, nil, cause.Error())
	if o.metrics != nil {
		o.metrics.RequestsAborted.Add(ctx, 1)
	}
}

func (o *Orchestrator) transition(ctx context.Context, correlationID, sessionID string, state advice.State, detail string) {
	o.setState(correlationID, state, nil, "")
	o.publisher.Publish(ctx, sessionID, stream.EventStatus, stream.StatusPayload{
		State:  string(state),
		Detail: detail,
	})
}

func (o *Orchestrator) setState(correlationID string, state advice.State, decision *advice.Decision, errMsg string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs, ok := o.requests[correlationID]
	if !ok {
		return
	}
	rs.State = state
	if decision != nil {
		rs.Decision = decision
	}
	if errMsg != "" {
		rs.Err = errMsg
	}
	if state.Terminal() {
		rs.doneAt = time.Now()
	}
}

// Run garbage-collects finished request entries until ctx is cancelled.
// Terminal entries are kept for the same window as their stream session,
// so Status keeps answering for as long as a client could reconnect.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.sessions.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepRequests(time.Now().Add(-o.sessions.cfg.SessionIdleTTL))
		}
	}
}

func (o *Orchestrator) sweepRequests(cutoff time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, rs := range o.requests {
		if !rs.doneAt.IsZero() && rs.doneAt.Before(cutoff) {
			delete(o.requests, id)
			slog.Debug("advisory request expired", "correlation_id", id)
		}
	}
}

func (o *Orchestrator) trace(correlationID string, hop int, component trace.Component, detail, input, output string, start time.Time) {
	if o.recorder == nil {
		return
	}
	o.recorder.Record(trace.Record{
		CorrelationID: correlationID,
		HopIndex:      hop,
		Component:     component,
		Detail:        detail,
		InputDigest:   trace.Digest(input),
		OutputDigest:  trace.Digest(output),
		LatencyMS:     time.Since(start).Milliseconds(),
		CreatedAt:     time.Now(),
	})
}

type hopCounter struct{ n int }

func (h *hopCounter) next() int {
	h.n++
	return h.n - 1
}

// evidenceBlock renders specialist results as the prompt evidence
// section. Failed specialists are named so the models know what analysis
// is missing.
func evidenceBlock(results []advice.SpecialistResult) string {
	var b strings.Builder
	for i := range results {
		r := &results[i]
		if !r.OK() {
			fmt.Fprintf(&b, "- %s: unavailable\n", r.Tag)
			continue
		}
		narrative := r.Narrative
		if narrative == "" {
			if data, err := json.Marshal(r.Payload); err == nil {
				narrative = string(data)
			}
		}
		fmt.Fprintf(&b, "- %s: %s\n", r.Tag, truncate(narrative, 600))
	}
	return b.String()
}

// deriveAction maps an approved directional thesis to a propose-only
// action. Nothing here executes; the action sits behind the gate.
func deriveAction(dc *advice.DecisionContext) *advice.ProposedAction {
	if dc.Thesis == "" || len(dc.Intent.Symbols) == 0 {
		return nil
	}
	kind := advice.ActionWatch
	lower := strings.ToLower(dc.Thesis)
	switch {
	case strings.Contains(lower, "sell") || strings.Contains(lower, "reduce exposure"):
		kind = advice.ActionSell
	case strings.Contains(lower, "buy") || strings.Contains(lower, "accumulate"):
		kind = advice.ActionBuy
	case strings.Contains(lower, "hold"):
		kind = advice.ActionHold
	}
	return &advice.ProposedAction{
		Kind:      kind,
		Symbol:    dc.Intent.Symbols[0],
		Rationale: truncate(dc.Thesis, 300),
	}
}

func tagsDetail(tags []advice.SpecialistTag) string {
	parts := make([]string, len(tags))
	for i, t := range tags {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

func specialistDigestInput(r *advice.SpecialistResult) string {
	if !r.OK() {
		return "error: " + r.Error
	}
	return r.Narrative
}

func errorKindOf(err error) string {
	switch {
	case errors.Is(err, advice.ErrAllSpecialistsFailed):
		return "all_specialists_failed"
	case errors.Is(err, gateway.ErrUnavailable):
		return "backend_unavailable"
	case errors.Is(err, gateway.ErrTimeout):
		return "backend_timeout"
	case errors.Is(err, context.DeadlineExceeded):
		return "budget_exhausted"
	default:
		return "internal"
	}
}
