package service

import (
	"math"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/advice"
)

// ConfidenceEstimator computes the deterministic composite score attached
// to every final decision. Same inputs always produce the same score; no
// model call is involved.
type ConfidenceEstimator struct {
	weights      config.ConfidenceWeights
	exhaustedCap float64
}

// NewConfidenceEstimator creates an estimator with weights already
// normalized by the config loader.
func NewConfidenceEstimator(orch *config.Orchestrator) *ConfidenceEstimator {
	return &ConfidenceEstimator{
		weights:      orch.ConfidenceWeights,
		exhaustedCap: orch.ExhaustedCap,
	}
}

// ConfidenceInput is everything the estimator looks at.
type ConfidenceInput struct {
	SpecialistsOK    int
	SpecialistsTotal int
	DebateTurns      []advice.DebateTurn
	RouterConfidence float64 // share of unflagged segments, [0,1]
	Approved         bool    // critic approved within the turn limit
	Degraded         bool    // fewer than half the specialists succeeded
}

// Score combines specialist agreement, debate stability and router
// confidence. Debate exhaustion without approval caps the result;
// degraded evidence applies a flat multiplier on top.
func (e *ConfidenceEstimator) Score(in ConfidenceInput) advice.ConfidenceScore {
	agreement := 0.0
	if in.SpecialistsTotal > 0 {
		agreement = float64(in.SpecialistsOK) / float64(in.SpecialistsTotal)
	}

	stability := debateStability(in.DebateTurns)
	router := clampUnit(in.RouterConfidence)

	value := e.weights.SpecialistAgreement*agreement +
		e.weights.DebateStability*stability +
		e.weights.RouterConfidence*router

	score := advice.ConfidenceScore{
		SpecialistAgreement: agreement,
		DebateStability:     stability,
		RouterConfidence:    router,
	}

	if !in.Approved && value > e.exhaustedCap {
		value = e.exhaustedCap
		score.Capped = true
	}
	if in.Degraded {
		value *= 0.75
	}

	score.Value = math.Round(clampUnit(value)*1000) / 1000
	return score
}

// debateStability rewards early approval and penalizes each refutation.
// An approve on the first critic turn scores 1.0; every non-approve
// critic turn before resolution costs 0.25, refutes cost 0.4.
func debateStability(turns []advice.DebateTurn) float64 {
	stability := 1.0
	for _, turn := range turns {
		if turn.Speaker != advice.SpeakerCritic {
			continue
		}
		switch turn.Verdict {
		case advice.VerdictApprove:
			return clampUnit(stability)
		case advice.VerdictRefute:
			stability -= 0.4
		default:
			stability -= 0.25
		}
	}
	return clampUnit(stability)
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
