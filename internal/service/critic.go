package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/advice"
	"github.com/finsight-ai/finsight/internal/port/gateway"
)

const criticPrompt = `You are the reviewing analyst of a financial advisory
panel. Review the proposed investment thesis against the specialist
evidence. Respond with only a JSON object:
{"verdict": "approve" | "flag" | "refute", "rationale": "<one or two sentences>"}

Use "refute" only when the thesis contradicts the evidence. Use "flag"
for material caveats the thesis omits. Use "approve" otherwise.

Question: %s

Specialist evidence:
%s

Proposed thesis:
%s`

// Critic reviews a drafted thesis and returns a structured verdict. It
// always runs on the large model regardless of router decisions.
type Critic struct {
	gen    gateway.Generator
	llmCfg *config.LLMProxy
}

// NewCritic creates a Critic.
func NewCritic(gen gateway.Generator, llmCfg *config.LLMProxy) *Critic {
	return &Critic{gen: gen, llmCfg: llmCfg}
}

type criticResponse struct {
	Verdict   string `json:"verdict"`
	Rationale string `json:"rationale"`
}

// Review produces one debate turn for the thesis. A backend failure is
// returned to the caller; malformed critic output degrades to a flag
// verdict carrying the raw text so the rationale is never lost.
func (c *Critic) Review(ctx context.Context, query, evidence, thesis string, turnIndex int) (advice.DebateTurn, error) {
	prompt := fmt.Sprintf(criticPrompt, query, evidence, thesis)
	res, err := c.gen.Generate(ctx, gateway.GenerateRequest{
		Model:       c.llmCfg.LargeModel,
		Prompt:      prompt,
		MaxTokens:   200,
		Temperature: 0.1,
	})
	if err != nil {
		return advice.DebateTurn{}, fmt.Errorf("critic review: %w", err)
	}

	turn := advice.DebateTurn{Index: turnIndex, Speaker: advice.SpeakerCritic}

	var parsed criticResponse
	raw := extractJSON(res.Text)
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Warn("critic output unparseable, degrading to flag", "turn", turnIndex, "error", err)
		turn.Verdict = advice.VerdictFlag
		turn.Rationale = truncate(strings.TrimSpace(res.Text), 500)
		return turn, nil
	}

	verdict := advice.Verdict(strings.ToLower(strings.TrimSpace(parsed.Verdict)))
	if !advice.ValidVerdict(verdict) {
		slog.Warn("critic verdict outside enum, degrading to flag", "turn", turnIndex, "verdict", parsed.Verdict)
		verdict = advice.VerdictFlag
	}
	turn.Verdict = verdict
	turn.Rationale = truncate(strings.TrimSpace(parsed.Rationale), 500)
	if turn.Rationale == "" {
		turn.Rationale = "no rationale provided"
	}
	return turn, nil
}
