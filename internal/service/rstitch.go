package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/advice"
	"github.com/finsight-ai/finsight/internal/port/gateway"
)

const draftSegmentPrompt = `You are the proposing analyst of a financial
advisory panel. Continue the investment thesis below by exactly one step
of reasoning (one or two sentences). Do not repeat prior text. If the
thesis is complete, respond with only the token DONE.

Question: %s

Specialist evidence:
%s
%s
Thesis so far:
%s`

// StitchRouter drafts the thesis segment by segment, delegating each
// segment to the small model and escalating to the large model when the
// small model's token entropy crosses the configured threshold. Escalated
// output is spliced in place so the trajectory reads as one narrative.
type StitchRouter struct {
	gen    gateway.Generator
	llmCfg *config.LLMProxy
}

// StitchResult is the outcome of drafting one thesis.
type StitchResult struct {
	Segments []advice.ReasoningSegment
	Thesis   string
	// Confidence is the share of segments settled by a model below the
	// flag threshold, in [0,1].
	Confidence float64
}

// NewStitchRouter creates a StitchRouter.
func NewStitchRouter(gen gateway.Generator, llmCfg *config.LLMProxy) *StitchRouter {
	return &StitchRouter{gen: gen, llmCfg: llmCfg}
}

// Draft produces a stitched thesis for the query and evidence. Each
// accepted segment is reported through onSegment before the next one is
// drafted, preserving stream order. guidance carries critic rationale on
// redraft rounds, empty otherwise.
func (r *StitchRouter) Draft(
	ctx context.Context,
	query, evidence, guidance string,
	maxSegments int,
	onSegment func(advice.ReasoningSegment),
) (*StitchResult, error) {
	if maxSegments < 1 {
		maxSegments = 8
	}

	var (
		segments []advice.ReasoningSegment
		thesis   strings.Builder
		flagged  int
	)

	guidanceBlock := ""
	if guidance != "" {
		guidanceBlock = "\nCritic objection to address:\n" + guidance + "\n"
	}

	for i := 0; i < maxSegments; i++ {
		prompt := fmt.Sprintf(draftSegmentPrompt, query, evidence, guidanceBlock, thesis.String())

		seg, done, err := r.nextSegment(ctx, prompt, i)
		if err != nil {
			if len(segments) == 0 {
				return nil, err
			}
			// Keep what was already stitched rather than discarding a
			// partially drafted thesis on a late backend failure.
			slog.Warn("draft truncated by backend failure", "segments", len(segments), "error", err)
			break
		}
		if done {
			break
		}

		if seg.LowConfidence {
			flagged++
		}
		segments = append(segments, seg)
		if thesis.Len() > 0 {
			thesis.WriteString(" ")
		}
		thesis.WriteString(seg.Text)

		if onSegment != nil {
			onSegment(seg)
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("draft produced no segments: %w", advice.ErrAborted)
	}

	confidence := 1.0 - float64(flagged)/float64(len(segments))
	return &StitchResult{
		Segments:   segments,
		Thesis:     thesis.String(),
		Confidence: confidence,
	}, nil
}

// nextSegment drafts one segment: small model first, large model re-issue
// above the entropy threshold. The two calls for one segment are strictly
// sequential, never concurrent.
func (r *StitchRouter) nextSegment(ctx context.Context, prompt string, index int) (advice.ReasoningSegment, bool, error) {
	small, err := r.gen.Generate(ctx, gateway.GenerateRequest{
		Model:       r.llmCfg.SmallModel,
		Prompt:      prompt,
		MaxTokens:   160,
		Temperature: 0.2,
	})
	if err != nil {
		return advice.ReasoningSegment{}, false, fmt.Errorf("draft segment %d (small): %w", index, err)
	}

	text := strings.TrimSpace(small.Text)
	if isDone(text) {
		return advice.ReasoningSegment{}, true, nil
	}

	entropy := meanEntropy(small.TokenEntropy)
	if entropy <= r.llmCfg.EntropyThreshold {
		return advice.ReasoningSegment{
			Index:       index,
			Text:        tidySegment(text),
			SourceModel: advice.ModelSmall,
			MeanEntropy: entropy,
		}, false, nil
	}

	// High-uncertainty span: splice in the large model's version.
	large, err := r.gen.Generate(ctx, gateway.GenerateRequest{
		Model:       r.llmCfg.LargeModel,
		Prompt:      prompt,
		MaxTokens:   160,
		Temperature: 0.2,
	})
	if err != nil {
		// The large model is the quality fallback; if it is down, keep
		// the small model's segment flagged rather than stall the draft.
		slog.Warn("large model escalation failed, keeping small segment",
			"segment", index, "entropy", entropy, "error", err)
		return advice.ReasoningSegment{
			Index:         index,
			Text:          tidySegment(text),
			SourceModel:   advice.ModelSmall,
			MeanEntropy:   entropy,
			LowConfidence: true,
		}, false, nil
	}

	largeText := strings.TrimSpace(large.Text)
	if isDone(largeText) {
		return advice.ReasoningSegment{}, true, nil
	}

	largeEntropy := meanEntropy(large.TokenEntropy)
	seg := advice.ReasoningSegment{
		Index:       index,
		Text:        tidySegment(largeText),
		SourceModel: advice.ModelLarge,
		MeanEntropy: largeEntropy,
	}
	// Even the capable model is uncertain here: flag but still emit.
	// The router never blocks waiting for a certain-enough answer.
	if largeEntropy > r.llmCfg.EntropyFlagThreshold {
		seg.LowConfidence = true
	}
	return seg, false, nil
}

func isDone(text string) bool {
	return text == "" || strings.EqualFold(strings.Trim(text, ". "), "DONE")
}

// tidySegment enforces the segment-boundary sanity check: a stitched
// segment must not end mid-clause.
func tidySegment(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	switch text[len(text)-1] {
	case '.', '!', '?', ':':
		return text
	case ',', ';':
		return text[:len(text)-1] + "."
	default:
		return text + "."
	}
}

func meanEntropy(entropy []float64) float64 {
	if len(entropy) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entropy {
		sum += e
	}
	return sum / float64(len(entropy))
}
