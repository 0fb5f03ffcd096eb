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

const intentPrompt = `You route financial questions to analysis specialists.
Available specialists: quant (price/technical analysis), sentiment (news and
social tone), forecast (scenario projection), research (fundamentals and
filings), whale (large-holder flow tracking).

Return ONLY a JSON object of the form:
{"tags": ["quant", "sentiment"], "symbols": ["AAPL"]}

Pick every specialist whose analysis would materially inform the answer.
Question: %s`

// IntentClassifier turns a free-text query into a typed specialist
// selection via one structured model call.
type IntentClassifier struct {
	gen    gateway.Generator
	llmCfg *config.LLMProxy
}

// NewIntentClassifier creates an IntentClassifier using the small model.
func NewIntentClassifier(gen gateway.Generator, llmCfg *config.LLMProxy) *IntentClassifier {
	return &IntentClassifier{gen: gen, llmCfg: llmCfg}
}

// Classify returns the validated intent for a query. An unparseable or
// invalid model response falls back to the full analytic specialist set,
// so a malformed classification never blocks the request.
func (c *IntentClassifier) Classify(ctx context.Context, query string) (advice.Intent, error) {
	res, err := c.gen.Generate(ctx, gateway.GenerateRequest{
		Model:       c.llmCfg.SmallModel,
		Prompt:      fmt.Sprintf(intentPrompt, sanitizePromptInput(query)),
		MaxTokens:   256,
		Temperature: 0.1,
	})
	if err != nil {
		return advice.Intent{}, fmt.Errorf("classify intent: %w", err)
	}

	var intent advice.Intent
	if err := json.Unmarshal([]byte(extractJSON(res.Text)), &intent); err != nil {
		slog.Warn("intent: unparseable classification, using full specialist set",
			"error", err, "content", truncate(res.Text, 120))
		return advice.Intent{Tags: advice.AllTags()}, nil
	}

	if err := intent.Validate(); err != nil {
		slog.Warn("intent: no valid tags in classification, using full specialist set",
			"content", truncate(res.Text, 120))
		return advice.Intent{Tags: advice.AllTags()}, nil
	}
	return intent, nil
}

// extractJSON pulls the first top-level JSON object out of model output
// that may be wrapped in prose or code fences.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return content
	}
	return content[start : end+1]
}

// sanitizePromptInput strips control characters that could break prompt
// structure.
func sanitizePromptInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
