package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/advice"
	"github.com/finsight-ai/finsight/internal/port/gateway"
)

// ModelAnalyst is the shared shape of the model-backed specialists. Each
// runs one focused small-model call over the query and prior evidence.
type ModelAnalyst struct {
	tag    advice.SpecialistTag
	prompt string
	gen    gateway.Generator
	llmCfg *config.LLMProxy
}

func (a *ModelAnalyst) Tag() advice.SpecialistTag { return a.tag }

func (a *ModelAnalyst) Invoke(ctx context.Context, query string, snap advice.ContextSnapshot) (*advice.SpecialistResult, error) {
	res, err := a.gen.Generate(ctx, gateway.GenerateRequest{
		Model:       a.llmCfg.SmallModel,
		Prompt:      fmt.Sprintf(a.prompt, query, symbolsLine(snap.Symbols)),
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.tag, err)
	}
	narrative := strings.TrimSpace(res.Text)
	if narrative == "" {
		return nil, fmt.Errorf("%s: %w", a.tag, gateway.ErrInvalidOutput)
	}
	return &advice.SpecialistResult{Tag: a.tag, Narrative: narrative}, nil
}

func symbolsLine(symbols []string) string {
	if len(symbols) == 0 {
		return "none identified"
	}
	return strings.Join(symbols, ", ")
}

const sentimentPrompt = `You are a financial sentiment analyst. In three
sentences or fewer, assess the current news and social tone relevant to
the question. Be specific about direction and intensity.

Question: %s
Symbols: %s`

// NewSentiment creates the sentiment specialist.
func NewSentiment(gen gateway.Generator, llmCfg *config.LLMProxy) *ModelAnalyst {
	return &ModelAnalyst{
		tag:    advice.TagSentiment,
		prompt: sentimentPrompt,
		gen:    gen,
		llmCfg: llmCfg,
	}
}

const forecastPrompt = `You are a scenario forecaster. In three sentences
or fewer, give the base, bull, and bear cases over the next quarter for
the question below, each with a rough likelihood.

Question: %s
Symbols: %s`

// NewForecast creates the forecast specialist.
func NewForecast(gen gateway.Generator, llmCfg *config.LLMProxy) *ModelAnalyst {
	return &ModelAnalyst{
		tag:    advice.TagForecast,
		prompt: forecastPrompt,
		gen:    gen,
		llmCfg: llmCfg,
	}
}

const researchPrompt = `You are a fundamental research analyst. In three
sentences or fewer, summarize the relevant fundamentals: revenue and
margin trajectory, balance sheet posture, and recent filings.

Question: %s
Symbols: %s`

// NewResearch creates the research specialist.
func NewResearch(gen gateway.Generator, llmCfg *config.LLMProxy) *ModelAnalyst {
	return &ModelAnalyst{
		tag:    advice.TagResearch,
		prompt: researchPrompt,
		gen:    gen,
		llmCfg: llmCfg,
	}
}
