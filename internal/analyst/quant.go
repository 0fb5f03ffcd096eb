// Package analyst contains the built-in analysis specialists invoked by
// the orchestrator: quantitative signals, sentiment, scenario
// forecasting, fundamental research, and large-holder flow.
package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/finsight-ai/finsight/internal/adapter/marketdata"
	"github.com/finsight-ai/finsight/internal/domain/advice"
)

// Quant analyzes price and volume signals from the market data feed.
type Quant struct {
	md *marketdata.Client
}

// NewQuant creates the quant specialist.
func NewQuant(md *marketdata.Client) *Quant {
	return &Quant{md: md}
}

// Tag implements the specialist port.
func (q *Quant) Tag() advice.SpecialistTag { return advice.TagQuant }

// Invoke fetches quotes for the snapshot symbols and summarizes the
// technical picture. Fails when no symbol resolves to a quote.
func (q *Quant) Invoke(ctx context.Context, _ string, snap advice.ContextSnapshot) (*advice.SpecialistResult, error) {
	if len(snap.Symbols) == 0 {
		return nil, fmt.Errorf("quant: no symbols to analyze")
	}

	payload := make(map[string]any, len(snap.Symbols))
	var lines []string
	for _, symbol := range snap.Symbols {
		quote, err := q.md.GetQuote(ctx, symbol)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: quote unavailable", symbol))
			continue
		}
		payload[symbol] = quote
		lines = append(lines, describeQuote(quote))
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("quant: no quotes available for %v", snap.Symbols)
	}

	return &advice.SpecialistResult{
		Tag:       advice.TagQuant,
		Payload:   payload,
		Narrative: strings.Join(lines, " "),
	}, nil
}

func describeQuote(q *marketdata.Quote) string {
	trend := "flat"
	switch {
	case q.ChangePct > 0.5:
		trend = "up"
	case q.ChangePct < -0.5:
		trend = "down"
	}
	volume := "normal volume"
	if q.AvgVolume > 0 && float64(q.Volume) > 1.5*float64(q.AvgVolume) {
		volume = "elevated volume"
	}
	rangePos := ""
	if q.High52W > q.Low52W {
		pos := (q.Price - q.Low52W) / (q.High52W - q.Low52W)
		rangePos = fmt.Sprintf(", %.0f%% of 52-week range", pos*100)
	}
	return fmt.Sprintf("%s at %.2f, %s %.2f%% on %s%s.",
		q.Symbol, q.Price, trend, q.ChangePct, volume, rangePos)
}
