package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/finsight-ai/finsight/internal/adapter/marketdata"
	"github.com/finsight-ai/finsight/internal/domain/advice"
)

// Whale tracks large-holder activity: block trades and unusual volume
// that suggest institutional accumulation or distribution.
type Whale struct {
	md *marketdata.Client
}

// NewWhale creates the whale specialist.
func NewWhale(md *marketdata.Client) *Whale {
	return &Whale{md: md}
}

// Tag implements the specialist port.
func (w *Whale) Tag() advice.SpecialistTag { return advice.TagWhale }

// Invoke inspects block trade counts and volume anomalies per symbol.
func (w *Whale) Invoke(ctx context.Context, _ string, snap advice.ContextSnapshot) (*advice.SpecialistResult, error) {
	if len(snap.Symbols) == 0 {
		return nil, fmt.Errorf("whale: no symbols to analyze")
	}

	payload := make(map[string]any, len(snap.Symbols))
	var lines []string
	for _, symbol := range snap.Symbols {
		quote, err := w.md.GetQuote(ctx, symbol)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: flow data unavailable", symbol))
			continue
		}
		payload[symbol] = map[string]any{
			"large_holder_tx": quote.LargeHolderTx,
			"volume_ratio":    volumeRatio(quote),
		}
		lines = append(lines, describeFlow(quote))
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("whale: no flow data for %v", snap.Symbols)
	}

	return &advice.SpecialistResult{
		Tag:       advice.TagWhale,
		Payload:   payload,
		Narrative: strings.Join(lines, " "),
	}, nil
}

func volumeRatio(q *marketdata.Quote) float64 {
	if q.AvgVolume == 0 {
		return 0
	}
	return float64(q.Volume) / float64(q.AvgVolume)
}

func describeFlow(q *marketdata.Quote) string {
	ratio := volumeRatio(q)
	switch {
	case q.LargeHolderTx >= 5 && ratio > 1.5 && q.ChangePct > 0:
		return fmt.Sprintf("%s shows %d block trades on %.1fx volume with price rising, consistent with accumulation.",
			q.Symbol, q.LargeHolderTx, ratio)
	case q.LargeHolderTx >= 5 && ratio > 1.5:
		return fmt.Sprintf("%s shows %d block trades on %.1fx volume with price under pressure, consistent with distribution.",
			q.Symbol, q.LargeHolderTx, ratio)
	case q.LargeHolderTx > 0:
		return fmt.Sprintf("%s has %d block trades, within normal range.", q.Symbol, q.LargeHolderTx)
	default:
		return fmt.Sprintf("%s shows no notable large-holder activity.", q.Symbol)
	}
}
