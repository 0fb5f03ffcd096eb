package llmproxy

import (
	"math"
	"strings"
)

// entropyFromLogprobs computes normalized Shannon entropy per token from
// the top-K logprob alternatives. The distribution over the K candidates
// is renormalized, and the entropy divided by ln(K) so the result lies in
// [0,1] regardless of fan-out.
func entropyFromLogprobs(tokens []tokenLogprob, topK int) []float64 {
	out := make([]float64, len(tokens))
	norm := math.Log(float64(topK))

	for i, tok := range tokens {
		if len(tok.TopLogprobs) < 2 {
			// A single alternative carries no distribution; treat the
			// token as certain.
			out[i] = 0
			continue
		}

		// Renormalize the truncated distribution.
		var total float64
		probs := make([]float64, len(tok.TopLogprobs))
		for j, alt := range tok.TopLogprobs {
			probs[j] = math.Exp(alt.Logprob)
			total += probs[j]
		}
		if total <= 0 {
			out[i] = 0
			continue
		}

		var h float64
		for _, p := range probs {
			p /= total
			if p > 0 {
				h -= p * math.Log(p)
			}
		}
		out[i] = clamp01(h / norm)
	}
	return out
}

// approximateEntropy is the fallback signal for backends without logprob
// support. Longer tokens-per-word text with hedging markers reads as more
// uncertain; the approximation is deterministic for a fixed input.
func approximateEntropy(text string) []float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []float64{0}
	}

	hedges := 0
	for _, w := range words {
		switch strings.ToLower(strings.Trim(w, ".,;:")) {
		case "may", "might", "could", "possibly", "perhaps", "uncertain", "unclear", "volatile":
			hedges++
		}
	}

	level := clamp01(0.3 + float64(hedges)/float64(len(words)))
	out := make([]float64, len(words))
	for i := range out {
		out[i] = level
	}
	return out
}

// MeanEntropy returns the average of a token entropy series, 0 for empty.
func MeanEntropy(entropy []float64) float64 {
	if len(entropy) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entropy {
		sum += e
	}
	return sum / float64(len(entropy))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
