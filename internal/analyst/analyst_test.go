package analyst

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/finsight-ai/finsight/internal/adapter/marketdata"
	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/advice"
	"github.com/finsight-ai/finsight/internal/port/gateway"
)

type stubGenerator struct {
	text string
	err  error
}

func (s *stubGenerator) Generate(_ context.Context, _ gateway.GenerateRequest) (*gateway.GenerateResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &gateway.GenerateResult{Text: s.text, TokenEntropy: []float64{0.1}}, nil
}

func feedServer(t *testing.T, quotes map[string]marketdata.Quote) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.TrimPrefix(r.URL.Path, "/v1/quotes/")
		q, ok := quotes[symbol]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(q)
	}))
}

func mdClient(url string) *marketdata.Client {
	return marketdata.NewClient(config.MarketData{
		URL: url, Timeout: 2 * time.Second, QuoteTTL: time.Minute,
	}, nil, nil)
}

func llmConfig() *config.LLMProxy {
	cfg := config.Defaults()
	return &cfg.LLMProxy
}

func TestQuantNarrative(t *testing.T) {
	srv := feedServer(t, map[string]marketdata.Quote{
		"ACME": {Symbol: "ACME", Price: 50, ChangePct: 2.1, Volume: 2_000_000, AvgVolume: 1_000_000, High52W: 60, Low52W: 30},
	})
	defer srv.Close()

	q := NewQuant(mdClient(srv.URL))
	res, err := q.Invoke(context.Background(), "buy?", advice.ContextSnapshot{Symbols: []string{"ACME"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tag != advice.TagQuant {
		t.Fatalf("expected quant tag, got %s", res.Tag)
	}
	if !strings.Contains(res.Narrative, "elevated volume") {
		t.Fatalf("expected volume signal in narrative: %q", res.Narrative)
	}
	if _, ok := res.Payload["ACME"]; !ok {
		t.Fatalf("expected quote payload for ACME")
	}
}

func TestQuantNoSymbols(t *testing.T) {
	q := NewQuant(mdClient("http://localhost:0"))
	if _, err := q.Invoke(context.Background(), "q", advice.ContextSnapshot{}); err == nil {
		t.Fatalf("expected error without symbols")
	}
}

func TestQuantAllQuotesFail(t *testing.T) {
	srv := feedServer(t, nil)
	defer srv.Close()

	q := NewQuant(mdClient(srv.URL))
	if _, err := q.Invoke(context.Background(), "q", advice.ContextSnapshot{Symbols: []string{"GONE"}}); err == nil {
		t.Fatalf("expected error when no quotes resolve")
	}
}

func TestWhaleDetectsAccumulation(t *testing.T) {
	srv := feedServer(t, map[string]marketdata.Quote{
		"ACME": {Symbol: "ACME", Price: 50, ChangePct: 1.5, Volume: 3_000_000, AvgVolume: 1_000_000, LargeHolderTx: 7},
	})
	defer srv.Close()

	w := NewWhale(mdClient(srv.URL))
	res, err := w.Invoke(context.Background(), "q", advice.ContextSnapshot{Symbols: []string{"ACME"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.Narrative, "accumulation") {
		t.Fatalf("expected accumulation signal: %q", res.Narrative)
	}
}

func TestLLMAnalysts(t *testing.T) {
	gen := &stubGenerator{text: "Tone is cautiously positive."}
	cfg := llmConfig()

	cases := []struct {
		name string
		sp   interface {
			Tag() advice.SpecialistTag
			Invoke(context.Context, string, advice.ContextSnapshot) (*advice.SpecialistResult, error)
		}
		tag advice.SpecialistTag
	}{
		{"sentiment", NewSentiment(gen, cfg), advice.TagSentiment},
		{"forecast", NewForecast(gen, cfg), advice.TagForecast},
		{"research", NewResearch(gen, cfg), advice.TagResearch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.sp.Invoke(context.Background(), "Is ACME a buy?", advice.ContextSnapshot{Symbols: []string{"ACME"}})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Tag != tc.tag {
				t.Fatalf("expected tag %s, got %s", tc.tag, res.Tag)
			}
			if res.Narrative == "" {
				t.Fatalf("expected a narrative")
			}
		})
	}
}

func TestLLMAnalystEmptyOutput(t *testing.T) {
	sp := NewSentiment(&stubGenerator{text: "   "}, llmConfig())
	if _, err := sp.Invoke(context.Background(), "q", advice.ContextSnapshot{}); err == nil {
		t.Fatalf("expected error for empty model output")
	}
}
