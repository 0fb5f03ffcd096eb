package llmproxy_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/finsight-ai/finsight/internal/adapter/llmproxy"
	"github.com/finsight-ai/finsight/internal/port/gateway"
)

func completionResponse(content string, logprobs any) map[string]any {
	choice := map[string]any{
		"message": map[string]any{"role": "assistant", "content": content},
	}
	if logprobs != nil {
		choice["logprobs"] = map[string]any{"content": logprobs}
	}
	return map[string]any{"choices": []any{choice}}
}

func TestGenerateReturnsTextAndEntropy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["logprobs"] != true {
			t.Fatal("expected logprobs requested")
		}

		logprobs := []any{
			map[string]any{
				"token": "Buy", "logprob": -0.01,
				"top_logprobs": []any{
					map[string]any{"token": "Buy", "logprob": -0.01},
					map[string]any{"token": "Sell", "logprob": -5.0},
				},
			},
			map[string]any{
				"token": "now", "logprob": -1.1,
				"top_logprobs": []any{
					map[string]any{"token": "now", "logprob": -1.1},
					map[string]any{"token": "later", "logprob": -1.2},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionResponse("Buy now", logprobs))
	}))
	defer srv.Close()

	client := llmproxy.NewClient(srv.URL, "test-key", 5, 5*time.Second, 4)
	res, err := client.Generate(context.Background(), gateway.GenerateRequest{
		Model:  "openai/gpt-4o-mini",
		Prompt: "advise",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if res.Text != "Buy now" {
		t.Fatalf("expected text 'Buy now', got %q", res.Text)
	}
	if len(res.TokenEntropy) != 2 {
		t.Fatalf("expected 2 entropy values, got %d", len(res.TokenEntropy))
	}
	// Near-certain first token, ambiguous second token.
	if res.TokenEntropy[0] >= res.TokenEntropy[1] {
		t.Fatalf("expected entropy[0] < entropy[1], got %v", res.TokenEntropy)
	}
}

func TestGenerateApproximatesWithoutLogprobs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionResponse("The market might stay volatile", nil))
	}))
	defer srv.Close()

	client := llmproxy.NewClient(srv.URL, "", 5, 5*time.Second, 4)
	res, err := client.Generate(context.Background(), gateway.GenerateRequest{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(res.TokenEntropy) == 0 {
		t.Fatal("expected approximated entropy signal, got none")
	}
}

func TestGenerateRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionResponse("ok", nil))
	}))
	defer srv.Close()

	client := llmproxy.NewClient(srv.URL, "", 5, 5*time.Second, 4)
	res, err := client.Generate(context.Background(), gateway.GenerateRequest{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if res.Text != "ok" {
		t.Fatalf("expected ok, got %q", res.Text)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestGenerateInvalidOutputNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad schema"}`))
	}))
	defer srv.Close()

	client := llmproxy.NewClient(srv.URL, "", 5, 5*time.Second, 4)
	_, err := client.Generate(context.Background(), gateway.GenerateRequest{Model: "m", Prompt: "p"})
	if !errors.Is(err, gateway.ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("invalid output must not be retried, got %d calls", calls.Load())
	}
}

func TestGenerateEmptyCompletionIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	client := llmproxy.NewClient(srv.URL, "", 5, 5*time.Second, 4)
	_, err := client.Generate(context.Background(), gateway.GenerateRequest{Model: "m", Prompt: "p"})
	if !errors.Is(err, gateway.ErrInvalidOutput) {
		t.Fatalf("expected ErrInvalidOutput for empty choices, got %v", err)
	}
}
