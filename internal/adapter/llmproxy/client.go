// Package llmproxy implements the gateway port against an
// OpenAI-compatible inference proxy. Both the small and the large model
// are served through the same proxy and selected per request.
package llmproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/finsight-ai/finsight/internal/port/gateway"
	"github.com/finsight-ai/finsight/internal/resilience"
)

// Client talks to an OpenAI-compatible chat completions endpoint and
// derives the per-token entropy signal from returned logprobs.
type Client struct {
	baseURL    string
	apiKey     string
	topK       int
	httpClient *http.Client
	breaker    *resilience.Breaker
	retries    resilience.PolicyTable
	inflight   *semaphore.Weighted // the only resource shared across requests
}

// NewClient creates a gateway client. maxInFlight bounds concurrent
// backend calls across all advisory requests.
func NewClient(baseURL, apiKey string, topK int, timeout time.Duration, maxInFlight int64) *Client {
	if topK < 2 {
		topK = 5
	}
	if maxInFlight < 1 {
		maxInFlight = 8
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		topK:    topK,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries:  resilience.DefaultPolicyTable(),
		inflight: semaphore.NewWeighted(maxInFlight),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Logprobs    bool          `json:"logprobs"`
	TopLogprobs int           `json:"top_logprobs,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Logprobs *struct {
			Content []tokenLogprob `json:"content"`
		} `json:"logprobs"`
	} `json:"choices"`
}

type tokenLogprob struct {
	Token       string  `json:"token"`
	Logprob     float64 `json:"logprob"`
	TopLogprobs []struct {
		Token   string  `json:"token"`
		Logprob float64 `json:"logprob"`
	} `json:"top_logprobs"`
}

// Generate implements gateway.Generator. Retryable failures are retried
// per the policy table; the breaker guards every attempt.
func (c *Client) Generate(ctx context.Context, req gateway.GenerateRequest) (*gateway.GenerateResult, error) {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("gateway acquire: %w", err)
	}
	defer c.inflight.Release(1)

	var result *gateway.GenerateResult
	err := resilience.Retry(ctx, c.retries, classify, func() error {
		call := func() error {
			res, err := c.doGenerate(ctx, req)
			if err != nil {
				return err
			}
			result = res
			return nil
		}
		if c.breaker != nil {
			err := c.breaker.Execute(call)
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return fmt.Errorf("%w: %s", gateway.ErrUnavailable, err)
			}
			return err
		}
		return call()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) doGenerate(ctx context.Context, req gateway.GenerateRequest) (*gateway.GenerateResult, error) {
	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Logprobs:    true,
		TopLogprobs: c.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %s", gateway.ErrTimeout, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", gateway.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: proxy returned %d", gateway.ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: proxy returned %d: %s", gateway.ErrInvalidOutput, resp.StatusCode, truncate(string(data), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %s", gateway.ErrInvalidOutput, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: empty completion", gateway.ErrInvalidOutput)
	}

	choice := parsed.Choices[0]
	result := &gateway.GenerateResult{Text: choice.Message.Content}

	if choice.Logprobs != nil && len(choice.Logprobs.Content) > 0 {
		result.TokenEntropy = entropyFromLogprobs(choice.Logprobs.Content, c.topK)
	} else {
		// Backend exposes no logprobs: approximate a flat mid-range
		// uncertainty so the router still escalates long ambiguous spans.
		result.TokenEntropy = approximateEntropy(choice.Message.Content)
	}

	return result, nil
}

// Health checks whether the proxy answers at all.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", gateway.ErrUnavailable, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health returned %d", gateway.ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// classify maps gateway errors onto the retry policy table.
func classify(err error) resilience.ErrorKind {
	switch {
	case errors.Is(err, gateway.ErrTimeout):
		return resilience.KindBackendTimeout
	case errors.Is(err, gateway.ErrUnavailable):
		return resilience.KindBackendUnavailable
	case errors.Is(err, gateway.ErrInvalidOutput):
		return resilience.KindSchemaViolation
	default:
		return resilience.KindInternal
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
