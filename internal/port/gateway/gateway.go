// Package gateway defines the port for text-generation backends. Both the
// small/fast and large/capable models are reached through this interface;
// the adapter also surfaces a per-token entropy signal for the router.
package gateway

import (
	"context"
	"errors"
)

// Failure modes. Unavailable and Timeout are retryable per the resilience
// policy table; InvalidOutput is not and degrades confidence instead.
var (
	ErrUnavailable   = errors.New("generation backend unavailable")
	ErrTimeout       = errors.New("generation backend timeout")
	ErrInvalidOutput = errors.New("generation output failed validation")
)

// GenerateRequest is one generation call.
type GenerateRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// GenerateResult carries the generated text plus normalized per-token
// entropy in [0,1]. Backends that cannot supply logprobs approximate the
// signal; TokenEntropy is never nil for a successful call.
type GenerateResult struct {
	Text         string
	TokenEntropy []float64
}

// Generator is the uniform interface to any inference backend.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}
