// Package trace defines the append-only telemetry record correlating
// every agent hop of one advisory request.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Component identifies which part of the pipeline produced a hop.
type Component string

const (
	ComponentClassifier   Component = "classifier"
	ComponentSpecialist   Component = "specialist"
	ComponentRouter       Component = "router"
	ComponentCritic       Component = "critic"
	ComponentOrchestrator Component = "orchestrator"
	ComponentPublisher    Component = "publisher"
)

// Record is one immutable row per agent hop. Records for a request share
// its correlation id; (CorrelationID, HopIndex) is the idempotency key.
type Record struct {
	CorrelationID string    `json:"correlation_id"`
	HopIndex      int       `json:"hop_index"`
	Component     Component `json:"component"`
	Detail        string    `json:"detail,omitempty"` // e.g. specialist tag, debate turn index
	InputDigest   string    `json:"input_digest"`
	OutputDigest  string    `json:"output_digest"`
	LatencyMS     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// Digest returns the hex SHA-256 of the given text, the canonical digest
// used for trace inputs and outputs.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
