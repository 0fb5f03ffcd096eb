// Package stream defines the AG-UI event envelope and the resumable
// stream session for one advisory request.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of stream event.
type EventType string

const (
	EventStatus           EventType = "status"
	EventSpecialistResult EventType = "specialist_result"
	EventReasoningSegment EventType = "reasoning_segment"
	EventDebateTurn       EventType = "debate_turn"
	EventFinal            EventType = "final"
	EventError            EventType = "error"
)

// Terminal reports whether the event type ends the stream.
func (t EventType) Terminal() bool {
	return t == EventFinal || t == EventError
}

// Event is the envelope for every message pushed to a client. Seq is
// assigned by the session, monotonically increasing from 1.
type Event struct {
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	TS        time.Time       `json:"ts"`
}

// StatusPayload announces an orchestrator phase change.
type StatusPayload struct {
	State    string `json:"state"`
	Detail   string `json:"detail,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

// ErrorPayload is the terminal payload for an aborted request.
type ErrorPayload struct {
	Reason string `json:"reason"`
	Kind   string `json:"kind,omitempty"`
}
