package stream

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Session errors.
var (
	ErrSessionExpired = errors.New("stream session expired")
	ErrSessionClosed  = errors.New("stream session closed")
)

// Session is the server-side state of one client stream. It assigns
// sequence numbers, buffers undelivered events across a reconnect window,
// and prunes the buffer as the client acknowledges delivery.
//
// Producers append on the coordinating goroutine; a single attached
// subscriber drains. The mutex covers the handover between them.
type Session struct {
	ID            string
	CorrelationID string
	CreatedAt     time.Time

	mu         sync.Mutex
	nextSeq    uint64
	buffer     []Event // events with seq > acked, in seq order
	acked      uint64  // highest seq confirmed delivered
	subscriber chan Event
	terminal   bool      // a final or error event has been appended
	lastActive time.Time // updated on append, attach, ack
	now        func() time.Time
}

// NewSession creates a session for the given correlation id.
func NewSession(id, correlationID string) *Session {
	now := time.Now
	return &Session{
		ID:            id,
		CorrelationID: correlationID,
		CreatedAt:     now(),
		lastActive:    now(),
		now:           now,
	}
}

// Append assigns the next sequence number to an event of the given type,
// buffers it, and forwards it to the attached subscriber if any.
// Returns the enveloped event. Appending after a terminal event is a
// programming error and is dropped with ErrSessionClosed.
func (s *Session) Append(eventType EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminal {
		return Event{}, ErrSessionClosed
	}

	s.nextSeq++
	ev := Event{
		SessionID: s.ID,
		Seq:       s.nextSeq,
		Type:      eventType,
		Payload:   data,
		TS:        s.now(),
	}
	s.buffer = append(s.buffer, ev)
	s.lastActive = s.now()
	if eventType.Terminal() {
		s.terminal = true
	}

	if s.subscriber != nil {
		select {
		case s.subscriber <- ev:
		default:
			// Subscriber fell behind its channel capacity. A silent drop
			// here would strand the client mid-stream, so close the
			// channel to force it onto the resume path; the buffer
			// replays everything past its last ack.
			close(s.subscriber)
			s.subscriber = nil
		}
	}

	return ev, nil
}

// Attach registers a subscriber channel and returns the backlog of events
// with seq > afterSeq. The caller drains the returned slice first, then
// reads live events from the channel. Any previous subscriber is detached.
func (s *Session) Attach(afterSeq uint64, capacity int) ([]Event, <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ack(afterSeq)

	backlog := make([]Event, 0, len(s.buffer))
	for _, ev := range s.buffer {
		if ev.Seq > afterSeq {
			backlog = append(backlog, ev)
		}
	}

	if s.subscriber != nil {
		close(s.subscriber)
	}
	ch := make(chan Event, capacity)
	s.subscriber = ch
	s.lastActive = s.now()
	return backlog, ch
}

// Detach removes the subscriber that owns ch. Buffered events are retained
// for the reconnect window; orchestration is unaffected. A stale caller
// whose channel was already replaced or closed is a no-op, so a detaching
// handler can never tear down its successor.
func (s *Session) Detach(ch <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriber != nil && ch == s.subscriber {
		close(s.subscriber)
		s.subscriber = nil
	}
	s.lastActive = s.now()
}

// Ack advances the delivery watermark and prunes acknowledged events.
func (s *Session) Ack(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ack(seq)
	s.lastActive = s.now()
}

// ack must be called with s.mu held.
func (s *Session) ack(seq uint64) {
	if seq <= s.acked {
		return
	}
	s.acked = seq
	i := 0
	for i < len(s.buffer) && s.buffer[i].Seq <= seq {
		i++
	}
	s.buffer = s.buffer[i:]
}

// Terminal reports whether a final or error event has been appended.
func (s *Session) Terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// LastSeq returns the most recently assigned sequence number.
func (s *Session) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Expired reports whether the session has been idle longer than ttl
// with no attached subscriber. Terminal sessions expire once the buffer
// has been fully acknowledged.
func (s *Session) Expired(ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscriber != nil {
		return false
	}
	if s.terminal && len(s.buffer) == 0 {
		return true
	}
	return s.now().Sub(s.lastActive) > ttl
}
