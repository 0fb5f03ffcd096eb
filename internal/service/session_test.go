package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/stream"
	"github.com/finsight-ai/finsight/internal/service"
)

func testStreamConfig() config.Stream {
	return config.Defaults().Stream
}

func TestSessionManagerCreateGet(t *testing.T) {
	m := service.NewSessionManager(testStreamConfig())

	sess := m.Create("corr-1")
	if sess.ID == "" {
		t.Fatal("expected session id")
	}
	if sess.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation corr-1, got %s", sess.CorrelationID)
	}

	got, err := m.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != sess {
		t.Fatal("expected same session instance")
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", m.Count())
	}
}

func TestSessionManagerGetUnknown(t *testing.T) {
	m := service.NewSessionManager(testStreamConfig())

	if _, err := m.Get("nope"); !errors.Is(err, stream.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestSessionManagerByCorrelation(t *testing.T) {
	m := service.NewSessionManager(testStreamConfig())
	sess := m.Create("corr-1")

	got, ok := m.ByCorrelation("corr-1")
	if !ok || got.ID != sess.ID {
		t.Fatalf("expected session for corr-1, got %v %v", got, ok)
	}
	if _, ok := m.ByCorrelation("corr-2"); ok {
		t.Fatal("expected no session for corr-2")
	}
}

func TestSessionManagerPublish(t *testing.T) {
	m := service.NewSessionManager(testStreamConfig())
	sess := m.Create("corr-1")

	m.Publish(context.Background(), sess.ID, stream.EventStatus, stream.StatusPayload{State: "drafting"})
	m.Publish(context.Background(), sess.ID, stream.EventFinal, map[string]string{"thesis": "hold"})

	backlog, _ := sess.Attach(0, m.BufferSize())
	if len(backlog) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(backlog))
	}
	if backlog[0].Seq != 1 || backlog[1].Seq != 2 {
		t.Fatalf("expected seqs 1,2, got %d,%d", backlog[0].Seq, backlog[1].Seq)
	}
	if backlog[1].Type != stream.EventFinal {
		t.Fatalf("expected final event last, got %s", backlog[1].Type)
	}
}

func TestSessionManagerPublishUnknownSession(t *testing.T) {
	m := service.NewSessionManager(testStreamConfig())

	// Dropped with a log line, never panics or blocks.
	m.Publish(context.Background(), "nope", stream.EventStatus, stream.StatusPayload{State: "drafting"})
}

func TestSessionManagerPublishAfterTerminal(t *testing.T) {
	m := service.NewSessionManager(testStreamConfig())
	sess := m.Create("corr-1")

	m.Publish(context.Background(), sess.ID, stream.EventFinal, map[string]string{"thesis": "hold"})
	m.Publish(context.Background(), sess.ID, stream.EventStatus, stream.StatusPayload{State: "late"})

	backlog, _ := sess.Attach(0, m.BufferSize())
	if len(backlog) != 1 {
		t.Fatalf("expected appends after terminal to be dropped, got %d events", len(backlog))
	}
}
