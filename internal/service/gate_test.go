package service_test

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/finsight-ai/finsight/internal/domain/advice"
	"github.com/finsight-ai/finsight/internal/service"
)

func testGate(t *testing.T, secret string) *service.ActionGate {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash secret: %v", err)
	}
	return service.NewActionGate(string(hash))
}

func watchAction() advice.ProposedAction {
	return advice.ProposedAction{Kind: advice.ActionWatch, Symbol: "ACME", Rationale: "add to watchlist"}
}

func TestGateAuthorize(t *testing.T) {
	gate := testGate(t, "s3cret")
	gate.Propose("corr-1", watchAction())

	pa, err := gate.Authorize("corr-1", "s3cret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pa.Authorized {
		t.Fatalf("expected action marked authorized")
	}
	if pa.AuthorizedAt.IsZero() {
		t.Fatalf("expected authorized timestamp")
	}
}

func TestGateWrongSecret(t *testing.T) {
	gate := testGate(t, "s3cret")
	gate.Propose("corr-1", watchAction())

	if _, err := gate.Authorize("corr-1", "wrong"); !errors.Is(err, service.ErrGateUnauthorized) {
		t.Fatalf("expected ErrGateUnauthorized, got %v", err)
	}
	pa, err := gate.Get("corr-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pa.Authorized {
		t.Fatalf("rejected authorization must not mark the action")
	}
}

func TestGateUnknownCorrelation(t *testing.T) {
	gate := testGate(t, "s3cret")
	if _, err := gate.Authorize("missing", "s3cret"); !errors.Is(err, service.ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
}

func TestGateDisabledWithoutSecret(t *testing.T) {
	gate := service.NewActionGate("")
	gate.Propose("corr-1", watchAction())
	if _, err := gate.Authorize("corr-1", "anything"); !errors.Is(err, service.ErrGateDisabled) {
		t.Fatalf("expected ErrGateDisabled, got %v", err)
	}
}

func TestGatePendingExcludesAuthorized(t *testing.T) {
	gate := testGate(t, "s3cret")
	gate.Propose("corr-1", watchAction())
	gate.Propose("corr-2", watchAction())
	if _, err := gate.Authorize("corr-1", "s3cret"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending := gate.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending action, got %d", len(pending))
	}
	if pending[0].CorrelationID != "corr-2" {
		t.Fatalf("expected corr-2 pending, got %s", pending[0].CorrelationID)
	}
}
