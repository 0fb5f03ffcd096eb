package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/finsight-ai/finsight/internal/config"
	"github.com/finsight-ai/finsight/internal/domain/advice"
	"github.com/finsight-ai/finsight/internal/domain/trace"
	"github.com/finsight-ai/finsight/internal/port/gateway"
	"github.com/finsight-ai/finsight/internal/port/specialist"
	"github.com/finsight-ai/finsight/internal/service"
)

type scriptedGenerator struct {
	small []string
	large []string
}

func (g *scriptedGenerator) Generate(_ context.Context, req gateway.GenerateRequest) (*gateway.GenerateResult, error) {
	queue := &g.small
	if strings.Contains(req.Model, "large") {
		queue = &g.large
	}
	if len(*queue) == 0 {
		return &gateway.GenerateResult{Text: "DONE", TokenEntropy: []float64{0.1}}, nil
	}
	text := (*queue)[0]
	*queue = (*queue)[1:]
	return &gateway.GenerateResult{Text: text, TokenEntropy: []float64{0.1}}, nil
}

type fixedSpecialist struct {
	tag advice.SpecialistTag
}

func (s *fixedSpecialist) Tag() advice.SpecialistTag { return s.tag }

func (s *fixedSpecialist) Invoke(context.Context, string, advice.ContextSnapshot) (*advice.SpecialistResult, error) {
	return &advice.SpecialistResult{Tag: s.tag, Narrative: "signal steady"}, nil
}

type memTraceStore struct {
	records []trace.Record
}

func (m *memTraceStore) Append(_ context.Context, rec *trace.Record) error {
	m.records = append(m.records, *rec)
	return nil
}

func (m *memTraceStore) GetTrace(_ context.Context, correlationID string) ([]trace.Record, error) {
	var out []trace.Record
	for _, rec := range m.records {
		if rec.CorrelationID == correlationID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func testRouter(t *testing.T) (*chi.Mux, *service.Orchestrator, *service.ActionGate) {
	t.Helper()
	cfg := config.Defaults()
	cfg.LLMProxy.SmallModel = "small-model"
	cfg.LLMProxy.LargeModel = "large-model"

	gen := &scriptedGenerator{
		small: []string{
			`{"tags": ["quant"], "symbols": ["ACME"]}`,
			"Signals are steady, a watch stance fits.",
			"DONE",
		},
		large: []string{`{"verdict": "approve", "rationale": "Fine."}`},
	}

	registry := specialist.NewRegistry()
	if err := registry.Register(&fixedSpecialist{tag: advice.TagQuant}); err != nil {
		t.Fatalf("register: %v", err)
	}

	recorder := service.NewTraceRecorder(&memTraceStore{}, nil, 64)
	t.Cleanup(recorder.Close)

	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	gate := service.NewActionGate(string(hash))

	sessions := service.NewSessionManager(cfg.Stream)
	orch := service.NewOrchestrator(
		&cfg.Orchestrator,
		service.NewIntentClassifier(gen, &cfg.LLMProxy),
		registry,
		service.NewStitchRouter(gen, &cfg.LLMProxy),
		service.NewCritic(gen, &cfg.LLMProxy),
		service.NewConfidenceEstimator(&cfg.Orchestrator),
		sessions,
		sessions,
		recorder,
		gate,
	)

	r := chi.NewRouter()
	r.Use(CorrelationID)
	MountRoutes(r, NewHandlers(orch, recorder, gate, sessions), http.NotFoundHandler())
	return r, orch, gate
}

func doJSON(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequestAdvice(t *testing.T) {
	r, orch, _ := testRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/api/v1/advice", `{"query": "Is ACME a buy?"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var res service.StartResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.CorrelationID == "" || res.SessionID == "" {
		t.Fatalf("expected ids in response: %+v", res)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := orch.Status(res.CorrelationID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if st.State == advice.StateDone {
			getRec := doJSON(t, r, http.MethodGet, "/api/v1/advice/"+res.CorrelationID, "")
			if getRec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", getRec.Code)
			}
			if !strings.Contains(getRec.Body.String(), `"thesis"`) {
				t.Fatalf("expected decision in body: %s", getRec.Body.String())
			}
			return
		}
		if st.State == advice.StateAborted {
			t.Fatalf("request aborted: %s", st.Error)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request did not finish")
}

func TestRequestAdviceEmptyQuery(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := doJSON(t, r, http.MethodPost, "/api/v1/advice", `{"query": "  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetAdviceUnknown(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/advice/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetTraceEmpty(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/api/v1/trace/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAuthorizeActionWrongSecret(t *testing.T) {
	r, _, gate := testRouter(t)
	gate.Propose("corr-x", advice.ProposedAction{Kind: advice.ActionWatch, Symbol: "ACME"})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/actions/authorize",
		`{"correlation_id": "corr-x", "secret": "wrong"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestAuthorizeAction(t *testing.T) {
	r, _, gate := testRouter(t)
	gate.Propose("corr-x", advice.ProposedAction{Kind: advice.ActionWatch, Symbol: "ACME"})

	rec := doJSON(t, r, http.MethodPost, "/api/v1/actions/authorize",
		`{"correlation_id": "corr-x", "secret": "open-sesame"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"authorized":true`) {
		t.Fatalf("expected authorized action: %s", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	r, _, _ := testRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}
