package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/finsight-ai/finsight/internal/logger"
	"github.com/finsight-ai/finsight/internal/service"
)

const maxBodyBytes = 64 * 1024

// Handlers holds the dependencies for all REST endpoints.
type Handlers struct {
	orch     *service.Orchestrator
	recorder *service.TraceRecorder
	gate     *service.ActionGate
	sessions *service.SessionManager
}

// NewHandlers creates the handler set.
func NewHandlers(orch *service.Orchestrator, recorder *service.TraceRecorder, gate *service.ActionGate, sessions *service.SessionManager) *Handlers {
	return &Handlers{orch: orch, recorder: recorder, gate: gate, sessions: sessions}
}

type adviceRequest struct {
	Query        string `json:"query"`
	AccountScope string `json:"account_scope,omitempty"`
}

// RequestAdvice accepts a new advisory request and returns the stream
// handle. The work runs asynchronously; clients follow the session over
// the WebSocket endpoint.
func (h *Handlers) RequestAdvice(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[adviceRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	res, err := h.orch.Start(req.Query, req.AccountScope, logger.CorrelationID(r.Context()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// GetAdvice returns the current state of a request, including the final
// decision once available.
func (h *Handlers) GetAdvice(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.Status(chi.URLParam(r, "correlation_id"))
	if err != nil {
		if errors.Is(err, service.ErrUnknownRequest) {
			writeError(w, http.StatusNotFound, "unknown correlation id")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetTrace returns the persisted trace for a correlation id.
func (h *Handlers) GetTrace(w http.ResponseWriter, r *http.Request) {
	correlationID := chi.URLParam(r, "correlation_id")
	records, err := h.recorder.GetTrace(r.Context(), correlationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "trace query failed")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no trace for correlation id")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type authorizeRequest struct {
	CorrelationID string `json:"correlation_id"`
	Secret        string `json:"secret"`
}

// AuthorizeAction marks a pending proposed action as operator-approved.
func (h *Handlers) AuthorizeAction(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[authorizeRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if req.CorrelationID == "" {
		writeError(w, http.StatusBadRequest, "correlation_id is required")
		return
	}

	pa, err := h.gate.Authorize(req.CorrelationID, req.Secret)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, pa)
	case errors.Is(err, service.ErrGateDisabled):
		writeError(w, http.StatusServiceUnavailable, "action gate is not configured")
	case errors.Is(err, service.ErrGateUnauthorized):
		writeError(w, http.StatusForbidden, "authorization rejected")
	case errors.Is(err, service.ErrActionNotFound):
		writeError(w, http.StatusNotFound, "no pending action for correlation id")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// ListPendingActions returns all actions awaiting authorization.
func (h *Handlers) ListPendingActions(w http.ResponseWriter, _ *http.Request) {
	pending := h.gate.Pending()
	if pending == nil {
		pending = []service.PendingAction{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// Health reports liveness plus basic runtime counters.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"sessions":       h.sessions.Count(),
		"trace_dropped":  h.recorder.DroppedCount(),
		"trace_failures": h.recorder.FailureCount(),
	})
}
