package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Pipeline is the case orchestrator as seen by the HTTP layer.
type Pipeline interface {
	Submit(ctx context.Context, in domain.CaseInput) (*domain.CaseResult, error)
	GetCase(ctx context.Context, caseID string) (*domain.Case, error)
	GetAuditLog(ctx context.Context, caseID string) ([]domain.AuditEvent, error)
	Snapshot() domain.MetricsSnapshot
}

// Deps holds the collaborators the handlers call. Repo, Cache and Bus are
// optional; the routes that need a missing one answer 503.
type Deps struct {
	Pipeline Pipeline
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Limits   domain.NarrativeLimits
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	pipeline Pipeline
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	limits   domain.NarrativeLimits
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		pipeline: deps.Pipeline,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		limits:   deps.Limits,
		version:  deps.Version,
	}
}

// DisputeResponse is the response for POST /v1/disputes.
type DisputeResponse struct {
	*domain.CaseResult
	Metadata struct {
		TraceID string `json:"traceId"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// AcceptedResponse is the response for POST /v1/disputes/async.
type AcceptedResponse struct {
	CaseID  string        `json:"caseId"`
	Status  domain.Status `json:"status"`
	TraceID string        `json:"traceId"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error  string              `json:"error"`
	CaseID string              `json:"caseId,omitempty"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

// SubmitDispute handles POST /v1/disputes. The case is processed before the
// response is written.
func (h *Handler) SubmitDispute(w http.ResponseWriter, r *http.Request) {
	var in domain.CaseInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return
	}

	result, err := h.pipeline.Submit(r.Context(), in)
	if err != nil {
		writeCaseError(w, err)
		return
	}

	resp := DisputeResponse{CaseResult: result}
	resp.Metadata.TraceID = GetTraceID(r.Context())
	resp.Metadata.Version = h.version
	writeJSON(w, http.StatusCreated, resp)
}

// SubmitDisputeAsync handles POST /v1/disputes/async. The case is validated
// here, then handed to the worker through the event bus.
func (h *Handler) SubmitDisputeAsync(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "event bus not available"})
		return
	}

	var in domain.CaseInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return
	}
	if err := in.Validate(h.limits); err != nil {
		writeCaseError(w, err)
		return
	}

	caseID := domain.NewCaseID(uuid.New().String())
	payload, err := json.Marshal(domain.CaseSubmission{CaseID: caseID, Input: in})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to encode submission"})
		return
	}
	if err := h.bus.Publish(r.Context(), domain.TopicCaseSubmitted, payload); err != nil {
		slog.Error("failed to publish case submission", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "failed to queue case", CaseID: caseID})
		return
	}

	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		CaseID:  caseID,
		Status:  domain.StatusReceived,
		TraceID: GetTraceID(r.Context()),
	})
}

// GetDispute handles GET /v1/disputes/{id}.
func (h *Handler) GetDispute(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	c, err := h.pipeline.GetCase(r.Context(), caseID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "case not found", CaseID: caseID})
			return
		}
		slog.Error("failed to get case", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load case"})
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// GetDisputeAudit handles GET /v1/disputes/{id}/audit. A case with no
// recorded events is reported as not found.
func (h *Handler) GetDisputeAudit(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "id")

	events, err := h.pipeline.GetAuditLog(r.Context(), caseID)
	if err != nil {
		slog.Error("failed to get audit log", "case_id", caseID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load audit log"})
		return
	}
	if len(events) == 0 {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no audit events for case", CaseID: caseID})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"caseId": caseID,
		"events": events,
	})
}

// ListDisputes handles GET /v1/disputes?limit=N.
func (h *Handler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	cases, err := h.repo.ListCases(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to list cases"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// Metrics handles GET /v1/metrics.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// RecordTransaction handles POST /v1/ledger/transactions. Recorded
// transactions feed enrichment of later cases.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "repository not available"})
		return
	}

	var req domain.LedgerTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON request body"})
		return
	}
	if err := req.Validate(); err != nil {
		writeCaseError(w, err)
		return
	}

	tx := req.ToLedgerTransaction(time.Now())
	tx.ID = uuid.New().String()
	if err := h.repo.SaveTransaction(r.Context(), tx); err != nil {
		slog.Error("failed to save transaction", "customer_id", tx.CustomerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to save transaction"})
		return
	}

	writeJSON(w, http.StatusCreated, tx)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns 503 until the store and bus respond.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if h.repo != nil {
		checks["repository"] = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			checks["repository"] = err.Error()
			ready = false
		}
	}
	if h.bus != nil {
		checks["eventBus"] = "ok"
		if err := h.bus.Ping(r.Context()); err != nil {
			checks["eventBus"] = err.Error()
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// writeCaseError maps pipeline errors to HTTP statuses.
func writeCaseError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var perr *domain.PersistenceError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "validation failed",
			Fields: verr.Fields,
		})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:  "case processed but could not be stored",
			CaseID: perr.CaseID,
		})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		slog.Error("case processing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
