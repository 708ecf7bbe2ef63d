package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Scorer is the pipeline the handlers drive.
type Scorer interface {
	SubmitTransaction(ctx context.Context, accountID string, raw domain.RawTransaction) (*domain.Submission, error)
	GetDashboard(ctx context.Context, accountID string) (*domain.AccountStatistics, error)
	GetSummary(ctx context.Context, accountID string) (*domain.AccountStatistics, error)
	GetRecord(ctx context.Context, accountID string, id domain.RecordID) (*domain.TransactionRecord, error)
	ListRecent(ctx context.Context, accountID string, limit int) ([]*domain.TransactionRecord, error)
	Ready(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer  Scorer
	bus     domain.EventBus
	queue   domain.EventBus
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler. Any of bus, queue and cache may be nil.
// bus is only health-checked; queue receives async submissions and must have a consumer.
func NewHandler(scorer Scorer, bus, queue domain.EventBus, cache domain.Cache, version string) *Handler {
	return &Handler{
		scorer:  scorer,
		bus:     bus,
		queue:   queue,
		cache:   cache,
		version: version,
	}
}

type errorResponse struct {
	Error   string         `json:"error"`
	Rule    string         `json:"rule,omitempty"`
	Field   string         `json:"field,omitempty"`
	Verdict domain.Verdict `json:"verdict,omitempty"`
}

// SubmitResponse is the response for POST /transactions.
type SubmitResponse struct {
	*domain.Submission
	TraceID string `json:"traceId,omitempty"`
}

// QueuedResponse is the response for POST /transactions?async=true.
type QueuedResponse struct {
	Status  string `json:"status"`
	TraceID string `json:"traceId"`
}

// SubmitTransaction handles POST /transactions. Accepts JSON or form-encoded bodies.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountID := GetAccountID(ctx)
	traceID := GetTraceID(ctx)

	raw, err := decodeTransaction(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.queue == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "async submission is not available"})
			return
		}
		// Rejected input never reaches the queue, so the caller still learns the violated rule.
		if _, err := features.Parse(raw); err != nil {
			writeError(w, err)
			return
		}
		msg := worker.SubmissionMessage{AccountID: accountID, TraceID: traceID, Transaction: raw}
		if err := worker.Enqueue(ctx, h.queue, msg); err != nil {
			slog.Error("failed to enqueue submission", "account_id", accountID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "failed to enqueue submission"})
			return
		}
		writeJSON(w, http.StatusAccepted, QueuedResponse{Status: "queued", TraceID: traceID})
		return
	}

	sub, err := h.scorer.SubmitTransaction(ctx, accountID, raw)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, SubmitResponse{Submission: sub, TraceID: traceID})
}

// decodeTransaction reads a RawTransaction from a JSON or form body.
func decodeTransaction(r *http.Request) (domain.RawTransaction, error) {
	var raw domain.RawTransaction

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		parse := r.ParseForm
		if mediaType == "multipart/form-data" {
			parse = func() error { return r.ParseMultipartForm(1 << 20) }
		}
		if err := parse(); err != nil {
			return raw, errors.New("invalid form body")
		}
		raw = domain.RawTransaction{
			Step:           r.PostForm.Get("step"),
			Type:           r.PostForm.Get("type"),
			Amount:         r.PostForm.Get("amount"),
			OldBalanceOrig: r.PostForm.Get("oldbalanceOrg"),
			NewBalanceOrig: r.PostForm.Get("newbalanceOrig"),
			OldBalanceDest: r.PostForm.Get("oldbalanceDest"),
			NewBalanceDest: r.PostForm.Get("newbalanceDest"),
		}
		return raw, nil
	default:
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&raw); err != nil {
			return raw, errors.New("invalid JSON request body")
		}
		return raw, nil
	}
}

// ListTransactions handles GET /transactions.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := domain.HistoryLength
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	records, err := h.scorer.ListRecent(r.Context(), GetAccountID(r.Context()), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": records,
		"count":        len(records),
	})
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "id must be a positive integer"})
		return
	}

	rec, err := h.scorer.GetRecord(r.Context(), GetAccountID(r.Context()), domain.RecordID(id))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Dashboard handles GET /dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	s, err := h.scorer.GetDashboard(r.Context(), GetAccountID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DashboardStats handles GET /dashboard/stats.
func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.scorer.GetSummary(r.Context(), GetAccountID(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	check("store", h.scorer.Ready)
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("bus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready. Not ready while the audit store is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.scorer.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// writeError maps pipeline errors to status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	var perr *domain.PersistenceError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Rule: string(verr.Rule), Field: verr.Field})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &perr):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: domain.ErrPersistence.Error(), Verdict: perr.Verdict})
	case errors.Is(err, domain.ErrAccountRequired):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrClassifierUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: domain.ErrClassifierUnavailable.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrStorageRead):
		slog.Error("storage read failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: domain.ErrStorageRead.Error()})
	default:
		slog.Error("unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
