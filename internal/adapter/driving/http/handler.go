package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ericfisherdev/hookrelay/internal/application"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// CheckSyncer reconciles an aggregate with the current platform state. It is
// implemented by application.ReconcileService.
type CheckSyncer interface {
	SyncNow(ctx context.Context, repoFullName string, prCheckID int64) error
	GetSchedule(prCheckID int64) (application.ScheduleInfo, bool)
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	ledger driven.RunLedger
	syncer CheckSyncer
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(ledger driven.RunLedger, syncer CheckSyncer, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		syncer: syncer,
		logger: logger.With("component", "api"),
	}
}

// RegisterAPIRoutes registers the webhook receiver, REST API and metrics
// endpoints on mux.
func RegisterAPIRoutes(mux *http.ServeMux, h *Handler, webhook *WebhookReceiver, gatherer prometheus.Gatherer) {
	mux.Handle("POST /webhooks/github", webhook)
	mux.HandleFunc("GET /api/v1/checks", h.ListChecks)
	mux.HandleFunc("GET /api/v1/checks/{id}/runs", h.ListCheckRuns)
	mux.HandleFunc("POST /api/v1/checks/{id}/sync", h.SyncCheck)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", MetricsHandler(gatherer))
}

// ApplyMiddleware wraps handler with request id, logging, metrics and
// recovery middleware. Recovery is innermost so panics are caught before
// logging.
func ApplyMiddleware(handler http.Handler, metrics *Metrics, logger *slog.Logger) http.Handler {
	wrapped := recoveryMiddleware(logger, handler)
	wrapped = requestMetricsMiddleware(metrics, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)
	return wrapped
}

// ListChecks returns the most recently updated aggregate checks.
func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	keys, err := h.ledger.ListRecentPRChecks(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list checks", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]CheckKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, CheckKeyResponse{Repository: k.RepoFullName, PRCheckID: k.PRCheckID})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListCheckRuns returns every ledger row of an aggregate check.
func (h *Handler) ListCheckRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCheckID(w, r)
	if !ok {
		return
	}

	runs, err := h.ledger.ListByPRCheck(r.Context(), id, driven.RunFilter{})
	if err != nil {
		h.logger.Error("failed to list check runs", "pr_check_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(runs) == 0 {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}

	resp := CheckRunsResponse{
		PRCheckID:  id,
		Repository: runs[0].RepoFullName,
		Runs:       make([]RunResponse, 0, len(runs)),
	}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(run))
	}
	if h.syncer != nil {
		if info, ok := h.syncer.GetSchedule(id); ok {
			resp.Schedule = toScheduleResponse(info)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// SyncCheck reconciles an aggregate check with GitHub and blocks until done.
func (h *Handler) SyncCheck(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCheckID(w, r)
	if !ok {
		return
	}
	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not available")
		return
	}

	runs, err := h.ledger.ListByPRCheck(r.Context(), id, driven.RunFilter{})
	if err != nil {
		h.logger.Error("failed to load check", "pr_check_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if len(runs) == 0 {
		writeError(w, http.StatusNotFound, "check not found")
		return
	}

	repo := runs[0].RepoFullName
	if err := h.syncer.SyncNow(r.Context(), repo, id); err != nil {
		h.logger.Error("sync failed", "repo", repo, "pr_check_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "sync failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

func parseCheckID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid check id")
		return 0, false
	}
	return id, true
}
