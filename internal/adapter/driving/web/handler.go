// Package web implements the HTML status page driving adapter using templ
// components.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/a-h/templ"

	"github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/templates"
	"github.com/ericfisherdev/hookrelay/internal/adapter/driving/web/templates/pages"
	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// Syncer reconciles an aggregate check with GitHub.
type Syncer interface {
	SyncNow(ctx context.Context, repoFullName string, prCheckID int64) error
}

// Handler serves the HTML status pages linked from check run details.
type Handler struct {
	ledger driven.RunLedger
	syncer Syncer
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(ledger driven.RunLedger, syncer Syncer, logger *slog.Logger) *Handler {
	return &Handler{
		ledger: ledger,
		syncer: syncer,
		logger: logger.With("component", "web"),
	}
}

// Index renders the list of recently updated aggregate checks.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	keys, err := h.ledger.ListRecentPRChecks(r.Context(), 50)
	if err != nil {
		h.logger.Error("failed to list checks", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.render(w, r, "Recent checks", pages.Index(toIndexViewModel(keys)))
}

// CheckPage renders the summary of one aggregate check.
func (h *Handler) CheckPage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid check id", http.StatusBadRequest)
		return
	}

	runs, err := h.visibleRuns(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load check", "pr_check_id", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if len(runs) == 0 {
		http.NotFound(w, r)
		return
	}

	page := toCheckPageViewModel(id, runs)
	page.CSRFToken = csrfToken(w, r)

	h.render(w, r, page.Repository, pages.Check(page))
}

// SyncCheck reconciles the check with GitHub and redirects back to its page.
func (h *Handler) SyncCheck(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid check id", http.StatusBadRequest)
		return
	}
	if !validateCSRF(r) {
		http.Error(w, "invalid CSRF token", http.StatusForbidden)
		return
	}

	runs, err := h.visibleRuns(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load check", "pr_check_id", id, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if len(runs) == 0 {
		http.NotFound(w, r)
		return
	}

	repo := runs[0].RepoFullName
	if err := h.syncer.SyncNow(r.Context(), repo, id); err != nil {
		h.logger.Error("sync failed", "repo", repo, "pr_check_id", id, "error", err)
		http.Error(w, "sync failed", http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, checkPath(id), http.StatusSeeOther)
}

// visibleRuns returns the rows of an aggregate without superseded ones.
func (h *Handler) visibleRuns(ctx context.Context, prCheckID int64) ([]model.WorkflowRun, error) {
	runs, err := h.ledger.ListByPRCheck(ctx, prCheckID, driven.RunFilter{})
	if err != nil {
		return nil, err
	}

	visible := runs[:0]
	for _, run := range runs {
		if run.PRConclusion != nil && *run.PRConclusion == model.ConclusionSuperseded {
			continue
		}
		visible = append(visible, run)
	}
	return visible, nil
}

// render writes a page inside the shared layout.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, title string, page templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	layout := templates.Layout(title, page)
	if err := layout.Render(r.Context(), w); err != nil {
		h.logger.Error("failed to render page", "title", title, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
