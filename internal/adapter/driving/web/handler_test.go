package web_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/hookrelay/internal/adapter/driving/web"
	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

type stubLedger struct {
	driven.RunLedger
	runs   []model.WorkflowRun
	recent []driven.PRCheckKey
}

func (s *stubLedger) ListByPRCheck(_ context.Context, prCheckID int64, _ driven.RunFilter) ([]model.WorkflowRun, error) {
	var out []model.WorkflowRun
	for _, r := range s.runs {
		if r.PRCheckID == prCheckID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubLedger) ListRecentPRChecks(_ context.Context, _ int) ([]driven.PRCheckKey, error) {
	return s.recent, nil
}

type stubSyncer struct {
	calls []int64
}

func (s *stubSyncer) SyncNow(_ context.Context, _ string, id int64) error {
	s.calls = append(s.calls, id)
	return nil
}

func newWebServer(t *testing.T, ledger driven.RunLedger, syncer web.Syncer) *httptest.Server {
	t.Helper()

	h := web.NewHandler(ledger, syncer, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	web.RegisterRoutes(mux, h)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func checkRuns() []model.WorkflowRun {
	failure := model.ConclusionFailure
	success := model.ConclusionSuccess
	superseded := model.ConclusionSuperseded
	errMsg := "workflow lint.yaml not found"
	return []model.WorkflowRun{
		{
			ID: 1, RepoFullName: "acme/widgets", PRNumber: 7, PRCheckID: 42,
			HookType: model.HookTypeOnPullRequest, HeadSHA: "abcdef0123456789",
			PipelineRunName: "ci-test-abcdef0", Status: model.RunStatusCompleted, Conclusion: &success,
			UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID: 2, RepoFullName: "acme/widgets", PRNumber: 7, PRCheckID: 42,
			HookType: model.HookTypeOnPullRequest, HeadSHA: "abcdef0123456789",
			PipelineRunName: "ci-lint-abcdef0", Status: model.RunStatusCompleted, Conclusion: &failure,
			Error: &errMsg,
		},
		{
			ID: 3, RepoFullName: "acme/widgets", PRNumber: 7, PRCheckID: 42,
			PipelineRunName: "ci-old-abcdef0", Status: model.RunStatusQueued, PRConclusion: &superseded,
		},
	}
}

func TestIndex(t *testing.T) {
	srv := newWebServer(t, &stubLedger{recent: []driven.PRCheckKey{{RepoFullName: "acme/widgets", PRCheckID: 42}}}, &stubSyncer{})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `href="/checks/42"`)
	assert.Contains(t, string(body), "acme/widgets")
}

func TestCheckPage(t *testing.T) {
	srv := newWebServer(t, &stubLedger{runs: checkRuns()}, &stubSyncer{})

	resp, err := http.Get(srv.URL + "/checks/42")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	html := string(body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, html, "badge-failure")
	assert.Contains(t, html, "ci-lint-abcdef0")
	assert.Contains(t, html, "workflow lint.yaml not found")
	assert.Contains(t, html, "<code>abcdef0</code>")
	assert.NotContains(t, html, "ci-old-abcdef0", "superseded rows are hidden")
	assert.Contains(t, html, "<strong>2 pipeline(s)</strong>")
	assert.Contains(t, html, `name="csrf_token"`)
}

func TestCheckPage_NotFound(t *testing.T) {
	srv := newWebServer(t, &stubLedger{}, &stubSyncer{})

	resp, err := http.Get(srv.URL + "/checks/9")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSyncCheck_RequiresCSRF(t *testing.T) {
	syncer := &stubSyncer{}
	srv := newWebServer(t, &stubLedger{runs: checkRuns()}, syncer)

	resp, err := http.PostForm(srv.URL+"/checks/42/sync", url.Values{"csrf_token": {"forged"}})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, syncer.calls)
}

func TestSyncCheck_WithToken(t *testing.T) {
	syncer := &stubSyncer{}
	srv := newWebServer(t, &stubLedger{runs: checkRuns()}, syncer)

	form := url.Values{"csrf_token": {"token-123"}}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/checks/42/sync", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "hookrelay_csrf", Value: "token-123"})

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/checks/42", resp.Header.Get("Location"))
	assert.Equal(t, []int64{42}, syncer.calls)
}
