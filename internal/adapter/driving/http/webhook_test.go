package httphandler_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/hookrelay/internal/adapter/driving/http"
	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

const testSecret = "webhook-secret"

type mockEvents struct {
	mu            sync.Mutex
	pullRequests  []model.PullRequestEvent
	pushes        []model.PushEvent
	slashCommands []model.SlashCommandEvent
	jobs          []model.WorkflowJobEvent
	checkActions  []model.CheckRunActionEvent
	checkSuites   []model.CheckSuiteEvent

	prErr   error
	prPanic bool
}

func (m *mockEvents) HandlePullRequest(_ context.Context, ev model.PullRequestEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullRequests = append(m.pullRequests, ev)
	if m.prPanic {
		panic("handler bug")
	}
	return m.prErr
}

func (m *mockEvents) HandlePush(_ context.Context, ev model.PushEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, ev)
	return nil
}

func (m *mockEvents) HandleSlashCommand(_ context.Context, ev model.SlashCommandEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slashCommands = append(m.slashCommands, ev)
	return nil
}

func (m *mockEvents) HandleWorkflowJob(_ context.Context, ev model.WorkflowJobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, ev)
	return nil
}

func (m *mockEvents) HandleCheckRunAction(_ context.Context, ev model.CheckRunActionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkActions = append(m.checkActions, ev)
	return nil
}

func (m *mockEvents) HandleCheckSuite(_ context.Context, ev model.CheckSuiteEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkSuites = append(m.checkSuites, ev)
	return nil
}

func sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// deliver posts a signed webhook delivery and returns the response status
// and decoded body.
func deliver(t *testing.T, url, event, deliveryID string, payload any, signature string) (int, httphandler.WebhookResponse) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	if signature == "" {
		signature = sign(data)
	}

	req, err := http.NewRequest(http.MethodPost, url+"/webhooks/github", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-GitHub-Delivery", deliveryID)
	req.Header.Set("X-Hub-Signature-256", signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body httphandler.WebhookResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func waitIdle(t *testing.T, wr *httphandler.WebhookReceiver) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wr.Wait(ctx))
}

func prPayload(action string) map[string]any {
	return map[string]any{
		"action": action,
		"pull_request": map[string]any{
			"number": 7,
			"merged": false,
			"head":   map[string]any{"ref": "feature", "sha": "h1"},
			"base": map[string]any{
				"ref": "main",
				"sha": "b1",
				"repo": map[string]any{
					"name":           "widgets",
					"default_branch": "main",
					"owner":          map[string]any{"login": "acme"},
				},
			},
		},
		"repository": map[string]any{"full_name": "acme/widgets", "default_branch": "main"},
	}
}

func TestWebhook_PullRequestAccepted(t *testing.T) {
	events := &mockEvents{}
	srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret, MaxConcurrent: 2})

	status, body := deliver(t, srv.URL, "pull_request", "d-1", prPayload("opened"), "")
	waitIdle(t, wr)

	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "accepted", body.Status)
	assert.Equal(t, "d-1", body.DeliveryID)

	require.Len(t, events.pullRequests, 1)
	ev := events.pullRequests[0]
	assert.Equal(t, "opened", ev.Action)
	assert.Equal(t, "acme/widgets", ev.PR.RepoFullName())
	assert.Equal(t, "h1", ev.PR.HeadSHA)
	assert.Equal(t, "main", ev.PR.BaseRef)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	events := &mockEvents{}
	srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret})

	status, _ := deliver(t, srv.URL, "pull_request", "d-1", prPayload("opened"), "sha256=deadbeef")
	waitIdle(t, wr)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Empty(t, events.pullRequests)
}

func TestWebhook_DuplicateDelivery(t *testing.T) {
	events := &mockEvents{}
	srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret})

	first, _ := deliver(t, srv.URL, "pull_request", "d-1", prPayload("opened"), "")
	second, body := deliver(t, srv.URL, "pull_request", "d-1", prPayload("opened"), "")
	waitIdle(t, wr)

	assert.Equal(t, http.StatusAccepted, first)
	assert.Equal(t, http.StatusOK, second)
	assert.Equal(t, "duplicate", body.Status)
	assert.Len(t, events.pullRequests, 1)
}

func TestWebhook_IgnoredDeliveries(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload map[string]any
	}{
		{"ping", "ping", map[string]any{"zen": "Keep it logically awesome."}},
		{"unsupported event", "star", map[string]any{"action": "created"}},
		{"unhandled pull request action", "pull_request", prPayload("labeled")},
		{"tag push", "push", map[string]any{"ref": "refs/tags/v1.0.0", "repository": map[string]any{"full_name": "acme/widgets"}}},
		{"comment without command", "issue_comment", map[string]any{
			"action":     "created",
			"issue":      map[string]any{"number": 7, "pull_request": map[string]any{"url": "x"}},
			"comment":    map[string]any{"id": 1, "body": "looks good"},
			"repository": map[string]any{"full_name": "acme/widgets"},
		}},
		{"command on plain issue", "issue_comment", map[string]any{
			"action":     "created",
			"issue":      map[string]any{"number": 7},
			"comment":    map[string]any{"id": 1, "body": "/deploy"},
			"repository": map[string]any{"full_name": "acme/widgets"},
		}},
		{"check run created", "check_run", map[string]any{"action": "created", "check_run": map[string]any{"id": 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &mockEvents{}
			srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret})

			status, body := deliver(t, srv.URL, tt.event, "d-"+tt.name, tt.payload, "")
			waitIdle(t, wr)

			assert.Equal(t, http.StatusOK, status)
			assert.Equal(t, "ignored", body.Status)
			assert.Empty(t, events.pullRequests)
			assert.Empty(t, events.pushes)
			assert.Empty(t, events.slashCommands)
			assert.Empty(t, events.checkActions)
		})
	}
}

func TestWebhook_Push(t *testing.T) {
	events := &mockEvents{}
	srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret})

	payload := map[string]any{
		"ref":   "refs/heads/main",
		"after": "c2",
		"commits": []map[string]any{
			{"added": []string{"a.go"}, "modified": []string{".github/hooks/ci.yaml"}},
			{"removed": []string{"a.go", "old.go"}},
		},
		"repository": map[string]any{"full_name": "acme/widgets", "default_branch": "main"},
	}

	status, _ := deliver(t, srv.URL, "push", "d-push", payload, "")
	waitIdle(t, wr)

	assert.Equal(t, http.StatusAccepted, status)
	require.Len(t, events.pushes, 1)
	assert.Equal(t, model.PushEvent{
		RepoFullName:  "acme/widgets",
		Branch:        "main",
		After:         "c2",
		DefaultBranch: "main",
		ChangedFiles:  []string{"a.go", ".github/hooks/ci.yaml", "old.go"},
	}, events.pushes[0])
}

func TestWebhook_SlashCommand(t *testing.T) {
	events := &mockEvents{}
	srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret})

	payload := map[string]any{
		"action":     "created",
		"issue":      map[string]any{"number": 7, "pull_request": map[string]any{"url": "x"}},
		"comment":    map[string]any{"id": 300, "body": "/Deploy staging now\nplease"},
		"repository": map[string]any{"full_name": "acme/widgets"},
	}

	status, _ := deliver(t, srv.URL, "issue_comment", "d-cmd", payload, "")
	waitIdle(t, wr)

	assert.Equal(t, http.StatusAccepted, status)
	require.Len(t, events.slashCommands, 1)
	ev := events.slashCommands[0]
	assert.Equal(t, "acme/widgets", ev.RepoFullName)
	assert.Equal(t, 7, ev.PRNumber)
	assert.Equal(t, int64(300), ev.CommentID)
	require.NotEmpty(t, ev.Tokens)
	assert.Equal(t, []string{"staging", "now"}, ev.Tokens[1:])
}

func TestWebhook_WorkflowJob(t *testing.T) {
	events := &mockEvents{}
	srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret})

	payload := map[string]any{
		"action": "completed",
		"workflow_job": map[string]any{
			"id":         55,
			"run_id":     500,
			"name":       "ci-lint-abc",
			"status":     "completed",
			"conclusion": "failure",
			"html_url":   "https://github.com/acme/widgets/actions/runs/500/job/55",
		},
		"repository": map[string]any{"full_name": "acme/widgets"},
	}

	status, _ := deliver(t, srv.URL, "workflow_job", "d-job", payload, "")
	waitIdle(t, wr)

	assert.Equal(t, http.StatusAccepted, status)
	require.Len(t, events.jobs, 1)
	ev := events.jobs[0]
	assert.Equal(t, "completed", ev.Action)
	assert.Equal(t, "ci-lint-abc", ev.Job.Name)
	assert.Equal(t, model.ConclusionFailure, ev.Job.Conclusion)
	assert.Equal(t, int64(500), ev.Job.RunID)
}

func TestWebhook_CheckRunAndSuite(t *testing.T) {
	events := &mockEvents{}
	srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret})

	requested := map[string]any{
		"action":           "requested_action",
		"check_run":        map[string]any{"id": 42},
		"requested_action": map[string]any{"identifier": model.ActionReRunFailed},
		"repository":       map[string]any{"full_name": "acme/widgets"},
	}
	suite := map[string]any{
		"action":      "rerequested",
		"check_suite": map[string]any{"head_sha": "h1"},
		"repository":  map[string]any{"full_name": "acme/widgets"},
	}

	s1, _ := deliver(t, srv.URL, "check_run", "d-run", requested, "")
	s2, _ := deliver(t, srv.URL, "check_suite", "d-suite", suite, "")
	waitIdle(t, wr)

	assert.Equal(t, http.StatusAccepted, s1)
	assert.Equal(t, http.StatusAccepted, s2)

	require.Len(t, events.checkActions, 1)
	assert.Equal(t, model.CheckRunActionEvent{
		Action:            "requested_action",
		RequestedActionID: model.ActionReRunFailed,
		RepoFullName:      "acme/widgets",
		CheckRunID:        42,
	}, events.checkActions[0])

	require.Len(t, events.checkSuites, 1)
	assert.Equal(t, model.CheckSuiteEvent{RepoFullName: "acme/widgets", HeadSHA: "h1"}, events.checkSuites[0])
}

func TestWebhook_RateLimited(t *testing.T) {
	events := &mockEvents{}
	srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, events, httphandler.WebhookConfig{Secret: testSecret, RatePerMinute: 1})

	first, _ := deliver(t, srv.URL, "pull_request", "d-1", prPayload("opened"), "")
	second, _ := deliver(t, srv.URL, "pull_request", "d-2", prPayload("opened"), "")
	waitIdle(t, wr)

	assert.Equal(t, http.StatusAccepted, first)
	assert.Equal(t, http.StatusTooManyRequests, second)
	assert.Len(t, events.pullRequests, 1)
}

func TestWebhook_FailedDeliveryCanBeRedelivered(t *testing.T) {
	tests := []struct {
		name   string
		events *mockEvents
	}{
		{"handler error", &mockEvents{prErr: errors.New("github unavailable")}},
		{"handler panic", &mockEvents{prPanic: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, wr := newTestServer(t, &mockLedger{}, &mockSyncer{}, tt.events, httphandler.WebhookConfig{Secret: testSecret, MaxConcurrent: 2})

			status, _ := deliver(t, srv.URL, "pull_request", "d-retry", prPayload("opened"), "")
			waitIdle(t, wr)
			require.Equal(t, http.StatusAccepted, status)

			status, body := deliver(t, srv.URL, "pull_request", "d-retry", prPayload("opened"), "")
			waitIdle(t, wr)

			assert.Equal(t, http.StatusAccepted, status)
			assert.Equal(t, "accepted", body.Status)
			assert.Len(t, tt.events.pullRequests, 2)
		})
	}
}
