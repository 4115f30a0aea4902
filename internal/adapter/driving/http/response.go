package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/hookrelay/internal/application"
	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status     string `json:"status"`
	DeliveryID string `json:"delivery_id,omitempty"`
}

// CheckKeyResponse identifies an aggregate check.
type CheckKeyResponse struct {
	Repository string `json:"repository"`
	PRCheckID  int64  `json:"pr_check_id"`
}

// CheckRunsResponse is the JSON representation of an aggregate check and its
// ledger rows.
type CheckRunsResponse struct {
	PRCheckID  int64             `json:"pr_check_id"`
	Repository string            `json:"repository"`
	Runs       []RunResponse     `json:"runs"`
	Schedule   *ScheduleResponse `json:"schedule,omitempty"`
}

// RunResponse is the JSON representation of a single ledger row.
type RunResponse struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	PipelineRunName string            `json:"pipeline_run_name"`
	HookType        string            `json:"hook_type"`
	HeadSHA         string            `json:"head_sha"`
	MergeCommitSHA  string            `json:"merge_commit_sha,omitempty"`
	PRNumber        int               `json:"pr_number"`
	Inputs          map[string]string `json:"inputs,omitempty"`
	Status          string            `json:"status"`
	Conclusion      *string           `json:"conclusion"`
	PRConclusion    *string           `json:"pr_conclusion"`
	WorkflowRunID   *int64            `json:"workflow_run_id,omitempty"`
	WorkflowJobID   *int64            `json:"workflow_job_id,omitempty"`
	CheckRunID      *int64            `json:"check_run_id,omitempty"`
	WorkflowRunURL  *string           `json:"workflow_run_url,omitempty"`
	Error           *string           `json:"error,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// ScheduleResponse is the reconcile schedule of an open aggregate.
type ScheduleResponse struct {
	Tier       string `json:"tier"`
	NextSyncAt string `json:"next_sync_at"`
	LastSynced string `json:"last_synced,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toRunResponse(run model.WorkflowRun) RunResponse {
	return RunResponse{
		ID:              run.ID,
		Name:            run.Name,
		PipelineRunName: run.PipelineRunName,
		HookType:        string(run.HookType),
		HeadSHA:         run.HeadSHA,
		MergeCommitSHA:  run.MergeCommitSHA,
		PRNumber:        run.PRNumber,
		Inputs:          run.WorkflowRunInputs,
		Status:          string(run.Status),
		Conclusion:      conclusionString(run.Conclusion),
		PRConclusion:    conclusionString(run.PRConclusion),
		WorkflowRunID:   run.WorkflowRunID,
		WorkflowJobID:   run.WorkflowJobID,
		CheckRunID:      run.CheckRunID,
		WorkflowRunURL:  run.WorkflowRunURL,
		Error:           run.Error,
		CreatedAt:       formatTime(run.CreatedAt),
		UpdatedAt:       formatTime(run.UpdatedAt),
	}
}

func toScheduleResponse(info application.ScheduleInfo) *ScheduleResponse {
	return &ScheduleResponse{
		Tier:       info.Tier.String(),
		NextSyncAt: formatTime(info.NextSyncAt),
		LastSynced: formatTime(info.LastSynced),
	}
}

func conclusionString(c *model.Conclusion) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
