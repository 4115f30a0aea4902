package model

import "time"

// RunStatus is the lifecycle state of a dispatched pipeline run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
)

// Conclusion is a terminal check or run outcome as reported by GitHub.
type Conclusion string

const (
	ConclusionSuccess        Conclusion = "success"
	ConclusionFailure        Conclusion = "failure"
	ConclusionCancelled      Conclusion = "cancelled" //nolint:misspell // GitHub API spelling.
	ConclusionSkipped        Conclusion = "skipped"
	ConclusionActionRequired Conclusion = "action_required"
	ConclusionNeutral        Conclusion = "neutral"
	ConclusionStale          Conclusion = "stale"
	ConclusionTimedOut       Conclusion = "timed_out"

	// ConclusionSuperseded is ledger-only: the row was replaced by a newer
	// dispatch of the same pipeline run name and takes no further part in
	// aggregation.
	ConclusionSuperseded Conclusion = "superseded"
)

// WorkflowRun is one ledger row: a single dispatch attempt for one hook.
type WorkflowRun struct {
	ID                int64
	RepoFullName      string
	Name              string // PipelineUniquePrefix of the hook.
	HeadSHA           string
	MergeCommitSHA    string
	PipelineRunName   string // Name-HeadSHA; correlation key for platform events.
	WorkflowRunInputs map[string]string
	PRNumber          int
	PRCheckID         int64 // Aggregate check this run belongs to.
	HookType          HookType
	Status            RunStatus
	Conclusion        *Conclusion
	PRConclusion      *Conclusion // Non-nil once folded into a finalized aggregate.
	WorkflowRunID     *int64
	WorkflowJobID     *int64
	RunAttempt        int64 // Attempt of the job in WorkflowJobID; kept across re-run resets.
	CheckRunID        *int64 // The run's own individual check.
	WorkflowRunURL    *string
	Error             *string // Set instead of dispatching when validation failed.
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Transient, not persisted: tail of the job log for failed runs.
	Logs string
}

// IsCompleted reports whether the run reached its terminal status.
func (r WorkflowRun) IsCompleted() bool {
	return r.Status == RunStatusCompleted
}

// IsFinalized reports whether the run has been counted into an aggregate.
func (r WorkflowRun) IsFinalized() bool {
	return r.PRConclusion != nil
}

// ConclusionValue returns the conclusion or an empty value when unset.
func (r WorkflowRun) ConclusionValue() Conclusion {
	if r.Conclusion == nil {
		return ""
	}
	return *r.Conclusion
}

// ErrorValue returns the dispatch error message or an empty string.
func (r WorkflowRun) ErrorValue() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// TriggeredWorkflow is the per-hook outcome of a dispatch attempt.
type TriggeredWorkflow struct {
	Name   string // PipelineRunName.
	Inputs map[string]string
	Error  string // Empty when the workflow was dispatched.
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
