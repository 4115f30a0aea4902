package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// CheckAggregator owns the lifecycle of aggregate PR checks and of the
// individual check of every dispatched run. All cross-run coordination goes
// through the run ledger.
type CheckAggregator struct {
	ghClient     driven.GitHubClient
	ghWriter     driven.GitHubWriter
	ledger       driven.RunLedger
	publicURL    string
	logTailBytes int
	concurrency  int
	logger       *slog.Logger
}

// NewCheckAggregator creates a CheckAggregator. publicURL may be empty; when
// set, aggregate checks link to this service's status page.
func NewCheckAggregator(
	ghClient driven.GitHubClient,
	ghWriter driven.GitHubWriter,
	ledger driven.RunLedger,
	publicURL string,
	concurrency int,
	logger *slog.Logger,
) *CheckAggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &CheckAggregator{
		ghClient:     ghClient,
		ghWriter:     ghWriter,
		ledger:       ledger,
		publicURL:    strings.TrimSuffix(publicURL, "/"),
		logTailBytes: maxLogExcerptBytes,
		concurrency:  concurrency,
		logger:       logger.With("component", "check_aggregator"),
	}
}

// CreatePRCheck creates a queued aggregate check for one event and hook type.
func (a *CheckAggregator) CreatePRCheck(ctx context.Context, repoFullName string, hookType model.HookType, headSHA string, prNumber int) (*model.PRCheck, error) {
	name := model.CheckNameFor(hookType)
	ref, err := a.ghWriter.CreateCheckRun(ctx, repoFullName, model.CheckRunRequest{
		Name:    string(name),
		HeadSHA: headSHA,
		Status:  model.RunStatusQueued,
		Title:   "Processing hooks",
		Summary: "Evaluating hook configuration for this change.",
	})
	if err != nil {
		return nil, fmt.Errorf("create %s for %s@%s: %w", name, repoFullName, headSHA, err)
	}

	a.logger.Info("pr check created",
		"repo", repoFullName,
		"pr", prNumber,
		"check", name,
		"pr_check_id", ref.ID,
	)

	return &model.PRCheck{
		ID:           ref.ID,
		Name:         name,
		URL:          ref.URL,
		HookType:     hookType,
		RepoFullName: repoFullName,
		HeadSHA:      headSHA,
		PRNumber:     prNumber,
	}, nil
}

// CompleteNoHooks finishes an aggregate for which no hook triggered.
func (a *CheckAggregator) CompleteNoHooks(ctx context.Context, check model.PRCheck) error {
	_, err := a.ghWriter.UpdateCheckRun(ctx, check.RepoFullName, check.ID, model.CheckRunRequest{
		Name:       string(check.Name),
		Status:     model.RunStatusCompleted,
		Conclusion: model.ConclusionSuccess,
		Title:      "No pipelines triggered",
		Summary:    FormatSummary(model.RunStatusCompleted, model.ConclusionSuccess, nil),
	})
	if err != nil {
		return fmt.Errorf("complete %s %d: %w", check.Name, check.ID, err)
	}
	return nil
}

// FailConfiguration finishes an aggregate whose hook configuration is invalid,
// attaching one annotation per violation.
func (a *CheckAggregator) FailConfiguration(ctx context.Context, check model.PRCheck, annotations []model.Annotation) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d problem(s) in the hook configuration.\n", len(annotations))
	for _, an := range annotations {
		fmt.Fprintf(&b, "\n- `%s:%d` %s", an.Path, an.StartLine, an.Message)
	}

	_, err := a.ghWriter.UpdateCheckRun(ctx, check.RepoFullName, check.ID, model.CheckRunRequest{
		Name:        string(check.Name),
		Status:      model.RunStatusCompleted,
		Conclusion:  model.ConclusionFailure,
		Title:       "Invalid hook configuration",
		Summary:     truncateUTF8(b.String(), MaxSummaryBytes),
		Annotations: annotations,
	})
	if err != nil {
		return fmt.Errorf("fail %s %d with annotations: %w", check.Name, check.ID, err)
	}
	return nil
}

// ProcessDispatchResult moves the aggregate after dispatch. When every hook
// errored the aggregate fails immediately and its rows are finalized.
// Otherwise it reflects the open rows and completes if they already have.
func (a *CheckAggregator) ProcessDispatchResult(ctx context.Context, check model.PRCheck, results []model.TriggeredWorkflow) error {
	runs, err := a.ledger.ListByPRCheck(ctx, check.ID, driven.RunFilter{})
	if err != nil || len(runs) == 0 {
		if err != nil {
			a.logger.Error("list runs for summary failed", "pr_check_id", check.ID, "error", err)
		}
		runs = runsFromResults(results)
	}

	var dispatched []string
	for _, r := range results {
		if r.Error == "" {
			dispatched = append(dispatched, r.Name)
		}
	}

	if len(dispatched) == 0 {
		_, err := a.ghWriter.UpdateCheckRun(ctx, check.RepoFullName, check.ID, model.CheckRunRequest{
			Name:       string(check.Name),
			DetailsURL: a.detailsURL(check.ID),
			Status:     model.RunStatusCompleted,
			Conclusion: model.ConclusionFailure,
			Title:      "All pipelines failed to trigger",
			Summary:    FormatSummary(model.RunStatusCompleted, model.ConclusionFailure, runs),
		})
		if err != nil {
			return fmt.Errorf("fail %s %d after dispatch errors: %w", check.Name, check.ID, err)
		}
		if _, err := a.ledger.Finalize(ctx, check.ID, model.ConclusionFailure); err != nil {
			return fmt.Errorf("finalize pr check %d: %w", check.ID, err)
		}
		return nil
	}

	// Job events may race ahead of this update. A finalized aggregate must
	// not be moved back to queued.
	status, open := dispatchStatus(runs)
	if len(runs) > 0 && open == 0 {
		a.logger.Info("pr check finalized before dispatch result", "pr_check_id", check.ID)
		return nil
	}

	title := fmt.Sprintf("Triggered %d pipeline(s)", len(dispatched))
	if len(dispatched) < len(results) {
		title = fmt.Sprintf("Triggered %d of %d pipeline(s)", len(dispatched), len(results))
	}
	_, err = a.ghWriter.UpdateCheckRun(ctx, check.RepoFullName, check.ID, model.CheckRunRequest{
		Name:       string(check.Name),
		DetailsURL: a.detailsURL(check.ID),
		Status:     status,
		Title:      title,
		Summary:    FormatSummary(status, "", runs),
		Actions:    []model.CheckAction{model.SyncStatusAction},
	})
	if err != nil {
		return fmt.Errorf("update %s %d after dispatch: %w", check.Name, check.ID, err)
	}

	// Runs that completed before the update above would otherwise leave the
	// aggregate open until the next sync.
	return a.evaluate(ctx, check.RepoFullName, check.ID, true)
}

// dispatchStatus reports the aggregate status implied by the open rows and
// how many rows are still open.
func dispatchStatus(runs []model.WorkflowRun) (model.RunStatus, int) {
	status := model.RunStatusQueued
	open := 0
	for _, r := range runs {
		if r.PRConclusion != nil {
			continue
		}
		open++
		// Rows that errored at dispatch never ran a job.
		if r.Status == model.RunStatusInProgress || (r.IsCompleted() && r.WorkflowJobID != nil) {
			status = model.RunStatusInProgress
		}
	}
	return status, open
}

// HandleJobEvent applies a workflow_job delivery. Events that cannot be
// correlated to an open ledger row are logged and dropped.
func (a *CheckAggregator) HandleJobEvent(ctx context.Context, ev model.WorkflowJobEvent) error {
	run, err := a.ledger.FindOpenByPipelineRunName(ctx, ev.RepoFullName, ev.Job.Name)
	if err != nil {
		return fmt.Errorf("find run %s: %w", ev.Job.Name, err)
	}
	if run == nil {
		a.logger.Info("ignoring job event for unknown run",
			"repo", ev.RepoFullName,
			"pipeline_run_name", ev.Job.Name,
			"action", ev.Action,
			"job_id", ev.Job.ID,
		)
		return nil
	}

	applied, err := a.applyJobState(ctx, run, ev.Job)
	if err != nil || !applied {
		return err
	}

	switch ev.Job.Status {
	case model.RunStatusInProgress:
		a.markInProgress(ctx, *run)
	case model.RunStatusCompleted:
		return a.evaluate(ctx, run.RepoFullName, run.PRCheckID, true)
	}
	return nil
}

// applyJobState moves a ledger row and its individual check to the state of
// the platform job. Stale or repeated states for the same job, and jobs of an
// attempt older than the row's, are ignored and reported as not applied.
func (a *CheckAggregator) applyJobState(ctx context.Context, run *model.WorkflowRun, job model.WorkflowJob) (bool, error) {
	newAttempt, ok := acceptJob(*run, job)
	if !ok {
		a.logger.Debug("ignoring stale job state",
			"pipeline_run_name", run.PipelineRunName,
			"job_id", job.ID,
			"run_attempt", job.RunAttempt,
			"status", job.Status,
		)
		return false, nil
	}

	req := model.CheckRunRequest{
		Name:       run.Name,
		HeadSHA:    targetSHA(*run),
		DetailsURL: job.HTMLURL,
		ExternalID: run.PipelineRunName,
		Status:     job.Status,
		Title:      runTitle(job.Status, job.Conclusion),
		Summary:    fmt.Sprintf("Pipeline `%s` is %s.", run.PipelineRunName, strings.ReplaceAll(string(job.Status), "_", " ")),
	}
	var conclusion model.Conclusion
	if job.Status == model.RunStatusCompleted {
		conclusion = job.Conclusion
		if conclusion == "" {
			conclusion = model.ConclusionFailure
		}
		req.Conclusion = conclusion
	}

	if newAttempt || run.CheckRunID == nil {
		ref, err := a.ghWriter.CreateCheckRun(ctx, run.RepoFullName, req)
		if err != nil {
			a.logger.Error("create run check failed", "pipeline_run_name", run.PipelineRunName, "error", err)
		} else {
			run.CheckRunID = model.Ptr(ref.ID)
		}
	} else if _, err := a.ghWriter.UpdateCheckRun(ctx, run.RepoFullName, *run.CheckRunID, req); err != nil {
		a.logger.Error("update run check failed", "pipeline_run_name", run.PipelineRunName, "check_run_id", *run.CheckRunID, "error", err)
	}

	run.WorkflowJobID = model.Ptr(job.ID)
	if job.RunAttempt != 0 {
		run.RunAttempt = job.RunAttempt
	}
	if job.RunID != 0 {
		run.WorkflowRunID = model.Ptr(job.RunID)
	}
	if url := firstNonEmpty(job.RunURL, job.HTMLURL); url != "" {
		run.WorkflowRunURL = model.Ptr(url)
	}
	run.Status = job.Status
	if job.Status == model.RunStatusCompleted {
		run.Conclusion = model.Ptr(conclusion)
	} else {
		run.Conclusion = nil
	}

	if err := a.ledger.Update(ctx, *run); err != nil {
		return false, fmt.Errorf("update run %s: %w", run.PipelineRunName, err)
	}
	return true, nil
}

// acceptJob decides whether job may replace the state recorded on run and
// whether it belongs to a different job than the one recorded. Within one
// workflow run, attempts only move forward: after a re-run resets the row,
// jobs of the attempt it already saw are stale.
func acceptJob(run model.WorkflowRun, job model.WorkflowJob) (newAttempt, ok bool) {
	sameRun := run.WorkflowRunID != nil && *run.WorkflowRunID == job.RunID
	if sameRun && job.RunAttempt != 0 {
		if job.RunAttempt < run.RunAttempt {
			return false, false
		}
		if run.WorkflowJobID == nil && run.RunAttempt != 0 && job.RunAttempt == run.RunAttempt {
			return false, false
		}
	}
	if run.WorkflowJobID == nil || *run.WorkflowJobID != job.ID {
		return true, true
	}
	return false, statusRank(job.Status) > statusRank(run.Status)
}

// markInProgress moves the aggregate to in_progress. Safe to repeat for every
// sibling run.
func (a *CheckAggregator) markInProgress(ctx context.Context, run model.WorkflowRun) {
	runs, err := a.ledger.ListByPRCheck(ctx, run.PRCheckID, driven.RunFilter{OpenOnly: true})
	if err != nil {
		a.logger.Error("list sibling runs failed", "pr_check_id", run.PRCheckID, "error", err)
		runs = []model.WorkflowRun{run}
	}

	_, err = a.ghWriter.UpdateCheckRun(ctx, run.RepoFullName, run.PRCheckID, model.CheckRunRequest{
		Name:       string(model.CheckNameFor(run.HookType)),
		DetailsURL: a.detailsURL(run.PRCheckID),
		Status:     model.RunStatusInProgress,
		Title:      "Pipelines running",
		Summary:    FormatSummary(model.RunStatusInProgress, "", runs),
		Actions:    []model.CheckAction{model.SyncStatusAction},
	})
	if err != nil {
		a.logger.Error("mark pr check in progress failed", "pr_check_id", run.PRCheckID, "error", err)
	}
}

// evaluate finalizes the aggregate when every open sibling has completed.
// Rows are finalized only after the remote update succeeds.
func (a *CheckAggregator) evaluate(ctx context.Context, repoFullName string, prCheckID int64, notify bool) error {
	siblings, err := a.ledger.ListByPRCheck(ctx, prCheckID, driven.RunFilter{OpenOnly: true})
	if err != nil {
		return fmt.Errorf("list sibling runs of pr check %d: %w", prCheckID, err)
	}
	if len(siblings) == 0 || !allCompleted(siblings) {
		return nil
	}

	conclusion := OverallConclusion(siblings)
	a.attachLogs(ctx, siblings)

	actions := []model.CheckAction{model.SyncStatusAction}
	if conclusion == model.ConclusionFailure {
		actions = []model.CheckAction{model.ReRunFailedAction, model.ReRunAction, model.SyncStatusAction}
	}

	hookType := siblings[0].HookType
	ref, err := a.ghWriter.UpdateCheckRun(ctx, repoFullName, prCheckID, model.CheckRunRequest{
		Name:       string(model.CheckNameFor(hookType)),
		DetailsURL: a.detailsURL(prCheckID),
		Status:     model.RunStatusCompleted,
		Conclusion: conclusion,
		Title:      aggregateTitle(conclusion, len(siblings)),
		Summary:    FormatSummary(model.RunStatusCompleted, conclusion, siblings),
		Actions:    actions,
	})
	if err != nil {
		return fmt.Errorf("complete pr check %d: %w", prCheckID, err)
	}

	finalized, err := a.ledger.Finalize(ctx, prCheckID, conclusion)
	if err != nil {
		return fmt.Errorf("finalize pr check %d: %w", prCheckID, err)
	}

	a.logger.Info("pr check completed",
		"repo", repoFullName,
		"pr_check_id", prCheckID,
		"conclusion", conclusion,
		"runs", len(siblings),
		"finalized", finalized,
	)

	// A concurrent sibling completion may have finalized first; only the
	// writer that finalized rows posts the comment.
	if notify && finalized > 0 && conclusion == model.ConclusionFailure {
		prNumber := siblings[0].PRNumber
		body := fmt.Sprintf("%s failed. See %s for details.", model.CheckNameFor(hookType), checkLink(ref, repoFullName, prCheckID))
		if err := a.ghWriter.CreateIssueComment(ctx, repoFullName, prNumber, body); err != nil {
			a.logger.Error("post failure comment failed", "repo", repoFullName, "pr", prNumber, "error", err)
		}
	}

	return nil
}

// attachLogs fetches log tails for failed siblings that ran a job.
func (a *CheckAggregator) attachLogs(ctx context.Context, runs []model.WorkflowRun) {
	for i := range runs {
		r := &runs[i]
		if r.ConclusionValue() != model.ConclusionFailure || r.WorkflowJobID == nil {
			continue
		}
		logs, err := a.ghClient.FetchJobLogTail(ctx, r.RepoFullName, *r.WorkflowJobID, a.logTailBytes)
		if err != nil {
			a.logger.Warn("fetch job log failed", "pipeline_run_name", r.PipelineRunName, "error", err)
			continue
		}
		r.Logs = logs
	}
}

func (a *CheckAggregator) detailsURL(prCheckID int64) string {
	if a.publicURL == "" {
		return ""
	}
	return a.publicURL + "/checks/" + strconv.FormatInt(prCheckID, 10)
}

// targetSHA is the commit checks of a run attach to.
func targetSHA(run model.WorkflowRun) string {
	if run.HookType == model.HookTypeOnBranchMerge && run.MergeCommitSHA != "" {
		return run.MergeCommitSHA
	}
	return run.HeadSHA
}

func statusRank(s model.RunStatus) int {
	switch s {
	case model.RunStatusInProgress:
		return 1
	case model.RunStatusCompleted:
		return 2
	default:
		return 0
	}
}

func runTitle(status model.RunStatus, conclusion model.Conclusion) string {
	switch status {
	case model.RunStatusCompleted:
		if conclusion == "" {
			conclusion = model.ConclusionFailure
		}
		return "Completed: " + string(conclusion)
	case model.RunStatusInProgress:
		return "In progress"
	default:
		return "Queued"
	}
}

func aggregateTitle(conclusion model.Conclusion, n int) string {
	if conclusion == model.ConclusionSuccess {
		return fmt.Sprintf("All %d pipeline(s) succeeded", n)
	}
	return fmt.Sprintf("Pipelines finished: %s", conclusion)
}

func checkLink(ref *model.CheckRunRef, repoFullName string, id int64) string {
	if ref != nil && ref.URL != "" {
		return ref.URL
	}
	return fmt.Sprintf("https://github.com/%s/runs/%d", repoFullName, id)
}

// runsFromResults builds summary rows when the ledger cannot be read.
func runsFromResults(results []model.TriggeredWorkflow) []model.WorkflowRun {
	runs := make([]model.WorkflowRun, 0, len(results))
	for _, r := range results {
		run := model.WorkflowRun{PipelineRunName: r.Name, Status: model.RunStatusQueued}
		if r.Error != "" {
			markErrored(&run, r.Error)
		}
		runs = append(runs, run)
	}
	return runs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
