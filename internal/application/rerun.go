package application

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// ReRunPRCheck re-runs the pipelines of an aggregate check under a new
// aggregate. With failedOnly set only runs that concluded failure are
// re-run. Returns nil, nil when the aggregate has no eligible rows.
func (a *CheckAggregator) ReRunPRCheck(ctx context.Context, repoFullName string, prCheckID int64, failedOnly bool) (*model.PRCheck, error) {
	filter := driven.RunFilter{}
	if failedOnly {
		filter.Conclusion = model.Ptr(model.ConclusionFailure)
	}
	rows, err := a.ledger.ListByPRCheck(ctx, prCheckID, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs of pr check %d: %w", prCheckID, err)
	}
	rows = withoutSuperseded(rows)
	if len(rows) == 0 {
		a.logger.Info("nothing to re-run", "repo", repoFullName, "pr_check_id", prCheckID, "failed_only", failedOnly)
		return nil, nil
	}

	return a.rerun(ctx, repoFullName, rows, failedOnly)
}

// ReRunWorkflowRunCheck re-runs the single pipeline behind an individual
// check. Only failed jobs are re-run when the pipeline concluded failure.
func (a *CheckAggregator) ReRunWorkflowRunCheck(ctx context.Context, repoFullName string, checkRunID int64) (*model.PRCheck, error) {
	run, err := a.ledger.FindByCheckRunID(ctx, repoFullName, checkRunID)
	if err != nil {
		return nil, fmt.Errorf("find run for check %d: %w", checkRunID, err)
	}
	if run == nil {
		a.logger.Info("ignoring re-run for unknown check", "repo", repoFullName, "check_run_id", checkRunID)
		return nil, nil
	}

	failedOnly := run.ConclusionValue() == model.ConclusionFailure
	return a.rerun(ctx, repoFullName, []model.WorkflowRun{*run}, failedOnly)
}

// rerun creates the new aggregate first so a failed create leaves the ledger
// untouched, then resets the rows and issues one remote re-run per distinct
// workflow run.
func (a *CheckAggregator) rerun(ctx context.Context, repoFullName string, rows []model.WorkflowRun, failedOnly bool) (*model.PRCheck, error) {
	first := rows[0]
	name := model.CheckNameFor(first.HookType)
	ref, err := a.ghWriter.CreateCheckRun(ctx, repoFullName, model.CheckRunRequest{
		Name:    string(name),
		HeadSHA: targetSHA(first),
		Status:  model.RunStatusQueued,
		Title:   "Re-running pipelines",
		Summary: FormatSummary(model.RunStatusQueued, "", rows),
		Actions: []model.CheckAction{model.SyncStatusAction},
	})
	if err != nil {
		return nil, fmt.Errorf("create re-run %s for %s: %w", name, repoFullName, err)
	}
	check := &model.PRCheck{
		ID:           ref.ID,
		Name:         name,
		URL:          ref.URL,
		HookType:     first.HookType,
		RepoFullName: repoFullName,
		HeadSHA:      first.HeadSHA,
		PRNumber:     first.PRNumber,
	}

	var resetIDs, erroredIDs []int64
	var runIDs []int64
	rowsByRunID := make(map[int64][]model.WorkflowRun)
	for _, r := range rows {
		if r.Error != nil {
			// Never dispatched; nothing remote to re-run.
			erroredIDs = append(erroredIDs, r.ID)
			continue
		}
		resetIDs = append(resetIDs, r.ID)
		if r.WorkflowRunID == nil {
			continue
		}
		if _, seen := rowsByRunID[*r.WorkflowRunID]; !seen {
			runIDs = append(runIDs, *r.WorkflowRunID)
		}
		rowsByRunID[*r.WorkflowRunID] = append(rowsByRunID[*r.WorkflowRunID], r)
	}

	if len(resetIDs) > 0 {
		if err := a.ledger.ResetForRerun(ctx, resetIDs, check.ID); err != nil {
			return nil, fmt.Errorf("reset runs for re-run: %w", err)
		}
	}
	if len(erroredIDs) > 0 {
		if err := a.ledger.Relink(ctx, erroredIDs, check.ID); err != nil {
			return nil, fmt.Errorf("relink errored runs: %w", err)
		}
	}

	for _, runID := range runIDs {
		if err := a.rerunRemote(ctx, repoFullName, runID, failedOnly); err != nil {
			a.logger.Error("remote re-run failed",
				"repo", repoFullName,
				"workflow_run_id", runID,
				"failed_only", failedOnly,
				"error", err,
			)
			a.failRows(ctx, rowsByRunID[runID], check.ID, fmt.Sprintf("Failed to re-run workflow run %d: %v", runID, err))
		}
	}

	a.logger.Info("pr check re-run",
		"repo", repoFullName,
		"pr_check_id", check.ID,
		"reset", len(resetIDs),
		"errored", len(erroredIDs),
		"workflow_runs", len(runIDs),
		"failed_only", failedOnly,
	)

	// Settles aggregates whose rows cannot progress, such as ones holding only
	// dispatch errors.
	if err := a.evaluate(ctx, repoFullName, check.ID, false); err != nil {
		return check, err
	}
	return check, nil
}

func (a *CheckAggregator) rerunRemote(ctx context.Context, repoFullName string, runID int64, failedOnly bool) error {
	if failedOnly {
		return a.ghWriter.RerunFailedJobs(ctx, repoFullName, runID)
	}
	return a.ghWriter.RerunWorkflow(ctx, repoFullName, runID)
}

// failRows records a failed remote re-run on rows that were already reset.
func (a *CheckAggregator) failRows(ctx context.Context, rows []model.WorkflowRun, prCheckID int64, msg string) {
	for _, r := range rows {
		r.PRCheckID = prCheckID
		r.PRConclusion = nil
		r.WorkflowJobID = nil
		markErrored(&r, msg)
		if err := a.ledger.Update(ctx, r); err != nil {
			a.logger.Error("record re-run failure failed", "pipeline_run_name", r.PipelineRunName, "error", err)
		}
	}
}

// withoutSuperseded drops rows replaced by a newer dispatch of the same
// pipeline run name.
func withoutSuperseded(rows []model.WorkflowRun) []model.WorkflowRun {
	out := rows[:0:0]
	for _, r := range rows {
		if r.PRConclusion != nil && *r.PRConclusion == model.ConclusionSuperseded {
			continue
		}
		out = append(out, r)
	}
	return out
}
