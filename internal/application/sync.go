package application

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// SyncPRCheckStatus reconciles the open rows of an aggregate with the
// platform's current job state and re-evaluates the aggregate. It is safe to
// call in any state and converges with the event-driven path.
func (a *CheckAggregator) SyncPRCheckStatus(ctx context.Context, repoFullName string, prCheckID int64) error {
	rows, err := a.ledger.ListByPRCheck(ctx, prCheckID, driven.RunFilter{OpenOnly: true})
	if err != nil {
		return fmt.Errorf("list open runs of pr check %d: %w", prCheckID, err)
	}
	if len(rows) == 0 {
		a.logger.Info("sync found no open runs", "repo", repoFullName, "pr_check_id", prCheckID)
		return nil
	}

	running := make([]bool, len(rows))
	var g errgroup.Group
	g.SetLimit(a.concurrency)
	for i := range rows {
		if rows[i].IsCompleted() {
			continue
		}
		g.Go(func() error {
			run := rows[i]
			job, err := a.currentJob(ctx, run)
			if err != nil {
				a.logger.Warn("sync job lookup failed", "pipeline_run_name", run.PipelineRunName, "error", err)
				return nil
			}
			if job == nil {
				return nil
			}
			if _, err := a.applyJobState(ctx, &run, *job); err != nil {
				a.logger.Error("sync apply failed", "pipeline_run_name", run.PipelineRunName, "error", err)
				return nil
			}
			running[i] = run.Status == model.RunStatusInProgress
			return nil
		})
	}
	_ = g.Wait() // Per-row failures are logged; the aggregate is still evaluated.

	for i, r := range running {
		if r {
			a.markInProgress(ctx, rows[i])
			break
		}
	}

	return a.evaluate(ctx, repoFullName, prCheckID, true)
}

// currentJob returns the platform job of a run. Runs whose job id is not yet
// known are found through the check runs named after the pipeline run name.
func (a *CheckAggregator) currentJob(ctx context.Context, run model.WorkflowRun) (*model.WorkflowJob, error) {
	if run.WorkflowJobID != nil {
		job, err := a.ghClient.FetchWorkflowJob(ctx, run.RepoFullName, *run.WorkflowJobID)
		if err != nil {
			return nil, fmt.Errorf("fetch job %d: %w", *run.WorkflowJobID, err)
		}
		return job, nil
	}

	checks, err := a.ghClient.FetchCheckRuns(ctx, run.RepoFullName, targetSHA(run), run.PipelineRunName)
	if err != nil {
		return nil, fmt.Errorf("list check runs for %s: %w", run.PipelineRunName, err)
	}
	latest, ok := latestCheckRun(checks, run)
	if !ok {
		return nil, nil
	}

	// Actions jobs surface as check runs sharing the job id.
	job, err := a.ghClient.FetchWorkflowJob(ctx, run.RepoFullName, latest.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch job %d: %w", latest.ID, err)
	}
	return job, nil
}

// latestCheckRun picks the newest check run for the pipeline that is not the
// run's own individual check.
func latestCheckRun(checks []model.CheckRun, run model.WorkflowRun) (model.CheckRun, bool) {
	var best model.CheckRun
	var found bool
	for _, c := range checks {
		if c.Name != run.PipelineRunName {
			continue
		}
		if run.CheckRunID != nil && c.ID == *run.CheckRunID {
			continue
		}
		if !found || c.StartedAt.After(best.StartedAt) || (c.StartedAt.Equal(best.StartedAt) && c.ID > best.ID) {
			best = c
			found = true
		}
	}
	return best, found
}
