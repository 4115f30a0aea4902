package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

// RunFilter narrows the rows returned by RunLedger.ListByPRCheck.
type RunFilter struct {
	// OpenOnly restricts to rows not yet finalized (pr_conclusion IS NULL).
	OpenOnly bool
	// Conclusion, when non-nil, restricts to rows with that conclusion.
	Conclusion *model.Conclusion
}

// PRCheckKey identifies an aggregate check together with its repository.
type PRCheckKey struct {
	RepoFullName string
	PRCheckID    int64
}

// OpenPRCheck is an aggregate that has not been finalized yet.
type OpenPRCheck struct {
	PRCheckKey
	CreatedAt time.Time // Oldest row of the aggregate.
	UpdatedAt time.Time // Most recent row update.
}

// RunLedger defines the driven port for workflow run persistence. It is the
// single authority for cross-run coordination; rows are never deleted.
type RunLedger interface {
	// Insert stores a new row and assigns its ID. Any older open row with the
	// same pipeline run name is marked superseded first.
	Insert(ctx context.Context, run *model.WorkflowRun) error
	// Update overwrites the run state columns of the row identified by run.ID.
	// Aggregate membership and pr_conclusion are only changed by Finalize,
	// ResetForRerun and Relink.
	Update(ctx context.Context, run model.WorkflowRun) error
	// FindOpenByPipelineRunName returns the non-finalized row for the name.
	// Returns nil, nil when none exists.
	FindOpenByPipelineRunName(ctx context.Context, repoFullName, pipelineRunName string) (*model.WorkflowRun, error)
	// FindByCheckRunID returns the most recent row whose individual check is
	// checkRunID. Returns nil, nil when none exists.
	FindByCheckRunID(ctx context.Context, repoFullName string, checkRunID int64) (*model.WorkflowRun, error)
	// ListByPRCheck returns the rows of an aggregate check ordered by id.
	ListByPRCheck(ctx context.Context, prCheckID int64, filter RunFilter) ([]model.WorkflowRun, error)
	// CountByPRCheck returns how many rows belong to the aggregate check.
	CountByPRCheck(ctx context.Context, prCheckID int64) (int, error)
	// ListPRCheckIDsByHeadSHA returns the distinct aggregate ids for a commit.
	ListPRCheckIDsByHeadSHA(ctx context.Context, repoFullName, headSHA string) ([]int64, error)
	// Finalize sets pr_conclusion on every open row of the aggregate and
	// returns the number of rows updated.
	Finalize(ctx context.Context, prCheckID int64, conclusion model.Conclusion) (int64, error)
	// ResetForRerun clears workflow_job_id, conclusion, error and
	// pr_conclusion on the given rows, sets them queued and re-links them to
	// newPRCheckID. Other open rows with the same pipeline run name are
	// marked superseded.
	ResetForRerun(ctx context.Context, ids []int64, newPRCheckID int64) error
	// Relink clears pr_conclusion on the given rows and moves them to
	// newPRCheckID without touching their status or conclusion. Other open
	// rows with the same pipeline run name are marked superseded.
	Relink(ctx context.Context, ids []int64, newPRCheckID int64) error
	// ListRecentPRChecks returns the most recently updated aggregates.
	ListRecentPRChecks(ctx context.Context, limit int) ([]PRCheckKey, error)
	// ListOpenPRChecks returns aggregates that still have open rows, whose
	// oldest row was created at or after createdAfter and whose newest row was
	// last updated before updatedBefore. Newest aggregates come first.
	ListOpenPRChecks(ctx context.Context, createdAfter, updatedBefore time.Time, limit int) ([]OpenPRCheck, error)
}
