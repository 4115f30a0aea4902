package driven

import (
	"context"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

// Reaction contents used on slash-command comments.
const (
	ReactionEyes     = "eyes"
	ReactionRocket   = "rocket"
	ReactionConfused = "confused"
)

// GitHubWriter defines the driven port for GitHub write operations.
// It is intentionally separate from GitHubClient (read operations) following
// the Interface Segregation Principle.
type GitHubWriter interface {
	// CreateCheckRun creates a check run and returns its id and URL.
	CreateCheckRun(ctx context.Context, repoFullName string, req model.CheckRunRequest) (*model.CheckRunRef, error)
	// UpdateCheckRun updates an existing check run and returns its id and URL.
	UpdateCheckRun(ctx context.Context, repoFullName string, checkRunID int64, req model.CheckRunRequest) (*model.CheckRunRef, error)
	// DispatchWorkflow triggers a workflow_dispatch event on ref.
	DispatchWorkflow(ctx context.Context, repoFullName, workflowFile, ref string, inputs map[string]string) error
	// RerunWorkflow re-runs every job of a workflow run.
	RerunWorkflow(ctx context.Context, repoFullName string, runID int64) error
	// RerunFailedJobs re-runs only the failed jobs of a workflow run.
	RerunFailedJobs(ctx context.Context, repoFullName string, runID int64) error
	// CreateIssueComment creates a top-level (non-diff) comment on a pull request.
	CreateIssueComment(ctx context.Context, repoFullName string, prNumber int, body string) error
	// CreateCommentReaction adds a reaction to an issue comment and returns its id.
	CreateCommentReaction(ctx context.Context, repoFullName string, commentID int64, content string) (int64, error)
	// DeleteCommentReaction removes a reaction from an issue comment.
	DeleteCommentReaction(ctx context.Context, repoFullName string, commentID, reactionID int64) error
}
