package driven

import (
	"context"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

// GitHubClient defines the driven port for reading from the GitHub API.
type GitHubClient interface {
	// FetchPullRequest returns the canonical summary of a pull request.
	FetchPullRequest(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error)
	// FetchMergeability returns the merge commit SHA and whether GitHub has
	// finished computing mergeability (mergeable != null).
	FetchMergeability(ctx context.Context, repoFullName string, number int) (mergeCommitSHA string, computed bool, err error)
	// FetchPullRequestFiles returns the changed files of a pull request.
	// Removed files are reported in removed as well as in all.
	FetchPullRequestFiles(ctx context.Context, repoFullName string, number int) (all []string, removed []string, err error)
	// FetchFileContent returns the raw content of a file at ref.
	// Returns nil, nil when the file does not exist.
	FetchFileContent(ctx context.Context, repoFullName, path, ref string) ([]byte, error)
	// FetchTreePaths returns every blob path in the tree at ref.
	FetchTreePaths(ctx context.Context, repoFullName, ref string) ([]string, error)
	// FetchWorkflowDefinition resolves a workflow file and its declared
	// workflow_dispatch inputs at ref.
	FetchWorkflowDefinition(ctx context.Context, repoFullName, workflowFile, ref string) (*model.WorkflowDefinition, error)
	// FetchWorkflowJob returns the current state of a workflow job.
	FetchWorkflowJob(ctx context.Context, repoFullName string, jobID int64) (*model.WorkflowJob, error)
	// FetchCheckRuns returns check runs for ref, optionally filtered by name.
	FetchCheckRuns(ctx context.Context, repoFullName, ref, checkName string) ([]model.CheckRun, error)
	// FetchJobLogTail returns at most maxBytes from the end of a job's log.
	FetchJobLogTail(ctx context.Context, repoFullName string, jobID int64, maxBytes int) (string, error)
}
