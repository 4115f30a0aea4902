package model

// PullRequestEvent is an inbound pull_request delivery.
type PullRequestEvent struct {
	Action string
	PR     PullRequest
}

// PushEvent is an inbound push delivery.
type PushEvent struct {
	RepoFullName  string
	Branch        string
	After         string
	Deleted       bool
	ChangedFiles  []string
	DefaultBranch string
}

// SlashCommandEvent is an issue comment on a pull request starting with "/".
type SlashCommandEvent struct {
	RepoFullName string
	PRNumber     int
	CommentID    int64
	Tokens       []string // Command first, then arguments.
}

// WorkflowJobEvent is an inbound workflow_job delivery.
type WorkflowJobEvent struct {
	Action       string // queued, in_progress, completed, waiting.
	RepoFullName string
	Job          WorkflowJob
}

// CheckRunActionEvent is a check_run requested_action or rerequested delivery.
type CheckRunActionEvent struct {
	Action            string // requested_action or rerequested.
	RequestedActionID string
	RepoFullName      string
	CheckRunID        int64
}

// CheckSuiteEvent is a check_suite rerequested delivery.
type CheckSuiteEvent struct {
	RepoFullName string
	HeadSHA      string
}
