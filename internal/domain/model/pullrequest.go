package model

// PullRequest is the canonical pull request summary consumed by the core.
// It is built once at the webhook boundary from the richer event payload.
type PullRequest struct {
	Number         int
	Owner          string
	Repo           string
	DefaultBranch  string
	HeadRef        string
	HeadSHA        string
	BaseRef        string
	BaseSHA        string
	Merged         bool
	MergeCommitSHA string
	URL            string
}

// RepoFullName returns "owner/repo".
func (pr PullRequest) RepoFullName() string {
	return pr.Owner + "/" + pr.Repo
}

// NormalizeAction maps a pull request webhook action to the PR_ACTION value
// passed to pipelines.
func NormalizeAction(pr PullRequest, action string) string {
	if pr.Merged {
		return "merged"
	}
	switch action {
	case "reopened", "synchronize":
		return "opened"
	default:
		return action
	}
}
