package httphandler

import (
	"context"
	"slices"
	"strings"

	gh "github.com/google/go-github/v74/github"

	githubadapter "github.com/ericfisherdev/hookrelay/internal/adapter/driven/github"
	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/hookconfig"
)

// EventHandler receives canonical inbound events. It is implemented by
// application.EventService.
type EventHandler interface {
	HandlePullRequest(ctx context.Context, ev model.PullRequestEvent) error
	HandlePush(ctx context.Context, ev model.PushEvent) error
	HandleSlashCommand(ctx context.Context, ev model.SlashCommandEvent) error
	HandleWorkflowJob(ctx context.Context, ev model.WorkflowJobEvent) error
	HandleCheckRunAction(ctx context.Context, ev model.CheckRunActionEvent) error
	HandleCheckSuite(ctx context.Context, ev model.CheckSuiteEvent) error
}

// supportedEvents lists the X-GitHub-Event types that are parsed at all.
var supportedEvents = []string{
	"pull_request",
	"push",
	"issue_comment",
	"workflow_job",
	"check_run",
	"check_suite",
}

func isSupportedEvent(eventType string) bool {
	return slices.Contains(supportedEvents, eventType)
}

// eventTask is the deferred processing of one delivery.
type eventTask func(ctx context.Context, h EventHandler) error

// route converts a parsed webhook payload into a task. It returns nil when
// the delivery carries nothing to act on.
func route(event any) eventTask {
	switch e := event.(type) {
	case *gh.PullRequestEvent:
		return routePullRequest(e)
	case *gh.PushEvent:
		return routePush(e)
	case *gh.IssueCommentEvent:
		return routeIssueComment(e)
	case *gh.WorkflowJobEvent:
		return routeWorkflowJob(e)
	case *gh.CheckRunEvent:
		return routeCheckRun(e)
	case *gh.CheckSuiteEvent:
		return routeCheckSuite(e)
	default:
		return nil
	}
}

func routePullRequest(e *gh.PullRequestEvent) eventTask {
	switch e.GetAction() {
	case "opened", "reopened", "synchronize", "closed":
	default:
		return nil
	}
	if e.PullRequest == nil {
		return nil
	}

	ev := model.PullRequestEvent{
		Action: e.GetAction(),
		PR:     githubadapter.MapPullRequest(e.GetPullRequest()),
	}
	if ev.PR.DefaultBranch == "" {
		ev.PR.DefaultBranch = e.GetRepo().GetDefaultBranch()
	}

	return func(ctx context.Context, h EventHandler) error {
		return h.HandlePullRequest(ctx, ev)
	}
}

func routePush(e *gh.PushEvent) eventTask {
	branch, ok := strings.CutPrefix(e.GetRef(), "refs/heads/")
	if !ok {
		return nil
	}

	ev := model.PushEvent{
		RepoFullName:  e.GetRepo().GetFullName(),
		Branch:        branch,
		After:         e.GetAfter(),
		Deleted:       e.GetDeleted(),
		DefaultBranch: e.GetRepo().GetDefaultBranch(),
		ChangedFiles:  pushChangedFiles(e.GetCommits()),
	}

	return func(ctx context.Context, h EventHandler) error {
		return h.HandlePush(ctx, ev)
	}
}

// pushChangedFiles returns the distinct paths touched by the pushed commits,
// in first-seen order.
func pushChangedFiles(commits []*gh.HeadCommit) []string {
	seen := make(map[string]bool)
	var files []string
	for _, c := range commits {
		if c == nil {
			continue
		}
		for _, group := range [][]string{c.Added, c.Modified, c.Removed} {
			for _, f := range group {
				if !seen[f] {
					seen[f] = true
					files = append(files, f)
				}
			}
		}
	}
	return files
}

func routeIssueComment(e *gh.IssueCommentEvent) eventTask {
	if e.GetAction() != "created" || e.Issue == nil || !e.Issue.IsPullRequest() {
		return nil
	}

	tokens, ok := hookconfig.ParseCommand(e.GetComment().GetBody())
	if !ok {
		return nil
	}

	ev := model.SlashCommandEvent{
		RepoFullName: e.GetRepo().GetFullName(),
		PRNumber:     e.GetIssue().GetNumber(),
		CommentID:    e.GetComment().GetID(),
		Tokens:       tokens,
	}

	return func(ctx context.Context, h EventHandler) error {
		return h.HandleSlashCommand(ctx, ev)
	}
}

func routeWorkflowJob(e *gh.WorkflowJobEvent) eventTask {
	if e.WorkflowJob == nil {
		return nil
	}

	ev := model.WorkflowJobEvent{
		Action:       e.GetAction(),
		RepoFullName: e.GetRepo().GetFullName(),
		Job:          githubadapter.MapWorkflowJob(e.GetWorkflowJob()),
	}

	return func(ctx context.Context, h EventHandler) error {
		return h.HandleWorkflowJob(ctx, ev)
	}
}

func routeCheckRun(e *gh.CheckRunEvent) eventTask {
	switch e.GetAction() {
	case "requested_action", "rerequested":
	default:
		return nil
	}

	ev := model.CheckRunActionEvent{
		Action:       e.GetAction(),
		RepoFullName: e.GetRepo().GetFullName(),
		CheckRunID:   e.GetCheckRun().GetID(),
	}
	if ra := e.GetRequestedAction(); ra != nil {
		ev.RequestedActionID = ra.Identifier
	}

	return func(ctx context.Context, h EventHandler) error {
		return h.HandleCheckRunAction(ctx, ev)
	}
}

func routeCheckSuite(e *gh.CheckSuiteEvent) eventTask {
	if e.GetAction() != "rerequested" {
		return nil
	}

	ev := model.CheckSuiteEvent{
		RepoFullName: e.GetRepo().GetFullName(),
		HeadSHA:      e.GetCheckSuite().GetHeadSHA(),
	}

	return func(ctx context.Context, h EventHandler) error {
		return h.HandleCheckSuite(ctx, ev)
	}
}
