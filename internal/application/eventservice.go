package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// MergePolling bounds how long a merged pull request is polled for its merge
// commit SHA.
type MergePolling struct {
	Attempts int
	Interval time.Duration
}

// EventService routes inbound repository events into the hook matcher,
// dispatcher and check aggregator.
type EventService struct {
	ghClient   driven.GitHubClient
	ghWriter   driven.GitHubWriter
	ledger     driven.RunLedger
	config     *ConfigService
	matcher    *HookMatcher
	dispatcher *Dispatcher
	aggregator *CheckAggregator
	polling    MergePolling
	logger     *slog.Logger
}

// NewEventService creates an EventService with all required dependencies.
func NewEventService(
	ghClient driven.GitHubClient,
	ghWriter driven.GitHubWriter,
	ledger driven.RunLedger,
	config *ConfigService,
	matcher *HookMatcher,
	dispatcher *Dispatcher,
	aggregator *CheckAggregator,
	polling MergePolling,
	logger *slog.Logger,
) *EventService {
	if polling.Attempts < 1 {
		polling.Attempts = 1
	}
	return &EventService{
		ghClient:   ghClient,
		ghWriter:   ghWriter,
		ledger:     ledger,
		config:     config,
		matcher:    matcher,
		dispatcher: dispatcher,
		aggregator: aggregator,
		polling:    polling,
		logger:     logger.With("component", "event_service"),
	}
}

// triggerRequest is one hook-type evaluation for a pull request.
type triggerRequest struct {
	pr             model.PullRequest
	action         string
	hookType       model.HookType
	mergeCommitSHA string
	command        string
	tokens         []string
}

// HandlePullRequest processes a pull_request delivery.
func (s *EventService) HandlePullRequest(ctx context.Context, ev model.PullRequestEvent) error {
	switch ev.Action {
	case "opened", "reopened", "synchronize":
		_, err := s.trigger(ctx, triggerRequest{pr: ev.PR, action: ev.Action, hookType: model.HookTypeOnPullRequest})
		return err
	case "closed":
		var errs []error
		if _, err := s.trigger(ctx, triggerRequest{pr: ev.PR, action: ev.Action, hookType: model.HookTypeOnPullRequestClose}); err != nil {
			errs = append(errs, err)
		}
		if ev.PR.Merged {
			mergeSHA := s.pollMergeCommitSHA(ctx, ev.PR)
			if _, err := s.trigger(ctx, triggerRequest{pr: ev.PR, action: ev.Action, hookType: model.HookTypeOnBranchMerge, mergeCommitSHA: mergeSHA}); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	default:
		s.logger.Debug("ignoring pull request action", "repo", ev.PR.RepoFullName(), "pr", ev.PR.Number, "action", ev.Action)
		return nil
	}
}

// HandlePush keeps the persisted hook snapshot of a branch current.
func (s *EventService) HandlePush(ctx context.Context, ev model.PushEvent) error {
	if ev.Deleted {
		return s.config.DeleteBranchHooks(ctx, ev.RepoFullName, ev.Branch)
	}
	for _, f := range ev.ChangedFiles {
		if s.config.IsConfigPath(f) {
			return s.config.RefreshBranchHooks(ctx, ev.RepoFullName, ev.Branch, ev.After)
		}
	}
	return nil
}

// HandleSlashCommand processes a slash command posted on a pull request. The
// comment carries an eyes reaction while the command is processed.
func (s *EventService) HandleSlashCommand(ctx context.Context, ev model.SlashCommandEvent) error {
	if len(ev.Tokens) == 0 {
		return nil
	}

	eyesID, err := s.ghWriter.CreateCommentReaction(ctx, ev.RepoFullName, ev.CommentID, driven.ReactionEyes)
	if err != nil {
		s.logger.Warn("add eyes reaction failed", "repo", ev.RepoFullName, "comment_id", ev.CommentID, "error", err)
	}

	outcome := driven.ReactionConfused
	procErr := func() error {
		pr, err := s.ghClient.FetchPullRequest(ctx, ev.RepoFullName, ev.PRNumber)
		if err != nil {
			return fmt.Errorf("fetch pull request %s#%d: %w", ev.RepoFullName, ev.PRNumber, err)
		}
		results, err := s.trigger(ctx, triggerRequest{
			pr:       *pr,
			action:   "slash_command",
			hookType: model.HookTypeOnSlashCommand,
			command:  ev.Tokens[0],
			tokens:   ev.Tokens,
		})
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Error == "" {
				outcome = driven.ReactionRocket
				break
			}
		}
		return nil
	}()

	if eyesID != 0 {
		if err := s.ghWriter.DeleteCommentReaction(ctx, ev.RepoFullName, ev.CommentID, eyesID); err != nil {
			s.logger.Warn("remove eyes reaction failed", "repo", ev.RepoFullName, "comment_id", ev.CommentID, "error", err)
		}
	}
	if _, err := s.ghWriter.CreateCommentReaction(ctx, ev.RepoFullName, ev.CommentID, outcome); err != nil {
		s.logger.Warn("add outcome reaction failed", "repo", ev.RepoFullName, "comment_id", ev.CommentID, "reaction", outcome, "error", err)
	}

	return procErr
}

// HandleWorkflowJob forwards a workflow_job delivery to the aggregator.
func (s *EventService) HandleWorkflowJob(ctx context.Context, ev model.WorkflowJobEvent) error {
	return s.aggregator.HandleJobEvent(ctx, ev)
}

// HandleCheckRunAction handles requested actions and re-requests on both
// aggregate and individual checks.
func (s *EventService) HandleCheckRunAction(ctx context.Context, ev model.CheckRunActionEvent) error {
	n, err := s.ledger.CountByPRCheck(ctx, ev.CheckRunID)
	if err != nil {
		return fmt.Errorf("count runs of check %d: %w", ev.CheckRunID, err)
	}
	aggregate := n > 0

	action := ev.RequestedActionID
	if ev.Action == "rerequested" {
		action = model.ActionReRunFailed
		if !aggregate {
			action = model.ActionReRun
		}
	}

	switch {
	case aggregate && action == model.ActionReRun:
		_, err = s.aggregator.ReRunPRCheck(ctx, ev.RepoFullName, ev.CheckRunID, false)
	case aggregate && action == model.ActionReRunFailed:
		_, err = s.aggregator.ReRunPRCheck(ctx, ev.RepoFullName, ev.CheckRunID, true)
	case aggregate && action == model.ActionSyncStatus:
		err = s.aggregator.SyncPRCheckStatus(ctx, ev.RepoFullName, ev.CheckRunID)
	case !aggregate && (action == model.ActionReRun || action == model.ActionReRunFailed):
		_, err = s.aggregator.ReRunWorkflowRunCheck(ctx, ev.RepoFullName, ev.CheckRunID)
	case !aggregate && action == model.ActionSyncStatus:
		err = s.syncIndividual(ctx, ev.RepoFullName, ev.CheckRunID)
	default:
		s.logger.Info("ignoring check run action",
			"repo", ev.RepoFullName,
			"check_run_id", ev.CheckRunID,
			"action", ev.Action,
			"requested_action", ev.RequestedActionID,
		)
	}
	return err
}

// HandleCheckSuite re-runs the failed pipelines of every aggregate on the
// re-requested commit.
func (s *EventService) HandleCheckSuite(ctx context.Context, ev model.CheckSuiteEvent) error {
	ids, err := s.ledger.ListPRCheckIDsByHeadSHA(ctx, ev.RepoFullName, ev.HeadSHA)
	if err != nil {
		return fmt.Errorf("list pr checks for %s@%s: %w", ev.RepoFullName, ev.HeadSHA, err)
	}

	var errs []error
	for _, id := range ids {
		if _, err := s.aggregator.ReRunPRCheck(ctx, ev.RepoFullName, id, true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *EventService) syncIndividual(ctx context.Context, repoFullName string, checkRunID int64) error {
	run, err := s.ledger.FindByCheckRunID(ctx, repoFullName, checkRunID)
	if err != nil {
		return fmt.Errorf("find run for check %d: %w", checkRunID, err)
	}
	if run == nil {
		s.logger.Info("ignoring sync for unknown check", "repo", repoFullName, "check_run_id", checkRunID)
		return nil
	}
	return s.aggregator.SyncPRCheckStatus(ctx, repoFullName, run.PRCheckID)
}

// trigger evaluates one hook type for a pull request end to end: aggregate
// creation, configuration validation, matching, dispatch and the aggregate
// transition that follows.
func (s *EventService) trigger(ctx context.Context, req triggerRequest) ([]model.TriggeredWorkflow, error) {
	pr := req.pr
	repo := pr.RepoFullName()

	if err := s.config.EnsureBranchHooks(ctx, repo, pr.BaseRef, pr.BaseRef); err != nil {
		s.logger.Error("load base branch hooks failed", "repo", repo, "branch", pr.BaseRef, "error", err)
	}

	files, removed, err := s.ghClient.FetchPullRequestFiles(ctx, repo, pr.Number)
	if err != nil {
		return nil, fmt.Errorf("fetch files of %s#%d: %w", repo, pr.Number, err)
	}

	prHooks, err := s.config.LoadPRHooks(ctx, repo, pr.BaseRef, pr.HeadSHA, files, removed)
	if err != nil {
		return nil, err
	}

	headSHA := pr.HeadSHA
	if req.hookType == model.HookTypeOnBranchMerge && req.mergeCommitSHA != "" {
		headSHA = req.mergeCommitSHA
	}
	check, err := s.aggregator.CreatePRCheck(ctx, repo, req.hookType, headSHA, pr.Number)
	if err != nil {
		return nil, err
	}

	if !prHooks.Valid() {
		return nil, s.aggregator.FailConfiguration(ctx, *check, prHooks.Annotations)
	}

	triggered, err := s.matcher.FilterTriggeredHooks(ctx, MatchRequest{
		RepoFullName:        repo,
		HookType:            req.hookType,
		ChangedFiles:        files,
		BaseBranch:          pr.BaseRef,
		ModifiedConfigPaths: prHooks.ModifiedPaths,
		PRHooks:             prHooks.Hooks,
		SlashCommand:        req.command,
	})
	if err != nil {
		return nil, err
	}
	if len(triggered) == 0 {
		return nil, s.aggregator.CompleteNoHooks(ctx, *check)
	}

	results := s.dispatcher.RunWorkflow(ctx, DispatchRequest{
		PR:                 pr,
		Action:             req.action,
		Hooks:              triggered,
		MergeCommitSHA:     req.mergeCommitSHA,
		PRCheckID:          check.ID,
		SlashCommandTokens: req.tokens,
	})
	return results, s.aggregator.ProcessDispatchResult(ctx, *check, results)
}

// pollMergeCommitSHA waits for GitHub to compute mergeability and returns the
// merge commit SHA, falling back to the one carried by the event.
func (s *EventService) pollMergeCommitSHA(ctx context.Context, pr model.PullRequest) string {
	for attempt := 1; attempt <= s.polling.Attempts; attempt++ {
		sha, computed, err := s.ghClient.FetchMergeability(ctx, pr.RepoFullName(), pr.Number)
		if err != nil {
			s.logger.Warn("fetch mergeability failed", "repo", pr.RepoFullName(), "pr", pr.Number, "attempt", attempt, "error", err)
		} else if computed && sha != "" {
			return sha
		}
		if attempt == s.polling.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return pr.MergeCommitSHA
		case <-time.After(s.polling.Interval):
		}
	}

	s.logger.Info("mergeability not computed, using event merge sha", "repo", pr.RepoFullName(), "pr", pr.Number)
	return pr.MergeCommitSHA
}
