package github

import (
	"context"
	"fmt"
	"time"

	gh "github.com/google/go-github/v74/github"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

// maxAnnotationsPerRequest is the GitHub limit on annotations per check run
// create or update call.
const maxAnnotationsPerRequest = 50

// CreateCheckRun creates a check run. Annotations beyond the per-request
// limit are appended with follow-up updates.
func (c *Client) CreateCheckRun(ctx context.Context, repoFullName string, req model.CheckRunRequest) (*model.CheckRunRef, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	first, rest := splitAnnotations(req.Annotations)

	opts := gh.CreateCheckRunOptions{
		Name:    req.Name,
		HeadSHA: req.HeadSHA,
		Status:  gh.Ptr(string(req.Status)),
		Output:  mapOutput(req, first),
		Actions: mapActions(req.Actions),
	}
	if req.DetailsURL != "" {
		opts.DetailsURL = gh.Ptr(req.DetailsURL)
	}
	if req.ExternalID != "" {
		opts.ExternalID = gh.Ptr(req.ExternalID)
	}
	if req.Status == model.RunStatusCompleted {
		opts.Conclusion = gh.Ptr(string(req.Conclusion))
		opts.CompletedAt = &gh.Timestamp{Time: time.Now()}
	}

	cr, _, err := c.gh.Checks.CreateCheckRun(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("creating check run %q on %s@%s: %w", req.Name, repoFullName, req.HeadSHA, err)
	}

	if err := c.appendAnnotations(ctx, owner, repo, cr.GetID(), req, rest); err != nil {
		return nil, err
	}

	c.logger.Debug("check run created", "repo", repoFullName, "name", req.Name, "id", cr.GetID(), "status", req.Status)

	return &model.CheckRunRef{ID: cr.GetID(), URL: cr.GetHTMLURL()}, nil
}

// UpdateCheckRun updates an existing check run. Annotations beyond the
// per-request limit are appended with follow-up updates.
func (c *Client) UpdateCheckRun(ctx context.Context, repoFullName string, checkRunID int64, req model.CheckRunRequest) (*model.CheckRunRef, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	first, rest := splitAnnotations(req.Annotations)

	opts := gh.UpdateCheckRunOptions{
		Name:    req.Name,
		Status:  gh.Ptr(string(req.Status)),
		Output:  mapOutput(req, first),
		Actions: mapActions(req.Actions),
	}
	if req.DetailsURL != "" {
		opts.DetailsURL = gh.Ptr(req.DetailsURL)
	}
	if req.ExternalID != "" {
		opts.ExternalID = gh.Ptr(req.ExternalID)
	}
	if req.Status == model.RunStatusCompleted {
		opts.Conclusion = gh.Ptr(string(req.Conclusion))
		opts.CompletedAt = &gh.Timestamp{Time: time.Now()}
	}

	cr, _, err := c.gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, opts)
	if err != nil {
		return nil, fmt.Errorf("updating check run %d on %s: %w", checkRunID, repoFullName, err)
	}

	if err := c.appendAnnotations(ctx, owner, repo, checkRunID, req, rest); err != nil {
		return nil, err
	}

	return &model.CheckRunRef{ID: cr.GetID(), URL: cr.GetHTMLURL()}, nil
}

// appendAnnotations sends the remaining annotations in batches. GitHub
// appends annotations across updates rather than replacing them.
func (c *Client) appendAnnotations(ctx context.Context, owner, repo string, checkRunID int64, req model.CheckRunRequest, rest []model.Annotation) error {
	for len(rest) > 0 {
		var batch []model.Annotation
		batch, rest = splitAnnotations(rest)

		opts := gh.UpdateCheckRunOptions{
			Name:   req.Name,
			Output: mapOutput(req, batch),
		}
		if _, _, err := c.gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, opts); err != nil {
			return fmt.Errorf("appending annotations to check run %d: %w", checkRunID, err)
		}
	}
	return nil
}

// DispatchWorkflow triggers a workflow_dispatch event for workflowFile on ref.
func (c *Client) DispatchWorkflow(ctx context.Context, repoFullName, workflowFile, ref string, inputs map[string]string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	event := gh.CreateWorkflowDispatchEventRequest{Ref: ref}
	if len(inputs) > 0 {
		event.Inputs = make(map[string]any, len(inputs))
		for k, v := range inputs {
			event.Inputs[k] = v
		}
	}

	if _, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, repo, workflowFile, event); err != nil {
		return fmt.Errorf("dispatching %s on %s@%s: %w", workflowFile, repoFullName, ref, err)
	}

	c.logger.Info("workflow dispatched", "repo", repoFullName, "workflow", workflowFile, "ref", ref)
	return nil
}

// RerunWorkflow re-runs every job of a workflow run.
func (c *Client) RerunWorkflow(ctx context.Context, repoFullName string, runID int64) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	if _, err := c.gh.Actions.RerunWorkflowByID(ctx, owner, repo, runID); err != nil {
		return fmt.Errorf("re-running workflow run %d on %s: %w", runID, repoFullName, err)
	}
	return nil
}

// RerunFailedJobs re-runs the failed jobs of a workflow run.
func (c *Client) RerunFailedJobs(ctx context.Context, repoFullName string, runID int64) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	if _, err := c.gh.Actions.RerunFailedJobsByID(ctx, owner, repo, runID); err != nil {
		return fmt.Errorf("re-running failed jobs of run %d on %s: %w", runID, repoFullName, err)
	}
	return nil
}

// CreateIssueComment creates a top-level (non-diff) comment on a pull request.
// GitHub's Issues API is used because PR conversation comments are issue comments.
func (c *Client) CreateIssueComment(ctx context.Context, repoFullName string, prNumber int, body string) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	_, _, err = c.gh.Issues.CreateComment(ctx, owner, repo, prNumber, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("creating issue comment on %s#%d: %w", repoFullName, prNumber, err)
	}
	return nil
}

// CreateCommentReaction adds a reaction to an issue comment.
func (c *Client) CreateCommentReaction(ctx context.Context, repoFullName string, commentID int64, content string) (int64, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return 0, err
	}

	reaction, _, err := c.gh.Reactions.CreateIssueCommentReaction(ctx, owner, repo, commentID, content)
	if err != nil {
		return 0, fmt.Errorf("reacting %q to comment %d on %s: %w", content, commentID, repoFullName, err)
	}
	return reaction.GetID(), nil
}

// DeleteCommentReaction removes a reaction from an issue comment. A reaction
// that is already gone is not an error.
func (c *Client) DeleteCommentReaction(ctx context.Context, repoFullName string, commentID, reactionID int64) error {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	if _, err := c.gh.Reactions.DeleteIssueCommentReaction(ctx, owner, repo, commentID, reactionID); err != nil {
		if isNotFoundErr(err) {
			return nil
		}
		return fmt.Errorf("deleting reaction %d from comment %d on %s: %w", reactionID, commentID, repoFullName, err)
	}
	return nil
}

func splitAnnotations(all []model.Annotation) ([]model.Annotation, []model.Annotation) {
	if len(all) <= maxAnnotationsPerRequest {
		return all, nil
	}
	return all[:maxAnnotationsPerRequest], all[maxAnnotationsPerRequest:]
}

func mapOutput(req model.CheckRunRequest, annotations []model.Annotation) *gh.CheckRunOutput {
	if req.Title == "" && req.Summary == "" {
		return nil
	}

	out := &gh.CheckRunOutput{
		Title:   gh.Ptr(req.Title),
		Summary: gh.Ptr(req.Summary),
	}
	if req.Text != "" {
		out.Text = gh.Ptr(req.Text)
	}
	for _, a := range annotations {
		out.Annotations = append(out.Annotations, mapAnnotation(a))
	}
	return out
}

func mapAnnotation(a model.Annotation) *gh.CheckRunAnnotation {
	ann := &gh.CheckRunAnnotation{
		Path:            gh.Ptr(a.Path),
		StartLine:       gh.Ptr(max(a.StartLine, 1)),
		EndLine:         gh.Ptr(max(a.EndLine, a.StartLine, 1)),
		AnnotationLevel: gh.Ptr(string(a.Level)),
		Message:         gh.Ptr(a.Message),
	}
	// Columns are only accepted on single-line annotations.
	if a.StartColumn > 0 && a.EndLine <= a.StartLine {
		ann.StartColumn = gh.Ptr(a.StartColumn)
		ann.EndColumn = gh.Ptr(max(a.EndColumn, a.StartColumn))
	}
	return ann
}

func mapActions(actions []model.CheckAction) []*gh.CheckRunAction {
	if len(actions) == 0 {
		return nil
	}
	out := make([]*gh.CheckRunAction, 0, len(actions))
	for _, a := range actions {
		out = append(out, &gh.CheckRunAction{
			Label:       a.Label,
			Description: a.Description,
			Identifier:  a.Identifier,
		})
	}
	return out
}
