// Package github implements the GitHubClient and GitHubWriter ports using
// the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v74/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.GitHubClient = (*Client)(nil)
	_ driven.GitHubWriter = (*Client)(nil)
)

// maxLogRedirects bounds the redirect chain followed when resolving a job
// log download URL.
const maxLogRedirects = 3

// Client implements the driven.GitHubClient and driven.GitHubWriter ports.
type Client struct {
	gh *gh.Client
	// download fetches pre-signed log archives. It carries no GitHub
	// credentials.
	download *http.Client
	logger   *slog.Logger
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string, logger *slog.Logger) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{
		gh:       client,
		download: &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "github"),
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, logger *slog.Logger) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{
		gh:       client,
		download: httpClient,
		logger:   logger.With("component", "github"),
	}, nil
}

// FetchPullRequest retrieves a single pull request and maps it to the
// canonical summary.
func (c *Client) FetchPullRequest(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	pr, resp, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("getting pull request %s#%d: %w", repoFullName, number, err)
	}
	c.logRateLimit(resp, repoFullName, 0, 1)

	mapped := MapPullRequest(pr)
	return &mapped, nil
}

// FetchMergeability returns the merge commit SHA and whether GitHub has
// finished computing mergeability for the pull request.
func (c *Client) FetchMergeability(ctx context.Context, repoFullName string, number int) (string, bool, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", false, err
	}

	pr, _, err := c.gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return "", false, fmt.Errorf("getting pull request %s#%d: %w", repoFullName, number, err)
	}

	return pr.GetMergeCommitSHA(), pr.Mergeable != nil, nil
}

// FetchPullRequestFiles lists every changed file of a pull request.
// It handles pagination automatically.
func (c *Client) FetchPullRequestFiles(ctx context.Context, repoFullName string, number int) ([]string, []string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, nil, err
	}

	opts := &gh.ListOptions{PerPage: 100}
	var all, removed []string

	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("listing files for %s#%d (page %d): %w", repoFullName, number, opts.Page, err)
		}

		c.logRateLimit(resp, repoFullName, opts.Page, len(files))

		for _, f := range files {
			all = append(all, f.GetFilename())
			if f.GetStatus() == "removed" {
				removed = append(removed, f.GetFilename())
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, removed, nil
}

// FetchFileContent returns the decoded content of path at ref, or nil when
// the file does not exist.
func (c *Client) FetchFileContent(ctx context.Context, repoFullName, path, ref string) ([]byte, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if isNotFound(resp) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting %s at %s in %s: %w", path, ref, repoFullName, err)
	}
	if file == nil {
		// A directory lives at this path.
		return nil, nil
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s at %s in %s: %w", path, ref, repoFullName, err)
	}

	return []byte(content), nil
}

// FetchTreePaths returns every blob path of the recursive tree at ref.
func (c *Client) FetchTreePaths(ctx context.Context, repoFullName, ref string) ([]string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	tree, resp, err := c.gh.Git.GetTree(ctx, owner, repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("getting tree %s in %s: %w", ref, repoFullName, err)
	}
	c.logRateLimit(resp, repoFullName, 0, len(tree.Entries))

	if tree.GetTruncated() {
		c.logger.Warn("tree listing truncated", "repo", repoFullName, "ref", ref)
	}

	paths := make([]string, 0, len(tree.Entries))
	for _, entry := range tree.Entries {
		if entry.GetType() == "blob" {
			paths = append(paths, entry.GetPath())
		}
	}

	return paths, nil
}

// FetchWorkflowDefinition resolves a workflow by file name and reads its
// workflow_dispatch inputs from the file content at ref. Returns
// model.ErrWorkflowNotFound when either lookup misses.
func (c *Client) FetchWorkflowDefinition(ctx context.Context, repoFullName, workflowFile, ref string) (*model.WorkflowDefinition, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	wf, resp, err := c.gh.Actions.GetWorkflowByFileName(ctx, owner, repo, workflowFile)
	if err != nil {
		if isNotFound(resp) {
			return nil, fmt.Errorf("%s in %s: %w", workflowFile, repoFullName, model.ErrWorkflowNotFound)
		}
		return nil, fmt.Errorf("getting workflow %s in %s: %w", workflowFile, repoFullName, err)
	}

	path := wf.GetPath()
	if path == "" {
		path = ".github/workflows/" + workflowFile
	}

	content, err := c.FetchFileContent(ctx, repoFullName, path, ref)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, fmt.Errorf("%s at %s in %s: %w", path, ref, repoFullName, model.ErrWorkflowNotFound)
	}

	inputs, err := parseDispatchInputs(content)
	if err != nil {
		return nil, fmt.Errorf("parsing workflow %s: %w", path, err)
	}

	return &model.WorkflowDefinition{
		ID:     wf.GetID(),
		Path:   path,
		Inputs: inputs,
	}, nil
}

// FetchWorkflowJob returns the current state of a single Actions job.
func (c *Client) FetchWorkflowJob(ctx context.Context, repoFullName string, jobID int64) (*model.WorkflowJob, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	job, resp, err := c.gh.Actions.GetWorkflowJobByID(ctx, owner, repo, jobID)
	if err != nil {
		return nil, fmt.Errorf("getting workflow job %d in %s: %w", jobID, repoFullName, err)
	}
	c.logRateLimit(resp, repoFullName, 0, 1)

	mapped := MapWorkflowJob(job)
	return &mapped, nil
}

// FetchCheckRuns lists check runs for ref, filtered by checkName when set.
// It handles pagination automatically.
func (c *Client) FetchCheckRuns(ctx context.Context, repoFullName, ref, checkName string) ([]model.CheckRun, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListCheckRunsOptions{
		Filter:      gh.Ptr("all"),
		ListOptions: gh.ListOptions{PerPage: 100},
	}
	if checkName != "" {
		opts.CheckName = gh.Ptr(checkName)
	}

	var all []model.CheckRun

	for {
		result, resp, err := c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
		if err != nil {
			return nil, fmt.Errorf("listing check runs for %s@%s (page %d): %w", repoFullName, ref, opts.Page, err)
		}

		c.logRateLimit(resp, repoFullName, opts.Page, len(result.CheckRuns))

		for _, cr := range result.CheckRuns {
			all = append(all, mapCheckRun(cr))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// FetchJobLogTail downloads a job log and returns at most maxBytes from its
// end.
func (c *Client) FetchJobLogTail(ctx context.Context, repoFullName string, jobID int64, maxBytes int) (string, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return "", err
	}

	logURL, _, err := c.gh.Actions.GetWorkflowJobLogs(ctx, owner, repo, jobID, maxLogRedirects)
	if err != nil {
		return "", fmt.Errorf("resolving logs for job %d in %s: %w", jobID, repoFullName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, logURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building log request: %w", err)
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading logs for job %d: %w", jobID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading logs for job %d: unexpected status %d", jobID, resp.StatusCode)
	}

	tail := newTailBuffer(maxBytes)
	if _, err := io.Copy(tail, resp.Body); err != nil {
		return "", fmt.Errorf("reading logs for job %d: %w", jobID, err)
	}

	return tail.String(), nil
}

func (c *Client) logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	c.logger.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 100 {
		c.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// MapPullRequest converts a go-github PullRequest to the canonical summary.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func MapPullRequest(pr *gh.PullRequest) model.PullRequest {
	base := pr.GetBase()
	baseRepo := base.GetRepo()

	return model.PullRequest{
		Number:         pr.GetNumber(),
		Owner:          baseRepo.GetOwner().GetLogin(),
		Repo:           baseRepo.GetName(),
		DefaultBranch:  baseRepo.GetDefaultBranch(),
		HeadRef:        pr.GetHead().GetRef(),
		HeadSHA:        pr.GetHead().GetSHA(),
		BaseRef:        base.GetRef(),
		BaseSHA:        base.GetSHA(),
		Merged:         pr.GetMerged(),
		MergeCommitSHA: pr.GetMergeCommitSHA(),
		URL:            pr.GetHTMLURL(),
	}
}

// MapWorkflowJob converts a go-github WorkflowJob to the domain job state.
// Statuses GitHub reports before a runner picks the job up fold into queued.
func MapWorkflowJob(job *gh.WorkflowJob) model.WorkflowJob {
	status := model.RunStatus(job.GetStatus())
	switch job.GetStatus() {
	case "waiting", "pending", "requested":
		status = model.RunStatusQueued
	}

	return model.WorkflowJob{
		ID:         job.GetID(),
		RunID:      job.GetRunID(),
		RunAttempt: job.GetRunAttempt(),
		Name:       job.GetName(),
		Status:     status,
		Conclusion: model.Conclusion(job.GetConclusion()),
		HTMLURL:    job.GetHTMLURL(),
		RunURL:     runHTMLURL(job.GetHTMLURL()),
	}
}

// runHTMLURL derives the workflow run page from a job page URL of the form
// .../actions/runs/{run}/job/{job}.
func runHTMLURL(jobURL string) string {
	if i := strings.LastIndex(jobURL, "/job/"); i >= 0 {
		return jobURL[:i]
	}
	return jobURL
}

func mapCheckRun(cr *gh.CheckRun) model.CheckRun {
	var startedAt time.Time
	if cr.StartedAt != nil {
		startedAt = cr.GetStartedAt().Time
	}

	return model.CheckRun{
		ID:         cr.GetID(),
		Name:       cr.GetName(),
		Status:     cr.GetStatus(),
		Conclusion: cr.GetConclusion(),
		DetailsURL: cr.GetDetailsURL(),
		HeadSHA:    cr.GetHeadSHA(),
		StartedAt:  startedAt,
	}
}

func isNotFound(resp *gh.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// isNotFoundErr reports whether err is a go-github 404 error response.
func isNotFoundErr(err error) bool {
	var errResp *gh.ErrorResponse
	return errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound
}

// splitRepo splits "owner/repo" into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
