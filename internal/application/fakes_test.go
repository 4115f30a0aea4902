package application

import (
	"cmp"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Hook store ---

type fakeHookStore struct {
	mu       sync.Mutex
	hooks    []model.Hook
	findErr  error
	replaced map[string][]model.Hook
	deleted  []string
}

func (f *fakeHookStore) ReplaceForBranch(_ context.Context, repoFullName, branch string, hooks []model.Hook) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.replaced == nil {
		f.replaced = make(map[string][]model.Hook)
	}
	f.replaced[repoFullName+"@"+branch] = hooks

	kept := f.hooks[:0:0]
	for _, h := range f.hooks {
		if h.RepoFullName != repoFullName || h.Branch != branch {
			kept = append(kept, h)
		}
	}
	f.hooks = append(kept, hooks...)
	return nil
}

func (f *fakeHookStore) DeleteForBranch(_ context.Context, repoFullName, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deleted = append(f.deleted, repoFullName+"@"+branch)
	kept := f.hooks[:0:0]
	for _, h := range f.hooks {
		if h.RepoFullName != repoFullName || h.Branch != branch {
			kept = append(kept, h)
		}
	}
	f.hooks = kept
	return nil
}

func (f *fakeHookStore) Find(_ context.Context, filter driven.HookFilter) ([]model.Hook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findErr != nil {
		return nil, f.findErr
	}

	var out []model.Hook
	for _, h := range f.hooks {
		if filter.RepoFullName != "" && h.RepoFullName != filter.RepoFullName {
			continue
		}
		if filter.Branch != "" && h.Branch != filter.Branch {
			continue
		}
		if filter.HookType != "" && h.HookType != filter.HookType {
			continue
		}
		if slices.Contains(filter.ExcludeConfigPaths, h.PathToConfigFile) {
			continue
		}
		if filter.DestinationBranch != nil && (h.DestinationBranchMatcher == nil || *h.DestinationBranchMatcher != *filter.DestinationBranch) {
			continue
		}
		if filter.SlashCommand != nil && (h.SlashCommand == nil || *h.SlashCommand != *filter.SlashCommand) {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (f *fakeHookStore) Count(_ context.Context, repoFullName, branch string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, h := range f.hooks {
		if h.RepoFullName == repoFullName && h.Branch == branch {
			n++
		}
	}
	return n, nil
}

// --- Run ledger ---

// fakeLedger keeps rows in memory with the same membership rules as the
// SQLite ledger.
type fakeLedger struct {
	mu     sync.Mutex
	rows   []model.WorkflowRun
	nextID int64

	listErr error
}

func (f *fakeLedger) Insert(_ context.Context, run *model.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.supersede(run.RepoFullName, run.PipelineRunName, 0)
	f.nextID++
	run.ID = f.nextID
	now := time.Now()
	run.CreatedAt = now
	run.UpdatedAt = now
	f.rows = append(f.rows, *run)
	return nil
}

// seed stores rows as-is and returns their ids.
func (f *fakeLedger) seed(runs ...model.WorkflowRun) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int64, 0, len(runs))
	for _, r := range runs {
		f.nextID++
		r.ID = f.nextID
		f.rows = append(f.rows, r)
		ids = append(ids, r.ID)
	}
	return ids
}

func (f *fakeLedger) supersede(repo, name string, exceptID int64) {
	for i := range f.rows {
		r := &f.rows[i]
		if r.RepoFullName == repo && r.PipelineRunName == name && r.PRConclusion == nil && r.ID != exceptID {
			r.PRConclusion = model.Ptr(model.ConclusionSuperseded)
		}
	}
}

func (f *fakeLedger) Update(_ context.Context, run model.WorkflowRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.byID(run.ID)
	if r == nil {
		return errors.New("no such row")
	}
	r.Status = run.Status
	r.Conclusion = run.Conclusion
	r.WorkflowRunID = run.WorkflowRunID
	r.WorkflowJobID = run.WorkflowJobID
	r.CheckRunID = run.CheckRunID
	r.WorkflowRunURL = run.WorkflowRunURL
	r.Error = run.Error
	r.UpdatedAt = time.Now()
	return nil
}

func (f *fakeLedger) FindOpenByPipelineRunName(_ context.Context, repoFullName, pipelineRunName string) (*model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.rows) - 1; i >= 0; i-- {
		r := f.rows[i]
		if r.RepoFullName == repoFullName && r.PipelineRunName == pipelineRunName && r.PRConclusion == nil {
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) FindByCheckRunID(_ context.Context, repoFullName string, checkRunID int64) (*model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := len(f.rows) - 1; i >= 0; i-- {
		r := f.rows[i]
		if r.RepoFullName == repoFullName && r.CheckRunID != nil && *r.CheckRunID == checkRunID {
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) ListByPRCheck(_ context.Context, prCheckID int64, filter driven.RunFilter) ([]model.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}

	var out []model.WorkflowRun
	for _, r := range f.rows {
		if r.PRCheckID != prCheckID {
			continue
		}
		if filter.OpenOnly && r.PRConclusion != nil {
			continue
		}
		if filter.Conclusion != nil && (r.Conclusion == nil || *r.Conclusion != *filter.Conclusion) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeLedger) CountByPRCheck(_ context.Context, prCheckID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, r := range f.rows {
		if r.PRCheckID == prCheckID {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) ListPRCheckIDsByHeadSHA(_ context.Context, repoFullName, headSHA string) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids []int64
	for _, r := range f.rows {
		if r.RepoFullName == repoFullName && r.HeadSHA == headSHA && !slices.Contains(ids, r.PRCheckID) {
			ids = append(ids, r.PRCheckID)
		}
	}
	return ids, nil
}

func (f *fakeLedger) Finalize(_ context.Context, prCheckID int64, conclusion model.Conclusion) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var n int64
	for i := range f.rows {
		r := &f.rows[i]
		if r.PRCheckID == prCheckID && r.PRConclusion == nil {
			r.PRConclusion = model.Ptr(conclusion)
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) ResetForRerun(_ context.Context, ids []int64, newPRCheckID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		r := f.byID(id)
		if r == nil {
			return errors.New("no such row")
		}
		f.supersede(r.RepoFullName, r.PipelineRunName, id)
		r.Status = model.RunStatusQueued
		r.Conclusion = nil
		r.PRConclusion = nil
		r.WorkflowJobID = nil
		r.Error = nil // RunAttempt is kept.
		r.PRCheckID = newPRCheckID
	}
	return nil
}

func (f *fakeLedger) Relink(_ context.Context, ids []int64, newPRCheckID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		r := f.byID(id)
		if r == nil {
			return errors.New("no such row")
		}
		f.supersede(r.RepoFullName, r.PipelineRunName, id)
		r.PRConclusion = nil
		r.PRCheckID = newPRCheckID
	}
	return nil
}

func (f *fakeLedger) ListRecentPRChecks(_ context.Context, limit int) ([]driven.PRCheckKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []driven.PRCheckKey
	for i := len(f.rows) - 1; i >= 0 && len(keys) < limit; i-- {
		key := driven.PRCheckKey{RepoFullName: f.rows[i].RepoFullName, PRCheckID: f.rows[i].PRCheckID}
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *fakeLedger) ListOpenPRChecks(_ context.Context, createdAfter, updatedBefore time.Time, limit int) ([]driven.OpenPRCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	index := make(map[int64]int)
	var out []driven.OpenPRCheck
	for _, r := range f.rows {
		if r.PRConclusion != nil {
			continue
		}
		i, ok := index[r.PRCheckID]
		if !ok {
			index[r.PRCheckID] = len(out)
			out = append(out, driven.OpenPRCheck{
				PRCheckKey: driven.PRCheckKey{RepoFullName: r.RepoFullName, PRCheckID: r.PRCheckID},
				CreatedAt:  r.CreatedAt,
				UpdatedAt:  r.UpdatedAt,
			})
			continue
		}
		if r.CreatedAt.Before(out[i].CreatedAt) {
			out[i].CreatedAt = r.CreatedAt
		}
		if r.UpdatedAt.After(out[i].UpdatedAt) {
			out[i].UpdatedAt = r.UpdatedAt
		}
	}

	filtered := out[:0]
	for _, oc := range out {
		if !oc.CreatedAt.Before(createdAfter) && oc.UpdatedAt.Before(updatedBefore) {
			filtered = append(filtered, oc)
		}
	}
	slices.SortStableFunc(filtered, func(a, b driven.OpenPRCheck) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.PRCheckID, a.PRCheckID)
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (f *fakeLedger) byID(id int64) *model.WorkflowRun {
	for i := range f.rows {
		if f.rows[i].ID == id {
			return &f.rows[i]
		}
	}
	return nil
}

// row returns a copy of the row with the given id.
func (f *fakeLedger) row(id int64) model.WorkflowRun {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r := f.byID(id); r != nil {
		return *r
	}
	return model.WorkflowRun{}
}

func (f *fakeLedger) all() []model.WorkflowRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.rows)
}

// --- GitHub ---

type checkCall struct {
	RepoFullName string
	CheckRunID   int64
	Req          model.CheckRunRequest
}

type dispatchCall struct {
	RepoFullName string
	WorkflowFile string
	Ref          string
	Inputs       map[string]string
}

type rerunCall struct {
	RunID      int64
	FailedOnly bool
}

type reactionCall struct {
	CommentID  int64
	Content    string
	ReactionID int64
	Deleted    bool
}

// fakeGitHub implements both GitHubClient and GitHubWriter and records every
// write.
type fakeGitHub struct {
	mu sync.Mutex

	pr           *model.PullRequest
	prErr        error
	mergeability []mergeState
	mergeCalls   int
	files        []string
	removed      []string
	contents     map[string][]byte
	tree         []string
	workflows    map[string]*model.WorkflowDefinition
	jobs         map[int64]*model.WorkflowJob
	checkRuns    []model.CheckRun
	logs         map[int64]string

	createErr   error
	updateErrs  map[int64]error
	dispatchErr map[string]error
	rerunErr    error

	nextCheckID  int64
	created      []checkCall
	updated      []checkCall
	dispatched   []dispatchCall
	reruns       []rerunCall
	comments     []string
	reactions    []reactionCall
	nextReaction int64
}

type mergeState struct {
	sha      string
	computed bool
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		contents:    make(map[string][]byte),
		workflows:   make(map[string]*model.WorkflowDefinition),
		jobs:        make(map[int64]*model.WorkflowJob),
		logs:        make(map[int64]string),
		updateErrs:  make(map[int64]error),
		dispatchErr: make(map[string]error),
		nextCheckID: 1000,
	}
}

func (f *fakeGitHub) FetchPullRequest(_ context.Context, _ string, _ int) (*model.PullRequest, error) {
	if f.prErr != nil {
		return nil, f.prErr
	}
	return f.pr, nil
}

func (f *fakeGitHub) FetchMergeability(_ context.Context, _ string, _ int) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.mergeCalls
	f.mergeCalls++
	if i >= len(f.mergeability) {
		return "", false, nil
	}
	return f.mergeability[i].sha, f.mergeability[i].computed, nil
}

func (f *fakeGitHub) FetchPullRequestFiles(_ context.Context, _ string, _ int) ([]string, []string, error) {
	return f.files, f.removed, nil
}

func (f *fakeGitHub) FetchFileContent(_ context.Context, _, path, _ string) ([]byte, error) {
	return f.contents[path], nil
}

func (f *fakeGitHub) FetchTreePaths(_ context.Context, _, _ string) ([]string, error) {
	return f.tree, nil
}

func (f *fakeGitHub) FetchWorkflowDefinition(_ context.Context, _, workflowFile, _ string) (*model.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	def, ok := f.workflows[workflowFile]
	if !ok {
		return nil, model.ErrWorkflowNotFound
	}
	return def, nil
}

func (f *fakeGitHub) FetchWorkflowJob(_ context.Context, _ string, jobID int64) (*model.WorkflowJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return nil, errors.New("job not found")
	}
	return job, nil
}

func (f *fakeGitHub) FetchCheckRuns(_ context.Context, _, _, checkName string) ([]model.CheckRun, error) {
	var out []model.CheckRun
	for _, c := range f.checkRuns {
		if checkName == "" || c.Name == checkName {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeGitHub) FetchJobLogTail(_ context.Context, _ string, jobID int64, maxBytes int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	logs := f.logs[jobID]
	if len(logs) > maxBytes {
		logs = logs[len(logs)-maxBytes:]
	}
	return logs, nil
}

func (f *fakeGitHub) CreateCheckRun(_ context.Context, repoFullName string, req model.CheckRunRequest) (*model.CheckRunRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextCheckID++
	f.created = append(f.created, checkCall{RepoFullName: repoFullName, CheckRunID: f.nextCheckID, Req: req})
	return &model.CheckRunRef{ID: f.nextCheckID, URL: "https://github.com/" + repoFullName + "/runs/check"}, nil
}

func (f *fakeGitHub) UpdateCheckRun(_ context.Context, repoFullName string, checkRunID int64, req model.CheckRunRequest) (*model.CheckRunRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.updateErrs[checkRunID]; err != nil {
		return nil, err
	}
	f.updated = append(f.updated, checkCall{RepoFullName: repoFullName, CheckRunID: checkRunID, Req: req})
	return &model.CheckRunRef{ID: checkRunID, URL: "https://github.com/" + repoFullName + "/runs/check"}, nil
}

func (f *fakeGitHub) DispatchWorkflow(_ context.Context, repoFullName, workflowFile, ref string, inputs map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.dispatchErr[workflowFile]; err != nil {
		return err
	}
	f.dispatched = append(f.dispatched, dispatchCall{RepoFullName: repoFullName, WorkflowFile: workflowFile, Ref: ref, Inputs: inputs})
	return nil
}

func (f *fakeGitHub) RerunWorkflow(_ context.Context, _ string, runID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rerunErr != nil {
		return f.rerunErr
	}
	f.reruns = append(f.reruns, rerunCall{RunID: runID})
	return nil
}

func (f *fakeGitHub) RerunFailedJobs(_ context.Context, _ string, runID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rerunErr != nil {
		return f.rerunErr
	}
	f.reruns = append(f.reruns, rerunCall{RunID: runID, FailedOnly: true})
	return nil
}

func (f *fakeGitHub) CreateIssueComment(_ context.Context, _ string, _ int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeGitHub) CreateCommentReaction(_ context.Context, _ string, commentID int64, content string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextReaction++
	f.reactions = append(f.reactions, reactionCall{CommentID: commentID, Content: content, ReactionID: f.nextReaction})
	return f.nextReaction, nil
}

func (f *fakeGitHub) DeleteCommentReaction(_ context.Context, _ string, commentID, reactionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reactions = append(f.reactions, reactionCall{CommentID: commentID, ReactionID: reactionID, Deleted: true})
	return nil
}

// updatesFor returns the updates sent to one check run, oldest first.
func (f *fakeGitHub) updatesFor(checkRunID int64) []model.CheckRunRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.CheckRunRequest
	for _, u := range f.updated {
		if u.CheckRunID == checkRunID {
			out = append(out, u.Req)
		}
	}
	return out
}

// lastUpdate returns the most recent update of a check run.
func (f *fakeGitHub) lastUpdate(checkRunID int64) (model.CheckRunRequest, bool) {
	updates := f.updatesFor(checkRunID)
	if len(updates) == 0 {
		return model.CheckRunRequest{}, false
	}
	return updates[len(updates)-1], true
}

var (
	_ driven.GitHubClient = (*fakeGitHub)(nil)
	_ driven.GitHubWriter = (*fakeGitHub)(nil)
	_ driven.RunLedger    = (*fakeLedger)(nil)
	_ driven.HookStore    = (*fakeHookStore)(nil)
)
