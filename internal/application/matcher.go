package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// MatchRequest carries the inputs of a single trigger evaluation.
type MatchRequest struct {
	RepoFullName string
	HookType     model.HookType
	ChangedFiles []string
	BaseBranch   string
	// ModifiedConfigPaths are config files touched by the event. Persisted
	// hooks loaded from these paths are superseded by PRHooks.
	ModifiedConfigPaths []string
	PRHooks             []model.Hook
	SlashCommand        string
}

// HookMatcher decides which hooks an event triggers.
type HookMatcher struct {
	hookStore driven.HookStore
	logger    *slog.Logger
}

// NewHookMatcher creates a HookMatcher backed by the given hook store.
func NewHookMatcher(hookStore driven.HookStore, logger *slog.Logger) *HookMatcher {
	return &HookMatcher{
		hookStore: hookStore,
		logger:    logger.With("component", "hook_matcher"),
	}
}

// FilterTriggeredHooks merges persisted hooks for the base branch with hooks
// parsed from the event's diff and returns those whose file matcher matches
// at least one changed file. Each pipeline is returned at most once, in the
// order of first appearance.
func (m *HookMatcher) FilterTriggeredHooks(ctx context.Context, req MatchRequest) ([]model.Hook, error) {
	filter := driven.HookFilter{
		RepoFullName:       req.RepoFullName,
		Branch:             req.BaseBranch,
		HookType:           req.HookType,
		ExcludeConfigPaths: req.ModifiedConfigPaths,
	}
	switch req.HookType {
	case model.HookTypeOnBranchMerge:
		filter.DestinationBranch = model.Ptr(req.BaseBranch)
	case model.HookTypeOnSlashCommand:
		filter.SlashCommand = model.Ptr(req.SlashCommand)
	}

	persisted, err := m.hookStore.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load hooks for %s@%s: %w", req.RepoFullName, req.BaseBranch, err)
	}

	candidates := mergeHooks(persisted, selectPRHooks(req))
	triggered := matchHooks(candidates, req.ChangedFiles)

	m.logger.Info("hooks evaluated",
		"repo", req.RepoFullName,
		"hook_type", req.HookType,
		"base_branch", req.BaseBranch,
		"persisted", len(persisted),
		"pr_hooks", len(req.PRHooks),
		"changed_files", len(req.ChangedFiles),
		"triggered", len(triggered),
	)

	return triggered, nil
}

// selectPRHooks applies the same type, destination and command predicates to
// the hooks parsed from the diff that the store applies to persisted hooks.
func selectPRHooks(req MatchRequest) []model.Hook {
	var out []model.Hook
	for _, h := range req.PRHooks {
		if h.HookType != req.HookType {
			continue
		}
		if req.HookType == model.HookTypeOnBranchMerge &&
			(h.DestinationBranchMatcher == nil || *h.DestinationBranchMatcher != req.BaseBranch) {
			continue
		}
		if req.HookType == model.HookTypeOnSlashCommand &&
			(h.SlashCommand == nil || *h.SlashCommand != req.SlashCommand) {
			continue
		}
		out = append(out, h)
	}
	return out
}

// hookGroup holds every matcher row of one pipeline.
type hookGroup struct {
	key   string
	hooks []model.Hook
}

// mergeHooks groups hooks by pipeline unique prefix. A prefix present in
// prHooks replaces the persisted group entirely.
func mergeHooks(persisted, prHooks []model.Hook) []hookGroup {
	index := make(map[string]int)
	var groups []hookGroup

	for _, h := range persisted {
		if i, ok := index[h.PipelineUniquePrefix]; ok {
			groups[i].hooks = append(groups[i].hooks, h)
			continue
		}
		index[h.PipelineUniquePrefix] = len(groups)
		groups = append(groups, hookGroup{key: h.PipelineUniquePrefix, hooks: []model.Hook{h}})
	}

	replaced := make(map[string]bool)
	for _, h := range prHooks {
		i, ok := index[h.PipelineUniquePrefix]
		if !ok {
			index[h.PipelineUniquePrefix] = len(groups)
			groups = append(groups, hookGroup{key: h.PipelineUniquePrefix})
			i = len(groups) - 1
			replaced[h.PipelineUniquePrefix] = true
		}
		if !replaced[h.PipelineUniquePrefix] {
			groups[i].hooks = nil
			replaced[h.PipelineUniquePrefix] = true
		}
		groups[i].hooks = append(groups[i].hooks, h)
	}

	return groups
}

// matchHooks returns one hook per group whose matcher matches a changed file.
func matchHooks(groups []hookGroup, changedFiles []string) []model.Hook {
	var triggered []model.Hook
	for _, g := range groups {
		if h, ok := firstMatching(g.hooks, changedFiles); ok {
			triggered = append(triggered, h)
		}
	}
	return triggered
}

func firstMatching(hooks []model.Hook, changedFiles []string) (model.Hook, bool) {
	for _, h := range hooks {
		for _, file := range changedFiles {
			if MatchesFile(h, file) {
				return h, true
			}
		}
	}
	return model.Hook{}, false
}

// MatchesFile reports whether a hook's file matcher matches path. Patterns
// starting with "!" never match.
func MatchesFile(h model.Hook, path string) bool {
	if h.IsNegated() {
		return false
	}
	ok, err := doublestar.Match(h.FileChangesMatcher, path)
	return err == nil && ok
}
