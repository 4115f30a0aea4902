package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
	"github.com/ericfisherdev/hookrelay/internal/hookconfig"
)

// PRHooks is the hook configuration touched by a pull request diff.
type PRHooks struct {
	Hooks         []model.Hook
	ModifiedPaths []string
	Annotations   []model.Annotation
}

// Valid reports whether the modified configuration parsed without failures.
func (p PRHooks) Valid() bool {
	return hookconfig.Result{Annotations: p.Annotations}.Valid()
}

// ConfigService loads hook configuration from repositories and maintains the
// persisted per-branch snapshots.
type ConfigService struct {
	ghClient   driven.GitHubClient
	hookStore  driven.HookStore
	configGlob string
	logger     *slog.Logger
}

// NewConfigService creates a ConfigService. configGlob selects configuration
// files by repository path and supports "**".
func NewConfigService(ghClient driven.GitHubClient, hookStore driven.HookStore, configGlob string, logger *slog.Logger) *ConfigService {
	return &ConfigService{
		ghClient:   ghClient,
		hookStore:  hookStore,
		configGlob: configGlob,
		logger:     logger.With("component", "config_service"),
	}
}

// IsConfigPath reports whether path is a hook configuration file.
func (s *ConfigService) IsConfigPath(path string) bool {
	ok, err := doublestar.Match(s.configGlob, path)
	return err == nil && ok
}

// LoadPRHooks parses the configuration files changed by a pull request at ref.
// Removed files only contribute to ModifiedPaths so their persisted hooks are
// dropped from matching. Pipelines still declared by unmodified files of the
// base branch snapshot cannot be redeclared.
func (s *ConfigService) LoadPRHooks(ctx context.Context, repoFullName, baseBranch, ref string, changedFiles, removedFiles []string) (PRHooks, error) {
	removed := make(map[string]bool, len(removedFiles))
	for _, f := range removedFiles {
		removed[f] = true
	}

	var out PRHooks
	var files []hookconfig.File
	for _, path := range changedFiles {
		if !s.IsConfigPath(path) {
			continue
		}
		out.ModifiedPaths = append(out.ModifiedPaths, path)
		if removed[path] {
			continue
		}
		content, err := s.ghClient.FetchFileContent(ctx, repoFullName, path, ref)
		if err != nil {
			return PRHooks{}, fmt.Errorf("fetch %s@%s: %w", path, ref, err)
		}
		if content == nil {
			continue
		}
		files = append(files, hookconfig.File{Path: path, Content: content})
	}

	if len(files) == 0 {
		return out, nil
	}

	existing, err := s.hookStore.Find(ctx, driven.HookFilter{
		RepoFullName:       repoFullName,
		Branch:             baseBranch,
		ExcludeConfigPaths: out.ModifiedPaths,
	})
	if err != nil {
		return PRHooks{}, fmt.Errorf("load hooks of %s@%s: %w", repoFullName, baseBranch, err)
	}
	declared := make([]hookconfig.Declaration, 0, len(existing))
	for _, h := range existing {
		declared = append(declared, hookconfig.Declaration{Prefix: h.PipelineUniquePrefix, Path: h.PathToConfigFile})
	}

	res := hookconfig.ParseFilesWith(hookconfig.Target{RepoFullName: repoFullName}, files, declared)
	out.Hooks = res.Hooks
	out.Annotations = res.Annotations

	s.logger.Info("pr hook configuration loaded",
		"repo", repoFullName,
		"ref", ref,
		"files", len(files),
		"hooks", len(res.Hooks),
		"annotations", len(res.Annotations),
	)
	return out, nil
}

// RefreshBranchHooks replaces the persisted snapshot of a branch with the
// configuration found in its tree at sha. An invalid configuration keeps the
// previous snapshot.
func (s *ConfigService) RefreshBranchHooks(ctx context.Context, repoFullName, branch, sha string) error {
	paths, err := s.ghClient.FetchTreePaths(ctx, repoFullName, sha)
	if err != nil {
		return fmt.Errorf("list tree of %s@%s: %w", repoFullName, sha, err)
	}

	var files []hookconfig.File
	for _, path := range paths {
		if !s.IsConfigPath(path) {
			continue
		}
		content, err := s.ghClient.FetchFileContent(ctx, repoFullName, path, sha)
		if err != nil {
			return fmt.Errorf("fetch %s@%s: %w", path, sha, err)
		}
		if content == nil {
			continue
		}
		files = append(files, hookconfig.File{Path: path, Content: content})
	}

	res := hookconfig.ParseFiles(hookconfig.Target{RepoFullName: repoFullName, Branch: branch}, files)
	if !res.Valid() {
		s.logger.Warn("branch hook configuration invalid, keeping previous snapshot",
			"repo", repoFullName,
			"branch", branch,
			"sha", sha,
			"annotations", len(res.Annotations),
		)
		return nil
	}

	if err := s.hookStore.ReplaceForBranch(ctx, repoFullName, branch, res.Hooks); err != nil {
		return fmt.Errorf("replace hooks for %s@%s: %w", repoFullName, branch, err)
	}

	s.logger.Info("branch hooks refreshed",
		"repo", repoFullName,
		"branch", branch,
		"sha", sha,
		"files", len(files),
		"hooks", len(res.Hooks),
	)
	return nil
}

// EnsureBranchHooks loads the snapshot of a branch that has none yet.
func (s *ConfigService) EnsureBranchHooks(ctx context.Context, repoFullName, branch, sha string) error {
	n, err := s.hookStore.Count(ctx, repoFullName, branch)
	if err != nil {
		return fmt.Errorf("count hooks for %s@%s: %w", repoFullName, branch, err)
	}
	if n > 0 {
		return nil
	}
	return s.RefreshBranchHooks(ctx, repoFullName, branch, sha)
}

// DeleteBranchHooks removes the snapshot of a deleted branch.
func (s *ConfigService) DeleteBranchHooks(ctx context.Context, repoFullName, branch string) error {
	if err := s.hookStore.DeleteForBranch(ctx, repoFullName, branch); err != nil {
		return fmt.Errorf("delete hooks for %s@%s: %w", repoFullName, branch, err)
	}
	s.logger.Info("branch hooks deleted", "repo", repoFullName, "branch", branch)
	return nil
}
