package driven

import (
	"context"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

// HookFilter selects persisted hooks. Zero-valued optional fields are ignored.
type HookFilter struct {
	RepoFullName string
	Branch       string
	HookType     model.HookType
	// ExcludeConfigPaths drops hooks whose config file was modified in the
	// current event; those are superseded by hooks parsed from the diff.
	ExcludeConfigPaths []string
	// DestinationBranch, when non-nil, requires an equal destinationBranchMatcher.
	DestinationBranch *string
	// SlashCommand, when non-nil, requires an equal slashCommand.
	SlashCommand *string
}

// HookStore defines the driven port for hook persistence.
// Uses full replacement strategy: the hooks of a branch are always a complete snapshot.
type HookStore interface {
	// ReplaceForBranch deletes all hooks for (repo, branch) and inserts the
	// provided hooks atomically in a transaction.
	ReplaceForBranch(ctx context.Context, repoFullName, branch string, hooks []model.Hook) error
	// DeleteForBranch removes every hook persisted for (repo, branch).
	DeleteForBranch(ctx context.Context, repoFullName, branch string) error
	// Find returns hooks matching the filter, ordered by id.
	Find(ctx context.Context, filter HookFilter) ([]model.Hook, error)
	// Count returns the number of hooks persisted for (repo, branch).
	Count(ctx context.Context, repoFullName, branch string) (int, error)
}
