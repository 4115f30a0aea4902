package model

import "strings"

// HookType identifies which repository event a hook reacts to.
type HookType string

const (
	HookTypeOnPullRequest      HookType = "onPullRequest"
	HookTypeOnBranchMerge      HookType = "onBranchMerge"
	HookTypeOnPullRequestClose HookType = "onPullRequestClose"
	HookTypeOnSlashCommand     HookType = "onSlashCommand"
)

// HookTypes lists every supported hook type in configuration-file order.
var HookTypes = []HookType{
	HookTypeOnPullRequest,
	HookTypeOnBranchMerge,
	HookTypeOnPullRequestClose,
	HookTypeOnSlashCommand,
}

// Valid reports whether t is one of the supported hook types.
func (t HookType) Valid() bool {
	for _, known := range HookTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Hook is a single trigger rule. A configuration rule with N file patterns
// expands into N Hook values sharing the same PipelineUniquePrefix.
type Hook struct {
	ID                       int64
	RepoFullName             string
	Branch                   string // Empty for hooks parsed from a PR diff.
	HookType                 HookType
	HookName                 string
	PathToConfigFile         string
	PipelineUniquePrefix     string // namespace-module-hookName.
	PipelineName             string
	PipelineRef              *string // nil means the repository default branch.
	PipelineParams           Params
	SharedParams             Params
	FileChangesMatcher       string
	DestinationBranchMatcher *string // Only meaningful for onBranchMerge.
	SlashCommand             *string // Only meaningful for onSlashCommand.
}

// IsNegated reports whether the file matcher is an exclude pattern. Exclude
// patterns are accepted by the configuration schema but never match.
func (h Hook) IsNegated() bool {
	return strings.HasPrefix(h.FileChangesMatcher, "!")
}

// PipelineRunName returns the globally unique dispatch name for this hook at
// the given head commit.
func (h Hook) PipelineRunName(headSHA string) string {
	return PipelineRunName(h.PipelineUniquePrefix, headSHA)
}

// PipelineRunName joins a pipeline unique prefix and a head SHA into the
// ledger correlation key.
func PipelineRunName(prefix, headSHA string) string {
	return prefix + "-" + headSHA
}

// UniquePrefix builds the de-duplication key for a hook.
func UniquePrefix(namespace, module, hookName string) string {
	return namespace + "-" + module + "-" + hookName
}
