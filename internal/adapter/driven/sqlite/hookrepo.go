package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.HookStore = (*HookRepo)(nil)

// HookRepo is the SQLite implementation of the HookStore port interface.
type HookRepo struct {
	db *DB
}

// NewHookRepo creates a new HookRepo backed by the given DB.
func NewHookRepo(db *DB) *HookRepo {
	return &HookRepo{db: db}
}

const hookColumns = `id, repo_full_name, branch, hook_type, hook_name, path_to_config_file,
	pipeline_unique_prefix, pipeline_name, pipeline_ref, pipeline_params, shared_params,
	file_changes_matcher, destination_branch_matcher, slash_command`

// ReplaceForBranch atomically replaces the hook snapshot of a branch.
func (r *HookRepo) ReplaceForBranch(ctx context.Context, repoFullName, branch string, hooks []model.Hook) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const deleteQuery = `DELETE FROM hooks WHERE repo_full_name = ? AND branch = ?`
	if _, err := tx.ExecContext(ctx, deleteQuery, repoFullName, branch); err != nil {
		return fmt.Errorf("delete hooks for %s@%s: %w", repoFullName, branch, err)
	}

	const insertQuery = `
		INSERT INTO hooks (
			repo_full_name, branch, hook_type, hook_name, path_to_config_file,
			pipeline_unique_prefix, pipeline_name, pipeline_ref, pipeline_params, shared_params,
			file_changes_matcher, destination_branch_matcher, slash_command, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := formatTime(time.Now())
	for _, h := range hooks {
		pipelineParams, err := json.Marshal(h.PipelineParams)
		if err != nil {
			return fmt.Errorf("marshal pipeline params of %s: %w", h.PipelineUniquePrefix, err)
		}
		sharedParams, err := json.Marshal(h.SharedParams)
		if err != nil {
			return fmt.Errorf("marshal shared params of %s: %w", h.PipelineUniquePrefix, err)
		}

		if _, err := tx.ExecContext(ctx, insertQuery,
			repoFullName, branch, string(h.HookType), h.HookName, h.PathToConfigFile,
			h.PipelineUniquePrefix, h.PipelineName, nullString(h.PipelineRef), string(pipelineParams), string(sharedParams),
			h.FileChangesMatcher, nullString(h.DestinationBranchMatcher), nullString(h.SlashCommand), now,
		); err != nil {
			return fmt.Errorf("insert hook %s for %s@%s: %w", h.PipelineUniquePrefix, repoFullName, branch, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hooks for %s@%s: %w", repoFullName, branch, err)
	}

	return nil
}

// DeleteForBranch removes every hook of a branch.
func (r *HookRepo) DeleteForBranch(ctx context.Context, repoFullName, branch string) error {
	const query = `DELETE FROM hooks WHERE repo_full_name = ? AND branch = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, repoFullName, branch); err != nil {
		return fmt.Errorf("delete hooks for %s@%s: %w", repoFullName, branch, err)
	}
	return nil
}

// Find returns the hooks matching filter, ordered by id.
func (r *HookRepo) Find(ctx context.Context, filter driven.HookFilter) ([]model.Hook, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + hookColumns + ` FROM hooks WHERE repo_full_name = ? AND branch = ?`)
	args := []any{filter.RepoFullName, filter.Branch}

	if filter.HookType != "" {
		b.WriteString(` AND hook_type = ?`)
		args = append(args, string(filter.HookType))
	}

	if len(filter.ExcludeConfigPaths) > 0 {
		b.WriteString(` AND path_to_config_file NOT IN (?` + strings.Repeat(`, ?`, len(filter.ExcludeConfigPaths)-1) + `)`)
		for _, p := range filter.ExcludeConfigPaths {
			args = append(args, p)
		}
	}
	if filter.DestinationBranch != nil {
		b.WriteString(` AND destination_branch_matcher = ?`)
		args = append(args, *filter.DestinationBranch)
	}
	if filter.SlashCommand != nil {
		b.WriteString(` AND slash_command = ?`)
		args = append(args, *filter.SlashCommand)
	}
	b.WriteString(` ORDER BY id`)

	rows, err := r.db.Reader.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query hooks for %s@%s: %w", filter.RepoFullName, filter.Branch, err)
	}
	defer rows.Close()

	var hooks []model.Hook
	for rows.Next() {
		h, err := scanHook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan hook: %w", err)
		}
		hooks = append(hooks, *h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hooks: %w", err)
	}

	return hooks, nil
}

// Count returns the number of hooks persisted for a branch.
func (r *HookRepo) Count(ctx context.Context, repoFullName, branch string) (int, error) {
	const query = `SELECT COUNT(*) FROM hooks WHERE repo_full_name = ? AND branch = ?`

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, query, repoFullName, branch).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hooks for %s@%s: %w", repoFullName, branch, err)
	}
	return n, nil
}

func scanHook(s scanner) (*model.Hook, error) {
	var h model.Hook
	var hookType, pipelineParams, sharedParams string
	var pipelineRef, destination, command sql.NullString

	err := s.Scan(
		&h.ID, &h.RepoFullName, &h.Branch, &hookType, &h.HookName, &h.PathToConfigFile,
		&h.PipelineUniquePrefix, &h.PipelineName, &pipelineRef, &pipelineParams, &sharedParams,
		&h.FileChangesMatcher, &destination, &command,
	)
	if err != nil {
		return nil, err
	}

	h.HookType = model.HookType(hookType)
	h.PipelineRef = nullStringPtr(pipelineRef)
	h.DestinationBranchMatcher = nullStringPtr(destination)
	h.SlashCommand = nullStringPtr(command)

	if h.PipelineParams, err = unmarshalParams(pipelineParams); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline_params: %w", err)
	}
	if h.SharedParams, err = unmarshalParams(sharedParams); err != nil {
		return nil, fmt.Errorf("unmarshal shared_params: %w", err)
	}

	return &h, nil
}

func unmarshalParams(s string) (model.Params, error) {
	var p model.Params
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}

// nullString converts an optional string to a driver value.
func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullInt64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}
