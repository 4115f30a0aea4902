package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
	"github.com/ericfisherdev/hookrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RunLedger = (*RunLedgerRepo)(nil)

// RunLedgerRepo is the SQLite implementation of the RunLedger port interface.
type RunLedgerRepo struct {
	db *DB
}

// NewRunLedgerRepo creates a new RunLedgerRepo backed by the given DB.
func NewRunLedgerRepo(db *DB) *RunLedgerRepo {
	return &RunLedgerRepo{db: db}
}

const runColumns = `id, repo_full_name, name, head_sha, merge_commit_sha, pipeline_run_name,
	workflow_run_inputs, pr_number, pr_check_id, hook_type, status, conclusion, pr_conclusion,
	workflow_run_id, workflow_job_id, run_attempt, check_run_id, workflow_run_url, error, created_at, updated_at`

// supersedeQuery marks open rows sharing a pipeline run name as superseded.
// The last placeholder excludes one row id; pass 0 to exclude none.
const supersedeQuery = `
	UPDATE workflow_runs SET pr_conclusion = ?, updated_at = ?
	WHERE repo_full_name = ? AND pipeline_run_name = ? AND pr_conclusion IS NULL AND id != ?
`

// Insert stores a new row, superseding any open row with the same pipeline
// run name, and sets run.ID.
func (r *RunLedgerRepo) Insert(ctx context.Context, run *model.WorkflowRun) error {
	inputs, err := json.Marshal(run.WorkflowRunInputs)
	if err != nil {
		return fmt.Errorf("marshal inputs of %s: %w", run.PipelineRunName, err)
	}
	if run.WorkflowRunInputs == nil {
		inputs = []byte("{}")
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, supersedeQuery,
		string(model.ConclusionSuperseded), formatTime(now), run.RepoFullName, run.PipelineRunName, 0,
	); err != nil {
		return fmt.Errorf("supersede open runs of %s: %w", run.PipelineRunName, err)
	}

	const insertQuery = `
		INSERT INTO workflow_runs (
			repo_full_name, name, head_sha, merge_commit_sha, pipeline_run_name,
			workflow_run_inputs, pr_number, pr_check_id, hook_type, status, conclusion, pr_conclusion,
			workflow_run_id, workflow_job_id, run_attempt, check_run_id, workflow_run_url, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := tx.ExecContext(ctx, insertQuery,
		run.RepoFullName, run.Name, run.HeadSHA, run.MergeCommitSHA, run.PipelineRunName,
		string(inputs), run.PRNumber, run.PRCheckID, string(run.HookType), string(run.Status),
		nullConclusion(run.Conclusion), nullInt64(run.WorkflowRunID), nullInt64(run.WorkflowJobID),
		run.RunAttempt, nullInt64(run.CheckRunID), nullString(run.WorkflowRunURL), nullString(run.Error),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.PipelineRunName, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id for %s: %w", run.PipelineRunName, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.PipelineRunName, err)
	}

	run.ID = id
	run.PRConclusion = nil
	run.CreatedAt = now
	run.UpdatedAt = now
	return nil
}

// Update overwrites the run state columns of an existing row.
func (r *RunLedgerRepo) Update(ctx context.Context, run model.WorkflowRun) error {
	const query = `
		UPDATE workflow_runs SET
			status = ?, conclusion = ?, workflow_run_id = ?, workflow_job_id = ?, run_attempt = ?,
			check_run_id = ?, workflow_run_url = ?, error = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		string(run.Status), nullConclusion(run.Conclusion), nullInt64(run.WorkflowRunID),
		nullInt64(run.WorkflowJobID), run.RunAttempt, nullInt64(run.CheckRunID), nullString(run.WorkflowRunURL),
		nullString(run.Error), formatTime(time.Now()), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run %d: %w", run.ID, err)
	}
	return nil
}

// FindOpenByPipelineRunName returns the open row for a pipeline run name, or
// nil if there is none.
func (r *RunLedgerRepo) FindOpenByPipelineRunName(ctx context.Context, repoFullName, pipelineRunName string) (*model.WorkflowRun, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs
		WHERE repo_full_name = ? AND pipeline_run_name = ? AND pr_conclusion IS NULL
		ORDER BY id DESC LIMIT 1`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, repoFullName, pipelineRunName))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open run %s: %w", pipelineRunName, err)
	}
	return run, nil
}

// FindByCheckRunID returns the newest row owning an individual check, or nil.
func (r *RunLedgerRepo) FindByCheckRunID(ctx context.Context, repoFullName string, checkRunID int64) (*model.WorkflowRun, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs
		WHERE repo_full_name = ? AND check_run_id = ?
		ORDER BY id DESC LIMIT 1`

	run, err := scanRun(r.db.Reader.QueryRowContext(ctx, query, repoFullName, checkRunID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find run by check %d: %w", checkRunID, err)
	}
	return run, nil
}

// ListByPRCheck returns the rows of an aggregate ordered by id.
func (r *RunLedgerRepo) ListByPRCheck(ctx context.Context, prCheckID int64, filter driven.RunFilter) ([]model.WorkflowRun, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE pr_check_id = ?`
	args := []any{prCheckID}
	if filter.OpenOnly {
		query += ` AND pr_conclusion IS NULL`
	}
	if filter.Conclusion != nil {
		query += ` AND conclusion = ?`
		args = append(args, string(*filter.Conclusion))
	}
	query += ` ORDER BY id`

	return r.queryRuns(ctx, query, args...)
}

// CountByPRCheck returns how many rows belong to an aggregate.
func (r *RunLedgerRepo) CountByPRCheck(ctx context.Context, prCheckID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM workflow_runs WHERE pr_check_id = ?`

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, query, prCheckID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs of pr check %d: %w", prCheckID, err)
	}
	return n, nil
}

// ListPRCheckIDsByHeadSHA returns the aggregates created for a commit.
func (r *RunLedgerRepo) ListPRCheckIDsByHeadSHA(ctx context.Context, repoFullName, headSHA string) ([]int64, error) {
	const query = `
		SELECT DISTINCT pr_check_id FROM workflow_runs
		WHERE repo_full_name = ? AND (head_sha = ? OR merge_commit_sha = ?)
		ORDER BY pr_check_id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoFullName, headSHA, headSHA)
	if err != nil {
		return nil, fmt.Errorf("query pr checks for %s@%s: %w", repoFullName, headSHA, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pr check id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pr check ids: %w", err)
	}

	return ids, nil
}

// Finalize sets pr_conclusion on the open rows of an aggregate.
func (r *RunLedgerRepo) Finalize(ctx context.Context, prCheckID int64, conclusion model.Conclusion) (int64, error) {
	const query = `
		UPDATE workflow_runs SET pr_conclusion = ?, updated_at = ?
		WHERE pr_check_id = ? AND pr_conclusion IS NULL
	`

	result, err := r.db.Writer.ExecContext(ctx, query, string(conclusion), formatTime(time.Now()), prCheckID)
	if err != nil {
		return 0, fmt.Errorf("finalize pr check %d: %w", prCheckID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for pr check %d: %w", prCheckID, err)
	}
	return n, nil
}

// ResetForRerun returns rows to queued under a new aggregate. run_attempt is
// kept so jobs of the superseded attempt can still be told apart.
func (r *RunLedgerRepo) ResetForRerun(ctx context.Context, ids []int64, newPRCheckID int64) error {
	const query = `
		UPDATE workflow_runs SET
			status = ?, conclusion = NULL, pr_conclusion = NULL, workflow_job_id = NULL,
			error = NULL, pr_check_id = ?, updated_at = ?
		WHERE id = ?
	`
	return r.reopen(ctx, ids, func(tx *sql.Tx, id int64, now string) error {
		_, err := tx.ExecContext(ctx, query, string(model.RunStatusQueued), newPRCheckID, now, id)
		return err
	})
}

// Relink moves rows to a new aggregate and reopens them unchanged.
func (r *RunLedgerRepo) Relink(ctx context.Context, ids []int64, newPRCheckID int64) error {
	const query = `
		UPDATE workflow_runs SET pr_conclusion = NULL, pr_check_id = ?, updated_at = ?
		WHERE id = ?
	`
	return r.reopen(ctx, ids, func(tx *sql.Tx, id int64, now string) error {
		_, err := tx.ExecContext(ctx, query, newPRCheckID, now, id)
		return err
	})
}

// reopen applies update to each row in one transaction after superseding any
// other open row with the same pipeline run name.
func (r *RunLedgerRepo) reopen(ctx context.Context, ids []int64, update func(tx *sql.Tx, id int64, now string) error) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op.

	const lookupQuery = `SELECT repo_full_name, pipeline_run_name FROM workflow_runs WHERE id = ?`

	now := formatTime(time.Now())
	for _, id := range ids {
		var repo, name string
		if err := tx.QueryRowContext(ctx, lookupQuery, id).Scan(&repo, &name); err != nil {
			return fmt.Errorf("lookup run %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, supersedeQuery, string(model.ConclusionSuperseded), now, repo, name, id); err != nil {
			return fmt.Errorf("supersede open runs of %s: %w", name, err)
		}
		if err := update(tx, id, now); err != nil {
			return fmt.Errorf("reopen run %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reopened runs: %w", err)
	}
	return nil
}

// ListRecentPRChecks returns the most recently updated aggregates.
func (r *RunLedgerRepo) ListRecentPRChecks(ctx context.Context, limit int) ([]driven.PRCheckKey, error) {
	const query = `
		SELECT repo_full_name, pr_check_id, MAX(updated_at) AS last_update
		FROM workflow_runs
		GROUP BY repo_full_name, pr_check_id
		ORDER BY last_update DESC, pr_check_id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent pr checks: %w", err)
	}
	defer rows.Close()

	var keys []driven.PRCheckKey
	for rows.Next() {
		var k driven.PRCheckKey
		var lastUpdate string
		if err := rows.Scan(&k.RepoFullName, &k.PRCheckID, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan pr check: %w", err)
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pr checks: %w", err)
	}

	return keys, nil
}

// ListOpenPRChecks returns idle aggregates that still have open rows and were
// created after createdAfter, newest first.
func (r *RunLedgerRepo) ListOpenPRChecks(ctx context.Context, createdAfter, updatedBefore time.Time, limit int) ([]driven.OpenPRCheck, error) {
	const query = `
		SELECT repo_full_name, pr_check_id, MIN(created_at) AS first_created, MAX(updated_at) AS last_update
		FROM workflow_runs
		WHERE pr_conclusion IS NULL
		GROUP BY repo_full_name, pr_check_id
		HAVING MIN(created_at) >= ? AND MAX(updated_at) < ?
		ORDER BY first_created DESC, pr_check_id DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, formatTime(createdAfter), formatTime(updatedBefore), limit)
	if err != nil {
		return nil, fmt.Errorf("query open pr checks: %w", err)
	}
	defer rows.Close()

	var out []driven.OpenPRCheck
	for rows.Next() {
		var oc driven.OpenPRCheck
		var created, updated string
		if err := rows.Scan(&oc.RepoFullName, &oc.PRCheckID, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan open pr check: %w", err)
		}
		if oc.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if oc.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, oc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate open pr checks: %w", err)
	}

	return out, nil
}

func (r *RunLedgerRepo) queryRuns(ctx context.Context, query string, args ...any) ([]model.WorkflowRun, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.WorkflowRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

func scanRun(s scanner) (*model.WorkflowRun, error) {
	var run model.WorkflowRun
	var inputs, hookType, status, createdAt, updatedAt string
	var conclusion, prConclusion, runURL, errMsg sql.NullString
	var workflowRunID, workflowJobID, checkRunID sql.NullInt64

	err := s.Scan(
		&run.ID, &run.RepoFullName, &run.Name, &run.HeadSHA, &run.MergeCommitSHA, &run.PipelineRunName,
		&inputs, &run.PRNumber, &run.PRCheckID, &hookType, &status, &conclusion, &prConclusion,
		&workflowRunID, &workflowJobID, &run.RunAttempt, &checkRunID, &runURL, &errMsg, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.HookType = model.HookType(hookType)
	run.Status = model.RunStatus(status)
	run.Conclusion = conclusionPtr(conclusion)
	run.PRConclusion = conclusionPtr(prConclusion)
	run.WorkflowRunID = nullInt64Ptr(workflowRunID)
	run.WorkflowJobID = nullInt64Ptr(workflowJobID)
	run.CheckRunID = nullInt64Ptr(checkRunID)
	run.WorkflowRunURL = nullStringPtr(runURL)
	run.Error = nullStringPtr(errMsg)

	if strings.TrimSpace(inputs) != "" {
		if err := json.Unmarshal([]byte(inputs), &run.WorkflowRunInputs); err != nil {
			return nil, fmt.Errorf("unmarshal workflow_run_inputs: %w", err)
		}
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &run, nil
}

func nullConclusion(c *model.Conclusion) any {
	if c == nil {
		return nil
	}
	return string(*c)
}

func conclusionPtr(ns sql.NullString) *model.Conclusion {
	if !ns.Valid {
		return nil
	}
	c := model.Conclusion(ns.String)
	return &c
}
