package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

var (
	_ verify.JobStore        = (*DB)(nil)
	_ verify.CheckpointStore = (*DB)(nil)
	_ verify.Ledger          = (*DB)(nil)
	_ verify.PriceBook       = (*DB)(nil)
)

const jobColumns = `id, owner_id, file_name, source_file_url, stage, in_progress, claimed_at,
	credits_used, emails_count, summary, created_at, updated_at`

func scanJob(row pgx.Row) (*types.VerificationJob, error) {
	var j types.VerificationJob
	var stage string
	var summary []byte
	err := row.Scan(&j.ID, &j.OwnerID, &j.FileName, &j.SourceFileURL, &stage, &j.InProgress,
		&j.ClaimedAt, &j.CreditsUsed, &j.EmailsCount, &summary, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Stage = types.Stage(stage)
	if len(summary) > 0 {
		var s types.ResultSummary
		if err := json.Unmarshal(summary, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
		j.Summary = &s
	}
	return &j, nil
}

// CreateJob inserts a verification job.
func (db *DB) CreateJob(ctx context.Context, job *types.VerificationJob) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO verification_jobs (id, owner_id, file_name, source_file_url, stage, credits_used, emails_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		job.ID, job.OwnerID, job.FileName, job.SourceFileURL, string(job.Stage), job.CreditsUsed, job.EmailsCount,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (db *DB) GetJob(ctx context.Context, id string) (*types.VerificationJob, error) {
	j, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM verification_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// JobFilters narrows ListJobs.
type JobFilters struct {
	OwnerID *uuid.UUID
	Stage   types.Stage
	Limit   int
	Offset  int
}

// ListJobs returns jobs newest first.
func (db *DB) ListJobs(ctx context.Context, f JobFilters) ([]types.VerificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM verification_jobs WHERE 1=1`
	var args []any
	argNum := 1

	if f.OwnerID != nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argNum)
		args = append(args, *f.OwnerID)
		argNum++
	}
	if f.Stage != "" {
		query += fmt.Sprintf(" AND stage = $%d", argNum)
		args = append(args, string(f.Stage))
		argNum++
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, limit, f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []types.VerificationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// DeleteJob hard-deletes a job and its checkpoint.
func (db *DB) DeleteJob(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM verification_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, verify.ErrNotFound)
	}
	return nil
}

// ClaimJob marks the job in progress if it is at stage and not held by a
// claim newer than staleBefore. It reports whether the claim was won.
func (db *DB) ClaimJob(ctx context.Context, id string, stage types.Stage, staleBefore time.Time) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE verification_jobs
		 SET in_progress = TRUE, claimed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND stage = $2
		   AND (NOT in_progress OR claimed_at IS NULL OR claimed_at < $3)`,
		id, string(stage), staleBefore,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseJob clears the in-progress claim.
func (db *DB) ReleaseJob(ctx context.Context, id string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE verification_jobs SET in_progress = FALSE, claimed_at = NULL, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}
	return nil
}

// RekeyJob renames a stage-1 job to the provider-assigned id, marks it
// awaiting_primary and drops its checkpoint.
func (db *DB) RekeyJob(ctx context.Context, oldID, newID string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE verification_jobs
		 SET id = $2, stage = $3, in_progress = FALSE, claimed_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		oldID, newID, string(types.StageAwaitingPrimary),
	)
	if err != nil {
		return fmt.Errorf("failed to rekey job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", oldID, verify.ErrNotFound)
	}
	// The checkpoint row followed the rename through ON UPDATE CASCADE.
	if _, err := tx.Exec(ctx, `DELETE FROM verification_checkpoints WHERE job_id = $1`, newID); err != nil {
		return fmt.Errorf("failed to drop checkpoint: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rekey: %w", err)
	}
	return nil
}

// CompleteJob writes the final checkpoint and summary and marks the job
// completed.
func (db *DB) CompleteJob(ctx context.Context, cp *types.Checkpoint, summary *types.ResultSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := upsertCheckpoint(ctx, tx, cp); err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE verification_jobs
		 SET stage = $2, summary = $3, in_progress = FALSE, claimed_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		cp.JobID, string(types.StageCompleted), summaryJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", cp.JobID, verify.ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit completion: %w", err)
	}
	return nil
}
