package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// SaveCheckpoint replaces the job's checkpoint and moves the job to the
// checkpoint's stage, clearing its claim. It fails with verify.ErrPersistence
// if the job does not exist.
func (db *DB) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	stage, ok := types.StageForCode(cp.StageCode)
	if !ok {
		return fmt.Errorf("stage code %d: %w", cp.StageCode, verify.ErrInvalidInput)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE verification_jobs
		 SET stage = $2, in_progress = FALSE, claimed_at = NULL, updated_at = NOW()
		 WHERE id = $1`,
		cp.JobID, string(stage),
	)
	if err != nil {
		return fmt.Errorf("failed to update job stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s does not exist: %w", cp.JobID, verify.ErrPersistence)
	}
	if err := upsertCheckpoint(ctx, tx, cp); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the checkpoint of a job, or nil if there is none.
func (db *DB) LoadCheckpoint(ctx context.Context, jobID string) (*types.Checkpoint, error) {
	cp := types.Checkpoint{JobID: jobID}
	var pending, resolved []byte
	err := db.pool.QueryRow(ctx,
		`SELECT stage_code, pending, resolved, updated_at FROM verification_checkpoints WHERE job_id = $1`,
		jobID,
	).Scan(&cp.StageCode, &pending, &resolved, &cp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if err := json.Unmarshal(pending, &cp.Pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending emails: %w", err)
	}
	if err := json.Unmarshal(resolved, &cp.Resolved); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resolved emails: %w", err)
	}
	return &cp, nil
}

func upsertCheckpoint(ctx context.Context, tx pgx.Tx, cp *types.Checkpoint) error {
	pending := cp.Pending
	if pending == nil {
		pending = []types.EmailRecord{}
	}
	pendingJSON, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending emails: %w", err)
	}
	resolvedJSON, err := json.Marshal(cp.Resolved)
	if err != nil {
		return fmt.Errorf("failed to marshal resolved emails: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO verification_checkpoints (job_id, stage_code, pending, resolved, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (job_id) DO UPDATE SET
		     stage_code = EXCLUDED.stage_code,
		     pending = EXCLUDED.pending,
		     resolved = EXCLUDED.resolved,
		     updated_at = NOW()`,
		cp.JobID, cp.StageCode, pendingJSON, resolvedJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
