package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// CreateEnrichLog inserts a pending enrichment log.
func (db *DB) CreateEnrichLog(ctx context.Context, l *types.EnrichLog) error {
	err := db.pool.QueryRow(ctx,
		`INSERT INTO enrich_logs (id, owner_id, kind, file_name, input_url, status, credits_deducted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		l.ID, l.OwnerID, string(l.Kind), l.FileName, l.InputURL, l.Status, l.CreditsDeducted,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create enrich log: %w", err)
	}
	return nil
}

// CompleteEnrichLog records the output and credits actually used.
func (db *DB) CompleteEnrichLog(ctx context.Context, id uuid.UUID, outputURL string, creditsUsed int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE enrich_logs SET status = $2, output_url = $3, credits_used = $4, completed_at = NOW()
		 WHERE id = $1`,
		id, types.EnrichStatusCompleted, outputURL, creditsUsed,
	)
	if err != nil {
		return fmt.Errorf("failed to complete enrich log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("enrich log %s: %w", id, verify.ErrNotFound)
	}
	return nil
}

// DeleteEnrichLog removes a log whose request failed.
func (db *DB) DeleteEnrichLog(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM enrich_logs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete enrich log: %w", err)
	}
	return nil
}

// ListEnrichLogs returns an account's enrichment logs newest first.
func (db *DB) ListEnrichLogs(ctx context.Context, ownerID uuid.UUID) ([]types.EnrichLog, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, owner_id, kind, file_name, input_url, output_url, status,
		        credits_deducted, credits_used, created_at, completed_at
		 FROM enrich_logs WHERE owner_id = $1 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrich logs: %w", err)
	}
	defer rows.Close()

	var logs []types.EnrichLog
	for rows.Next() {
		var l types.EnrichLog
		var kind string
		if err := rows.Scan(&l.ID, &l.OwnerID, &kind, &l.FileName, &l.InputURL, &l.OutputURL, &l.Status,
			&l.CreditsDeducted, &l.CreditsUsed, &l.CreatedAt, &l.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan enrich log: %w", err)
		}
		l.Kind = types.EnrichKind(kind)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
