package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/minionlabs/minion-api/internal/types"
)

// ReplaceAPIKey revokes any active key of the account and stores a new one.
func (db *DB) ReplaceAPIKey(ctx context.Context, accountID uuid.UUID, keyHash, prefix string) (*types.APIKey, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW() WHERE account_id = $1 AND revoked_at IS NULL`,
		accountID,
	); err != nil {
		return nil, fmt.Errorf("failed to revoke previous key: %w", err)
	}

	k := types.APIKey{AccountID: accountID, Prefix: prefix}
	err = tx.QueryRow(ctx,
		`INSERT INTO api_keys (account_id, key_hash, prefix) VALUES ($1, $2, $3)
		 RETURNING created_at`,
		accountID, keyHash, prefix,
	).Scan(&k.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert api key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit api key: %w", err)
	}
	return &k, nil
}

// GetActiveAPIKey returns the account's active key, or nil.
func (db *DB) GetActiveAPIKey(ctx context.Context, accountID uuid.UUID) (*types.APIKey, error) {
	k := types.APIKey{AccountID: accountID}
	err := db.pool.QueryRow(ctx,
		`SELECT prefix, created_at FROM api_keys WHERE account_id = $1 AND revoked_at IS NULL`,
		accountID,
	).Scan(&k.Prefix, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}

// AccountIDForKeyHash resolves an active key hash to its account.
func (db *DB) AccountIDForKeyHash(ctx context.Context, keyHash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`SELECT account_id FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`,
		keyHash,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return id, nil
}

// RevokeAPIKey revokes the account's active key. It reports whether a key was
// revoked.
func (db *DB) RevokeAPIKey(ctx context.Context, accountID uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW() WHERE account_id = $1 AND revoked_at IS NULL`,
		accountID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revoke api key: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
