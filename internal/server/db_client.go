package server

import (
	"context"

	"github.com/google/uuid"

	"github.com/minionlabs/minion-api/internal/db"
	"github.com/minionlabs/minion-api/internal/types"
)

// DBClient is the subset of *db.DB the HTTP layer reads and writes directly.
// Pipeline and enrichment state changes go through the verify and enrich
// services instead.
type DBClient interface {
	Ping(ctx context.Context) error

	// Accounts
	CheckEmailExists(ctx context.Context, email string) (bool, error)
	CreateAccount(ctx context.Context, in *db.AccountCreateInput) (*db.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*db.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*db.Account, error)
	SetCredits(ctx context.Context, id uuid.UUID, credits int) (*types.Account, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error

	// API keys
	ReplaceAPIKey(ctx context.Context, accountID uuid.UUID, keyHash, prefix string) (*types.APIKey, error)
	GetActiveAPIKey(ctx context.Context, accountID uuid.UUID) (*types.APIKey, error)
	AccountIDForKeyHash(ctx context.Context, keyHash string) (uuid.UUID, error)
	RevokeAPIKey(ctx context.Context, accountID uuid.UUID) (bool, error)

	// Prices
	CurrentPrice(ctx context.Context, service types.Service) (int, error)
	SetPrice(ctx context.Context, service types.Service, price int) (*types.Price, error)
	ListPrices(ctx context.Context) ([]types.Price, error)

	// Verification logs
	GetJob(ctx context.Context, id string) (*types.VerificationJob, error)
	ListJobs(ctx context.Context, f db.JobFilters) ([]types.VerificationJob, error)
	DeleteJob(ctx context.Context, id string) error
	LoadCheckpoint(ctx context.Context, jobID string) (*types.Checkpoint, error)

	// Enrichment logs
	ListEnrichLogs(ctx context.Context, ownerID uuid.UUID) ([]types.EnrichLog, error)
}

var _ DBClient = (*db.DB)(nil)
