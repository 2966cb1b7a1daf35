package verify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/minionlabs/minion-api/internal/types"
)

// Ledger holds account credit balances.
type Ledger interface {
	// Deduct atomically removes amount credits, or returns ErrInsufficientCredits.
	Deduct(ctx context.Context, accountID uuid.UUID, amount int) (*types.Account, error)
	Refund(ctx context.Context, accountID uuid.UUID, amount int) (*types.Account, error)
}

// PriceBook returns the price currently in effect for a service.
type PriceBook interface {
	CurrentPrice(ctx context.Context, service types.Service) (int, error)
}

// JobStore persists verification jobs. GetJob returns nil, nil when the job
// does not exist.
type JobStore interface {
	CreateJob(ctx context.Context, job *types.VerificationJob) error
	GetJob(ctx context.Context, id string) (*types.VerificationJob, error)
	// ClaimJob sets in_progress if the job is at stage and not already
	// claimed after staleBefore. It reports whether this caller won the claim.
	ClaimJob(ctx context.Context, id string, stage types.Stage, staleBefore time.Time) (bool, error)
	ReleaseJob(ctx context.Context, id string) error
	// RekeyJob moves a stage-1 job to the provider-assigned id and marks it
	// awaiting_primary.
	RekeyJob(ctx context.Context, oldID, newID string) error
	// CompleteJob stores the final checkpoint and summary and marks the job
	// completed in one transaction.
	CompleteJob(ctx context.Context, cp *types.Checkpoint, summary *types.ResultSummary) error
	DeleteJob(ctx context.Context, id string) error
}

// CheckpointStore persists the resume point of a job. SaveCheckpoint sets the
// job's stage to the checkpoint's stage and returns ErrPersistence if the job
// does not exist. LoadCheckpoint returns nil, nil when there is none.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	LoadCheckpoint(ctx context.Context, jobID string) (*types.Checkpoint, error)
}

// PrimaryStatus is one poll result from the primary provider.
type PrimaryStatus struct {
	Completed bool
	Emails    []types.EmailRecord
}

// PrimaryProvider is the bulk SMTP verification service.
type PrimaryProvider interface {
	Submit(ctx context.Context, emails []string) (string, error)
	Status(ctx context.Context, jobID string) (*PrimaryStatus, error)
}

// Disambiguator is a secondary provider that answers valid or not for one
// address.
type Disambiguator interface {
	Name() string
	Check(ctx context.Context, address string) (bool, error)
}

// ObjectStore stores uploaded inputs and generated reports.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body []byte, visibility types.Visibility, contentType string) (string, error)
	Get(ctx context.Context, url string) ([]byte, error)
}
