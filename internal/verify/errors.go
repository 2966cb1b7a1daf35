package verify

import (
	"errors"
	"fmt"

	"github.com/minionlabs/minion-api/internal/types"
)

// Error taxonomy of the pipeline. Callers match with errors.Is.
var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrPersistence         = errors.New("persistence failure")
	ErrTimeout             = errors.New("timed out waiting for primary provider")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("job is not at the requested stage")
	ErrStorage             = errors.New("object storage failure")
	ErrInvalidInput        = errors.New("invalid input")
)

// ProviderError reports a failed call to an external verification provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

// Unwrap lets errors.Is match ErrProviderUnavailable as well as the cause.
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProviderUnavailable}
	}
	return []error{ErrProviderUnavailable, e.Err}
}

// BreakpointError is returned when a provider failure stopped a job at a
// persisted checkpoint. The job can be resumed from Stage.
type BreakpointError struct {
	JobID   string
	Stage   types.Stage
	Pending int
	Err     error
}

func (e *BreakpointError) Error() string {
	return fmt.Sprintf("job %s stopped at %s with %d pending: %v", e.JobID, e.Stage, e.Pending, e.Err)
}

func (e *BreakpointError) Unwrap() error {
	return e.Err
}

func persistenceError(op string, err error) error {
	if errors.Is(err, ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
