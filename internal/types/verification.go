package types

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the position of a verification job in the pipeline.
type Stage string

// Stage values. Breakpoint stages carry a checkpoint code (see Code).
const (
	StageSubmitted           Stage = "submitted"
	StageAwaitingPrimary     Stage = "awaiting_primary"
	StageBreakpointSecondary Stage = "breakpoint_secondary"
	StageBreakpointTertiary  Stage = "breakpoint_tertiary"
	StageCompleted           Stage = "completed"
)

// Checkpoint stage codes.
const (
	CodePrimary   = 1
	CodeSecondary = 2
	CodeTertiary  = 3
	CodeCompleted = 4
)

// Code returns the checkpoint code for the stage, or 0 for AwaitingPrimary
// and unknown values.
func (s Stage) Code() int {
	switch s {
	case StageSubmitted:
		return CodePrimary
	case StageBreakpointSecondary:
		return CodeSecondary
	case StageBreakpointTertiary:
		return CodeTertiary
	case StageCompleted:
		return CodeCompleted
	default:
		return 0
	}
}

// IsBreakpoint reports whether the job stopped at a persisted checkpoint and
// needs a resume to make progress.
func (s Stage) IsBreakpoint() bool {
	c := s.Code()
	return c >= CodePrimary && c <= CodeTertiary
}

// StageForCode maps a checkpoint code back to its stage.
func StageForCode(code int) (Stage, bool) {
	switch code {
	case CodePrimary:
		return StageSubmitted, true
	case CodeSecondary:
		return StageBreakpointSecondary, true
	case CodeTertiary:
		return StageBreakpointTertiary, true
	case CodeCompleted:
		return StageCompleted, true
	default:
		return "", false
	}
}

// Disambiguation queue names stored on pending emails.
const (
	QueueGeneric   = "generic"
	QueueWorkspace = "workspace"
)

// EmailRecord is one email as returned by the primary verification provider.
type EmailRecord struct {
	Address         string `json:"address"`
	Result          string `json:"result,omitempty"`
	MailboxProvider string `json:"mailbox_provider,omitempty"`
	MXRecord        string `json:"mx_record,omitempty"`
	MXProvider      string `json:"mx_provider,omitempty"`
	// Queue is set on pending checkpoint emails awaiting disambiguation.
	Queue string `json:"queue,omitempty"`
}

// Resolved holds the emails that reached a terminal category.
type Resolved struct {
	Valid         []EmailRecord `json:"valid"`
	CatchAllValid []EmailRecord `json:"catch_all_valid"`
	Invalid       []EmailRecord `json:"invalid"`
	Unknown       []EmailRecord `json:"unknown"`
}

// Total returns the number of resolved emails across all categories.
func (r Resolved) Total() int {
	return len(r.Valid) + len(r.CatchAllValid) + len(r.Invalid) + len(r.Unknown)
}

// Checkpoint is the durable resume point of a job.
type Checkpoint struct {
	JobID     string        `json:"job_id"`
	StageCode int           `json:"stage_code"`
	Pending   []EmailRecord `json:"pending"`
	Resolved  Resolved      `json:"resolved"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ResultSummary is written onto a job when it completes.
type ResultSummary struct {
	Valid         int    `json:"valid"`
	CatchAllValid int    `json:"catch_all_valid"`
	Invalid       int    `json:"invalid"`
	Unknown       int    `json:"unknown"`
	ReportURL     string `json:"report_url"`
	ReportJSON    string `json:"report_json,omitempty"`
}

// VerificationJob is one submitted batch of emails.
type VerificationJob struct {
	ID            string         `json:"id"`
	OwnerID       uuid.UUID      `json:"owner_id"`
	FileName      string         `json:"file_name"`
	SourceFileURL string         `json:"source_file_url"`
	Stage         Stage          `json:"stage"`
	InProgress    bool           `json:"in_progress"`
	CreditsUsed   int            `json:"credits_used"`
	EmailsCount   int            `json:"emails_count"`
	Summary       *ResultSummary `json:"summary,omitempty"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
