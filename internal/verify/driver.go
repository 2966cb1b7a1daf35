package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minionlabs/minion-api/internal/report"
	"github.com/minionlabs/minion-api/internal/types"
)

// Config holds the driver's tunables.
type Config struct {
	PollAttempts int
	PollInterval time.Duration
	// ClaimTTL is how long an in-progress claim blocks other callers. A claim
	// older than this is treated as abandoned.
	ClaimTTL     time.Duration
	InputBucket  string
	ReportBucket string
}

// DefaultConfig returns the polling budget of the primary provider
// integration: 60 attempts five seconds apart.
func DefaultConfig() Config {
	return Config{
		PollAttempts: 60,
		PollInterval: 5 * time.Second,
		ClaimTTL:     15 * time.Minute,
		InputBucket:  "verify",
		ReportBucket: "verify",
	}
}

// Deps are the collaborators of a Driver.
type Deps struct {
	Ledger      Ledger
	Prices      PriceBook
	Jobs        JobStore
	Checkpoints CheckpointStore
	Primary     PrimaryProvider
	Router      Router
	Storage     ObjectStore
	Logger      *zap.Logger
}

// State is the externally visible result of driving a job.
type State string

const (
	StateAwaitingPrimary State = "awaiting_primary"
	StateInProgress      State = "in_progress"
	StateBreakpoint      State = "breakpoint"
	StateCompleted       State = "completed"
)

// Outcome describes where a job stands after a driver call.
type Outcome struct {
	State State
	Job   *types.VerificationJob
}

// SubmitRequest is a batch of emails to verify.
type SubmitRequest struct {
	OwnerID  uuid.UUID
	FileName string
	Emails   []string
	// Document is the uploaded input. It is stored as-is and merged into the
	// final report.
	Document map[string]any
}

// Driver moves verification jobs through their stages. It is safe for
// concurrent use; per-job exclusion comes from JobStore.ClaimJob.
type Driver struct {
	ledger      Ledger
	prices      PriceBook
	jobs        JobStore
	checkpoints CheckpointStore
	primary     PrimaryProvider
	router      Router
	storage     ObjectStore
	logger      *zap.Logger
	cfg         Config

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
	newID func() string
}

// NewDriver creates a Driver. Zero values in cfg fall back to DefaultConfig.
func NewDriver(deps Deps, cfg Config) *Driver {
	def := DefaultConfig()
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = def.PollAttempts
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.InputBucket == "" {
		cfg.InputBucket = def.InputBucket
	}
	if cfg.ReportBucket == "" {
		cfg.ReportBucket = def.ReportBucket
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		ledger:      deps.Ledger,
		prices:      deps.Prices,
		jobs:        deps.Jobs,
		checkpoints: deps.Checkpoints,
		primary:     deps.Primary,
		router:      deps.Router,
		storage:     deps.Storage,
		logger:      logger,
		cfg:         cfg,
		sleep:       sleepContext,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// Job returns a job by id, or ErrNotFound.
func (d *Driver) Job(ctx context.Context, id string) (*types.VerificationJob, error) {
	job, err := d.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, persistenceError("get job", err)
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

// Submit deducts credits for the batch, stores the input document and hands
// the batch to the primary provider. If the provider rejects the batch the job
// is created at stage 1 with the full batch checkpointed, and the returned
// error is a *BreakpointError alongside the job. If that checkpoint cannot be
// written the job is deleted and the credits refunded.
func (d *Driver) Submit(ctx context.Context, req SubmitRequest) (*types.VerificationJob, error) {
	if len(req.Emails) == 0 {
		return nil, fmt.Errorf("no emails in batch: %w", ErrInvalidInput)
	}

	price, err := d.prices.CurrentPrice(ctx, types.ServiceVerify)
	if err != nil {
		return nil, persistenceError("read verify price", err)
	}
	cost := len(req.Emails) * price

	if _, err := d.ledger.Deduct(ctx, req.OwnerID, cost); err != nil {
		if errors.Is(err, ErrInsufficientCredits) || errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, persistenceError("deduct credits", err)
	}

	doc := req.Document
	if doc == nil {
		doc = map[string]any{"emails": req.Emails}
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		d.refund(ctx, req.OwnerID, cost)
		return nil, fmt.Errorf("encode input: %w: %w", ErrInvalidInput, err)
	}

	key := fmt.Sprintf("%s-%s-%d.json", req.OwnerID, req.FileName, d.now().UnixMilli())
	url, err := d.storage.Put(ctx, d.cfg.InputBucket, key, body, types.VisibilityPublicRead, types.ContentTypeJSON)
	if err != nil {
		d.refund(ctx, req.OwnerID, cost)
		return nil, fmt.Errorf("upload input: %w: %w", ErrStorage, err)
	}

	job := &types.VerificationJob{
		OwnerID:       req.OwnerID,
		FileName:      req.FileName,
		SourceFileURL: url,
		CreditsUsed:   cost,
		EmailsCount:   len(req.Emails),
	}

	providerID, submitErr := d.primary.Submit(ctx, req.Emails)
	if submitErr == nil {
		job.ID = providerID
		job.Stage = types.StageAwaitingPrimary
		if err := d.jobs.CreateJob(ctx, job); err != nil {
			d.refund(ctx, req.OwnerID, cost)
			return nil, persistenceError("create job", err)
		}
		d.logger.Info("verification job submitted",
			zap.String("job_id", job.ID),
			zap.Int("emails", job.EmailsCount),
			zap.Int("credits", cost))
		return job, nil
	}

	job.ID = d.newID()
	job.Stage = types.StageSubmitted
	if err := d.jobs.CreateJob(ctx, job); err != nil {
		d.refund(ctx, req.OwnerID, cost)
		return nil, persistenceError("create job", err)
	}
	pending := make([]types.EmailRecord, len(req.Emails))
	for i, addr := range req.Emails {
		pending[i] = types.EmailRecord{Address: addr}
	}
	cp := &types.Checkpoint{JobID: job.ID, StageCode: types.CodePrimary, Pending: pending, UpdatedAt: d.now()}
	if err := d.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		// Without a checkpoint the job can never be resumed, so undo it.
		if delErr := d.jobs.DeleteJob(ctx, job.ID); delErr != nil {
			d.logger.Error("failed to delete uncheckpointed job",
				zap.String("job_id", job.ID),
				zap.Error(delErr))
		}
		d.refund(ctx, req.OwnerID, cost)
		return nil, persistenceError("save checkpoint", err)
	}
	d.logger.Warn("primary provider rejected batch, checkpointed",
		zap.String("job_id", job.ID),
		zap.Int("stage", types.CodePrimary),
		zap.Int("pending", len(pending)),
		zap.Error(submitErr))
	return job, &BreakpointError{
		JobID:   job.ID,
		Stage:   types.StageSubmitted,
		Pending: len(pending),
		Err:     providerFailure("primary", submitErr),
	}
}

// CheckStatus drives a job that is awaiting the primary provider through to
// completion or the next breakpoint. Completed and breakpointed jobs are
// returned without any external call.
func (d *Driver) CheckStatus(ctx context.Context, id string) (*Outcome, error) {
	job, err := d.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case job.Stage == types.StageCompleted:
		return &Outcome{State: StateCompleted, Job: job}, nil
	case job.Stage.IsBreakpoint():
		return &Outcome{State: StateBreakpoint, Job: job}, nil
	}

	claimed, err := d.claim(ctx, job.ID, types.StageAwaitingPrimary)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &Outcome{State: StateInProgress, Job: job}, nil
	}

	status, err := d.poll(ctx, job.ID)
	if err != nil {
		d.release(ctx, job.ID)
		return nil, err
	}

	r := &run{job: job, all: status.Emails}
	for _, rec := range status.Emails {
		v := Classify(rec.Result, rec.MailboxProvider)
		switch v.Queue {
		case QueueGeneric:
			r.generic = append(r.generic, rec)
		case QueueWorkspace:
			r.workspace = append(r.workspace, rec)
		default:
			r.resolve(v.Category, rec)
		}
	}
	d.logger.Info("primary results classified",
		zap.String("job_id", job.ID),
		zap.Int("resolved", r.resolved.Total()),
		zap.Int("generic", len(r.generic)),
		zap.Int("workspace", len(r.workspace)))

	return d.drain(ctx, r)
}

// Resume continues a job from the breakpoint with the given stage code (1-3),
// consuming the emails of its persisted checkpoint. The job must be at that
// stage.
func (d *Driver) Resume(ctx context.Context, id string, stageCode int) (*Outcome, error) {
	stage, ok := types.StageForCode(stageCode)
	if !ok || !stage.IsBreakpoint() {
		return nil, fmt.Errorf("stage code %d: %w", stageCode, ErrInvalidInput)
	}
	job, err := d.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Stage != stage {
		return nil, fmt.Errorf("job %s is %s, not %s: %w", job.ID, job.Stage, stage, ErrConflict)
	}

	claimed, err := d.claim(ctx, job.ID, stage)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return &Outcome{State: StateInProgress, Job: job}, nil
	}

	cp, err := d.checkpoints.LoadCheckpoint(ctx, job.ID)
	if err != nil {
		d.release(ctx, job.ID)
		return nil, persistenceError("load checkpoint", err)
	}
	if cp == nil {
		d.release(ctx, job.ID)
		return nil, fmt.Errorf("checkpoint for job %s: %w", job.ID, ErrNotFound)
	}

	d.logger.Info("resuming job",
		zap.String("job_id", job.ID),
		zap.Int("stage", stageCode),
		zap.Int("pending", len(cp.Pending)))

	if stageCode == types.CodePrimary {
		return d.resubmit(ctx, job, cp)
	}

	r := &run{job: job, resolved: cp.Resolved}
	for _, rec := range cp.Pending {
		switch queueFromRecord(rec, cp.StageCode) {
		case QueueWorkspace:
			r.workspace = append(r.workspace, rec)
		default:
			r.generic = append(r.generic, rec)
		}
	}
	// The checkpoint does not keep batch order, so a resumed report lists
	// MX columns resolved-first.
	r.all = r.everything()
	return d.drain(ctx, r)
}

// ResumeAny resumes a job from whichever breakpoint it is at.
func (d *Driver) ResumeAny(ctx context.Context, id string) (*Outcome, error) {
	job, err := d.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Stage.IsBreakpoint() {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Stage, ErrConflict)
	}
	return d.Resume(ctx, id, job.Stage.Code())
}

// resubmit hands a stage-1 batch to the primary provider again. Credits were
// already deducted at submission.
func (d *Driver) resubmit(ctx context.Context, job *types.VerificationJob, cp *types.Checkpoint) (*Outcome, error) {
	emails := make([]string, len(cp.Pending))
	for i, rec := range cp.Pending {
		emails[i] = rec.Address
	}

	providerID, err := d.primary.Submit(ctx, emails)
	if err != nil {
		cp.UpdatedAt = d.now()
		if saveErr := d.checkpoints.SaveCheckpoint(ctx, cp); saveErr != nil {
			return nil, persistenceError("save checkpoint", saveErr)
		}
		return nil, &BreakpointError{
			JobID:   job.ID,
			Stage:   types.StageSubmitted,
			Pending: len(cp.Pending),
			Err:     providerFailure("primary", err),
		}
	}

	if err := d.jobs.RekeyJob(ctx, job.ID, providerID); err != nil {
		d.release(ctx, job.ID)
		return nil, persistenceError("rekey job", err)
	}
	d.logger.Info("job resubmitted to primary provider",
		zap.String("job_id", providerID),
		zap.String("previous_id", job.ID))

	job.ID = providerID
	job.Stage = types.StageAwaitingPrimary
	job.InProgress = false
	return &Outcome{State: StateAwaitingPrimary, Job: job}, nil
}

func (d *Driver) poll(ctx context.Context, id string) (*PrimaryStatus, error) {
	for attempt := 1; attempt <= d.cfg.PollAttempts; attempt++ {
		status, err := d.primary.Status(ctx, id)
		if err != nil {
			return nil, providerFailure("primary", err)
		}
		if status.Completed {
			if len(status.Emails) == 0 {
				return nil, &ProviderError{Provider: "primary", Err: errors.New("completed without emails")}
			}
			return status, nil
		}
		if attempt == d.cfg.PollAttempts {
			break
		}
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return nil, err
		}
	}
	d.logger.Warn("primary provider did not complete",
		zap.String("job_id", id),
		zap.Int("attempts", d.cfg.PollAttempts))
	return nil, fmt.Errorf("job %s after %d attempts: %w", id, d.cfg.PollAttempts, ErrTimeout)
}

// drain runs the disambiguation queues in order and finalizes the job. A
// provider failure persists everything not yet resolved and stops.
func (d *Driver) drain(ctx context.Context, r *run) (*Outcome, error) {
	for i, rec := range r.generic {
		valid, err := d.router.For(QueueGeneric).Check(ctx, rec.Address)
		if err != nil {
			pending := append(tag(r.generic[i:], QueueGeneric), tag(r.workspace, QueueWorkspace)...)
			return nil, d.breakpoint(ctx, r, types.CodeSecondary, pending, d.router.Generic, err)
		}
		v := AfterDisambiguation(rec.Result, valid, QueueGeneric)
		if v.Pending() {
			r.workspace = append(r.workspace, rec)
		} else {
			r.resolve(v.Category, rec)
		}
	}
	r.generic = nil

	for i, rec := range r.workspace {
		valid, err := d.router.For(QueueWorkspace).Check(ctx, rec.Address)
		if err != nil {
			return nil, d.breakpoint(ctx, r, types.CodeTertiary, tag(r.workspace[i:], QueueWorkspace), d.router.Workspace, err)
		}
		r.resolve(AfterDisambiguation(rec.Result, valid, QueueWorkspace).Category, rec)
	}
	r.workspace = nil

	return d.finalize(ctx, r)
}

func (d *Driver) breakpoint(ctx context.Context, r *run, code int, pending []types.EmailRecord, provider Disambiguator, cause error) error {
	stage, _ := types.StageForCode(code)
	cp := &types.Checkpoint{
		JobID:     r.job.ID,
		StageCode: code,
		Pending:   pending,
		Resolved:  r.resolved,
		UpdatedAt: d.now(),
	}
	if err := d.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		d.release(ctx, r.job.ID)
		return persistenceError("save checkpoint", err)
	}
	name := "storage"
	if provider != nil {
		name = provider.Name()
		cause = providerFailure(name, cause)
	}
	d.logger.Warn("job stopped at breakpoint",
		zap.String("job_id", r.job.ID),
		zap.Int("stage", code),
		zap.Int("pending", len(pending)),
		zap.String("provider", name),
		zap.Error(cause))
	r.job.Stage = stage
	r.job.InProgress = false
	return &BreakpointError{JobID: r.job.ID, Stage: stage, Pending: len(pending), Err: cause}
}

// finalize merges the results into the uploaded input, stores the report and
// completes the job. A storage failure leaves the job at stage 3 with nothing
// pending so a resume only repeats this step.
func (d *Driver) finalize(ctx context.Context, r *run) (*Outcome, error) {
	original, err := d.storage.Get(ctx, r.job.SourceFileURL)
	if err != nil {
		return nil, d.breakpoint(ctx, r, types.CodeTertiary, nil, nil, fmt.Errorf("fetch input: %w: %w", ErrStorage, err))
	}
	doc, err := report.Build(original, r.resolved, r.all)
	if err != nil {
		return nil, d.breakpoint(ctx, r, types.CodeTertiary, nil, nil, fmt.Errorf("build report: %w: %w", ErrStorage, err))
	}
	url, err := d.storage.Put(ctx, d.cfg.ReportBucket, r.job.ID+"-report.json", doc, types.VisibilityPublicRead, types.ContentTypeJSON)
	if err != nil {
		return nil, d.breakpoint(ctx, r, types.CodeTertiary, nil, nil, fmt.Errorf("upload report: %w: %w", ErrStorage, err))
	}

	summary := &types.ResultSummary{
		Valid:         len(r.resolved.Valid),
		CatchAllValid: len(r.resolved.CatchAllValid),
		Invalid:       len(r.resolved.Invalid),
		Unknown:       len(r.resolved.Unknown),
		ReportURL:     url,
		ReportJSON:    string(doc),
	}
	cp := &types.Checkpoint{
		JobID:     r.job.ID,
		StageCode: types.CodeCompleted,
		Pending:   []types.EmailRecord{},
		Resolved:  r.resolved,
		UpdatedAt: d.now(),
	}
	if err := d.jobs.CompleteJob(ctx, cp, summary); err != nil {
		d.release(ctx, r.job.ID)
		return nil, persistenceError("complete job", err)
	}
	d.logger.Info("verification job completed",
		zap.String("job_id", r.job.ID),
		zap.Int("valid", summary.Valid),
		zap.Int("catch_all_valid", summary.CatchAllValid),
		zap.Int("invalid", summary.Invalid),
		zap.Int("unknown", summary.Unknown))

	r.job.Stage = types.StageCompleted
	r.job.InProgress = false
	r.job.Summary = summary
	return &Outcome{State: StateCompleted, Job: r.job}, nil
}

func (d *Driver) claim(ctx context.Context, id string, stage types.Stage) (bool, error) {
	ok, err := d.jobs.ClaimJob(ctx, id, stage, d.now().Add(-d.cfg.ClaimTTL))
	if err != nil {
		return false, persistenceError("claim job", err)
	}
	return ok, nil
}

// release clears a claim after a failure so the job stays resumable. The
// claim TTL covers a failed release.
func (d *Driver) release(ctx context.Context, id string) {
	if err := d.jobs.ReleaseJob(ctx, id); err != nil {
		d.logger.Error("failed to release job claim", zap.String("job_id", id), zap.Error(err))
	}
}

func (d *Driver) refund(ctx context.Context, owner uuid.UUID, amount int) {
	if _, err := d.ledger.Refund(ctx, owner, amount); err != nil {
		d.logger.Error("refund failed",
			zap.String("account_id", owner.String()),
			zap.Int("amount", amount),
			zap.Error(err))
	}
}

// run is the in-memory state of one drive of a job.
type run struct {
	job       *types.VerificationJob
	all       []types.EmailRecord
	resolved  types.Resolved
	generic   []types.EmailRecord
	workspace []types.EmailRecord
}

func (r *run) resolve(c Category, rec types.EmailRecord) {
	rec.Queue = ""
	switch c {
	case CategoryValid:
		r.resolved.Valid = append(r.resolved.Valid, rec)
	case CategoryCatchAllValid:
		r.resolved.CatchAllValid = append(r.resolved.CatchAllValid, rec)
	case CategoryUnknown:
		r.resolved.Unknown = append(r.resolved.Unknown, rec)
	default:
		r.resolved.Invalid = append(r.resolved.Invalid, rec)
	}
}

// everything returns every email known to the run: resolved first, then the
// queues.
func (r *run) everything() []types.EmailRecord {
	all := make([]types.EmailRecord, 0, r.resolved.Total()+len(r.generic)+len(r.workspace))
	all = append(all, r.resolved.Valid...)
	all = append(all, r.resolved.CatchAllValid...)
	all = append(all, r.resolved.Invalid...)
	all = append(all, r.resolved.Unknown...)
	all = append(all, r.generic...)
	all = append(all, r.workspace...)
	return all
}

func tag(recs []types.EmailRecord, q Queue) []types.EmailRecord {
	out := make([]types.EmailRecord, len(recs))
	for i, rec := range recs {
		rec.Queue = queueName(q)
		out[i] = rec
	}
	return out
}

func providerFailure(name string, err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return &ProviderError{Provider: name, Err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
