package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/minionlabs/minion-api/internal/types"
)

type fakeLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	deducts  int
	refunds  []int
}

func newFakeLedger(owner uuid.UUID, credits int) *fakeLedger {
	return &fakeLedger{balances: map[uuid.UUID]int{owner: credits}}
}

func (l *fakeLedger) Deduct(_ context.Context, id uuid.UUID, amount int) (*types.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal, ok := l.balances[id]
	if !ok {
		return nil, ErrNotFound
	}
	if bal < amount {
		return nil, ErrInsufficientCredits
	}
	l.deducts++
	l.balances[id] = bal - amount
	return &types.Account{ID: id, Credits: l.balances[id]}, nil
}

func (l *fakeLedger) Refund(_ context.Context, id uuid.UUID, amount int) (*types.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds = append(l.refunds, amount)
	l.balances[id] += amount
	return &types.Account{ID: id, Credits: l.balances[id]}, nil
}

func (l *fakeLedger) balance(id uuid.UUID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id]
}

type fakePrices map[types.Service]int

func (p fakePrices) CurrentPrice(_ context.Context, s types.Service) (int, error) {
	v, ok := p[s]
	if !ok {
		return 0, fmt.Errorf("no price for %s", s)
	}
	return v, nil
}

// fakeStore implements JobStore and CheckpointStore in memory.
type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*types.VerificationJob
	cps     map[string]*types.Checkpoint
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]*types.VerificationJob{}, cps: map[string]*types.Checkpoint{}}
}

func (s *fakeStore) CreateJob(_ context.Context, job *types.VerificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id string) (*types.VerificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *fakeStore) ClaimJob(_ context.Context, id string, stage types.Stage, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Stage != stage {
		return false, nil
	}
	if job.InProgress && job.ClaimedAt != nil && !job.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	now := time.Now()
	job.InProgress = true
	job.ClaimedAt = &now
	return true, nil
}

func (s *fakeStore) ReleaseJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok {
		job.InProgress = false
		job.ClaimedAt = nil
	}
	return nil
}

func (s *fakeStore) RekeyJob(_ context.Context, oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[oldID]
	if !ok {
		return ErrNotFound
	}
	delete(s.jobs, oldID)
	delete(s.cps, oldID)
	job.ID = newID
	job.Stage = types.StageAwaitingPrimary
	job.InProgress = false
	job.ClaimedAt = nil
	s.jobs[newID] = job
	return nil
}

func (s *fakeStore) CompleteJob(_ context.Context, cp *types.Checkpoint, summary *types.ResultSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[cp.JobID]
	if !ok {
		return ErrPersistence
	}
	s.cps[cp.JobID] = cloneCheckpoint(cp)
	sum := *summary
	job.Summary = &sum
	job.Stage = types.StageCompleted
	job.InProgress = false
	job.ClaimedAt = nil
	return nil
}

func (s *fakeStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.cps, id)
	return nil
}

func (s *fakeStore) SaveCheckpoint(_ context.Context, cp *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	job, ok := s.jobs[cp.JobID]
	if !ok {
		return fmt.Errorf("job %s: %w", cp.JobID, ErrPersistence)
	}
	stage, _ := types.StageForCode(cp.StageCode)
	job.Stage = stage
	job.InProgress = false
	job.ClaimedAt = nil
	s.cps[cp.JobID] = cloneCheckpoint(cp)
	return nil
}

func (s *fakeStore) LoadCheckpoint(_ context.Context, jobID string) (*types.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.cps[jobID]
	if !ok {
		return nil, nil
	}
	return cloneCheckpoint(cp), nil
}

func (s *fakeStore) job(id string) *types.VerificationJob {
	j, _ := s.GetJob(context.Background(), id)
	return j
}

func (s *fakeStore) checkpoint(id string) *types.Checkpoint {
	cp, _ := s.LoadCheckpoint(context.Background(), id)
	return cp
}

func cloneCheckpoint(cp *types.Checkpoint) *types.Checkpoint {
	out := *cp
	out.Pending = append([]types.EmailRecord(nil), cp.Pending...)
	out.Resolved = types.Resolved{
		Valid:         append([]types.EmailRecord(nil), cp.Resolved.Valid...),
		CatchAllValid: append([]types.EmailRecord(nil), cp.Resolved.CatchAllValid...),
		Invalid:       append([]types.EmailRecord(nil), cp.Resolved.Invalid...),
		Unknown:       append([]types.EmailRecord(nil), cp.Resolved.Unknown...),
	}
	return &out
}

type fakePrimary struct {
	mu          sync.Mutex
	submitIDs   []string
	submitErr   error
	submits     [][]string
	statuses    []*PrimaryStatus
	statusErr   error
	statusCalls int
}

func (p *fakePrimary) Submit(_ context.Context, emails []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, emails)
	if p.submitErr != nil {
		return "", p.submitErr
	}
	id := p.submitIDs[0]
	p.submitIDs = p.submitIDs[1:]
	return id, nil
}

func (p *fakePrimary) Status(_ context.Context, _ string) (*PrimaryStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCalls++
	if p.statusErr != nil {
		return nil, p.statusErr
	}
	st := p.statuses[0]
	if len(p.statuses) > 1 {
		p.statuses = p.statuses[1:]
	}
	return st, nil
}

// fakeDisambiguator answers from valid and fails once calls reaches failAt
// (when failAt > 0).
type fakeDisambiguator struct {
	mu     sync.Mutex
	name   string
	valid  map[string]bool
	failAt int
	calls  []string
}

func (d *fakeDisambiguator) Name() string { return d.name }

func (d *fakeDisambiguator) Check(_ context.Context, address string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, address)
	if d.failAt > 0 && len(d.calls) >= d.failAt {
		return false, &ProviderError{Provider: d.name, StatusCode: 502}
	}
	return d.valid[address], nil
}

func (d *fakeDisambiguator) heal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAt = 0
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	getErr  error
	puts    int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (o *fakeObjects) Put(_ context.Context, bucket, key string, body []byte, _ types.Visibility, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.putErr != nil {
		return "", o.putErr
	}
	o.puts++
	url := "https://objects.test/" + bucket + "/" + key
	o.objects[url] = append([]byte(nil), body...)
	return url, nil
}

func (o *fakeObjects) Get(_ context.Context, url string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.getErr != nil {
		return nil, o.getErr
	}
	body, ok := o.objects[url]
	if !ok {
		return nil, errors.New("no such object")
	}
	return body, nil
}

func (o *fakeObjects) find(suffix string) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	for url, body := range o.objects {
		if strings.HasSuffix(url, suffix) {
			return body
		}
	}
	return nil
}
