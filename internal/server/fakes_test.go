package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/minionlabs/minion-api/internal/config"
	"github.com/minionlabs/minion-api/internal/db"
	"github.com/minionlabs/minion-api/internal/enrich"
	"github.com/minionlabs/minion-api/internal/server/middleware"
	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

const (
	testJWTSecret     = "test-secret-key-for-jwt-signing-minimum-32-bytes"
	testAdminEmail    = "ops@minion.test"
	testAdminPassword = "admin-password-1"
)

// fakeDB is an in-memory DBClient.
type fakeDB struct {
	mu          sync.Mutex
	accounts    map[uuid.UUID]*db.Account
	keys        map[string]uuid.UUID // hash -> account
	activeKey   map[uuid.UUID]*types.APIKey
	prices      map[types.Service][]types.Price
	jobs        map[string]*types.VerificationJob
	checkpoints map[string]*types.Checkpoint
	enrichLogs  map[uuid.UUID][]types.EnrichLog
	pingErr     error
	failAll     error
}

func newFakeDB() *fakeDB {
	f := &fakeDB{
		accounts:    map[uuid.UUID]*db.Account{},
		keys:        map[string]uuid.UUID{},
		activeKey:   map[uuid.UUID]*types.APIKey{},
		prices:      map[types.Service][]types.Price{},
		jobs:        map[string]*types.VerificationJob{},
		checkpoints: map[string]*types.Checkpoint{},
		enrichLogs:  map[uuid.UUID][]types.EnrichLog{},
	}
	for svc, amount := range map[types.Service]int{
		types.ServiceVerify:              1,
		types.ServiceEnrich:              5,
		types.ServiceCredit:              1,
		types.ServiceRegistrationCredits: 100,
	} {
		f.prices[svc] = []types.Price{{Service: svc, Amount: amount, Version: 1}}
	}
	return f
}

func (f *fakeDB) Ping(context.Context) error { return f.pingErr }

func (f *fakeDB) CheckEmailExists(_ context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return false, f.failAll
	}
	for _, a := range f.accounts {
		if a.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDB) CreateAccount(_ context.Context, in *db.AccountCreateInput) (*db.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	a := &db.Account{
		ID:           uuid.New(),
		Email:        in.Email,
		Name:         in.Name,
		CompanyName:  in.CompanyName,
		Phone:        in.Phone,
		Location:     in.Location,
		Currency:     in.Currency,
		Credits:      in.Credits,
		PasswordHash: in.PasswordHash,
		PasswordSet:  in.PasswordHash != "",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.accounts[a.ID] = a
	return a, nil
}

func (f *fakeDB) GetAccount(_ context.Context, id uuid.UUID) (*db.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f *fakeDB) GetAccountByEmail(_ context.Context, email string) (*db.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, nil
}

func (f *fakeDB) SetCredits(_ context.Context, id uuid.UUID, credits int) (*types.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if credits < 0 {
		return nil, verify.ErrInvalidInput
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, verify.ErrNotFound
	}
	a.Credits = credits
	return a.Public(), nil
}

func (f *fakeDB) UpdatePassword(_ context.Context, id uuid.UUID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return verify.ErrNotFound
	}
	a.PasswordHash = hash
	a.PasswordSet = true
	return nil
}

func (f *fakeDB) ReplaceAPIKey(_ context.Context, accountID uuid.UUID, keyHash, prefix string) (*types.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h, owner := range f.keys {
		if owner == accountID {
			delete(f.keys, h)
		}
	}
	f.keys[keyHash] = accountID
	k := &types.APIKey{AccountID: accountID, Prefix: prefix, CreatedAt: time.Now()}
	f.activeKey[accountID] = k
	return k, nil
}

func (f *fakeDB) GetActiveAPIKey(_ context.Context, accountID uuid.UUID) (*types.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.activeKey[accountID], nil
}

func (f *fakeDB) AccountIDForKeyHash(_ context.Context, keyHash string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[keyHash], nil
}

func (f *fakeDB) RevokeAPIKey(_ context.Context, accountID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.activeKey[accountID]; !ok {
		return false, nil
	}
	delete(f.activeKey, accountID)
	for h, owner := range f.keys {
		if owner == accountID {
			delete(f.keys, h)
		}
	}
	return true, nil
}

func (f *fakeDB) CurrentPrice(_ context.Context, svc types.Service) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	versions := f.prices[svc]
	if len(versions) == 0 {
		return 0, verify.ErrNotFound
	}
	return versions[len(versions)-1].Amount, nil
}

func (f *fakeDB) SetPrice(_ context.Context, svc types.Service, amount int) (*types.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := types.Price{Service: svc, Amount: amount, Version: len(f.prices[svc]) + 1, CreatedAt: time.Now()}
	f.prices[svc] = append(f.prices[svc], p)
	return &p, nil
}

func (f *fakeDB) ListPrices(context.Context) ([]types.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Price
	for _, versions := range f.prices {
		out = append(out, versions[len(versions)-1])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out, nil
}

func (f *fakeDB) GetJob(_ context.Context, id string) (*types.VerificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeDB) ListJobs(_ context.Context, filters db.JobFilters) ([]types.VerificationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.VerificationJob
	for _, j := range f.jobs {
		if filters.OwnerID != nil && j.OwnerID != *filters.OwnerID {
			continue
		}
		if filters.Stage != "" && j.Stage != filters.Stage {
			continue
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (f *fakeDB) DeleteJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return verify.ErrNotFound
	}
	delete(f.jobs, id)
	delete(f.checkpoints, id)
	return nil
}

func (f *fakeDB) LoadCheckpoint(_ context.Context, id string) (*types.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoints[id], nil
}

func (f *fakeDB) ListEnrichLogs(_ context.Context, owner uuid.UUID) ([]types.EnrichLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrichLogs[owner], nil
}

func (f *fakeDB) addJob(j *types.VerificationJob) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
}

// fakePipeline records calls and returns canned outcomes.
type fakePipeline struct {
	mu          sync.Mutex
	submitted   []verify.SubmitRequest
	submitJob   *types.VerificationJob
	submitErr   error
	outcome     *verify.Outcome
	err         error
	statusCalls int
	resumed     []int
	release     chan struct{}
}

func (p *fakePipeline) Submit(_ context.Context, req verify.SubmitRequest) (*types.VerificationJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, req)
	return p.submitJob, p.submitErr
}

func (p *fakePipeline) CheckStatus(_ context.Context, _ string) (*verify.Outcome, error) {
	p.mu.Lock()
	p.statusCalls++
	release := p.release
	p.mu.Unlock()
	if release != nil {
		<-release
	}
	return p.outcome, p.err
}

func (p *fakePipeline) Resume(_ context.Context, _ string, stageCode int) (*verify.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumed = append(p.resumed, stageCode)
	return p.outcome, p.err
}

func (p *fakePipeline) ResumeAny(_ context.Context, _ string) (*verify.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumed = append(p.resumed, 0)
	return p.outcome, p.err
}

type fakeEnricher struct {
	got    enrich.Request
	result *enrich.Result
	err    error
}

func (e *fakeEnricher) Run(_ context.Context, req enrich.Request) (*enrich.Result, error) {
	e.got = req
	return e.result, e.err
}

type fakeObjects map[string][]byte

func (o fakeObjects) Get(_ context.Context, url string) ([]byte, error) {
	b, ok := o[url]
	if !ok {
		return nil, errors.New("no such object")
	}
	return b, nil
}

type testEnv struct {
	server   *Server
	db       *fakeDB
	pipeline *fakePipeline
	enricher *fakeEnricher
	objects  fakeObjects
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	adminHash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	require.NoError(t, err)
	return &config.Config{
		Port:        0,
		JWT:         config.JWTConfig{Secret: testJWTSecret, ExpirationHours: 1},
		Password:    config.PasswordConfig{BcryptCost: bcrypt.MinCost},
		Admin:       config.AdminConfig{Email: testAdminEmail, PasswordHash: string(adminHash)},
		RateLimit:   config.RateLimitConfig{Enabled: false},
		CORSOrigins: []string{"*"},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithConfig(t, testConfig(t))
}

func newTestEnvWithConfig(t *testing.T, cfg *config.Config) *testEnv {
	t.Helper()
	env := &testEnv{
		db:       newFakeDB(),
		pipeline: &fakePipeline{},
		enricher: &fakeEnricher{},
		objects:  fakeObjects{},
	}
	env.server = NewWithDeps(cfg, Deps{
		DB:       env.db,
		Pipeline: env.pipeline,
		Enricher: env.enricher,
		Storage:  env.objects,
	})
	t.Cleanup(env.server.Close)
	return env
}

// account creates an account and returns it with a user token.
func (e *testEnv) account(t *testing.T, credits int) (*db.Account, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	a, err := e.db.CreateAccount(context.Background(), &db.AccountCreateInput{
		Email:        uuid.NewString()[:8] + "@acme.test",
		Name:         "Test Account",
		Credits:      credits,
		PasswordHash: string(hash),
	})
	require.NoError(t, err)
	token, err := e.server.jwtService.GenerateToken(a.ID, middleware.RoleUser)
	require.NoError(t, err)
	return a, token
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := e.server.jwtService.GenerateToken(AdminSubject(testAdminEmail), middleware.RoleAdmin)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, path, token string, body any) *http.Request {
	t.Helper()
	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func multipartRequest(t *testing.T, path, token, field, fileName string, content []byte, values map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

