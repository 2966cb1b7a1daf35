package server

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/minionlabs/minion-api/internal/config"
	"github.com/minionlabs/minion-api/internal/types"
)

func newTestUserService(t *testing.T) (*UserService, *fakeDB) {
	t.Helper()
	cfg := testConfig(t)
	fdb := newFakeDB()
	return NewUserService(fdb, &config.PasswordConfig{BcryptCost: bcrypt.MinCost}, cfg.Admin), fdb
}

func TestUserService_Register(t *testing.T) {
	svc, fdb := newTestUserService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, &types.RegisterRequest{
		Name:     "  Ada Lovelace ",
		Email:    " Ada@Example.COM ",
		Password: "password123",
		Currency: "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", account.Email)
	assert.Equal(t, "Ada Lovelace", account.Name)
	assert.Equal(t, "USD", account.Currency)
	assert.Equal(t, 100, account.Credits, "registration grant comes from the price book")

	stored, err := fdb.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "password123", stored.PasswordHash)
	assert.True(t, stored.PasswordSet)
}

func TestUserService_Register_UsesCurrentGrant(t *testing.T) {
	svc, fdb := newTestUserService(t)
	ctx := context.Background()
	_, err := fdb.SetPrice(ctx, types.ServiceRegistrationCredits, 25)
	require.NoError(t, err)

	account, err := svc.Register(ctx, &types.RegisterRequest{Name: "B", Email: "b@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, 25, account.Credits)
}

func TestUserService_Register_DuplicateEmail(t *testing.T) {
	svc, _ := newTestUserService(t)
	ctx := context.Background()
	req := &types.RegisterRequest{Name: "A", Email: "dup@example.com", Password: "password123"}

	_, err := svc.Register(ctx, req)
	require.NoError(t, err)

	req.Email = "DUP@example.com"
	_, err = svc.Register(ctx, req)
	var exists *ErrEmailAlreadyExists
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, "dup@example.com", exists.Email)
}

func TestUserService_Login(t *testing.T) {
	svc, _ := newTestUserService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, &types.RegisterRequest{Name: "A", Email: "login@example.com", Password: "password123"})
	require.NoError(t, err)

	account, err := svc.Login(ctx, &types.LoginRequest{Email: "LOGIN@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "login@example.com", account.Email)

	tests := []struct {
		name string
		req  types.LoginRequest
	}{
		{"wrong password", types.LoginRequest{Email: "login@example.com", Password: "nope-nope"}},
		{"unknown email", types.LoginRequest{Email: "ghost@example.com", Password: "password123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(ctx, &tt.req)
			var invalid *ErrInvalidCredentials
			assert.ErrorAs(t, err, &invalid)
		})
	}
}

func TestUserService_AdminLogin(t *testing.T) {
	svc, _ := newTestUserService(t)

	subject, err := svc.AdminLogin(&types.LoginRequest{Email: "OPS@minion.test", Password: testAdminPassword})
	require.NoError(t, err)
	assert.Equal(t, AdminSubject(testAdminEmail), subject)
	assert.NotEqual(t, uuid.Nil, subject)

	_, err = svc.AdminLogin(&types.LoginRequest{Email: testAdminEmail, Password: "wrong"})
	var invalid *ErrInvalidCredentials
	assert.ErrorAs(t, err, &invalid)

	_, err = svc.AdminLogin(&types.LoginRequest{Email: "other@minion.test", Password: testAdminPassword})
	assert.ErrorAs(t, err, &invalid)
}

func TestUserService_AdminLogin_NotConfigured(t *testing.T) {
	svc := NewUserService(newFakeDB(), &config.PasswordConfig{BcryptCost: bcrypt.MinCost}, config.AdminConfig{})

	_, err := svc.AdminLogin(&types.LoginRequest{Email: "", Password: ""})
	var invalid *ErrInvalidCredentials
	assert.ErrorAs(t, err, &invalid)
}

func TestAdminSubject_Stable(t *testing.T) {
	assert.Equal(t, AdminSubject("ops@minion.test"), AdminSubject(" OPS@minion.test"))
	assert.NotEqual(t, AdminSubject("ops@minion.test"), AdminSubject("other@minion.test"))
}

func TestUserService_Account_NotFound(t *testing.T) {
	svc, _ := newTestUserService(t)

	_, err := svc.Account(context.Background(), uuid.New())
	var notFound *ErrUserNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestUserService_UpdatePassword(t *testing.T) {
	svc, _ := newTestUserService(t)
	ctx := context.Background()
	account, err := svc.Register(ctx, &types.RegisterRequest{Name: "A", Email: "pw@example.com", Password: "password123"})
	require.NoError(t, err)

	err = svc.UpdatePassword(ctx, account.ID, "wrong-password", "newpassword1")
	var mismatch *ErrPasswordMismatch
	require.ErrorAs(t, err, &mismatch)

	require.NoError(t, svc.UpdatePassword(ctx, account.ID, "password123", "newpassword1"))

	_, err = svc.Login(ctx, &types.LoginRequest{Email: "pw@example.com", Password: "newpassword1"})
	assert.NoError(t, err)
	_, err = svc.Login(ctx, &types.LoginRequest{Email: "pw@example.com", Password: "password123"})
	assert.Error(t, err)
}
