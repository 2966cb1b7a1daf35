package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/minionlabs/minion-api/internal/config"
	"github.com/minionlabs/minion-api/internal/db"
	"github.com/minionlabs/minion-api/internal/types"
)

// UserService provides business logic for account authentication operations
type UserService struct {
	db             DBClient
	passwordConfig *config.PasswordConfig
	admin          config.AdminConfig
}

// NewUserService creates a new UserService with the given dependencies
func NewUserService(db DBClient, passwordConfig *config.PasswordConfig, admin config.AdminConfig) *UserService {
	return &UserService{
		db:             db,
		passwordConfig: passwordConfig,
		admin:          admin,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new account funded with the current registration grant.
func (s *UserService) Register(ctx context.Context, req *types.RegisterRequest) (*types.Account, error) {
	email := normalizeEmail(req.Email)

	exists, err := s.db.CheckEmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}
	if exists {
		return nil, &ErrEmailAlreadyExists{Email: email}
	}

	passwordHash, err := s.passwordConfig.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	grant, err := s.db.CurrentPrice(ctx, types.ServiceRegistrationCredits)
	if err != nil {
		return nil, fmt.Errorf("failed to read registration credits: %w", err)
	}

	account, err := s.db.CreateAccount(ctx, &db.AccountCreateInput{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		CompanyName:  req.CompanyName,
		Phone:        req.Phone,
		Location:     req.Location,
		Currency:     strings.ToUpper(req.Currency),
		Credits:      grant,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account.Public(), nil
}

// Login authenticates an account and returns its data
func (s *UserService) Login(ctx context.Context, req *types.LoginRequest) (*types.Account, error) {
	account, err := s.db.GetAccountByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}

	// Security: Always return generic error if account not found or password wrong
	if account == nil || !account.PasswordSet {
		return nil, &ErrInvalidCredentials{}
	}
	if !s.passwordConfig.VerifyPassword(req.Password, account.PasswordHash) {
		return nil, &ErrInvalidCredentials{}
	}

	return account.Public(), nil
}

// AdminLogin checks the bootstrap administrator credentials and returns the
// stable subject used in admin tokens.
func (s *UserService) AdminLogin(req *types.LoginRequest) (uuid.UUID, error) {
	if s.admin.Email == "" || s.admin.PasswordHash == "" {
		return uuid.Nil, &ErrInvalidCredentials{}
	}
	emailMatch := subtle.ConstantTimeCompare([]byte(normalizeEmail(req.Email)), []byte(normalizeEmail(s.admin.Email))) == 1
	// bcrypt runs even when the email does not match.
	passwordMatch := config.VerifyUnpeppered(req.Password, s.admin.PasswordHash)
	if !emailMatch || !passwordMatch {
		return uuid.Nil, &ErrInvalidCredentials{}
	}
	return AdminSubject(s.admin.Email), nil
}

// AdminSubject derives the token subject for the configured administrator.
func AdminSubject(email string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("admin:"+normalizeEmail(email)))
}

// Account returns the account with id, or ErrUserNotFound.
func (s *UserService) Account(ctx context.Context, id uuid.UUID) (*types.Account, error) {
	account, err := s.db.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, &ErrUserNotFound{UserID: id}
	}
	return account.Public(), nil
}

// UpdatePassword updates an account's password
func (s *UserService) UpdatePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	account, err := s.db.GetAccount(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return &ErrUserNotFound{UserID: userID}
	}

	if !s.passwordConfig.VerifyPassword(currentPassword, account.PasswordHash) {
		return &ErrPasswordMismatch{}
	}

	newPasswordHash, err := s.passwordConfig.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash new password: %w", err)
	}

	if err := s.db.UpdatePassword(ctx, userID, newPasswordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}
