package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// Account is an accounts row including the password hash.
type Account struct {
	ID           uuid.UUID
	Email        string
	Name         string
	CompanyName  string
	Phone        string
	Location     string
	Currency     string
	Credits      int
	PasswordHash string
	PasswordSet  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public strips the password hash.
func (a *Account) Public() *types.Account {
	if a == nil {
		return nil
	}
	return &types.Account{
		ID:          a.ID,
		Email:       a.Email,
		Name:        a.Name,
		CompanyName: a.CompanyName,
		Phone:       a.Phone,
		Location:    a.Location,
		Currency:    a.Currency,
		Credits:     a.Credits,
		PasswordSet: a.PasswordSet,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// AccountCreateInput holds the fields of a new account.
type AccountCreateInput struct {
	Email        string
	Name         string
	CompanyName  string
	Phone        string
	Location     string
	Currency     string
	Credits      int
	PasswordHash string
}

const accountColumns = `id, email, name, company_name, phone, location, currency, credits,
	password_hash, password_set, created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.CompanyName, &a.Phone, &a.Location,
		&a.Currency, &a.Credits, &a.PasswordHash, &a.PasswordSet, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAccount inserts a new account with its opening credit balance.
func (db *DB) CreateAccount(ctx context.Context, in *AccountCreateInput) (*Account, error) {
	a, err := scanAccount(db.pool.QueryRow(ctx,
		`INSERT INTO accounts (email, name, company_name, phone, location, currency, credits, password_hash, password_set)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8 <> '')
		 RETURNING `+accountColumns,
		in.Email, in.Name, in.CompanyName, in.Phone, in.Location, in.Currency, in.Credits, in.PasswordHash,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return a, nil
}

// GetAccount retrieves an account by ID
func (db *DB) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := scanAccount(db.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetAccountByEmail retrieves an account by email
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	if email == "" {
		return nil, nil
	}
	a, err := scanAccount(db.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account by email: %w", err)
	}
	return a, nil
}

// CheckEmailExists reports whether an account uses email.
func (db *DB) CheckEmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// DeleteAccount removes an account and, by cascade, everything it owns.
func (db *DB) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// Deduct removes amount credits in a single conditional update. It returns
// verify.ErrInsufficientCredits when the balance is too low and
// verify.ErrNotFound when the account does not exist.
func (db *DB) Deduct(ctx context.Context, id uuid.UUID, amount int) (*types.Account, error) {
	if amount < 0 {
		return nil, fmt.Errorf("negative deduction %d: %w", amount, verify.ErrInvalidInput)
	}
	a, err := scanAccount(db.pool.QueryRow(ctx,
		`UPDATE accounts SET credits = credits - $1, updated_at = NOW()
		 WHERE id = $2 AND credits >= $1
		 RETURNING `+accountColumns,
		amount, id,
	))
	if err == nil {
		return a.Public(), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to deduct credits: %w", err)
	}

	exists, err := db.accountExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("account %s: %w", id, verify.ErrNotFound)
	}
	return nil, fmt.Errorf("account %s needs %d credits: %w", id, amount, verify.ErrInsufficientCredits)
}

// Refund adds the absolute value of amount back to the balance.
func (db *DB) Refund(ctx context.Context, id uuid.UUID, amount int) (*types.Account, error) {
	if amount < 0 {
		amount = -amount
	}
	a, err := scanAccount(db.pool.QueryRow(ctx,
		`UPDATE accounts SET credits = credits + $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+accountColumns,
		amount, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, verify.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to refund credits: %w", err)
	}
	return a.Public(), nil
}

// SetCredits overwrites the balance. Negative balances are rejected.
func (db *DB) SetCredits(ctx context.Context, id uuid.UUID, credits int) (*types.Account, error) {
	if credits < 0 {
		return nil, fmt.Errorf("credits must not be negative: %w", verify.ErrInvalidInput)
	}
	a, err := scanAccount(db.pool.QueryRow(ctx,
		`UPDATE accounts SET credits = $1, updated_at = NOW()
		 WHERE id = $2
		 RETURNING `+accountColumns,
		credits, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", id, verify.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to set credits: %w", err)
	}
	return a.Public(), nil
}

// UpdatePassword stores a new password hash.
func (db *DB) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE accounts SET password_hash = $1, password_set = TRUE, updated_at = NOW() WHERE id = $2`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, verify.ErrNotFound)
	}
	return nil
}

func (db *DB) accountExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check account: %w", err)
	}
	return exists, nil
}
