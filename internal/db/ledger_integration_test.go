//go:build integration
// +build integration

package db

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

func TestDeduct_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	a := createTestAccount(t, db, 10)

	acct, err := db.Deduct(ctx, a.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, acct.Credits)

	_, err = db.Deduct(ctx, a.ID, 7)
	assert.ErrorIs(t, err, verify.ErrInsufficientCredits)

	_, err = db.Deduct(ctx, uuid.New(), 1)
	assert.ErrorIs(t, err, verify.ErrNotFound)

	acct, err = db.Refund(ctx, a.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, 9, acct.Credits)
}

func TestDeduct_ConcurrentNeverOverdraws_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	a := createTestAccount(t, db, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.Deduct(ctx, a.ID, 3); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	got, err := db.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Credits)
}

func TestSetCredits_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	a := createTestAccount(t, db, 10)

	acct, err := db.SetCredits(ctx, a.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, 250, acct.Credits)

	_, err = db.SetCredits(ctx, a.ID, -1)
	assert.ErrorIs(t, err, verify.ErrInvalidInput)
}

func TestPrices_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.SeedPrices(ctx, map[types.Service]int{types.ServiceVerify: 1}))
	before, err := db.CurrentPrice(ctx, types.ServiceVerify)
	require.NoError(t, err)

	p, err := db.SetPrice(ctx, types.ServiceVerify, before+5)
	require.NoError(t, err)
	assert.Greater(t, p.Version, 1)

	now, err := db.CurrentPrice(ctx, types.ServiceVerify)
	require.NoError(t, err)
	assert.Equal(t, before+5, now)

	// Seeding never overrides an existing price.
	require.NoError(t, db.SeedPrices(ctx, map[types.Service]int{types.ServiceVerify: 1}))
	now, err = db.CurrentPrice(ctx, types.ServiceVerify)
	require.NoError(t, err)
	assert.Equal(t, before+5, now)

	_, err = db.SetPrice(ctx, types.ServiceVerify, 0)
	assert.ErrorIs(t, err, verify.ErrInvalidInput)

	prices, err := db.ListPrices(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, prices)
}

func TestAPIKeys_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	a := createTestAccount(t, db, 0)

	hash1 := "hash-" + uuid.NewString()
	_, err := db.ReplaceAPIKey(ctx, a.ID, hash1, "abcd1234")
	require.NoError(t, err)

	id, err := db.AccountIDForKeyHash(ctx, hash1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)

	hash2 := "hash-" + uuid.NewString()
	_, err = db.ReplaceAPIKey(ctx, a.ID, hash2, "efgh5678")
	require.NoError(t, err)

	id, err = db.AccountIDForKeyHash(ctx, hash1)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, id, "replaced key no longer resolves")

	key, err := db.GetActiveAPIKey(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.Equal(t, "efgh5678", key.Prefix)

	revoked, err := db.RevokeAPIKey(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
	key, err = db.GetActiveAPIKey(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, key)
}
