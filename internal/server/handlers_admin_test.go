package server

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minionlabs/minion-api/internal/enrich"
	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

func TestChangePrice(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)

	w := env.do(jsonRequest(t, http.MethodPost, "/admin/changePrice", admin, map[string]any{"service": "verify", "newPrice": 3}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	price := decodeBody(t, w)["price"].(map[string]any)
	assert.EqualValues(t, 3, price["amount"])
	assert.EqualValues(t, 2, price["version"])

	got, err := env.db.CurrentPrice(t.Context(), types.ServiceVerify)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	for _, body := range []map[string]any{
		{"service": "fax", "newPrice": 3},
		{"service": "verify", "newPrice": 0},
		{"service": "verify"},
	} {
		w := env.do(jsonRequest(t, http.MethodPost, "/admin/changePrice", admin, body))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestListPrices(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(jsonRequest(t, http.MethodGet, "/admin/prices", env.adminToken(t), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody(t, w)["prices"], 4)
}

func TestCredits(t *testing.T) {
	env := newTestEnv(t)
	admin := env.adminToken(t)
	account, _ := env.account(t, 7)

	w := env.do(jsonRequest(t, http.MethodGet, "/admin/users/"+account.ID.String()+"/credits", admin, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 7, decodeBody(t, w)["credits"])

	w = env.do(jsonRequest(t, http.MethodGet, "/admin/users/"+uuid.NewString()+"/credits", admin, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(jsonRequest(t, http.MethodGet, "/admin/users/not-a-uuid/credits", admin, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(jsonRequest(t, http.MethodPost, "/admin/updateCredits", admin, map[string]any{"userID": account.ID.String(), "credits": 500}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 500, decodeBody(t, w)["account"].(map[string]any)["credits"])

	w = env.do(jsonRequest(t, http.MethodPost, "/admin/updateCredits", admin, map[string]any{"userID": account.ID.String(), "credits": 0}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(jsonRequest(t, http.MethodPost, "/admin/updateCredits", admin, map[string]any{"userID": account.ID.String(), "credits": -1}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(jsonRequest(t, http.MethodPost, "/admin/updateCredits", admin, map[string]any{"userID": uuid.NewString(), "credits": 1}))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	account, token := env.account(t, 10)

	w := env.do(jsonRequest(t, http.MethodGet, "/user/getAPIkey", token, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(jsonRequest(t, http.MethodPost, "/user/generateAPIkey", token, nil))
	require.Equal(t, http.StatusCreated, w.Code)
	first := decodeBody(t, w)
	key := first["key"].(string)
	assert.Len(t, key, 64)
	assert.Equal(t, key[:8], first["prefix"])

	id, err := env.server.ResolveAPIKey(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, account.ID, id)

	w = env.do(jsonRequest(t, http.MethodGet, "/user/getAPIkey", token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), key)

	w = env.do(jsonRequest(t, http.MethodPost, "/user/generateAPIkey", token, nil))
	require.Equal(t, http.StatusCreated, w.Code)
	second := decodeBody(t, w)["key"].(string)
	assert.NotEqual(t, key, second)

	id, err = env.server.ResolveAPIKey(t.Context(), key)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, id, "regenerating replaces the old key")

	w = env.do(jsonRequest(t, http.MethodPost, "/user/revokeAPIkey", token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(jsonRequest(t, http.MethodPost, "/user/revokeAPIkey", token, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHashAPIKey(t *testing.T) {
	assert.Equal(t, hashAPIKey("abc"), hashAPIKey("abc"))
	assert.NotEqual(t, hashAPIKey("abc"), hashAPIKey("abd"))
	assert.Len(t, hashAPIKey("abc"), 64)
}

func TestEnrich(t *testing.T) {
	env := newTestEnv(t)
	account, token := env.account(t, 100)
	logID := uuid.New()
	env.enricher.result = &enrich.Result{LogID: logID, TotalEnriched: 2, CreditsDeducted: 15, CreditsUsed: 10, Refunded: 5}

	csvBody := []byte("name,company\nada,acme\nbob,globex\ncy,initech\n")
	w := env.do(multipartRequest(t, "/services/enrich/phone", token, "csv", "leads.csv", csvBody, map[string]string{
		"mappedOptions": `{"name":"Full Name"}`,
	}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	result := decodeBody(t, w)["result"].(map[string]any)
	assert.Equal(t, logID.String(), result["logID"])
	assert.EqualValues(t, 5, result["refunded"])

	got := env.enricher.got
	assert.Equal(t, account.ID, got.OwnerID)
	assert.Equal(t, account.Email, got.OwnerEmail)
	assert.Equal(t, types.EnrichPhone, got.Kind)
	assert.Equal(t, "leads.csv", got.FileName)
	assert.Equal(t, csvBody, got.CSV)
	assert.Equal(t, `{"name":"Full Name"}`, got.MappedOptions)
}

func TestEnrich_Errors(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.account(t, 100)
	csvBody := []byte("name\nada\n")

	w := env.do(multipartRequest(t, "/services/enrich/fax", token, "csv", "leads.csv", csvBody, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(multipartRequest(t, "/services/enrich/email", token, "json", "leads.csv", csvBody, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.enricher.err = verify.ErrInsufficientCredits
	w = env.do(multipartRequest(t, "/services/enrich/email", token, "csv", "leads.csv", csvBody, nil))
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	env.enricher.err = &verify.ProviderError{Provider: "enrich", Err: errors.New("connection refused")}
	w = env.do(multipartRequest(t, "/services/enrich/both", token, "csv", "leads.csv", csvBody, nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestListEnrichLogs(t *testing.T) {
	env := newTestEnv(t)
	account, token := env.account(t, 100)
	env.db.enrichLogs[account.ID] = []types.EnrichLog{{
		ID:        uuid.New(),
		OwnerID:   account.ID,
		Kind:      types.EnrichEmail,
		Status:    types.EnrichStatusCompleted,
		CreatedAt: time.Now(),
	}}

	w := env.do(jsonRequest(t, http.MethodGet, "/services/enrich/logs", token, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decodeBody(t, w)["logs"], 1)
}
