//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		request RegisterRequest
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid request",
			request: RegisterRequest{
				Name:        "Ada Lovelace",
				Email:       "ada@example.com",
				Password:    "password123",
				CompanyName: "Analytical Engines",
				Currency:    "USD",
			},
		},
		{
			name: "valid request without optional fields",
			request: RegisterRequest{
				Name:     "Ada Lovelace",
				Email:    "ada@example.com",
				Password: "password123",
			},
		},
		{
			name: "missing name",
			request: RegisterRequest{
				Email:    "ada@example.com",
				Password: "password123",
			},
			wantErr: true,
			errMsg:  "required",
		},
		{
			name: "invalid email format",
			request: RegisterRequest{
				Name:     "Ada Lovelace",
				Email:    "not-an-email",
				Password: "password123",
			},
			wantErr: true,
			errMsg:  "email",
		},
		{
			name: "password too short",
			request: RegisterRequest{
				Name:     "Ada Lovelace",
				Email:    "ada@example.com",
				Password: "short",
			},
			wantErr: true,
			errMsg:  "min",
		},
		{
			name: "currency wrong length",
			request: RegisterRequest{
				Name:     "Ada Lovelace",
				Email:    "ada@example.com",
				Password: "password123",
				Currency: "US",
			},
			wantErr: true,
			errMsg:  "len",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoginRequest_Validation(t *testing.T) {
	assert.NoError(t, (&LoginRequest{Email: "ada@example.com", Password: "x"}).Validate())
	assert.Error(t, (&LoginRequest{Email: "ada@example.com"}).Validate())
	assert.Error(t, (&LoginRequest{Email: "nope", Password: "x"}).Validate())
}

func TestChangePriceRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		request ChangePriceRequest
		wantErr bool
	}{
		{"verify price", ChangePriceRequest{Service: ServiceVerify, NewPrice: 2}, false},
		{"registration credits", ChangePriceRequest{Service: ServiceRegistrationCredits, NewPrice: 100}, false},
		{"unknown service", ChangePriceRequest{Service: "podcast", NewPrice: 2}, true},
		{"zero price", ChangePriceRequest{Service: ServiceEnrich, NewPrice: 0}, true},
		{"negative price", ChangePriceRequest{Service: ServiceEnrich, NewPrice: -4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestUpdateCreditsRequest_Validation(t *testing.T) {
	zero, negative := 0, -1
	valid := "6f1c1f4e-1f7e-4a7a-9d0b-0c3b8f7f1a11"

	assert.NoError(t, (&UpdateCreditsRequest{UserID: valid, Credits: &zero}).Validate())
	assert.Error(t, (&UpdateCreditsRequest{UserID: valid, Credits: &negative}).Validate())
	assert.Error(t, (&UpdateCreditsRequest{UserID: valid}).Validate())
	assert.Error(t, (&UpdateCreditsRequest{UserID: "abc", Credits: &zero}).Validate())
}

func TestLogIDRequest_JSONField(t *testing.T) {
	var req LogIDRequest
	require.NoError(t, json.Unmarshal([]byte(`{"logID":"job-1"}`), &req))
	assert.Equal(t, "job-1", req.LogID)
	assert.NoError(t, req.Validate())

	assert.Error(t, (&LogIDRequest{}).Validate())
}
