// Package types provides the request, response and record types shared by the minion-api packages.
package types

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RegisterRequest represents the request to create a new account with password authentication.
type RegisterRequest struct {
	Name        string `json:"name" validate:"required,min=1"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	CompanyName string `json:"companyName,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Location    string `json:"location,omitempty"`
	Currency    string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// LoginRequest represents the login request for both users and admins.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// UpdatePasswordRequest changes the password of the authenticated account.
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

// LoginResponse represents the login/register response with account data and authentication token.
type LoginResponse struct {
	Account *Account `json:"account,omitempty"`
	Token   string   `json:"token"`
}

// LogIDRequest addresses a single verification job.
type LogIDRequest struct {
	LogID string `json:"logID" validate:"required"`
}

// ChangePriceRequest sets a new price version for a service.
type ChangePriceRequest struct {
	Service  Service `json:"service" validate:"required,oneof=verify enrich credit registration_credits"`
	NewPrice int     `json:"newPrice" validate:"required,gt=0"`
}

// UpdateCreditsRequest sets an account's credit balance.
type UpdateCreditsRequest struct {
	UserID  string `json:"userID" validate:"required,uuid"`
	Credits *int   `json:"credits" validate:"required,gte=0"`
}

// APIKeyResponse is returned once when a key is generated.
type APIKeyResponse struct {
	Key    string `json:"key,omitempty"`
	Prefix string `json:"prefix"`
}

// Validate validates the RegisterRequest using the validator.
func (r *RegisterRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the LoginRequest using the validator.
func (r *LoginRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the LogIDRequest using the validator.
func (r *LogIDRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the ChangePriceRequest using the validator.
func (r *ChangePriceRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the UpdateCreditsRequest using the validator.
func (r *UpdateCreditsRequest) Validate() error {
	return validate.Struct(r)
}

// Validate validates the UpdatePasswordRequest using the validator.
func (r *UpdatePasswordRequest) Validate() error {
	return validate.Struct(r)
}
