package types

import (
	"time"

	"github.com/google/uuid"
)

// Service names priced in the price book.
type Service string

const (
	ServiceVerify              Service = "verify"
	ServiceEnrich              Service = "enrich"
	ServiceCredit              Service = "credit"
	ServiceRegistrationCredits Service = "registration_credits"
)

// Services lists every priced service.
var Services = []Service{ServiceVerify, ServiceEnrich, ServiceCredit, ServiceRegistrationCredits}

// Valid reports whether s is a known service.
func (s Service) Valid() bool {
	for _, known := range Services {
		if s == known {
			return true
		}
	}
	return false
}

// Account is a credit-holding customer.
type Account struct {
	ID          uuid.UUID `json:"id"`
	Email       string    `json:"email"`
	Name        string    `json:"name"`
	CompanyName string    `json:"company_name,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Location    string    `json:"location,omitempty"`
	Currency    string    `json:"currency,omitempty"`
	Credits     int       `json:"credits"`
	PasswordSet bool      `json:"password_set"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// APIKey describes an issued API key. The secret itself is never stored.
type APIKey struct {
	AccountID uuid.UUID  `json:"account_id"`
	Prefix    string     `json:"prefix"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// Price is one version of a service price.
type Price struct {
	Service   Service   `json:"service"`
	Amount    int       `json:"amount"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// EnrichKind selects the enrichment backend endpoint.
type EnrichKind string

const (
	EnrichEmail EnrichKind = "email"
	EnrichPhone EnrichKind = "phone"
	EnrichBoth  EnrichKind = "both"
)

// EnrichLog records one enrichment request.
type EnrichLog struct {
	ID              uuid.UUID  `json:"id"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	Kind            EnrichKind `json:"kind"`
	FileName        string     `json:"file_name"`
	InputURL        string     `json:"input_url"`
	OutputURL       string     `json:"output_url,omitempty"`
	Status          string     `json:"status"`
	CreditsDeducted int        `json:"credits_deducted"`
	CreditsUsed     int        `json:"credits_used"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Enrich log statuses.
const (
	EnrichStatusPending   = "pending"
	EnrichStatusCompleted = "completed"
)
