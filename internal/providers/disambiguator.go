package providers

import (
	"context"
	"strings"

	"github.com/minionlabs/minion-api/internal/verify"
)

// Disambiguator checks one address against a secondary provider that answers
// {"emailStatus": "valid"} for a confirmed mailbox.
type Disambiguator struct {
	name string
	url  string
	t    transport
}

var _ verify.Disambiguator = (*Disambiguator)(nil)

// NewDisambiguator creates a secondary provider client named name.
func NewDisambiguator(name, url string, opts *Options) *Disambiguator {
	return &Disambiguator{name: name, url: url, t: newTransport(name, opts)}
}

// Name identifies the provider in logs and errors.
func (d *Disambiguator) Name() string { return d.name }

type checkRequest struct {
	Email string `json:"email"`
}

type checkResponse struct {
	EmailStatus string `json:"emailStatus"`
	// Older deployments answer with this key instead.
	LegacyStatus string `json:"EMAIL-status"`
}

// Check reports whether the provider confirms the address.
func (d *Disambiguator) Check(ctx context.Context, address string) (bool, error) {
	var resp checkResponse
	if err := d.t.postJSON(ctx, d.url, nil, checkRequest{Email: address}, &resp); err != nil {
		return false, err
	}
	status := resp.EmailStatus
	if status == "" {
		status = resp.LegacyStatus
	}
	return strings.EqualFold(strings.TrimSpace(status), "valid"), nil
}
