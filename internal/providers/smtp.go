package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// StatusCompleted is the primary provider's terminal job status.
const StatusCompleted = "completed"

// SMTPConfig addresses the primary bulk verification service.
type SMTPConfig struct {
	SubmitURL string
	StatusURL string
	APIKey    string
}

// SMTPClient talks to the primary bulk verification service.
type SMTPClient struct {
	cfg SMTPConfig
	t   transport
}

var _ verify.PrimaryProvider = (*SMTPClient)(nil)

// NewSMTPClient creates a client for the primary provider.
func NewSMTPClient(cfg SMTPConfig, opts *Options) *SMTPClient {
	return &SMTPClient{cfg: cfg, t: newTransport("primary", opts)}
}

type submitRequest struct {
	Emails []string `json:"emails"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit creates a bulk job and returns the provider's job id.
func (c *SMTPClient) Submit(ctx context.Context, emails []string) (string, error) {
	var resp submitResponse
	if err := c.t.postJSON(ctx, c.cfg.SubmitURL, c.headers(), submitRequest{Emails: emails}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &verify.ProviderError{Provider: c.t.name, Err: errors.New("response has no job id")}
	}
	return resp.ID, nil
}

type statusEmail struct {
	Email    string  `json:"email"`
	Result   string  `json:"result"`
	Provider string  `json:"provider"`
	MXRecord *string `json:"mx_record"`
}

type statusResponse struct {
	ID     string        `json:"id"`
	Status string        `json:"status"`
	Emails []statusEmail `json:"emails"`
}

// Status polls a bulk job. The job id travels in the ID header.
func (c *SMTPClient) Status(ctx context.Context, jobID string) (*verify.PrimaryStatus, error) {
	headers := c.headers()
	headers["ID"] = jobID

	var resp statusResponse
	if err := c.t.postJSON(ctx, c.cfg.StatusURL, headers, nil, &resp); err != nil {
		return nil, err
	}

	st := &verify.PrimaryStatus{Completed: strings.EqualFold(resp.Status, StatusCompleted)}
	if !st.Completed {
		return st, nil
	}
	st.Emails = make([]types.EmailRecord, len(resp.Emails))
	for i, e := range resp.Emails {
		rec := types.EmailRecord{
			Address:         e.Email,
			Result:          e.Result,
			MailboxProvider: e.Provider,
			MXProvider:      e.Provider,
		}
		if e.MXRecord != nil {
			rec.MXRecord = *e.MXRecord
		}
		st.Emails[i] = rec
	}
	return st, nil
}

func (c *SMTPClient) headers() map[string]string {
	h := map[string]string{}
	if c.cfg.APIKey != "" {
		h["x-mails-api-key"] = c.cfg.APIKey
	}
	return h
}
