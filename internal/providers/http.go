// Package providers implements HTTP clients for the external verification and
// enrichment services.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/minionlabs/minion-api/internal/verify"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is the user agent string for outbound requests.
const DefaultUserAgent = "minion-api/1.0"

// maxErrorBody caps how much of a failed response is kept for logs.
const maxErrorBody = 512

// Options configures a provider client.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

func (o *Options) client() *http.Client {
	if o != nil && o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := DefaultTimeout
	if o != nil && o.Timeout > 0 {
		timeout = o.Timeout
	}
	return &http.Client{Timeout: timeout}
}

func (o *Options) userAgent() string {
	if o != nil && o.UserAgent != "" {
		return o.UserAgent
	}
	return DefaultUserAgent
}

type transport struct {
	name      string
	client    *http.Client
	userAgent string
}

func newTransport(name string, opts *Options) transport {
	return transport{name: name, client: opts.client(), userAgent: opts.userAgent()}
}

// postJSON sends payload as JSON and decodes a 2xx response into out. Any
// transport failure or non-2xx status is a *verify.ProviderError.
func (t transport) postJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", t.name, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return &verify.ProviderError{Provider: t.name, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", t.userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return t.do(req, out)
}

func (t transport) do(req *http.Request, out any) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return &verify.ProviderError{Provider: t.name, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &verify.ProviderError{
			Provider:   t.name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", bytes.TrimSpace(snippet)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &verify.ProviderError{Provider: t.name, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
