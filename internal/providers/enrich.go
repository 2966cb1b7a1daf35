package providers

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// enrichPaths maps each enrichment kind to its backend endpoint.
var enrichPaths = map[types.EnrichKind]string{
	types.EnrichEmail: "/api/GetEmailResponse",
	types.EnrichPhone: "/api/GetPhoneNumberResponse",
	types.EnrichBoth:  "/api/GetBothResponse",
}

// EnrichRequest is one CSV forwarded to the enrichment backend.
type EnrichRequest struct {
	Kind          types.EnrichKind
	FileName      string
	CSV           []byte
	Email         string
	MappedOptions string
}

// EnrichResult is the backend's answer: the enriched rows and how many input
// rows were actually enriched.
type EnrichResult struct {
	TotalEnriched int        `json:"totalEnriched"`
	Data          [][]string `json:"data"`
}

// EnrichClient forwards CSV uploads to the enrichment backend.
type EnrichClient struct {
	baseURL string
	t       transport
}

// NewEnrichClient creates a client rooted at baseURL.
func NewEnrichClient(baseURL string, opts *Options) *EnrichClient {
	return &EnrichClient{baseURL: strings.TrimRight(baseURL, "/"), t: newTransport("enrich", opts)}
}

// Enrich uploads the CSV as multipart form data and returns the result.
func (c *EnrichClient) Enrich(ctx context.Context, req EnrichRequest) (*EnrichResult, error) {
	path, ok := enrichPaths[req.Kind]
	if !ok {
		return nil, fmt.Errorf("enrich kind %q: %w", req.Kind, verify.ErrInvalidInput)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("csv", req.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.CSV); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	for k, v := range map[string]string{"email": req.Email, "mappedOptions": req.MappedOptions} {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return nil, &verify.ProviderError{Provider: c.t.name, Err: err}
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.t.userAgent)

	var res EnrichResult
	if err := c.t.do(httpReq, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
