// Package report builds the final verification report and renders it for export.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/minionlabs/minion-api/internal/types"
)

// Report keys merged into the uploaded input document.
const (
	KeyValid         = "ValidEmails"
	KeyCatchAllValid = "CatchAllValidEmails"
	KeyInvalid       = "InvalidEmails"
	KeyUnknown       = "UnknownEmails"
	KeyMXRecords     = "MXRecords"
	KeyMXProviders   = "MXProviders"
)

// Build merges the categorized emails into the original input document and
// returns it pretty-printed. all supplies the MX columns in the order given.
func Build(original []byte, resolved types.Resolved, all []types.EmailRecord) ([]byte, error) {
	doc := map[string]any{}
	if len(original) > 0 {
		if err := json.Unmarshal(original, &doc); err != nil {
			return nil, fmt.Errorf("original input is not a JSON object: %w", err)
		}
		if doc == nil {
			doc = map[string]any{}
		}
	}

	doc[KeyValid] = addresses(resolved.Valid)
	doc[KeyCatchAllValid] = addresses(resolved.CatchAllValid)
	doc[KeyInvalid] = addresses(resolved.Invalid)
	doc[KeyUnknown] = addresses(resolved.Unknown)

	mxRecords := make([]string, len(all))
	mxProviders := make([]string, len(all))
	for i, rec := range all {
		mxRecords[i] = rec.MXRecord
		mxProviders[i] = rec.MXProvider
	}
	doc[KeyMXRecords] = mxRecords
	doc[KeyMXProviders] = mxProviders

	return json.MarshalIndent(doc, "", "  ")
}

// Categories is the categorized address lists of a built report.
type Categories struct {
	Valid         []string `json:"ValidEmails"`
	CatchAllValid []string `json:"CatchAllValidEmails"`
	Invalid       []string `json:"InvalidEmails"`
	Unknown       []string `json:"UnknownEmails"`
}

// ParseCategories extracts the category lists from a report produced by Build.
func ParseCategories(doc []byte) (*Categories, error) {
	var c Categories
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &c, nil
}

func addresses(recs []types.EmailRecord) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Address
	}
	return out
}
