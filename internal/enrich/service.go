// Package enrich forwards contact-enrichment CSVs to the enrichment backend
// and charges only for the rows it actually enriched.
package enrich

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minionlabs/minion-api/internal/providers"
	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// LogStore persists enrichment logs.
type LogStore interface {
	CreateEnrichLog(ctx context.Context, l *types.EnrichLog) error
	CompleteEnrichLog(ctx context.Context, id uuid.UUID, outputURL string, creditsUsed int) error
	DeleteEnrichLog(ctx context.Context, id uuid.UUID) error
}

// Backend is the enrichment service.
type Backend interface {
	Enrich(ctx context.Context, req providers.EnrichRequest) (*providers.EnrichResult, error)
}

// Config names the buckets enrichment files are written to.
type Config struct {
	InputBucket  string
	OutputBucket string
}

// Deps are the collaborators of a Service.
type Deps struct {
	Ledger  verify.Ledger
	Prices  verify.PriceBook
	Logs    LogStore
	Backend Backend
	Storage verify.ObjectStore
	Logger  *zap.Logger
}

// Request is one uploaded CSV.
type Request struct {
	OwnerID       uuid.UUID
	OwnerEmail    string
	Kind          types.EnrichKind
	FileName      string
	CSV           []byte
	MappedOptions string
}

// Result reports what was enriched and charged.
type Result struct {
	LogID           uuid.UUID  `json:"logID"`
	TotalEnriched   int        `json:"totalEnriched"`
	CreditsDeducted int        `json:"creditsDeducted"`
	CreditsUsed     int        `json:"creditsUsed"`
	Refunded        int        `json:"refunded"`
	OutputURL       string     `json:"outputURL"`
	Data            [][]string `json:"data"`
}

// Service runs enrichment requests.
type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// NewService creates an enrichment service.
func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.InputBucket == "" {
		cfg.InputBucket = "enrich-input"
	}
	if cfg.OutputBucket == "" {
		cfg.OutputBucket = "enrich-output"
	}
	return &Service{deps: deps, cfg: cfg, now: time.Now}
}

// CountRows returns the number of data rows in a CSV, excluding the header.
func CountRows(data []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: malformed csv: %w", verify.ErrInvalidInput, err)
		}
		rows++
	}
	if rows <= 1 {
		return 0, fmt.Errorf("%w: csv has no data rows", verify.ErrInvalidInput)
	}
	return rows - 1, nil
}

// Run charges for every input row up front, forwards the CSV, and refunds the
// rows the backend did not enrich. A backend failure refunds everything and
// removes the log.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	switch req.Kind {
	case types.EnrichEmail, types.EnrichPhone, types.EnrichBoth:
	default:
		return nil, fmt.Errorf("%w: unknown enrichment kind %q", verify.ErrInvalidInput, req.Kind)
	}
	rows, err := CountRows(req.CSV)
	if err != nil {
		return nil, err
	}

	price, err := s.deps.Prices.CurrentPrice(ctx, types.ServiceEnrich)
	if err != nil {
		return nil, fmt.Errorf("failed to read enrich price: %w", err)
	}
	cost := rows * price
	if _, err := s.deps.Ledger.Deduct(ctx, req.OwnerID, cost); err != nil {
		return nil, err
	}

	log := s.deps.Logger.With(zap.String("owner_id", req.OwnerID.String()), zap.String("kind", string(req.Kind)))
	logID := uuid.New()

	inputKey := fmt.Sprintf("%s-%d-%s", req.OwnerID, s.now().UnixMilli(), req.FileName)
	inputURL, err := s.deps.Storage.Put(ctx, s.cfg.InputBucket, inputKey, req.CSV, types.VisibilityPrivate, types.ContentTypeCSV)
	if err != nil {
		s.refund(ctx, log, req.OwnerID, cost)
		return nil, fmt.Errorf("%w: upload enrich input: %w", verify.ErrStorage, err)
	}

	entry := &types.EnrichLog{
		ID:              logID,
		OwnerID:         req.OwnerID,
		Kind:            req.Kind,
		FileName:        req.FileName,
		InputURL:        inputURL,
		Status:          types.EnrichStatusPending,
		CreditsDeducted: cost,
	}
	if err := s.deps.Logs.CreateEnrichLog(ctx, entry); err != nil {
		s.refund(ctx, log, req.OwnerID, cost)
		return nil, fmt.Errorf("%w: %w", verify.ErrPersistence, err)
	}

	out, err := s.deps.Backend.Enrich(ctx, providers.EnrichRequest{
		Kind:          req.Kind,
		FileName:      req.FileName,
		CSV:           req.CSV,
		Email:         req.OwnerEmail,
		MappedOptions: req.MappedOptions,
	})
	if err != nil {
		log.Warn("enrichment backend failed", zap.Error(err))
		s.refund(ctx, log, req.OwnerID, cost)
		if delErr := s.deps.Logs.DeleteEnrichLog(ctx, logID); delErr != nil {
			log.Error("failed to delete enrich log", zap.String("log_id", logID.String()), zap.Error(delErr))
		}
		return nil, err
	}

	// A backend count outside [0, rows] never charges more than was deducted
	// or refunds more than was charged.
	used := min(max(out.TotalEnriched, 0)*price, cost)
	refunded := 0
	if cost-used > 0 {
		refunded = cost - used
		s.refund(ctx, log, req.OwnerID, refunded)
	}

	output, err := encodeCSV(out.Data)
	if err != nil {
		return nil, err
	}
	outputURL, err := s.deps.Storage.Put(ctx, s.cfg.OutputBucket, logID.String()+".csv", output, types.VisibilityPublicRead, types.ContentTypeCSV)
	if err != nil {
		// The log stays pending so the charged request is still visible.
		return nil, fmt.Errorf("%w: upload enrich output: %w", verify.ErrStorage, err)
	}
	if err := s.deps.Logs.CompleteEnrichLog(ctx, logID, outputURL, used); err != nil {
		return nil, fmt.Errorf("%w: %w", verify.ErrPersistence, err)
	}

	log.Info("enrichment completed",
		zap.String("log_id", logID.String()),
		zap.Int("rows", rows),
		zap.Int("enriched", out.TotalEnriched),
		zap.Int("refunded", refunded))

	return &Result{
		LogID:           logID,
		TotalEnriched:   out.TotalEnriched,
		CreditsDeducted: cost,
		CreditsUsed:     used,
		Refunded:        refunded,
		OutputURL:       outputURL,
		Data:            out.Data,
	}, nil
}

func (s *Service) refund(ctx context.Context, log *zap.Logger, owner uuid.UUID, amount int) {
	if _, err := s.deps.Ledger.Refund(ctx, owner, amount); err != nil {
		log.Error("refund failed", zap.Int("amount", amount), zap.Error(err))
	}
}

func encodeCSV(data [][]string) ([]byte, error) {
	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(data); err != nil {
		return nil, fmt.Errorf("failed to write enrich output: %w", err)
	}
	return []byte(buf.String()), nil
}
