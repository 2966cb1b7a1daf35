// Package server provides the HTTP REST API for the verification service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/minionlabs/minion-api/internal/config"
	"github.com/minionlabs/minion-api/internal/db"
	"github.com/minionlabs/minion-api/internal/enrich"
	"github.com/minionlabs/minion-api/internal/providers"
	"github.com/minionlabs/minion-api/internal/server/middleware"
	"github.com/minionlabs/minion-api/internal/server/ratelimit"
	"github.com/minionlabs/minion-api/internal/storage"
	"github.com/minionlabs/minion-api/internal/types"
	"github.com/minionlabs/minion-api/internal/verify"
)

// Pipeline drives verification jobs.
type Pipeline interface {
	Submit(ctx context.Context, req verify.SubmitRequest) (*types.VerificationJob, error)
	CheckStatus(ctx context.Context, id string) (*verify.Outcome, error)
	Resume(ctx context.Context, id string, stageCode int) (*verify.Outcome, error)
	ResumeAny(ctx context.Context, id string) (*verify.Outcome, error)
}

// Enricher runs contact enrichment requests.
type Enricher interface {
	Run(ctx context.Context, req enrich.Request) (*enrich.Result, error)
}

// ObjectReader fetches stored reports by URL.
type ObjectReader interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Deps are the collaborators of a Server. New builds them from configuration;
// tests pass fakes to NewWithDeps.
type Deps struct {
	DB       DBClient
	Pipeline Pipeline
	Enricher Enricher
	Storage  ObjectReader
	Logger   *zap.Logger
	// Close releases resources owned by the deps, such as the database pool.
	Close func()
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	db          DBClient
	pipeline    Pipeline
	enricher    Enricher
	storage     ObjectReader
	closeDeps   func()
	logger      *zap.Logger
	rateLimiter *ratelimit.Limiter
	jwtService  *JWTService
	userService *UserService
	authHandler *AuthHandler
	corsOrigins []string

	// statusCalls collapses concurrent status checks of one job.
	statusCalls singleflight.Group
}

// New connects to the database and object store, builds the provider clients
// and the verification and enrichment services, and returns a ready Server.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store, err := storage.New(ctx, storage.Config{
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		Profile:         cfg.Storage.Profile,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		ForcePathStyle:  cfg.Storage.ForcePathStyle,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	opts := &providers.Options{Timeout: cfg.Providers.HTTPTimeout}
	driver := verify.NewDriver(verify.Deps{
		Ledger:      database,
		Prices:      database,
		Jobs:        database,
		Checkpoints: database,
		Primary: providers.NewSMTPClient(providers.SMTPConfig{
			SubmitURL: cfg.Providers.SMTPSubmitURL,
			StatusURL: cfg.Providers.SMTPStatusURL,
			APIKey:    cfg.Providers.SMTPAPIKey,
		}, opts),
		Router: verify.Router{
			Generic:   providers.NewDisambiguator("outlook", cfg.Providers.OutlookURL, opts),
			Workspace: providers.NewDisambiguator("gsuite", cfg.Providers.GsuiteURL, opts),
		},
		Storage: store,
		Logger:  logger.Named("verify"),
	}, verify.Config{
		PollAttempts: cfg.Polling.MaxAttempts,
		PollInterval: cfg.Polling.Interval,
		ClaimTTL:     cfg.Polling.ClaimTTL,
		InputBucket:  cfg.Storage.BucketInput,
		ReportBucket: cfg.Storage.BucketReports,
	})

	enricher := enrich.NewService(enrich.Deps{
		Ledger:  database,
		Prices:  database,
		Logs:    database,
		Backend: providers.NewEnrichClient(cfg.Providers.EnrichURL, opts),
		Storage: store,
		Logger:  logger.Named("enrich"),
	}, enrich.Config{
		InputBucket:  cfg.Storage.BucketEnrichIn,
		OutputBucket: cfg.Storage.BucketEnrich,
	})

	return NewWithDeps(cfg, Deps{
		DB:       database,
		Pipeline: driver,
		Enricher: enricher,
		Storage:  store,
		Logger:   logger,
		Close:    database.Close,
	}), nil
}

// NewWithDeps builds a Server around already constructed collaborators.
func NewWithDeps(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		db:          deps.DB,
		pipeline:    deps.Pipeline,
		enricher:    deps.Enricher,
		storage:     deps.Storage,
		closeDeps:   deps.Close,
		logger:      logger,
		rateLimiter: ratelimit.NewLimiter(ratelimit.FromConfig(cfg.RateLimit)),
		corsOrigins: cfg.CORSOrigins,
	}

	jwtConfig := cfg.JWT
	passwordConfig := cfg.Password
	s.jwtService = NewJWTService(&jwtConfig)
	s.userService = NewUserService(deps.DB, &passwordConfig, cfg.Admin)
	s.authHandler = NewAuthHandler(s.userService, s.jwtService, logger)

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(s.routes())))
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Status checks poll the primary provider for several minutes.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) routes() *http.ServeMux {
	userAuth := middleware.AuthMiddleware(s.jwtService.AsTokenValidator())
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return userAuth(middleware.RequireRole(middleware.RoleAdmin)(h))
	}
	userOnly := func(h http.HandlerFunc) http.Handler {
		return userAuth(middleware.RequireRole(middleware.RoleUser)(h))
	}
	apiKey := func(h http.HandlerFunc) http.Handler {
		return middleware.APIKeyMiddleware(s)(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// Accounts and sessions
	mux.HandleFunc("POST /user/register", s.authHandler.Register)
	mux.HandleFunc("POST /user/login", s.authHandler.Login)
	mux.Handle("GET /user/me", userOnly(s.authHandler.Me))
	mux.Handle("POST /user/updatePassword", userOnly(s.authHandler.UpdatePassword))
	mux.Handle("POST /user/generateAPIkey", userOnly(s.handleGenerateAPIKey))
	mux.Handle("GET /user/getAPIkey", userOnly(s.handleGetAPIKey))
	mux.Handle("POST /user/revokeAPIkey", userOnly(s.handleRevokeAPIKey))

	// Verification, session surface
	mux.Handle("POST /services/executeFileJsonInput", userOnly(s.handleExecuteFileJSONInput))
	mux.Handle("POST /services/checkStatus", userOnly(s.handleCheckStatus))

	// Verification, API-key surface
	mux.Handle("POST /v1/executeFileJsonInput", apiKey(s.handleExecuteFileJSONInput))
	mux.Handle("POST /v1/checkStatus", apiKey(s.handleCheckStatus))

	// Enrichment
	mux.Handle("POST /services/enrich/{kind}", userOnly(s.handleEnrich))
	mux.Handle("GET /services/enrich/logs", userOnly(s.handleListEnrichLogs))

	// Own logs
	mux.Handle("GET /logs", userOnly(s.handleListLogs))
	mux.Handle("POST /logs/getOneLog", userOnly(s.handleGetOneLog))
	mux.Handle("GET /logs/{id}/export", userOnly(s.handleExportLog))

	// Administration
	mux.HandleFunc("POST /admin/login", s.authHandler.AdminLogin)
	mux.Handle("POST /admin/runFrom1BreakPoint", adminOnly(s.resumeHandler(types.CodePrimary)))
	mux.Handle("POST /admin/runFrom2BreakPoint", adminOnly(s.resumeHandler(types.CodeSecondary)))
	mux.Handle("POST /admin/runFrom3BreakPoint", adminOnly(s.resumeHandler(types.CodeTertiary)))
	mux.Handle("POST /admin/resume", adminOnly(s.handleResumeAny))
	mux.Handle("GET /admin/verifyEmailLogs", adminOnly(s.handleAdminListLogs))
	mux.Handle("POST /admin/getOneVerifyEmailLog", adminOnly(s.handleAdminGetLog))
	mux.Handle("GET /admin/verifyEmailLogsByUser", adminOnly(s.handleAdminLogsByUser))
	mux.Handle("DELETE /admin/verifyEmailLog", adminOnly(s.handleAdminDeleteLog))
	mux.Handle("POST /admin/changePrice", adminOnly(s.handleChangePrice))
	mux.Handle("GET /admin/prices", adminOnly(s.handleListPrices))
	mux.Handle("GET /admin/users/{id}/credits", adminOnly(s.handleGetCredits))
	mux.Handle("POST /admin/updateCredits", adminOnly(s.handleUpdateCredits))

	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.Close()
	s.logger.Info("server stopped")
	return err
}

// Close stops background work and releases owned resources.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.rateLimiter = nil
	}
	if s.closeDeps != nil {
		s.closeDeps()
		s.closeDeps = nil
	}
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowAny := slices.Contains(s.corsOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAny:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.corsOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+middleware.APIKeyHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, clientID, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", s.extractClientID(r)))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data, s.logger)
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"message": message})
}

// fail maps err to a status and writes it. Server-side failures are logged;
// their details are not returned to the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	body := map[string]any{"message": publicMessage(err)}

	var bp *verify.BreakpointError
	if errors.As(err, &bp) {
		body["logID"] = bp.JobID
		body["stage"] = bp.Stage.Code()
		body["pending"] = bp.Pending
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		body["error"] = err.Error()
	}
	s.jsonResponse(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// decodeJSON reads a JSON request body of at most 1 MiB into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return &ErrValidation{Field: "body", Message: "invalid JSON"}
	}
	return nil
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr; X-Forwarded-For is not trusted.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}

	if info.RetryAfter > 0 {
		response["retry_after"] = int(info.RetryAfter.Seconds())
		w.Header().Set("Retry-After", fmt.Sprintf("%d", int(info.RetryAfter.Seconds())))
	}

	s.logger.Warn("rate limit exceeded",
		zap.String("client", clientID),
		zap.Int("limit", info.Limit),
		zap.Duration("retry_after", info.RetryAfter))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// ResolveAPIKey implements middleware.KeyResolver against the stored key hashes.
func (s *Server) ResolveAPIKey(ctx context.Context, key string) (uuid.UUID, error) {
	return s.db.AccountIDForKeyHash(ctx, hashAPIKey(strings.TrimSpace(key)))
}
