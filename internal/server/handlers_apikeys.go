package server

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/minionlabs/minion-api/internal/server/middleware"
	"github.com/minionlabs/minion-api/internal/types"
)

const (
	apiKeyBytes     = 32
	apiKeyPrefixLen = 8
)

// newAPIKey returns a random hex key and its display prefix.
func newAPIKey() (key, prefix string, err error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate api key: %w", err)
	}
	key = hex.EncodeToString(buf)
	return key, key[:apiKeyPrefixLen], nil
}

// hashAPIKey is the stored form of a key.
func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// handleGenerateAPIKey issues a new key, revoking any previous one. The raw
// key is only ever returned here.
func (s *Server) handleGenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	key, prefix, err := newAPIKey()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.db.ReplaceAPIKey(r.Context(), userID, hashAPIKey(key), prefix); err != nil {
		s.fail(w, r, err)
		return
	}

	s.logger.Info("api key generated", zap.String("account_id", userID.String()), zap.String("prefix", prefix))
	s.jsonResponse(w, http.StatusCreated, types.APIKeyResponse{Key: key, Prefix: prefix})
}

func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	key, err := s.db.GetActiveAPIKey(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if key == nil {
		s.errorResponse(w, http.StatusNotFound, "No API key")
		return
	}
	s.jsonResponse(w, http.StatusOK, key)
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	revoked, err := s.db.RevokeAPIKey(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !revoked {
		s.errorResponse(w, http.StatusNotFound, "No API key")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"message": "API key revoked"})
}
