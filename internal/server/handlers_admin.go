package server

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/minionlabs/minion-api/internal/types"
)

// handleChangePrice records a new price version for a service.
func (s *Server) handleChangePrice(w http.ResponseWriter, r *http.Request) {
	var req types.ChangePriceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}

	price, err := s.db.SetPrice(r.Context(), req.Service, req.NewPrice)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("price changed",
		zap.String("service", string(price.Service)),
		zap.Int("amount", price.Amount),
		zap.Int("version", price.Version))
	s.jsonResponse(w, http.StatusOK, map[string]any{"message": "Price updated", "price": price})
}

// handleListPrices returns the current price of every service.
func (s *Server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.db.ListPrices(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if prices == nil {
		prices = []types.Price{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"prices": prices})
}

// handleGetCredits returns an account's balance.
func (s *Server) handleGetCredits(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid user ID")
		return
	}
	account, err := s.userService.Account(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"userID": account.ID, "credits": account.Credits})
}

// handleUpdateCredits sets an account's balance.
func (s *Server) handleUpdateCredits(w http.ResponseWriter, r *http.Request) {
	var req types.UpdateCreditsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, http.StatusBadRequest, extractValidationErrors(err))
		return
	}
	id, err := uuid.Parse(req.UserID)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid user ID")
		return
	}

	account, err := s.db.SetCredits(r.Context(), id, *req.Credits)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("credits updated", zap.String("account_id", id.String()), zap.Int("credits", account.Credits))
	s.jsonResponse(w, http.StatusOK, map[string]any{"message": "Credits updated", "account": account})
}
