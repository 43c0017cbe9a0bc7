package api

import (
	"net/http"

	"github.com/coloring-service/internal/errors"
)

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	balance, err := s.credits.Balance(r.Context(), userID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	limit, offset := parsePagination(r)
	events, err := s.credits.Events(r.Context(), userID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// purchaseRequest records the ledger effect of a completed checkout. The
// checkout itself happens outside this service.
type purchaseRequest struct {
	Amount     int64  `json:"amount"`
	PaymentRef string `json:"payment_ref"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		respondError(w, errors.NewUnauthorizedError("missing bearer token"))
		return
	}

	var req purchaseRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	balance, err := s.credits.Purchase(r.Context(), userID, req.Amount, req.PaymentRef)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}
