package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"pawpool/auth"
	"pawpool/contract"
	"pawpool/dispute"
	"pawpool/payment"
	"pawpool/pool"
)

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", zap.Error(err))
	}
}

// writeError maps the domain sentinels onto HTTP statuses. Non-party and
// missing resources both land on 404 so outsiders cannot probe for a
// contract's existence.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, contract.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispute.ErrReasonTooShort),
		errors.Is(err, dispute.ErrReasonTooLong),
		errors.Is(err, dispute.ErrNotDisputable),
		errors.Is(err, dispute.ErrInvalidResolution),
		errors.Is(err, auth.ErrWeakPassword):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, dispute.ErrDuplicate),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, pool.ErrActiveDispute),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, payment.ErrStaleStatus):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
		s.writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}
