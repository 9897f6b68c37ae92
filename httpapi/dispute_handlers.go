package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pawpool/auth"
	"pawpool/dispute"
	"pawpool/pool"
)

type disputeView struct {
	ID             string           `json:"id"`
	ContractID     string           `json:"contract_id"`
	RaisedBy       string           `json:"raised_by"`
	Reason         string           `json:"reason"`
	Status         dispute.Status   `json:"status"`
	ResolutionType *pool.Resolution `json:"resolution_type,omitempty"`
	AdminNote      *string          `json:"admin_note,omitempty"`
	ResolvedBy     *string          `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

func toDisputeView(rec dispute.Record) disputeView {
	return disputeView{
		ID:             rec.ID,
		ContractID:     rec.ContractID,
		RaisedBy:       rec.RaisedBy,
		Reason:         rec.Reason,
		Status:         rec.Status,
		ResolutionType: rec.ResolutionType,
		AdminNote:      rec.AdminNote,
		ResolvedBy:     rec.ResolvedBy,
		ResolvedAt:     rec.ResolvedAt,
		CreatedAt:      rec.CreatedAt,
	}
}

func toDisputeViews(recs []dispute.Record) []disputeView {
	out := make([]disputeView, len(recs))
	for i, rec := range recs {
		out[i] = toDisputeView(rec)
	}
	return out
}

func (s *Server) handleFileDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractID string `json:"contract_id"`
		Reason     string `json:"reason"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.disputes.File(r.Context(), dispute.FileParams{
		ContractID: req.ContractID,
		RaisedBy:   userFrom(r.Context()),
		Reason:     req.Reason,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, struct {
		Dispute     disputeView `json:"dispute"`
		FrozenCount int         `json:"frozen_count"`
	}{Dispute: toDisputeView(result.Dispute), FrozenCount: result.FrozenCount})
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	recs, err := s.disputes.ListForUser(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Disputes []disputeView `json:"disputes"`
	}{Disputes: toDisputeViews(recs)})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := s.disputes.Get(ctx, chi.URLParam(r, "id"), userFrom(ctx), roleFrom(ctx) == auth.RoleAdmin)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toDisputeView(rec))
}

func (s *Server) handleAdminListDisputes(w http.ResponseWriter, r *http.Request) {
	recs, err := s.disputes.ListAll(r.Context(), dispute.Status(r.URL.Query().Get("status")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Disputes []disputeView `json:"disputes"`
	}{Disputes: toDisputeViews(recs)})
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputes.StartReview(r.Context(), chi.URLParam(r, "id"), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toDisputeView(rec))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResolutionType pool.Resolution `json:"resolution_type"`
		AdminNote      string          `json:"admin_note"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.disputes.Resolve(r.Context(), dispute.ResolveParams{
		DisputeID:  chi.URLParam(r, "id"),
		Resolution: req.ResolutionType,
		AdminNote:  req.AdminNote,
		AdminID:    userFrom(r.Context()),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Dispute   disputeView `json:"dispute"`
		Refunded  int         `json:"refunded"`
		Forfeited int         `json:"forfeited"`
		Unfrozen  int         `json:"unfrozen"`
		Failed    int         `json:"failed"`
	}{
		Dispute:   toDisputeView(result.Dispute),
		Refunded:  result.Outcome.Refunded,
		Forfeited: result.Outcome.Forfeited,
		Unfrozen:  result.Outcome.Unfrozen,
		Failed:    result.Outcome.Failed,
	})
}
