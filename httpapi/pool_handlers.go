package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"pawpool/auth"
	"pawpool/pool"
)

type transactionView struct {
	ID           string          `json:"id"`
	PaymentID    *string         `json:"payment_id"`
	ContractID   string          `json:"contract_id"`
	UserID       string          `json:"user_id"`
	Type         pool.TxType     `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Status       pool.TxStatus   `json:"status"`
	Description  string          `json:"description"`
	ProcessedAt  time.Time       `json:"processed_at"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toTransactionViews(txs []pool.Transaction) []transactionView {
	out := make([]transactionView, len(txs))
	for i, t := range txs {
		out[i] = transactionView{
			ID:           t.ID,
			PaymentID:    t.PaymentID,
			ContractID:   t.ContractID,
			UserID:       t.UserID,
			Type:         t.Type,
			Amount:       t.Amount,
			BalanceAfter: t.BalanceAfter,
			Status:       t.Status,
			Description:  t.Description,
			ProcessedAt:  t.ProcessedAt,
			CreatedAt:    t.CreatedAt,
		}
	}
	return out
}

func (s *Server) handleUserBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.reports.UserBalance(r.Context(), userFrom(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Balance decimal.Decimal `json:"balance"`
	}{Balance: balance})
}

func (s *Server) handleUserTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	txs, err := s.reports.ListTransactions(r.Context(), pool.TxFilters{
		UserID:     userFrom(r.Context()),
		ContractID: q.Get("contract_id"),
		Type:       pool.TxType(q.Get("type")),
		Status:     pool.TxStatus(q.Get("status")),
		Limit:      limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Transactions []transactionView `json:"transactions"`
	}{Transactions: toTransactionViews(txs)})
}

func (s *Server) handleContractSummary(w http.ResponseWriter, r *http.Request) {
	contractID := chi.URLParam(r, "id")

	// Parties see their own contract; admins see any.
	if roleFrom(r.Context()) != auth.RoleAdmin {
		if _, err := s.contracts.GetForParty(r.Context(), contractID, userFrom(r.Context())); err != nil {
			s.writeError(w, err)
			return
		}
	} else if _, err := s.contracts.GetByID(r.Context(), contractID); err != nil {
		s.writeError(w, err)
		return
	}

	summary, err := s.reports.Summary(r.Context(), contractID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		ContractID     string          `json:"contract_id"`
		TotalDeposits  decimal.Decimal `json:"total_deposits"`
		TotalReleases  decimal.Decimal `json:"total_releases"`
		TotalRefunds   decimal.Decimal `json:"total_refunds"`
		TotalPenalties decimal.Decimal `json:"total_penalties"`
		HeldBalance    decimal.Decimal `json:"held_balance"`
		FrozenCount    int             `json:"frozen_count"`
		HasDispute     bool            `json:"has_dispute"`
	}{
		ContractID:     summary.ContractID,
		TotalDeposits:  summary.TotalDeposits,
		TotalReleases:  summary.TotalReleases,
		TotalRefunds:   summary.TotalRefunds,
		TotalPenalties: summary.TotalPenalties,
		HeldBalance:    summary.HeldBalance,
		FrozenCount:    summary.FrozenCount,
		HasDispute:     summary.HasDispute,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reports.Statistics(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		TotalBalance           decimal.Decimal `json:"total_balance"`
		FrozenAmount           decimal.Decimal `json:"frozen_amount"`
		DepositsThisMonth      decimal.Decimal `json:"deposits_this_month"`
		DepositsCountThisMonth int             `json:"deposits_count_this_month"`
		DepositsGrowthPct      decimal.Decimal `json:"deposits_growth_pct"`
		ReleasesThisMonth      decimal.Decimal `json:"releases_this_month"`
		ReleasesCountThisMonth int             `json:"releases_count_this_month"`
		ReleasesGrowthPct      decimal.Decimal `json:"releases_growth_pct"`
	}{
		TotalBalance:           stats.TotalBalance,
		FrozenAmount:           stats.FrozenAmount,
		DepositsThisMonth:      stats.DepositsThisMonth,
		DepositsCountThisMonth: stats.DepositsCountThisMonth,
		DepositsGrowthPct:      stats.DepositsGrowthPct,
		ReleasesThisMonth:      stats.ReleasesThisMonth,
		ReleasesCountThisMonth: stats.ReleasesCountThisMonth,
		ReleasesGrowthPct:      stats.ReleasesGrowthPct,
	})
}

func (s *Server) handleMonthlyFlow(w http.ResponseWriter, r *http.Request) {
	months, _ := strconv.Atoi(r.URL.Query().Get("months"))
	flow, err := s.reports.MonthlyFlow(r.Context(), months)
	if err != nil {
		s.writeError(w, err)
		return
	}

	type monthView struct {
		Month    string          `json:"month"`
		Deposits decimal.Decimal `json:"deposits"`
		Releases decimal.Decimal `json:"releases"`
	}
	out := make([]monthView, len(flow))
	for i, f := range flow {
		out[i] = monthView{
			Month:    f.Month.Format("2006-01"),
			Deposits: f.Deposits,
			Releases: f.Releases,
		}
	}
	s.writeJSON(w, http.StatusOK, struct {
		Months []monthView `json:"months"`
	}{Months: out})
}

func (s *Server) handleAdminTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	txs, err := s.reports.ListTransactions(r.Context(), pool.TxFilters{
		ContractID: q.Get("contract_id"),
		UserID:     q.Get("user_id"),
		Type:       pool.TxType(q.Get("type")),
		Status:     pool.TxStatus(q.Get("status")),
		Limit:      limit,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Transactions []transactionView `json:"transactions"`
	}{Transactions: toTransactionViews(txs)})
}

func (s *Server) handleReleaseCollateral(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ReleaseCollateral(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Released int `json:"released"`
		Failed   int `json:"failed"`
	}{Released: result.Released, Failed: result.Failed})
}

func (s *Server) handleReleaseShooterPayment(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ReleaseShooterPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Released int `json:"released"`
		Failed   int `json:"failed"`
	}{Released: result.Released, Failed: result.Failed})
}

func (s *Server) handleCancellation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CancellingUserID string `json:"cancelling_user_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	c, err := s.contracts.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.engine.HandleCancellation(r.Context(), c, req.CancellingUserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Processed int `json:"processed"`
		Failed    int `json:"failed"`
	}{Processed: result.Processed, Failed: result.Failed})
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.UnfreezeContractFunds(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Unfrozen int `json:"unfrozen"`
	}{Unfrozen: n})
}
