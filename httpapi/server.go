package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pawpool/auth"
	"pawpool/contract"
	"pawpool/dispute"
	"pawpool/payment"
	"pawpool/pool"
)

// AuthService is the identity surface the router needs.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

// DisputeService covers dispute filing and admin resolution.
type DisputeService interface {
	File(ctx context.Context, params dispute.FileParams) (dispute.FileResult, error)
	StartReview(ctx context.Context, disputeID, adminID string) (dispute.Record, error)
	Resolve(ctx context.Context, params dispute.ResolveParams) (dispute.ResolveResult, error)
	Get(ctx context.Context, disputeID, userID string, admin bool) (dispute.Record, error)
	ListForUser(ctx context.Context, userID string) ([]dispute.Record, error)
	ListAll(ctx context.Context, status dispute.Status) ([]dispute.Record, error)
}

// PoolEngine covers the fund movements the workflow endpoints trigger.
type PoolEngine interface {
	DepositToPool(ctx context.Context, paymentID string) (pool.DepositResult, error)
	ReleaseCollateral(ctx context.Context, contractID string) (pool.ReleaseResult, error)
	ReleaseShooterPayment(ctx context.Context, contractID string) (pool.ReleaseResult, error)
	HandleCancellation(ctx context.Context, c contract.Contract, cancellingUserID string) (pool.CancellationResult, error)
	UnfreezeContractFunds(ctx context.Context, contractID string) (int, error)
}

// PoolReports covers the read-only aggregates.
type PoolReports interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	UserBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	Summary(ctx context.Context, contractID string) (pool.ContractSummary, error)
	Statistics(ctx context.Context) (pool.Statistics, error)
	MonthlyFlow(ctx context.Context, months int) ([]pool.MonthFlow, error)
	ListTransactions(ctx context.Context, filters pool.TxFilters) ([]pool.Transaction, error)
}

// PaymentStore covers the webhook confirmation path.
type PaymentStore interface {
	MarkPaid(ctx context.Context, id, gatewayPaymentID string) (payment.Payment, error)
}

// ContractStore resolves contracts for access checks.
type ContractStore interface {
	GetByID(ctx context.Context, id string) (contract.Contract, error)
	GetForParty(ctx context.Context, id, userID string) (contract.Contract, error)
}

// Server wires the HTTP surface together.
type Server struct {
	auth      AuthService
	disputes  DisputeService
	engine    PoolEngine
	reports   PoolReports
	payments  PaymentStore
	contracts ContractStore
	log       *zap.Logger

	router http.Handler
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Auth      AuthService
	Disputes  DisputeService
	Engine    PoolEngine
	Reports   PoolReports
	Payments  PaymentStore
	Contracts ContractStore
	Log       *zap.Logger
}

func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	s := &Server{
		auth:      cfg.Auth,
		disputes:  cfg.Disputes,
		engine:    cfg.Engine,
		reports:   cfg.Reports,
		payments:  cfg.Payments,
		contracts: cfg.Contracts,
		log:       cfg.Log,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)
		api.Post("/webhooks/paymongo", s.handlePaymentWebhook)

		api.Group(func(protected chi.Router) {
			protected.Use(s.authenticate)

			protected.Get("/pool/balance", s.handleUserBalance)
			protected.Get("/pool/transactions", s.handleUserTransactions)
			protected.Get("/contracts/{id}/pool", s.handleContractSummary)

			protected.Post("/disputes", s.handleFileDispute)
			protected.Get("/disputes", s.handleListDisputes)
			protected.Get("/disputes/{id}", s.handleGetDispute)

			protected.Group(func(admin chi.Router) {
				admin.Use(s.requireAdmin)

				admin.Get("/admin/disputes", s.handleAdminListDisputes)
				admin.Post("/admin/disputes/{id}/review", s.handleStartReview)
				admin.Put("/admin/disputes/{id}/resolve", s.handleResolveDispute)

				admin.Get("/admin/pool/statistics", s.handleStatistics)
				admin.Get("/admin/pool/monthly-flow", s.handleMonthlyFlow)
				admin.Get("/admin/pool/transactions", s.handleAdminTransactions)

				admin.Post("/admin/contracts/{id}/release-collateral", s.handleReleaseCollateral)
				admin.Post("/admin/contracts/{id}/release-shooter-payment", s.handleReleaseShooterPayment)
				admin.Post("/admin/contracts/{id}/cancel", s.handleCancellation)
				admin.Post("/admin/contracts/{id}/unfreeze", s.handleUnfreeze)
			})
		})
	})

	return r
}
