package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pawpool/auth"
	"pawpool/config"
	"pawpool/contract"
	"pawpool/db"
	"pawpool/dispute"
	"pawpool/gateway"
	"pawpool/httpapi"
	"pawpool/logging"
	"pawpool/payment"
	"pawpool/pool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pgPool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pgPool.Close()

	paymongo := gateway.NewPayMongo(cfg.PayMongoBaseURL, cfg.PayMongoSecretKey, log)

	paymentRepo := payment.NewRepository(pgPool)
	contractRepo := contract.NewRepository(pgPool)
	disputeRepo := dispute.NewRepository(pgPool)
	ledger := pool.NewLedger()

	engine := pool.NewEngine(pgPool, paymentRepo, ledger, disputeRepo, paymongo, log)
	reports := pool.NewReports(pgPool)
	disputeSvc := dispute.NewService(pgPool, disputeRepo, contractRepo, engine, cfg.DisputeMinReasonLen, log)
	authSvc := auth.NewService(auth.NewRepository(pgPool), cfg.JWTSecret)

	server := httpapi.New(httpapi.Config{
		Auth:      authSvc,
		Disputes:  disputeSvc,
		Engine:    engine,
		Reports:   reports,
		Payments:  paymentRepo,
		Contracts: contractRepo,
		Log:       log,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown http server", zap.Error(err))
		}
	}()

	log.Info("api listening", zap.String("addr", cfg.HTTPAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve http", zap.Error(err))
	}
}
