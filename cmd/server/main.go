package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"ledger-api/internal/config"
	"ledger-api/internal/controller"
	"ledger-api/internal/database"
	"ledger-api/internal/dispute"
	"ledger-api/internal/events"
	"ledger-api/internal/ledger"
	"ledger-api/internal/monitoring"
	"ledger-api/internal/reconciliation"
	"ledger-api/internal/risk"
	"ledger-api/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	db, err := database.Initialize(ctx, cfg)
	cancel()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize databases")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.Enabled {
		p, err := events.NewPublisher(cfg.RabbitMQ)
		if err != nil {
			logrus.WithError(err).Warn("Event publishing disabled, broker unreachable")
		} else {
			publisher = p
		}
	}

	metrics := monitoring.NewMetrics()
	repos := db.Repositories

	detector := risk.NewDetector(repos.Ledger, repos.Dispute, cfg.Risk)
	disputeWriter := dispute.NewWriter(repos.Account, repos.Dispute, publisher, metrics, cfg.Risk)
	reviewService := dispute.NewReviewService(repos.Account, repos.Ledger, repos.Dispute, publisher)

	ledgerService := ledger.NewService(
		repos.Account,
		repos.Ledger,
		detector,
		disputeWriter,
		db,
		cfg.Risk,
		ledger.Options{
			Locker:      repos.LockManager,
			Idempotency: repos.Idempotency,
			Publisher:   publisher,
			Metrics:     metrics,
			LockTTL:     cfg.Redis.LockTTL,
			IdemTTL:     cfg.Redis.IdempotencyTTL,
		},
	)

	reconciler := reconciliation.NewEngine(repos.Account, repos.Ledger, repos.LockManager, metrics)
	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Monitoring.ReconciliationSchedule, func() {
		runCtx, runCancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer runCancel()
		if _, err := reconciler.ReconcileAll(runCtx, cfg.Monitoring.ReconciliationBatch); err != nil {
			logrus.WithError(err).Error("Reconciliation sweep failed")
		}
	})
	if err != nil {
		logrus.WithError(err).Fatal("Invalid reconciliation schedule")
	}
	scheduler.Start()

	ledgerCtrl := controller.NewLedgerController(ledgerService)
	disputeCtrl := controller.NewDisputeController(disputeWriter, reviewService)

	healthCheck := func() error {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer checkCancel()
		return db.HealthCheck(checkCtx)
	}
	router := controller.SetupRouter(ledgerCtrl, disputeCtrl, healthCheck, cfg)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logrus.WithField("addr", server.Addr).Info("Ledger API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	scheduler.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
	if err := publisher.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close event publisher")
	}
	if err := db.Close(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Failed to close database connections")
	}

	logrus.Info("Shutdown complete")
}
