package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"mailwatch-go/internal/config"
	"mailwatch-go/internal/db"
	"mailwatch-go/internal/handlers"
	"mailwatch-go/internal/ingest"
	"mailwatch-go/internal/lock"
	"mailwatch-go/internal/mailbox"
	"mailwatch-go/internal/metrics"
	"mailwatch-go/internal/notify"
	"mailwatch-go/internal/quota"
	"mailwatch-go/internal/scheduler"
	"mailwatch-go/internal/server"
	"mailwatch-go/internal/spam"
	"mailwatch-go/internal/store"
)

// Run initializes and starts the application
func Run() error {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	logrus.Info("Starting Mailwatch Service")

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	st := store.NewGormStore(dbConn)

	blacklist := spam.NewBlacklist(cfg.Spam.BlacklistedDomains...)
	scorer := spam.NewScorer(blacklist)

	var quotaSvc quota.Service
	if cfg.Quota.Enabled {
		quotaSvc = quota.NewHTTPClient(cfg.Quota.BaseURL, cfg.Quota.Timeout)
		logrus.Info("Quota checks enabled")
	} else {
		quotaSvc = quota.Static{Allowed: true}
	}

	providers := notify.NewProviders(cfg.Notify)
	if len(providers) == 0 {
		logrus.Warn("No notification providers configured")
	}
	dispatcher := notify.NewDispatcher(st, quotaSvc, providers, m, cfg.Notify)

	dialer := mailbox.NewDialer(cfg.Mailbox.ConnectTimeout)
	engine := ingest.NewEngine(st, dialer, scorer, dispatcher, m, cfg.Mailbox.FallbackWindow)

	locker := lock.NewDBLocker(dbConn, cfg.Scheduler.RunDeadline)
	sched := scheduler.NewScheduler(&cfg.Scheduler, st, engine, dispatcher, locker, m)

	h := handlers.NewHandlers(dbConn, st, sched, blacklist, cfg.Server.TriggerSecret)
	router := server.SetupRouter(h)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return nil
}
