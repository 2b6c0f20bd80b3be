// Worker purges expired refresh and OTP records and aged-out audit rows every SWEEP_INTERVAL.
// With TOKEN_STORE=redis the token stores are skipped: Redis expires those keys itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	auditrepo "github.com/go-charity/auth-server/internal/audit/repository"
	"github.com/go-charity/auth-server/internal/config"
	"github.com/go-charity/auth-server/internal/db"
	"github.com/go-charity/auth-server/internal/logging"
	otprepo "github.com/go-charity/auth-server/internal/otp/repository"
	refreshrepo "github.com/go-charity/auth-server/internal/refresh/repository"
	"github.com/go-charity/auth-server/internal/sweeper"
)

func main() {
	cfg, err := config.Read()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log logging.Logger) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlDB.Close()

	purgers := make(map[string]sweeper.Purger)
	if cfg.TokenStore != config.TokenStoreRedis {
		purgers["refresh_records"] = refreshrepo.NewPostgresRepository(sqlDB)
		purgers["otp_records"] = otprepo.NewPostgresRepository(sqlDB)
	}
	if cfg.AuditRetention > 0 {
		purgers["audit_logs"] = sweeper.Retain(cfg.AuditRetention, auditrepo.NewPostgresRepository(sqlDB).DeleteBefore)
	}
	if len(purgers) == 0 {
		log.Info(ctx, "worker: nothing to sweep")
		return nil
	}

	log.Info(ctx, "worker: sweeping", "interval", cfg.SweepInterval.String(), "token_store", cfg.TokenStore)
	sweeper.New(purgers, log).Run(ctx, cfg.SweepInterval)
	log.Info(context.WithoutCancel(ctx), "worker: stopped")
	return nil
}
