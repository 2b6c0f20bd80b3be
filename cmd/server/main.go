package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/go-charity/auth-server/internal/audit"
	auditrepo "github.com/go-charity/auth-server/internal/audit/repository"
	"github.com/go-charity/auth-server/internal/config"
	"github.com/go-charity/auth-server/internal/db"
	healthhandler "github.com/go-charity/auth-server/internal/health/handler"
	identityhandler "github.com/go-charity/auth-server/internal/identity/handler"
	"github.com/go-charity/auth-server/internal/identity/service"
	"github.com/go-charity/auth-server/internal/logging"
	"github.com/go-charity/auth-server/internal/mailer"
	otprepo "github.com/go-charity/auth-server/internal/otp/repository"
	profilerepo "github.com/go-charity/auth-server/internal/profile/repository"
	"github.com/go-charity/auth-server/internal/profilesync"
	refreshrepo "github.com/go-charity/auth-server/internal/refresh/repository"
	"github.com/go-charity/auth-server/internal/security"
	"github.com/go-charity/auth-server/internal/server"
	"github.com/go-charity/auth-server/internal/server/middleware"
	"github.com/go-charity/auth-server/internal/telemetry"
	telemetryotel "github.com/go-charity/auth-server/internal/telemetry/otel"
	"github.com/go-charity/auth-server/internal/telemetry/producer"
	userrepo "github.com/go-charity/auth-server/internal/user/repository"
)

const (
	serviceName     = "auth-server"
	shutdownTimeout = 15 * time.Second
	readinessEvery  = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server exited", "error", err)
		os.Exit(1)
	}
}

// tokenStores returns the refresh and OTP stores selected by TOKEN_STORE, plus the Redis client
// when one was opened.
func tokenStores(ctx context.Context, cfg *config.Config, sqlDB *sql.DB) (service.RefreshStore, service.OTPStore, *redis.Client, error) {
	if cfg.TokenStore != config.TokenStoreRedis {
		return refreshrepo.NewPostgresRepository(sqlDB), otprepo.NewPostgresRepository(sqlDB), nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return refreshrepo.NewRedisRepository(rdb, ""), otprepo.NewRedisRepository(rdb, ""), rdb, nil
}

func newDispatcher(cfg *config.Config) (mailer.Dispatcher, *mailer.Outbox, error) {
	if cfg.MailDevOutbox {
		o := mailer.NewOutbox()
		return o, o, nil
	}
	d, err := mailer.NewSMTPDispatcher(cfg.SMTPAddr, cfg.SMTPUsername, cfg.SMTPPassword)
	if err != nil {
		return nil, nil, err
	}
	return d, nil, nil
}

func run(ctx context.Context, cfg *config.Config, log logging.Logger) error {
	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: serviceName,
		Insecure:    cfg.OTelInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()

	var kafka producer.Producer = producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuthEventsTopic)
	events := telemetry.Fanout{kafka, telemetryotel.NewEventEmitter(providers.LoggerProvider)}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPool)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	refreshStore, otpStore, rdb, err := tokenStores(ctx, cfg, sqlDB)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	codec, err := security.NewClaimCodec(cfg.JWTSecret, cfg.JWTOTPSecret, cfg.JWTAccessTTL)
	if err != nil {
		return err
	}
	hasher := security.NewHasher(cfg.BcryptCost)
	dispatcher, outbox, err := newDispatcher(cfg)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	users := userrepo.NewPostgresRepository(sqlDB)
	profiles := profilerepo.NewPostgresRepository(sqlDB)

	obs, err := service.NewObserver(log, events, providers.TracerProvider, providers.MeterProvider)
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}
	tokens := service.NewTokenService(codec, refreshStore, obs, service.TokenOptions{
		RefreshValidDays: cfg.RefreshValidDays,
		OTPAccessTTL:     cfg.OTPAccessTTL,
	})
	otps, err := service.NewOTPService(tokens, users, profiles, otpStore, hasher, dispatcher,
		profilesync.NewClient(cfg.AccountAPIURL, cfg.AccountAPIKey), obs,
		service.OTPOptions{MailFrom: cfg.MailFrom, CodeTTL: cfg.OTPTTL})
	if err != nil {
		return fmt.Errorf("otp service: %w", err)
	}
	accounts, err := service.NewAccountService(tokens, users, profiles, hasher, obs, service.AccountOptions{})
	if err != nil {
		return fmt.Errorf("account service: %w", err)
	}

	checks := map[string]healthhandler.Pinger{"postgres": sqlDB}
	if rdb != nil {
		checks["redis"] = healthhandler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	health := healthhandler.NewServer(checks, log)

	deps := server.Deps{
		Auth:      identityhandler.NewAuthHandler(accounts, otps, tokens, log, identityhandler.Options{SecureCookies: cfg.IsProduction()}),
		Readiness: health,
		Audit:     audit.NewLogger(auditrepo.NewPostgresRepository(sqlDB), middleware.ClientIPFromContext, log),
		Events:    events,
		APIKey:    cfg.APIKey,
		Log:       log,
	}
	if outbox != nil {
		log.Warn(ctx, "dev outbox enabled: OTP emails are kept in memory and served at "+server.DevOutboxPath)
		deps.DevOutbox = outbox
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewHTTPHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	grpcSrv := server.NewGRPCServer(health)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go health.Watch(watchCtx, readinessEvery)

	errCh := make(chan error, 2)
	go func() {
		log.Info(ctx, "gRPC health server listening", "addr", cfg.GRPCAddr)
		errCh <- grpcSrv.Serve(lis)
	}()
	go func() {
		log.Info(ctx, "HTTP server listening", "addr", cfg.HTTPAddr, "token_store", cfg.TokenStore)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down")
	case serveErr = <-errCh:
		log.Error(ctx, "server stopped unexpectedly", "error", serveErr)
	}

	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown", "error", err)
	}
	grpcSrv.GracefulStop()

	// let in-flight async telemetry emits finish before the exporters go away
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := kafka.Close(); err != nil {
		log.Warn(shutdownCtx, "kafka close", "error", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "otel shutdown", "error", err)
	}
	return serveErr
}
