package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/account"
	accountrepo "github.com/ovaphlow/pitchfork/service-learning-auth/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/apierr"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/authz"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/config"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/password"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/ratelimit"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/router"
	"github.com/ovaphlow/pitchfork/service-learning-auth/internal/token"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/database"
	"github.com/ovaphlow/pitchfork/service-learning-auth/pkg/utilities"
)

func main() {
	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	if err := run(sugar); err != nil {
		sugar.Fatalw("service stopped", "err", err)
	}
	sugar.Info("goodbye")
}

func run(sugar *zap.SugaredLogger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.EphemeralSecret {
		sugar.Warn("JWT_SECRET not set; using a generated secret, tokens will not survive a restart")
	}
	sugar.Infow("starting service-learning-auth", "env", cfg.AppEnv, "store", cfg.StoreDriver, "rate_limit", cfg.RateLimitBackend)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openAccounts(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer closeRepo()

	store, closeStore, err := openRateLimitStore(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer closeStore()

	hasher, err := password.New(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return err
	}
	tokens, err := token.NewService(cfg.JWTSecret, nil)
	if err != nil {
		return err
	}
	provider := metrics.NewProvider(sugar, cfg.MetricsInterval)
	otel.SetMeterProvider(provider)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			sugar.Warnw("metrics shutdown failed", "err", err)
		}
	}()
	recorder, err := metrics.New(provider)
	if err != nil {
		return err
	}

	responder := apierr.NewResponder(cfg.DefaultLocale, sugar)
	accounts := account.NewService(repo, password.NewPool(hasher, cfg.HashConcurrency), utilities.NewIDGeneratorFromEnv(), sugar)

	deps := router.Deps{
		Logger:    sugar,
		Responder: responder,
		Accounts:  account.NewHandler(accounts, tokens, responder, recorder, sugar),
		Gate:      authz.NewGate(tokens, responder, recorder, sugar),
		Limiter:   ratelimit.New(store, recorder, sugar),
		Address:   ratelimit.ClientAddress(cfg.TrustProxy),
	}
	if cfg.PromptServiceURL != "" {
		target, err := url.Parse(cfg.PromptServiceURL)
		if err != nil {
			return err
		}
		deps.Prompts = router.PromptProxy(target, sugar)
	}

	// mount http server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.RegisterRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		sugar.Infow("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("http server failed: %w", err)
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnw("http server shutdown failed", "err", err)
	}
	return nil
}

func openAccounts(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (account.Repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		sugar.Warn("using in-memory account store; accounts are lost on restart")
		return accountrepo.NewMemoryRepo(), func() {}, nil
	}

	db, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if cfg.Migrate {
		if err := database.Migrate(ctx, db.DB); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return accountrepo.NewAccountRepo(db), func() { db.Close() }, nil
}

func openRateLimitStore(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (ratelimit.Store, func(), error) {
	if cfg.RateLimitBackend == config.RateLimitRedis {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return ratelimit.NewRedisStore(client, cfg.RedisPrefix), func() { client.Close() }, nil
	}

	store := ratelimit.NewMemoryStore(clockwork.NewRealClock())
	sweepCtx, cancel := context.WithCancel(ctx)
	go store.Run(sweepCtx, cfg.RateLimitSweep)
	sugar.Debugw("rate limit sweeper started", "interval", cfg.RateLimitSweep)
	return store, cancel, nil
}
