package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/authgrid/authgrid/pkg/api"
	"github.com/authgrid/authgrid/pkg/apikey"
	"github.com/authgrid/authgrid/pkg/audit"
	"github.com/authgrid/authgrid/pkg/auth"
	"github.com/authgrid/authgrid/pkg/cache"
	"github.com/authgrid/authgrid/pkg/config"
	"github.com/authgrid/authgrid/pkg/middleware"
	"github.com/authgrid/authgrid/pkg/observability"
	"github.com/authgrid/authgrid/pkg/orgs"
	"github.com/authgrid/authgrid/pkg/policy"
	"github.com/authgrid/authgrid/pkg/ratelimit"
	"github.com/authgrid/authgrid/pkg/session"
)

const sweepInterval = time.Hour

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, os.Stdout)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("database unreachable")
		os.Exit(1)
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Error("redis unreachable")
		os.Exit(1)
	}

	cacheMetrics := cache.NewMetrics().
		WithCollectors(metrics.CacheHitsTotal, metrics.CacheMissesTotal, metrics.CacheLoadsTotal).
		WithLockTimeoutCollector(metrics.CacheLockTimeouts)
	cacheEngine := cache.NewEngine(redisClient, logger, cacheMetrics)

	userStore := auth.NewPostgresUserStore(db)
	userCache := cache.NewUserCache(cacheEngine, userStore)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer,
		cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTTLDays)
	sessions := session.NewManager(session.NewPostgresStore(db), tokens, logger)
	keys := apikey.NewService(apikey.NewPostgresStore(db), cacheEngine, logger, cfg.Auth.APIKeyEnv)
	orgService := orgs.NewPostgresService(db)

	limiter := ratelimit.NewLoginLimiter(redisClient, ratelimit.Config{
		PerIPLimit:       cfg.RateLimit.PerIPLimit,
		PerIPWindow:      cfg.RateLimit.PerIPWindow,
		PerIdentityLimit: cfg.RateLimit.PerIdentityLimit,
		IdentityWindow:   cfg.RateLimit.IdentityWindow,
		BlockDuration:    cfg.RateLimit.BlockDuration,
	})

	policyEngine := policy.NewEngine(cacheEngine, orgService)
	mw := middleware.NewMiddleware(policyEngine, logger, metrics)
	jwtAuth := middleware.NewJWTAuthenticator(tokens, userCache)
	apiKeyAuth := middleware.NewAPIKeyAuthenticator(keys, userCache, orgService, metrics)

	health := observability.NewHealthChecker()
	health.Register("postgres", db.PingContext)
	health.Register("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	cookie := api.CookieConfig{
		Path:   cfg.Auth.CookiePath,
		MaxAge: cfg.Auth.RefreshTTLDays * 24 * 60 * 60,
		Secure: cfg.IsProduction(),
	}
	recorder := audit.NewPostgresRecorder(db, logger)
	authHandlers := api.NewAuthHandlers(userStore, sessions, tokens, limiter,
		orgService, logger, metrics, recorder, cookie)
	keyHandlers := api.NewAPIKeyHandlers(keys, logger, recorder)
	orgHandlers := api.NewOrgHandlers(orgService, logger, recorder)
	server := api.NewServer(authHandlers, keyHandlers, orgHandlers, mw, jwtAuth, apiKeyAuth, health, metrics)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return runSweeper(ctx, logger, metrics, sessions, keys)
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// runSweeper periodically deletes expired sessions and API keys
func runSweeper(ctx context.Context, logger *observability.Logger, metrics *observability.Metrics,
	sessions *session.Manager, keys *apikey.Service) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if count, err := sessions.SweepExpired(sweepCtx); err != nil {
				logger.WithError(err).Warn("session sweep failed")
			} else if count > 0 {
				metrics.SessionsSwept.Add(float64(count))
				logger.Infof("swept %d expired sessions", count)
			}
			if count, err := keys.SweepExpired(sweepCtx); err != nil {
				logger.WithError(err).Warn("api key sweep failed")
			} else if count > 0 {
				logger.Infof("swept %d expired api keys", count)
			}
			cancel()
		}
	}
}
