package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labreview/labreview/internal/config"
	"github.com/labreview/labreview/internal/domain/auditlog"
	"github.com/labreview/labreview/internal/domain/normalization"
	"github.com/labreview/labreview/internal/domain/pipeline"
	"github.com/labreview/labreview/internal/domain/reference"
	"github.com/labreview/labreview/internal/domain/review"
	"github.com/labreview/labreview/internal/domain/trend"
	"github.com/labreview/labreview/internal/platform/auth"
	"github.com/labreview/labreview/internal/platform/db"
	"github.com/labreview/labreview/internal/platform/events"
	"github.com/labreview/labreview/internal/platform/lock"
	"github.com/labreview/labreview/internal/platform/metrics"
	"github.com/labreview/labreview/internal/platform/middleware"
	"github.com/labreview/labreview/internal/platform/redisconn"
	"github.com/labreview/labreview/internal/platform/reporting"
	"github.com/labreview/labreview/migrations"
)

const version = "0.1.0"

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the review API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", false, "Apply pending migrations before serving")
	return cmd
}

func runServer(migrate bool) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	if migrate {
		n, err := db.NewMigrator(pool, migrations.FS, logger).Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	audit := auditPipeline(cfg, auditlog.NewSinkPG(pool), logger)
	defer audit.Close()

	b := backends{
		store:     reference.NewGuard(reference.NewStorePG(pool), cfg.LookupTimeout, cfg.LookupRPS, cfg.LookupBurst),
		records:   normalization.NewRepoPG(pool),
		audit:     audit,
		locker:    lock.NewKeyedMutex(),
		reviews:   review.NewRepoPG(pool),
		publisher: events.NewLogPublisher(logger),
	}

	// Redis is optional: with it, trend locks span replicas and decisions go
	// to a stream.
	if cfg.RedisURL != "" {
		rdb, err := redisconn.Open(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		b.locker = lock.NewRedisLocker(rdb, "labreview", logger)
		b.publisher = events.NewStreamPublisher(rdb, cfg.ReviewStream)
		logger.Info().Str("stream", cfg.ReviewStream).Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set; using in-process trend locks and log publisher")
	}

	svcs := buildServices(cfg, b, logger)
	e := newEcho(cfg, logger)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.PoolHealthHandler(pool))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	apiV1.Use(authMiddleware(cfg))
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	pipeline.NewHandler(svcs.runner).RegisterRoutes(apiV1)
	normalization.NewHandler(svcs.normalizer).RegisterRoutes(apiV1)
	trend.NewHandler(svcs.trends).RegisterRoutes(apiV1)
	review.NewHandler(svcs.reviews).RegisterRoutes(apiV1)
	reporting.NewHandler(reporting.NewEvaluator(reporting.NewPGQuerier(pool)), svcs.reviews).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.BatchBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	return e
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}
