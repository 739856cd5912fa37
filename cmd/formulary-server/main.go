package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/formulary/formulary/internal/config"
	"github.com/formulary/formulary/internal/domain/formulary"
	"github.com/formulary/formulary/internal/domain/nomenclature"
	"github.com/formulary/formulary/internal/domain/prescribing"
	"github.com/formulary/formulary/internal/platform/db"
	"github.com/formulary/formulary/internal/platform/middleware"
	"github.com/formulary/formulary/internal/platform/rxnav"
)

const appName = "formulary-server"

func main() {
	// Money values go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Formulary coverage and prescribing cost API",
		SilenceUsage:  true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(rankCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the formulary API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", appName).Logger().Level(level)
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return logger
}

// openPool loads config and connects, for commands that need the database.
func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		AppName:  appName,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func newFormularyService(cfg *config.Config, pool *pgxpool.Pool) *formulary.Service {
	return formulary.NewService(
		formulary.NewEntryRepoPG(pool),
		formulary.NewPlanRepoPG(pool),
		formulary.NewCoverageRepoPG(pool),
		formulary.Options{PlanCap: cfg.PlanCandidateCap, Concurrency: cfg.PlanWorkers()},
	)
}

// newServer builds the echo instance with middleware and every route mounted.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID},
	}))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", db.HealthHandler(pool, 2*time.Second))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	formularySvc := newFormularyService(cfg, pool)
	formulary.NewHandler(formularySvc).RegisterRoutes(apiV1)

	prescribingRepo := prescribing.NewRepoPG(pool)
	prescribing.NewHandler(prescribing.NewService(prescribingRepo)).RegisterRoutes(apiV1)

	rxnavClient := rxnav.New(cfg.RxNavBaseURL, cfg.RxNavTimeout)
	nomenclature.NewHandler(nomenclature.NewService(rxnavClient, prescribingRepo)).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	ctx := context.Background()

	cfg, pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	logger := newLogger(cfg)
	logger.Info().
		Int("plan_cap", cfg.PlanCandidateCap).
		Int("plan_workers", cfg.PlanWorkers()).
		Msg("connected to database")

	e := newServer(cfg, logger, pool)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
