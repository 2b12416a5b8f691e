// Command server runs the bill assistant backend: the HTTP API, the outbox
// dispatcher that relays acquirer operations, and the background jobs that
// execute due scheduled payments and sweep overdue bills.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wells/bill-assistant-backend/internal/acquirer"
	"github.com/wells/bill-assistant-backend/internal/config"
	"github.com/wells/bill-assistant-backend/internal/guard"
	httpapi "github.com/wells/bill-assistant-backend/internal/http"
	"github.com/wells/bill-assistant-backend/internal/ledger"
	"github.com/wells/bill-assistant-backend/internal/observability"
	"github.com/wells/bill-assistant-backend/internal/outbox"
	"github.com/wells/bill-assistant-backend/internal/repo"
	"github.com/wells/bill-assistant-backend/internal/scheduler"
	"github.com/wells/bill-assistant-backend/internal/services"
	"github.com/wells/bill-assistant-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("opening database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Guard state: Redis when configured, process memory otherwise.
	var store guard.StateStore
	var memStore *guard.MemoryStore
	if cfg.Redis.Addr != "" {
		store = guard.NewRedisStore(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis guard store")
	} else {
		memStore = guard.NewMemoryStore()
		store = memStore
	}

	acq := acquirer.NewMock()
	led := ledger.New(db)

	// Background workers.
	dispatcher := outbox.New(db, acq, led)
	dispatcher.Interval = cfg.Outbox.Interval
	dispatcher.BatchSize = cfg.Outbox.BatchSize
	go dispatcher.Run(ctx)

	paySvc := &services.PaymentService{DB: db, Acquirer: acq, Ledger: led}
	executor := &scheduler.PaymentExecutor{
		Scheduled: &services.ScheduledPaymentService{DB: db, Payments: paySvc},
		Interval:  cfg.Scheduler.ExecutorInterval,
	}
	go executor.Run(ctx)

	sweeper := &scheduler.BillOverdueSweeper{
		Bills:    &services.BillService{DB: db},
		Interval: cfg.Scheduler.SweepInterval,
	}
	go sweeper.Run(ctx)

	if memStore != nil {
		stateSweeper := &scheduler.StateSweeper{Store: memStore, Interval: cfg.Scheduler.SweepInterval}
		go stateSweeper.Run(ctx)
	}

	// HTTP transport.
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, store, acq, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}
