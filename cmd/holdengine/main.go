package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"github.com/cimillas/holdengine/internal/app"
	"github.com/cimillas/holdengine/internal/clock"
	"github.com/cimillas/holdengine/internal/config"
	"github.com/cimillas/holdengine/internal/lock"
	"github.com/cimillas/holdengine/internal/storage/memory"
	"github.com/cimillas/holdengine/internal/storage/postgres"
	transporthttp "github.com/cimillas/holdengine/internal/transport/http"
	"github.com/cimillas/holdengine/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		healthcheck bool
		sweepOnce   bool
	)

	flagSet := pflag.NewFlagSet("holdengine", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("HOLDENGINE_CONFIG"), "path to a YAML config file (env: HOLDENGINE_CONFIG)")
	flagSet.BoolVar(&healthcheck, "healthcheck", false, "check /healthz of a running server and exit")
	flagSet.BoolVar(&sweepOnce, "sweep-once", false, "remove expired holds once and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	config.LoadDotEnv(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	if healthcheck {
		return checkHealth(cfg.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	if sweepOnce {
		n, err := eng.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		logger.Info("sweep complete", slog.Int("removed", n))
		return nil
	}

	startSweeper(ctx, eng.sweeper, logger)
	defer eng.sweeper.Stop()

	router := transporthttp.NewRouter(transporthttp.Services{
		Holds:      eng.holds,
		Bookings:   eng.coordinator,
		Conversion: eng.holds,
		Sweeper:    eng.sweeper,
		Admin:      eng.admin,
		History:    eng.history,
		Ping:       eng.ping,
	}, cfg.CORSOrigins, logger)

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	logger.Info("holdengine listening",
		slog.Int("port", cfg.Port),
		slog.String("storage", cfg.Storage),
		slog.Duration("hold_ttl", cfg.HoldTTL),
	)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// checkHealth lets container health checks reuse the binary.
func checkHealth(port int) error {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) + "/healthz")
	if err != nil {
		return fmt.Errorf("healthcheck: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck: status %d", resp.StatusCode)
	}
	return nil
}

type startupSweeper interface {
	Sweep(ctx context.Context) (int, error)
	EnsureScheduled()
}

// startSweeper clears holds that expired while the process was down, then
// starts the periodic sweep. A failed first sweep is retried by the ticker.
func startSweeper(ctx context.Context, s startupSweeper, logger *slog.Logger) {
	if n, err := s.Sweep(ctx); err != nil {
		logger.Warn("startup sweep failed", slog.String("error", err.Error()))
	} else {
		logger.Info("startup sweep complete", slog.Int("removed", n))
	}
	s.EnsureScheduled()
}

type engine struct {
	holds       *app.HoldService
	coordinator *app.BookingCoordinator
	admin       *app.AdminService
	sweeper     *app.Sweeper
	history     transporthttp.HoldHistory
	ping        transporthttp.Pinger
	close       func()
}

// holdCleaner lets the sweeper be built before the hold service it sweeps
// for, so the hold service can schedule it.
type holdCleaner struct {
	svc *app.HoldService
}

func (c *holdCleaner) CleanupExpired(ctx context.Context) (int, error) {
	return c.svc.CleanupExpired(ctx)
}

type backend struct {
	holds      app.HoldRepository
	conversion app.ConversionRepository
	admin      app.AdminRepository
	events     app.EventPublisher
	history    transporthttp.HoldHistory
	locker     lock.Locker
	ping       transporthttp.Pinger
	close      func()
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	var (
		be  backend
		err error
	)
	switch cfg.Storage {
	case config.StorageMemory:
		be = memoryBackend()
	default:
		be, err = postgresBackend(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	clk := clock.NewSystem()
	events := app.MultiPublisher{be.events, app.NewLogPublisher(logger)}

	cleaner := &holdCleaner{}
	sweeper := app.NewSweeper(cleaner, cfg.SweepInterval, logger)
	holds := app.NewHoldService(be.holds, be.locker, clk,
		app.WithHoldTTL(cfg.HoldTTL),
		app.WithLockTimeout(cfg.LockTimeout),
		app.WithMaxQuantity(cfg.MaxQuantity),
		app.WithMaxHoldsPerSession(cfg.MaxHoldsPerSession),
		app.WithEventPublisher(events),
		app.WithCleanupScheduler(sweeper),
		app.WithConversion(app.NewConversionService(be.conversion, clk, events, logger)),
		app.WithLogger(logger),
	)
	cleaner.svc = holds

	return &engine{
		holds:       holds,
		coordinator: app.NewBookingCoordinator(holds, logger),
		admin:       app.NewAdminService(be.admin, clk),
		sweeper:     sweeper,
		history:     be.history,
		ping:        be.ping,
		close:       be.close,
	}, nil
}

func memoryBackend() backend {
	store := memory.NewStore()
	return backend{
		holds:      store,
		conversion: store,
		admin:      store,
		events:     store,
		history:    store,
		locker:     lock.NewMemoryLocker(),
		close:      func() {},
	}
}

func postgresBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backend, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return backend{}, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)

	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(startupCtx, poolCfg)
	if err != nil {
		return backend{}, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(startupCtx); err != nil {
		pool.Close()
		return backend{}, fmt.Errorf("db ping: %w", err)
	}
	applied, err := migrations.Apply(startupCtx, pool)
	if err != nil {
		pool.Close()
		return backend{}, fmt.Errorf("apply migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", slog.Any("files", applied))
	}

	events := postgres.NewEventRepository(pool)
	return backend{
		holds:      postgres.NewHoldRepository(pool),
		conversion: postgres.NewBookingRepository(pool),
		admin:      postgres.NewAdminRepository(pool),
		events:     events,
		history:    events,
		locker:     postgres.NewAdvisoryLocker(pool),
		ping:       pool.Ping,
		close:      pool.Close,
	}, nil
}
