package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/soundlift/promo-monitor/internal/api"
	"github.com/soundlift/promo-monitor/internal/config"
	"github.com/soundlift/promo-monitor/internal/dataset"
	"github.com/soundlift/promo-monitor/internal/pkg/distlock"
	"github.com/soundlift/promo-monitor/internal/pkg/logger"
	"github.com/soundlift/promo-monitor/internal/provider"
	"github.com/soundlift/promo-monitor/internal/ratio"
	"github.com/soundlift/promo-monitor/internal/repository/postgres"
	"github.com/soundlift/promo-monitor/internal/runner"
	"github.com/soundlift/promo-monitor/internal/sheets"
	"github.com/soundlift/promo-monitor/internal/stats"
	"github.com/soundlift/promo-monitor/internal/supervisor"
)

const sheetLockTTL = 24 * time.Hour

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		logger.Error("connecting to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Sheet locks fall back to Postgres advisory locks.
			logger.Warn("redis unreachable, falling back to advisory locks", "addr", cfg.Redis.Addr, "error", err)
			redisClient = nil
		}
		cancel()
	}

	datasetSource, err := dataset.New(cfg.Dataset)
	if err != nil {
		logger.Error("opening historical dataset", "source", cfg.Dataset.Source, "error", err)
		os.Exit(1)
	}

	sheetsClient, err := sheets.NewClient(cfg.Sheets)
	if err != nil {
		logger.Error("creating sheets client", "error", err)
		os.Exit(1)
	}

	providerClient := provider.NewClient(cfg.Provider)

	sup := supervisor.New(supervisor.Deps{
		Repo:      postgres.NewCampaignRepository(db),
		Stats:     stats.NewClient(cfg.YouTube),
		Predictor: ratio.New(datasetSource),
		Provider:  providerClient,
		Sheets:    sheetsClient,
		Policy:    runner.PolicyFromConfig(cfg.Cadence),
		NewLock: func(sheetRef string) distlock.DistLock {
			return distlock.NewSheetLock(redisClient, db, sheetRef, sheetLockTTL)
		},
	})

	restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sup.Restore(restoreCtx); err != nil {
		logger.Error("restoring campaigns", "error", err)
		cancel()
		os.Exit(1)
	}
	cancel()
	logger.Info("campaigns restored", "active", sup.ActiveCount())

	router := api.NewRouter(api.NewHandlers(sup, providerClient))
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("operator API listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		os.Exit(1)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	// Runners mark their campaigns Completed on the way out, so a restart
	// will not restore them twice mid-flight.
	if err := sup.StopAll(shutdownCtx); err != nil {
		logger.Warn("stopping campaigns", "error", err)
	}
	logger.Info("shutdown complete")
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}
