package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/jansgame/roundwatch/internal/alerts"
	"github.com/jansgame/roundwatch/internal/api"
	"github.com/jansgame/roundwatch/internal/assets"
	"github.com/jansgame/roundwatch/internal/chain"
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/jansgame/roundwatch/internal/eventlog"
	"github.com/jansgame/roundwatch/internal/gamestats"
	"github.com/jansgame/roundwatch/internal/player"
	"github.com/jansgame/roundwatch/internal/pricefeed"
	"github.com/jansgame/roundwatch/internal/processor"
	"github.com/jansgame/roundwatch/internal/round"
	"github.com/jansgame/roundwatch/internal/storage"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)

	log.Info("Starting roundwatch service...")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	log.WithFields(logrus.Fields{
		"environment":       cfg.Environment,
		"network":           cfg.NetworkName,
		"chain_id":          cfg.ExpectedChainID,
		"game_contract":     cfg.GameContractAddress,
		"poll_interval_sec": cfg.PollIntervalSec,
		"alert_mode":        cfg.AlertMode,
		"persistence":       cfg.DatabaseDSN != "",
	}).Info("Configuration loaded")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	client := chain.NewClient(cfg, nil, log)
	if err := initChain(ctx, client, log); err != nil {
		log.WithError(err).Fatal("Failed to connect to chain")
	}
	game, err := client.Contract()
	if err != nil {
		log.WithError(err).Fatal("Game contract unavailable")
	}
	dex, err := client.Dex()
	if err != nil {
		log.WithError(err).Fatal("DEX reader unavailable")
	}
	provider, err := client.Provider()
	if err != nil {
		log.WithError(err).Fatal("Provider unavailable")
	}

	// Optional shared price cache
	var cache pricefeed.Cache
	if cfg.RedisAddr != "" {
		rc := pricefeed.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rc.Ping(ctx); err != nil {
			log.WithError(err).Warn("Redis unreachable, running without price cache")
			_ = rc.Close()
		} else {
			defer rc.Close()
			cache = rc
			log.WithField("addr", cfg.RedisAddr).Info("Redis price cache connected")
		}
	}
	feed := pricefeed.New(cfg, client, cache, log)

	var maintenance *round.MaintenanceWindow
	if cfg.MaintenanceEnabled {
		w, err := round.ParseMaintenanceWindow(cfg.MaintenanceWeekday, cfg.MaintenanceStart, cfg.MaintenanceDuration)
		if err != nil {
			log.WithError(err).Fatal("Invalid maintenance window")
		}
		maintenance = &w
		log.WithFields(logrus.Fields{
			"window":     w.String(),
			"next_start": w.Next(time.Now()).Format(time.RFC3339),
		}).Info("Maintenance window enabled")
	}
	deriver := round.NewDeriver(game, maintenance, log)

	// Optional persistence. Interfaces stay nil rather than holding a nil *DB.
	var (
		checkpoints eventlog.Checkpointer
		roundStore  processor.RoundStore
		history     api.RoundHistory
	)
	if cfg.DatabaseDSN != "" {
		db, err := storage.New(cfg, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		if err := db.AutoMigrate(); err != nil {
			log.WithError(err).Fatal("Failed to run database migrations")
		}
		log.Info("Database migrations complete")
		checkpoints, roundStore, history = db, db, db
	}

	fetcher := eventlog.NewFetcher(provider, game, cfg.LogBatchBlocks, cfg.LogBatchConcurrency, cfg.BlockTimeCacheSize, log)
	tracker := eventlog.NewTracker(fetcher, checkpoints, eventlog.WindowConfig{
		MinBlocks:    cfg.LogMinWindowBlocks,
		MaxBlocks:    cfg.LogMaxWindowBlocks,
		AvgBlockTime: cfg.AvgBlockTime,
	}, log)

	collector := gamestats.NewCollector(game, dex, feed, common.HexToAddress(cfg.TokenAddress), cfg.TokenDecimals, cfg.LPTokenDecimals)

	alertSender := alerts.FromConfig(cfg, log)
	log.WithField("alert_mode", cfg.AlertMode).Info("Alert sender initialized")

	proc := processor.New(cfg, deriver, feed, tracker, collector, roundStore, alertSender, log)

	gin.SetMode(gin.ReleaseMode)
	server := api.NewServer(proc, player.NewService(game, log), assets.NewStore(cfg.DataDir, log), history, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		log.WithField("port", cfg.HTTPPort).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	log.Info("Starting round polling loop")
	proc.Run(ctx, cfg.PollInterval(), cfg.CycleTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	log.Info("Graceful shutdown complete")
}

// initChain retries the initial dial with backoff until it succeeds or ctx ends
func initChain(ctx context.Context, client *chain.Client, log *logrus.Logger) error {
	backoff := 2 * time.Second
	for {
		err := client.Init(ctx)
		if err == nil {
			return nil
		}
		log.WithError(err).WithField("retry_in", backoff.String()).Warn("Chain client init failed")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, time.Minute)
	}
}
