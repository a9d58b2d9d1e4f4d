package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/web3-frozen/portfolio-reporter/internal/config"
	"github.com/web3-frozen/portfolio-reporter/internal/dedup"
	"github.com/web3-frozen/portfolio-reporter/internal/handler"
	"github.com/web3-frozen/portfolio-reporter/internal/middleware"
	"github.com/web3-frozen/portfolio-reporter/internal/monitor"
	"github.com/web3-frozen/portfolio-reporter/internal/monitor/sources"
	"github.com/web3-frozen/portfolio-reporter/internal/store"
	"github.com/web3-frozen/portfolio-reporter/internal/telegram"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := cfg.RequireTelegram(); err != nil {
		logger.Error("telegram credentials missing", "error", err)
		os.Exit(1)
	}
	if cfg.DebankAddress == "" {
		logger.Warn("DEBANK_ADDRESS not set, portfolio report disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		history  monitor.History
		lister   handler.ReportLister
		deduper  monitor.Deduper
		readyDep = map[string]handler.Pinger{}
	)

	// Database (optional report history)
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected and migrated")
		history, lister = db, db
		readyDep["postgres"] = db
		go store.RunRetention(ctx, db, cfg.ReportRetention, logger)
	}

	// Redis dedup (retry up to 30s for ExternalSecret to sync)
	if cfg.RedisURL != "" {
		var (
			dd  *dedup.Deduplicator
			err error
		)
		for i := 0; i < 6; i++ {
			dd, err = dedup.New(cfg.RedisURL, cfg.RedisPassword)
			if err == nil {
				break
			}
			logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(5 * time.Second)
		}
		if err != nil {
			logger.Error("failed to connect to redis after retries", "error", err)
			os.Exit(1)
		}
		defer dd.Close()
		deduper = dd
		readyDep["redis"] = dd
		logger.Info("redis connected for report dedup")
	}

	// Telegram bot and report engine share the configured chat
	bot := telegram.NewBot(cfg.TelegramToken, cfg.ChatID, logger)
	engine := monitor.NewEngine(history, logger, bot.Notify, deduper)
	if cfg.DebankAddress != "" {
		engine.Register(sources.NewDeBank(sources.DeBankConfig{
			Address:   cfg.DebankAddress,
			Chains:    cfg.DebankChains,
			AccessKey: cfg.DebankAccessKey,
			Retries:   cfg.DebankRetries,
			Browser:   cfg.DebankBrowser,
		}, logger))
	}
	engine.Register(sources.NewMorpho(cfg.MorphoVault, cfg.MorphoChainID))

	// Start background goroutines
	go bot.Run(ctx, engine)
	go engine.Run(ctx, monitor.Schedule{
		PollInterval: cfg.PollInterval,
		ReportHour:   cfg.ReportHour,
		Location:     cfg.Location(),
	})

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(readyDep))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", handler.Stats(engine))
		r.Get("/stats/meta", handler.StatsMetadata(engine, cfg.PollInterval))
		r.Get("/reports", handler.Reports(lister, logger))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
