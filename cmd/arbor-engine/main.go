package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arborstack/arbor-fdr/internal/api"
	"github.com/arborstack/arbor-fdr/internal/cache"
	"github.com/arborstack/arbor-fdr/internal/config"
	"github.com/arborstack/arbor-fdr/internal/engine"
	"github.com/arborstack/arbor-fdr/internal/insights"
	"github.com/arborstack/arbor-fdr/internal/metrics"
	"github.com/arborstack/arbor-fdr/internal/services"
	"github.com/arborstack/arbor-fdr/internal/store"
	"github.com/arborstack/arbor-fdr/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("starting arbor-fdr engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.Disabled{}
	if cfg.Cache.Enabled {
		if cfg.Cache.Addr != "" {
			provider, err := cache.NewValkey(cache.ValkeyConfig{
				Addr:         cfg.Cache.Addr,
				Username:     cfg.Cache.Username,
				Password:     cfg.Cache.Password,
				DB:           cfg.Cache.DB,
				DialTimeout:  cfg.Cache.DialTimeout,
				ReadTimeout:  cfg.Cache.ReadTimeout,
				WriteTimeout: cfg.Cache.WriteTimeout,
				MaxRetries:   cfg.Cache.MaxRetries,
				TLS:          cfg.Cache.TLS,
			})
			if err != nil {
				logger.Warn("valkey cache unavailable", slog.Any("error", err))
			} else {
				cacheProvider = provider
			}
		} else {
			cacheProvider = cache.NewMemory()
		}
	}
	defer cacheProvider.Close()

	var (
		runStore *store.Store
		svcStore services.RunStore
		miner    *insights.Miner
	)
	if cfg.Store.Path != "" {
		runStore, err = store.Open(cfg.Store.Path, logger)
		if err != nil {
			logger.Error("failed to open run store", slog.String("path", cfg.Store.Path), slog.Any("error", err))
			os.Exit(1)
		}
		defer runStore.Close()
		svcStore = runStore
		miner = insights.NewMiner(logger, runStore)
	}

	profiles, err := engine.LoadProfiles(cfg.Engine.ProfilesPath, logger)
	if err != nil {
		logger.Error("failed to load analysis profiles", slog.Any("error", err))
		os.Exit(1)
	}

	pipeline := engine.NewPipeline(logger, nil)
	analysisService := services.NewAnalysisService(logger, pipeline, svcStore, cacheProvider,
		profiles, miner, services.AnalysisOptions{
			MaxFeatures: cfg.Engine.MaxFeatures,
			MaxNodes:    cfg.Engine.MaxNodes,
			Workers:     cfg.Engine.Workers,
			CacheTTL:    cfg.Cache.ResultTTL,
			ListDefault: cfg.Store.ListDefault,
		})

	handler := api.NewHandler(analysisService, logger)
	server, err := api.NewServer(cfg.Server, api.NewRouter(cfg.Server, handler))
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("analysis server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("analysis server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("arbor-fdr engine stopped")
}
