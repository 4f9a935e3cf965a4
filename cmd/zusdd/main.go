package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zusd/config"
	"zusd/core/events"
	"zusd/native/oracle"
	"zusd/native/synth"
	"zusd/native/token"
	"zusd/observability/logging"
	"zusd/observability/otel"
	"zusd/rpc"
	"zusd/storage"
)

const (
	treasuryPassEnv = "ZUSD_TREASURY_PASS"
	stableSymbol    = "ZUSD"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	assetsFile := flag.String("assets", "", "Path to the collateral assets manifest (overrides config AssetsFile)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ZUSD_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	var rotation *logging.FileRotation
	if cfg.LogRotation.Path != "" {
		rotation = &logging.FileRotation{
			Path:       cfg.LogRotation.Path,
			MaxSizeMB:  cfg.LogRotation.MaxSizeMB,
			MaxBackups: cfg.LogRotation.MaxBackups,
			MaxAgeDays: cfg.LogRotation.MaxAgeDays,
		}
	}
	logger := logging.Setup("zusdd", env, rotation)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "zusdd",
			Environment: env,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	manifestPath := cfg.AssetsFile
	if strings.TrimSpace(*assetsFile) != "" {
		manifestPath = *assetsFile
	}
	assets, err := config.LoadAssets(manifestPath)
	if err != nil {
		logger.Error("Failed to load assets manifest", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	treasury, err := cfg.TreasuryAddress(os.Getenv(treasuryPassEnv))
	if err != nil {
		logger.Error("Failed to load treasury key", slog.Any("error", err))
		os.Exit(1)
	}

	stable, err := token.NewLedger(stableSymbol, db)
	if err != nil {
		panic(fmt.Sprintf("Failed to open stable ledger: %v", err))
	}
	stable.SetAuthority(treasury)

	symbols := make([]string, 0, len(assets))
	adapters := make([]*oracle.Adapter, 0, len(assets))
	tokens := make([]synth.CollateralToken, 0, len(assets))
	for _, asset := range assets {
		feed, err := oracle.NewHTTPFeed(asset.Feed.Endpoint, asset.Feed.Decimals, asset.Feed.RefreshInterval.Std())
		if err != nil {
			logger.Error("Failed to construct price feed", slog.String("asset", asset.Symbol), slog.Any("error", err))
			os.Exit(1)
		}
		adapter, err := oracle.NewAdapter(feed, asset.Feed.StalenessTimeout.Std())
		if err != nil {
			logger.Error("Failed to construct oracle adapter", slog.String("asset", asset.Symbol), slog.Any("error", err))
			os.Exit(1)
		}
		ledger, err := token.NewLedger(asset.Symbol, db)
		if err != nil {
			logger.Error("Failed to open collateral ledger", slog.String("asset", asset.Symbol), slog.Any("error", err))
			os.Exit(1)
		}
		symbols = append(symbols, asset.Symbol)
		adapters = append(adapters, adapter)
		tokens = append(tokens, ledger.Account(treasury))
	}

	registry, err := synth.NewRegistry(symbols, adapters, tokens)
	if err != nil {
		logger.Error("Failed to build collateral registry", slog.Any("error", err))
		os.Exit(1)
	}

	engine, err := synth.NewEngine(treasury, registry, stable.Account(treasury), synth.DefaultParams())
	if err != nil {
		logger.Error("Failed to construct engine", slog.Any("error", err))
		os.Exit(1)
	}
	store, err := synth.NewPositionStore(db)
	if err != nil {
		logger.Error("Failed to open position store", slog.Any("error", err))
		os.Exit(1)
	}
	engine.SetState(store)

	broadcaster := events.NewBroadcaster(cfg.EventBacklog)
	engine.SetEmitter(broadcaster)

	server, err := rpc.NewServer(engine, broadcaster, rpc.ServerConfig{
		Auth: rpc.AuthConfig{
			Enabled:    cfg.RPCAuth.Enabled,
			HMACSecret: cfg.RPCAuth.HMACSecret,
			Issuer:     cfg.RPCAuth.Issuer,
			Audience:   cfg.RPCAuth.Audience,
		},
		RateLimit: rpc.RateLimitConfig{
			Enabled:           cfg.RateLimit.Enabled,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, logger)
	if err != nil {
		logger.Error("Failed to construct RPC server", slog.Any("error", err))
		os.Exit(1)
	}

	rpcServer := &http.Server{
		Addr:         cfg.RPCAddress,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:        cfg.MetricsAddress,
		Handler:     metricsMux,
		ReadTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("Starting JSON-RPC server", slog.String("addr", cfg.RPCAddress))
		if err := rpcServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("Starting metrics server", slog.String("addr", cfg.MetricsAddress))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	logger.Info("Engine ready",
		slog.String("treasury", treasury.String()),
		slog.Any("assets", symbols),
	)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		logger.Error("Server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("RPC server shutdown failed", slog.Any("error", err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown failed", slog.Any("error", err))
	}
}
