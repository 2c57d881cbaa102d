package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web3-frozen/oraclebot/internal/abicache"
	"github.com/web3-frozen/oraclebot/internal/chat"
	"github.com/web3-frozen/oraclebot/internal/config"
	"github.com/web3-frozen/oraclebot/internal/discord"
	"github.com/web3-frozen/oraclebot/internal/fleet"
	"github.com/web3-frozen/oraclebot/internal/handler"
	"github.com/web3-frozen/oraclebot/internal/middleware"
	"github.com/web3-frozen/oraclebot/internal/oracle"
	"github.com/web3-frozen/oraclebot/internal/supervisor"
	"github.com/web3-frozen/oraclebot/internal/telegram"
	"github.com/web3-frozen/oraclebot/internal/watchdog"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	bots, err := config.LoadBots(cfg.BotsFile)
	if err != nil {
		logger.Error("failed to load bots", "file", cfg.BotsFile, "error", err)
		os.Exit(1)
	}
	if err := cfg.ResolveSecrets(bots); err != nil {
		logger.Error("missing bot credentials", "error", err)
		os.Exit(1)
	}
	if err := config.ValidateStaleness(bots, cfg.StaleThreshold); err != nil {
		logger.Error("invalid staleness threshold", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis ABI cache is optional; the explorer is the fallback.
	var store oracle.ABIStore
	if cfg.RedisURL != "" {
		var cache *abicache.Cache
		for i := 0; i < 6; i++ {
			cache, err = abicache.New(cfg.RedisURL, cfg.RedisPassword, abicache.DefaultTTL)
			if err == nil {
				break
			}
			logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
			time.Sleep(5 * time.Second)
		}
		if err != nil {
			logger.Warn("running without redis abi cache", "error", err)
		} else {
			defer cache.Close()
			store = cache
			logger.Info("redis connected for abi cache")
		}
	}

	explorer := oracle.NewExplorer(cfg.ExplorerURL, cfg.ExplorerAPIKey)
	router := oracle.Router{
		Address:   common.HexToAddress(cfg.RouterAddress),
		Reference: common.HexToAddress(cfg.ReferenceAsset),
	}

	// One RPC connection and oracle client per endpoint, shared by its bots.
	pricers := make(map[string]*oracle.Client)
	policy := watchdog.Policy{
		Interval:       cfg.WatchdogInterval,
		Threshold:      cfg.StaleThreshold,
		ClearOnRecover: cfg.StaleClear,
		Strict:         cfg.WatchdogStrict,
	}
	onFatal := func(err error) {
		logger.Error("watchdog fatal, exiting", "error", err)
		os.Exit(1)
	}

	units := make([]fleet.Unit, 0, len(bots))
	for _, b := range bots {
		pricer, ok := pricers[b.RPCURL]
		if !ok {
			eth, err := ethclient.DialContext(ctx, b.RPCURL)
			if err != nil {
				logger.Error("failed to dial rpc", "bot", b.Name, "rpc", b.RPCURL, "error", err)
				os.Exit(1)
			}
			defer eth.Close()
			pricer = oracle.NewClient(eth, oracle.Options{
				Router:      router,
				Fetcher:     explorer,
				Store:       store,
				CallTimeout: cfg.CallTimeout,
			}, logger)
			pricers[b.RPCURL] = pricer
		}

		var client chat.Client
		switch b.Platform {
		case config.PlatformTelegram:
			client = telegram.NewBot(b.Token, "", logger)
		default:
			client = discord.New(b.Token, b.GuildID, discord.Options{}, logger)
		}

		ref := oracle.Reference{
			Endpoint: b.RPCURL,
			Address:  common.HexToAddress(b.OracleAddress),
			ABI:      b.OracleABI,
			Token:    common.HexToAddress(b.TokenAddress),
			Methods:  b.Methods,
		}
		units = append(units, supervisor.New(b, supervisor.Options{
			Reference:   ref,
			Version:     oracle.Version(b.Version),
			Policy:      policy,
			Backoff:     cfg.Backoff,
			CallTimeout: cfg.CallTimeout,
		}, pricer, client, logger, supervisor.WithFatalHandler(onFatal)))
	}
	orch := fleet.New(units, logger)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(orch))
	r.Get("/api/bots", handler.Bots(orch))

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

	if err := orch.Run(ctx); err != nil {
		logger.Error("fleet stopped", "error", err)
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}
