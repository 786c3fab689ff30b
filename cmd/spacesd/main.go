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
	"golang.org/x/sync/errgroup"

	"spacegate/config"
	"spacegate/core"
	"spacegate/core/genesis"
	"spacegate/observability/logging"
	telemetry "spacegate/observability/otel"
	"spacegate/rpc"
	"spacegate/services/keyholder"
	"spacegate/services/reconciler"
	"spacegate/storage"
)

const rpcTokenEnv = "SPACEGATE_RPC_TOKEN"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "spacesd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides config GenesisFile)")
	reconcileEvery := flag.Duration("reconcile-interval", time.Minute, "How often live subscription gauges are recomputed")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer := logging.SetupWithFile("spacesd", cfg.Environment, logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer closer.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "spacesd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Endpoint != "",
		Traces:      cfg.Telemetry.Endpoint != "",
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	genesisPath := strings.TrimSpace(*genesisFlag)
	if genesisPath == "" {
		genesisPath = cfg.GenesisFile
	}
	spec, err := genesis.LoadGenesisSpec(genesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hub := rpc.NewEventHub()
	chain, err := core.NewBlockchain(db, spec, core.ChainOptions{Logger: logger, Sink: hub})
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}
	head := chain.Head()
	logger.Info("chain ready", "chain_id", chain.ChainID(), "height", head.Height, "root", head.Root.Hex())

	rpcServer := rpc.NewServer(chain, hub, rpc.ServerConfig{
		AuthToken:      strings.TrimSpace(os.Getenv(rpcTokenEnv)),
		AllowedOrigins: cfg.WSAllowedOrigins,
		Logger:         logger,
	})
	servers := []*http.Server{{
		Addr:              cfg.RPCAddress,
		Handler:           rpcServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	heartbeat := time.Duration(cfg.HeartbeatSeconds) * time.Second
	g.Go(func() error { return ignoreCancel(chain.Run(gctx, heartbeat)) })

	rec := reconciler.New(keyholder.NewLocalView(chain), *reconcileEvery, reconciler.WithLogger(logger))
	g.Go(func() error { return ignoreCancel(rec.Run(gctx)) })

	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown", "addr", srv.Addr, slog.Any("error", err))
			}
		}
		return nil
	})
	return g.Wait()
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
