package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"spacegate/cmd/internal/passphrase"
	"spacegate/config"
	"spacegate/crypto"
	"spacegate/observability/logging"
	telemetry "spacegate/observability/otel"
	"spacegate/rpc"
	"spacegate/services/keyholder"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keyholderd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "./keyholder.toml", "Path to the key-holder configuration file")
	passEnv := flag.String("passphrase-env", "SPACEGATE_KEYHOLDER_PASSPHRASE", "Environment variable holding the holder keystore passphrase")
	flag.Parse()

	pass, err := passphrase.NewSource(*passEnv, "key-holder keystore").Get()
	if err != nil {
		return err
	}
	cfg, err := config.LoadKeyholder(*configFile, pass)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer := logging.SetupWithFile("keyholderd", cfg.Environment, logging.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer closer.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "keyholderd",
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

	committee, err := config.LoadCommittee(cfg.CommitteeFile)
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(cfg.KeystorePath, pass)
	if err != nil {
		return fmt.Errorf("unlock holder keystore: %w", err)
	}
	self, ok := committee.Holder(cfg.HolderIndex)
	if !ok {
		return fmt.Errorf("holder %d is not in committee %s", cfg.HolderIndex, cfg.CommitteeFile)
	}
	want, err := crypto.DecodeAddress(self.Address)
	if err != nil {
		return err
	}
	if addr := key.PubKey().Address(); !bytes.Equal(addr.Bytes(), want.Bytes()) {
		return fmt.Errorf("keystore address %s does not match committee entry %s", addr, self.Address)
	}

	store, err := keyholder.NewStore(cfg.AuditDB, nil)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer store.Close()

	view := keyholder.NewRemoteView(rpc.NewClient(cfg.NodeRPC, strings.TrimSpace(os.Getenv("SPACEGATE_RPC_TOKEN"))))
	service, err := keyholder.NewService(keyholder.Config{
		HolderIndex:  cfg.HolderIndex,
		Key:          key,
		MaxStaleness: cfg.MaxStaleness(),
		SessionTTL:   cfg.SessionTTL(),
	}, view, store, store, logger)
	if err != nil {
		return err
	}
	server := keyholder.NewServer(service, keyholder.RateLimit{
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, logger)

	servers := []*http.Server{{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
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
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", "addr", srv.Addr, "holder", cfg.HolderIndex)
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
			_ = srv.Shutdown(shutdownCtx)
		}
		return nil
	})
	return g.Wait()
}
