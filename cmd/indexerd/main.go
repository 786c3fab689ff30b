package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"spacegate/observability/logging"
	"spacegate/services/indexer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "indexerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	nodeRPC := flag.String("node", "http://127.0.0.1:8545", "Node JSON-RPC endpoint")
	driver := flag.String("db-driver", "sqlite", "Database driver: sqlite or postgres")
	dsn := flag.String("db", "spacegate-index.db", "Database DSN")
	prefix := flag.String("prefix", "creator.", "Only index events whose type starts with this prefix")
	export := flag.String("export", "", "Write indexed content to this parquet file and exit")
	fromHeight := flag.Uint64("from-height", 0, "Lowest block height included in -export")
	flag.Parse()

	logger := logging.Setup("indexerd", strings.TrimSpace(os.Getenv("SPACEGATE_ENV")))
	db, err := indexer.Open(*driver, *dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	idx, err := indexer.New(db, indexer.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *export != "" {
		n, err := idx.ExportContent(ctx, *export, *fromHeight)
		if err != nil {
			return err
		}
		logger.Info("exported content", "rows", n, "path", *export)
		return nil
	}

	streamURL, err := indexer.StreamURL(*nodeRPC, *prefix)
	if err != nil {
		return err
	}
	if err := idx.Run(ctx, streamURL); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
