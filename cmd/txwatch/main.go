package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mirador/txwatch/internal/chain"
	"github.com/mirador/txwatch/internal/sink"
	"github.com/mirador/txwatch/internal/watch"
)

func main() {
	rpcURL := flag.String("rpc", "ws://localhost:8546", "RPC endpoint URL (WebSocket or HTTP)")
	txHash := flag.String("tx", "", "transaction hash to watch")
	blocks := flag.Uint64("blocks", watch.DefaultConfirmationBlocks, "confirmation threshold")
	interval := flag.Duration("interval", watch.DefaultPollingInterval, "polling interval")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	level := parseLogLevel(*logLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *txHash == "" {
		logger.Error("a transaction hash is required (-tx)")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg := chain.RPCConfig{
		URL:           *rpcURL,
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		RetryInterval: 5 * time.Second,
	}

	client := chain.NewClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	receipt, err := waitReceipt(ctx, client, common.HexToHash(*txHash), *interval)
	if err != nil {
		logger.Error("failed to fetch receipt", "error", err)
		os.Exit(1)
	}
	logger.Info("transaction mined",
		"tx", receipt.TxHash.Hex(),
		"block", receipt.BlockNumber.Uint64(),
		"block_hash", receipt.BlockHash.Hex(),
	)

	tracker := watch.NewTracker(client, watch.Config{
		ConfirmationBlocks: *blocks,
		PollingInterval:    *interval,
	}, logger)

	w, err := tracker.WatchForConfirmations(ctx, sink.NewLog(logger), receipt)
	if err != nil {
		logger.Error("failed to start watch", "error", err)
		os.Exit(1)
	}

	select {
	case err := <-w.Err():
		logger.Error("watch failed", "error", err)
		os.Exit(1)
	case <-w.Done():
	}

	logger.Info("confirmation threshold reached", "tx", receipt.TxHash.Hex(), "blocks", *blocks)
}

// waitReceipt polls until the transaction has been mined or the context
// ends.
func waitReceipt(ctx context.Context, client *chain.Client, txHash common.Hash, interval time.Duration) (*types.Receipt, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
