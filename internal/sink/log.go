// Package sink provides Emitter implementations that deliver confirmation
// events to downstream systems: structured logs, NATS, Kafka, and WebSocket
// clients.
package sink

import (
	"context"
	"log/slog"

	"github.com/mirador/txwatch/internal/watch"
)

// Log emits confirmation events as structured log records.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "log-sink")}
}

func (l *Log) Confirmation(_ context.Context, ev watch.ConfirmationEvent) error {
	l.logger.Info("confirmation",
		"tx", ev.TxHash.Hex(),
		"confirmations", ev.Confirmations,
		"block_hash", ev.BlockHash.Hex(),
	)
	return nil
}

var _ watch.Emitter = (*Log)(nil)
