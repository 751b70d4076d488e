// Package watch implements confirmation watching for mined transactions.
// Given a receipt whose transaction is already included in a block, a watch
// emits one ConfirmationEvent per subsequently produced block until the
// configured confirmation threshold is reached, using either a new-heads
// subscription or block polling, with one-way failover from subscription to
// polling on stream error.
package watch

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	// DefaultConfirmationBlocks is the confirmation threshold used when the
	// config leaves it unset.
	DefaultConfirmationBlocks = 24

	// DefaultPollingInterval is the block polling cadence used when the
	// config leaves it unset.
	DefaultPollingInterval = time.Second
)

// BlockSource provides block headers, by number and as a push stream.
// *chain.Client satisfies it; tests substitute fakes.
type BlockSource interface {
	// HeaderByNumber returns the header at the given height, or
	// ethereum.NotFound if that block has not been produced yet.
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// SubscribeNewHead subscribes to new block headers.
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)

	// SupportsSubscriptions reports whether SubscribeNewHead can succeed on
	// this source (typically: the underlying transport is a WebSocket).
	SupportsSubscriptions() bool
}

// ConfirmationEvent reports one additional confirmation for a watched
// transaction. Confirmations starts at 1 for the receipt's own inclusion, so
// the first emitted event carries 2.
type ConfirmationEvent struct {
	// Confirmations is the number of blocks, inclusive of the containing
	// block, known to be built on top of the transaction.
	Confirmations uint64 `json:"confirmations"`

	// Receipt is the original receipt the watch was started with.
	Receipt *types.Receipt `json:"receipt"`

	// BlockHash is the hash of the latest block backing this event. On the
	// polling path it is the fetched block's own hash; on the subscription
	// path it is the observed header's parent hash.
	BlockHash common.Hash `json:"blockHash"`

	// TxHash is the watched transaction hash.
	TxHash common.Hash `json:"txHash"`
}

// Emitter receives confirmation events. Implementations are consumer-owned;
// emit errors are logged by the observer and do not terminate the watch.
type Emitter interface {
	Confirmation(ctx context.Context, ev ConfirmationEvent) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, ev ConfirmationEvent) error

func (f EmitterFunc) Confirmation(ctx context.Context, ev ConfirmationEvent) error {
	return f(ctx, ev)
}

// MultiEmitter fans one event out to several emitters in order. The first
// error is returned after all emitters have been attempted.
type MultiEmitter []Emitter

func (m MultiEmitter) Confirmation(ctx context.Context, ev ConfirmationEvent) error {
	var firstErr error
	for _, e := range m {
		if err := e.Confirmation(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Config holds per-tracker watch settings.
type Config struct {
	// ConfirmationBlocks is the threshold at which watching stops.
	ConfirmationBlocks uint64 `yaml:"confirmation_blocks"`

	// PollingInterval is the default cadence for the polling observer.
	PollingInterval time.Duration `yaml:"polling_interval"`

	// ReceiptPollingInterval, when set, overrides PollingInterval for
	// confirmation polling.
	ReceiptPollingInterval time.Duration `yaml:"receipt_polling_interval"`
}

func (c Config) withDefaults() Config {
	if c.ConfirmationBlocks == 0 {
		c.ConfirmationBlocks = DefaultConfirmationBlocks
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = DefaultPollingInterval
	}
	return c
}

// pollInterval resolves the effective confirmation polling cadence.
func (c Config) pollInterval() time.Duration {
	if c.ReceiptPollingInterval > 0 {
		return c.ReceiptPollingInterval
	}
	return c.PollingInterval
}
