package watch

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// pollingObserver derives confirmations by querying for specific future
// block heights. The next height of interest is always
// receipt.BlockNumber + confirmations; a present block at that height is one
// more confirmation.
type pollingObserver struct {
	source   BlockSource
	emitter  Emitter
	receipt  *types.Receipt
	state    *watchState
	watch    *Watch
	interval time.Duration
	logger   *slog.Logger
}

func (o *pollingObserver) run(ctx context.Context) {
	o.logger.Debug("polling for confirmations", "interval", o.interval)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.watch.finish(nil)
			return
		case <-ticker.C:
			if o.tick(ctx) {
				o.watch.finish(nil)
				return
			}
		}
	}
}

// tick runs one polling round and reports whether the watch is complete.
// Ticks never overlap: the header fetch runs inline in the ticker loop, and
// the counter itself is additionally guarded by the state mutex since the
// subscription fallback shares the same state type.
func (o *pollingObserver) tick(ctx context.Context) bool {
	o.state.mu.Lock()
	if o.state.confirmations >= o.state.threshold {
		o.state.mu.Unlock()
		return true
	}
	next := o.receipt.BlockNumber.Uint64() + o.state.confirmations
	o.state.mu.Unlock()

	header, err := o.source.HeaderByNumber(ctx, new(big.Int).SetUint64(next))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			// Block not produced yet; try again next tick.
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		o.logger.Warn("block lookup failed, retrying", "block", next, "error", err)
		return false
	}
	if header == nil {
		return false
	}

	o.state.mu.Lock()
	if o.state.confirmations >= o.state.threshold {
		o.state.mu.Unlock()
		return true
	}
	o.state.confirmations++
	confirmations := o.state.confirmations
	o.state.mu.Unlock()

	ev := ConfirmationEvent{
		Confirmations: confirmations,
		Receipt:       o.receipt,
		BlockHash:     header.Hash(),
		TxHash:        o.receipt.TxHash,
	}
	if err := o.emitter.Confirmation(ctx, ev); err != nil {
		o.logger.Warn("confirmation emit failed", "confirmations", confirmations, "error", err)
	}
	o.logger.Debug("confirmation observed",
		"confirmations", confirmations,
		"block", next,
		"hash", ev.BlockHash.Hex(),
	)

	return confirmations >= o.state.threshold
}
