package watch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/core/types"
)

// subscriptionObserver derives confirmations from a new-heads stream. A
// stream error demotes the watch to polling, one way; a failed subscribe
// call is fatal and surfaces on the watch handle.
type subscriptionObserver struct {
	source  BlockSource
	emitter Emitter
	receipt *types.Receipt
	state   *watchState
	watch   *Watch
	cfg     Config
	logger  *slog.Logger
}

func (o *subscriptionObserver) run(ctx context.Context) {
	headers := make(chan *types.Header, 64)
	sub, err := o.source.SubscribeNewHead(ctx, headers)
	if err != nil {
		o.watch.finish(fmt.Errorf("subscribe new heads: %w", err))
		return
	}
	o.logger.Debug("subscribed to new heads")

	for {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
			o.watch.finish(nil)
			return

		case err := <-sub.Err():
			o.logger.Warn("head subscription failed, falling back to polling", "error", err)
			sub.Unsubscribe()
			o.fallback(ctx)
			return

		case header := <-headers:
			if o.handleHeader(ctx, header) {
				sub.Unsubscribe()
				o.watch.finish(nil)
				return
			}
		}
	}
}

// handleHeader processes one header and reports whether the threshold has
// been reached. Headers without a number are ignored, as are headers below
// the receipt's own block; a header at the receipt's block counts as the
// first confirmation.
func (o *subscriptionObserver) handleHeader(ctx context.Context, header *types.Header) bool {
	if header == nil || header.Number == nil {
		return false
	}
	height := header.Number.Uint64()
	base := o.receipt.BlockNumber.Uint64()
	if height < base {
		return false
	}
	confirmations := height - base + 1

	o.state.mu.Lock()
	if confirmations < o.state.confirmations {
		// Stale or duplicate header; the counter never moves backwards.
		o.state.mu.Unlock()
		return false
	}
	o.state.confirmations = confirmations
	o.state.mu.Unlock()

	// The event reports the parent hash: the block immediately preceding
	// the newly observed header.
	ev := ConfirmationEvent{
		Confirmations: confirmations,
		Receipt:       o.receipt,
		BlockHash:     header.ParentHash,
		TxHash:        o.receipt.TxHash,
	}
	if err := o.emitter.Confirmation(ctx, ev); err != nil {
		o.logger.Warn("confirmation emit failed", "confirmations", confirmations, "error", err)
	}
	o.logger.Debug("confirmation observed",
		"confirmations", confirmations,
		"head", height,
		"parent", header.ParentHash.Hex(),
	)

	return confirmations >= o.state.threshold
}

// fallback demotes the watch to polling after a stream error. The demotion
// is one way: polling never attempts to resubscribe. The confirmation
// counter restarts at 1, so already-reported confirmations are counted
// again from chain state rather than carried over.
func (o *subscriptionObserver) fallback(ctx context.Context) {
	poller := &pollingObserver{
		source:   o.source,
		emitter:  o.emitter,
		receipt:  o.receipt,
		state:    &watchState{threshold: o.state.threshold, confirmations: 1},
		watch:    o.watch,
		interval: o.cfg.pollInterval(),
		logger:   o.logger.With("mode", "polling-fallback"),
	}
	poller.run(ctx)
}
