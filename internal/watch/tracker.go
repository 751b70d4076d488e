package watch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// Tracker starts confirmation watches against one block source.
type Tracker struct {
	source BlockSource
	cfg    Config
	logger *slog.Logger
}

// NewTracker creates a tracker. A nil logger falls back to slog.Default.
func NewTracker(source BlockSource, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		source: source,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "confirmation-tracker"),
	}
}

// WatchForConfirmations starts watching the transaction behind the given
// receipt. Validation is synchronous; on success a background watch runs
// until the confirmation threshold is reached, the watch is stopped, or the
// context ends. Confirmation events are delivered through the emitter; a
// fatal subscription setup failure is delivered on the handle's Err channel.
func (t *Tracker) WatchForConfirmations(ctx context.Context, emitter Emitter, receipt *types.Receipt) (*Watch, error) {
	if receipt == nil || receipt.BlockHash == (common.Hash{}) {
		return nil, ErrMissingReceiptOrBlockHash
	}
	if receipt.BlockNumber == nil || receipt.BlockNumber.Sign() <= 0 {
		return nil, ErrReceiptMissingBlockNumber
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		id:     uuid.NewString(),
		done:   make(chan struct{}),
		errCh:  make(chan error, 1),
		cancel: cancel,
	}

	logger := t.logger.With("watch_id", w.id, "tx", receipt.TxHash.Hex())
	st := &watchState{threshold: t.cfg.ConfirmationBlocks, confirmations: 1}

	var obs observer
	if t.source.SupportsSubscriptions() {
		obs = &subscriptionObserver{
			source:  t.source,
			emitter: emitter,
			receipt: receipt,
			state:   st,
			watch:   w,
			cfg:     t.cfg,
			logger:  logger.With("mode", "subscription"),
		}
	} else {
		obs = &pollingObserver{
			source:   t.source,
			emitter:  emitter,
			receipt:  receipt,
			state:    st,
			watch:    w,
			interval: t.cfg.pollInterval(),
			logger:   logger.With("mode", "polling"),
		}
	}

	logger.Debug("starting confirmation watch",
		"block", receipt.BlockNumber.Uint64(),
		"threshold", t.cfg.ConfirmationBlocks,
	)

	go obs.run(ctx)
	return w, nil
}

// observer is one watch strategy. run blocks until the watch terminates.
type observer interface {
	run(ctx context.Context)
}

// watchState is the per-watch confirmation counter, shared by an observer
// and its fallback. Confirmations is non-decreasing and starts at 1: the
// receipt's own inclusion counts as the first confirmation.
type watchState struct {
	mu            sync.Mutex
	confirmations uint64
	threshold     uint64
}

// Watch is a handle to a running confirmation watch.
type Watch struct {
	id     string
	done   chan struct{}
	errCh  chan error
	cancel context.CancelFunc

	finishOnce sync.Once
}

// ID returns the watch's unique identifier.
func (w *Watch) ID() string { return w.id }

// Done is closed when the watch has terminated, whether by reaching the
// threshold, by a fatal error, or by cancellation.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Err delivers at most one fatal watch error. It stays silent on normal
// completion; select on Done as well.
func (w *Watch) Err() <-chan error { return w.errCh }

// Stop cancels the watch. Safe to call multiple times and after completion.
func (w *Watch) Stop() { w.cancel() }

// finish performs the terminal transition exactly once.
func (w *Watch) finish(err error) {
	w.finishOnce.Do(func() {
		if err != nil {
			w.errCh <- err
		}
		close(w.done)
		w.cancel()
	})
}
