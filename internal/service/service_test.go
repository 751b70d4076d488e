package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mirador/txwatch/internal/watch"
)

// fakeChain is a chainSource whose receipts are pre-seeded; everything else
// reports not found. Receipt lookups are recorded so tests can observe which
// transactions the daemon is polling for.
type fakeChain struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
	lookups  chan common.Hash
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		receipts: make(map[common.Hash]*types.Receipt),
		lookups:  make(chan common.Hash, 100),
	}
}

func (f *fakeChain) mine(txHash common.Hash, blockNumber uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[txHash] = &types.Receipt{
		TxHash:      txHash,
		BlockHash:   common.HexToHash("0xbb22"),
		BlockNumber: new(big.Int).SetUint64(blockNumber),
	}
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	select {
	case f.lookups <- txHash:
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if receipt, ok := f.receipts[txHash]; ok {
		return receipt, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return nil, ethereum.NotFound
}

func (f *fakeChain) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, ethereum.NotFound
}

func (f *fakeChain) SupportsSubscriptions() bool { return false }

func testService(chain *fakeChain) *Service {
	cfg := &Config{
		Watch: watch.Config{
			ConfirmationBlocks: 2,
			PollingInterval:    5 * time.Millisecond,
		},
		Requests: RequestsConfig{
			Subject:        "watch.requests",
			ReceiptTimeout: time.Minute,
		},
	}
	svc := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.client = chain
	return svc
}

// A request for an unmined transaction waits for its receipt, but that wait
// must not hold up later requests arriving on the same subject.
func TestService_DispatchDoesNotBlockOnUnminedReceipts(t *testing.T) {
	chain := newFakeChain()
	stuck := common.HexToHash("0x01")
	mined := common.HexToHash("0x02")
	chain.mine(mined, 100)

	svc := testService(chain)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker := watch.NewTracker(chain, svc.cfg.Watch, svc.logger)

	svc.dispatch(ctx, tracker, []byte(`{"tx_hash":"0x01"}`))
	svc.dispatch(ctx, tracker, []byte(`{"tx_hash":"0x02"}`))

	deadline := time.After(2 * time.Second)
wait:
	for {
		select {
		case tx := <-chain.lookups:
			if tx == mined {
				break wait
			}
			if tx != stuck {
				t.Fatalf("unexpected receipt lookup for %s", tx.Hex())
			}
		case <-deadline:
			t.Fatal("second request never reached the chain client")
		}
	}

	cancel()
	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch goroutines did not drain after cancellation")
	}
}

func TestService_DispatchIgnoresMalformedRequests(t *testing.T) {
	chain := newFakeChain()
	svc := testService(chain)
	tracker := watch.NewTracker(chain, svc.cfg.Watch, svc.logger)

	svc.dispatch(context.Background(), tracker, []byte(`{"tx_hash":`))

	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("malformed request must not spawn a watch")
	}

	select {
	case tx := <-chain.lookups:
		t.Fatalf("unexpected receipt lookup for %s", tx.Hex())
	default:
	}
}

func TestService_HealthNotConnected(t *testing.T) {
	svc := testService(newFakeChain())

	if err := svc.Health(context.Background()); err == nil {
		t.Fatal("expected an error before the RPC client connects")
	}
}
