package store

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mirador/txwatch/internal/watch"
)

func TestStore_RecordAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	cfg := DefaultConfig()

	s, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("Cannot connect to database: %v", err)
	}
	defer s.Close()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	txHash := common.HexToHash("0x51025")
	receipt := &types.Receipt{
		TxHash:      txHash,
		BlockHash:   common.HexToHash("0xbb22"),
		BlockNumber: big.NewInt(100),
	}

	for i := uint64(2); i <= 4; i++ {
		ev := watch.ConfirmationEvent{
			Confirmations: i,
			Receipt:       receipt,
			BlockHash:     common.HexToHash("0x0101"),
			TxHash:        txHash,
		}
		if err := s.Confirmation(ctx, ev); err != nil {
			t.Fatalf("Confirmation failed: %v", err)
		}
	}

	latest, err := s.LatestConfirmations(ctx, txHash.Hex())
	if err != nil {
		t.Fatalf("LatestConfirmations failed: %v", err)
	}
	if latest != 4 {
		t.Errorf("expected latest confirmations 4, got %d", latest)
	}

	none, err := s.LatestConfirmations(ctx, common.HexToHash("0x9f9f").Hex())
	if err != nil {
		t.Fatalf("LatestConfirmations failed: %v", err)
	}
	if none != 0 {
		t.Errorf("expected 0 for unrecorded tx, got %d", none)
	}
}
