package sink

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"

	"github.com/mirador/txwatch/internal/watch"
)

func TestNATS_Subject(t *testing.T) {
	n := &NATS{prefix: "confirmations"}
	if got := n.Subject("0xabc"); got != "confirmations.0xabc" {
		t.Errorf("unexpected subject %q", got)
	}
}

func testEvent() watch.ConfirmationEvent {
	return watch.ConfirmationEvent{
		Confirmations: 2,
		BlockHash:     common.HexToHash("0x0101"),
		TxHash:        common.HexToHash("0xaa11"),
		Receipt: &types.Receipt{
			TxHash:      common.HexToHash("0xaa11"),
			BlockHash:   common.HexToHash("0xbb22"),
			BlockNumber: big.NewInt(100),
		},
	}
}

func TestWSHub_BroadcastsToClients(t *testing.T) {
	hub := NewWSHub(slog.Default())

	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	// Wait for the hub to register the client.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(time.Millisecond)
	}

	ev := testEvent()
	if err := hub.Confirmation(context.Background(), ev); err != nil {
		t.Fatalf("Confirmation failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}

	var got struct {
		Confirmations uint64      `json:"confirmations"`
		TxHash        common.Hash `json:"txHash"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if got.Confirmations != 2 {
		t.Errorf("expected confirmations 2, got %d", got.Confirmations)
	}
	if got.TxHash != ev.TxHash {
		t.Errorf("expected tx %s, got %s", ev.TxHash.Hex(), got.TxHash.Hex())
	}
}

func TestWSHub_DropsDisconnectedClients(t *testing.T) {
	hub := NewWSHub(slog.Default())

	server := httptest.NewServer(hub)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never dropped")
		}
		time.Sleep(time.Millisecond)
	}

	// Broadcasting with no clients is a no-op.
	if err := hub.Confirmation(context.Background(), testEvent()); err != nil {
		t.Fatalf("Confirmation failed: %v", err)
	}
}

func TestLog_Emits(t *testing.T) {
	l := NewLog(slog.Default())
	if err := l.Confirmation(context.Background(), testEvent()); err != nil {
		t.Fatalf("Confirmation failed: %v", err)
	}
}
