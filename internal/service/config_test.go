package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Requests.Subject != "watch.requests" {
		t.Errorf("expected default requests subject, got %q", cfg.Requests.Subject)
	}
	if cfg.Requests.ReceiptTimeout != 2*time.Minute {
		t.Errorf("expected default receipt timeout, got %s", cfg.Requests.ReceiptTimeout)
	}
	if cfg.NATS.Enabled || cfg.Kafka.Enabled || cfg.Redis.Enabled || cfg.Postgres.Enabled || cfg.WS.Enabled {
		t.Error("expected all sinks disabled by default")
	}
	if cfg.RPC.URL == "" {
		t.Error("expected a default RPC URL")
	}
}

func TestLoadConfig_File(t *testing.T) {
	raw := `
rpc:
  url: wss://eth.example.org
watch:
  confirmation_blocks: 6
  polling_interval: 500ms
requests:
  subject: confirmd.requests
nats:
  enabled: true
  url: nats://nats.internal:4222
redis:
  enabled: true
  addr: redis.internal:6379
ws:
  enabled: true
  listen: ":9090"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.RPC.URL != "wss://eth.example.org" {
		t.Errorf("unexpected RPC URL %q", cfg.RPC.URL)
	}
	if cfg.Watch.ConfirmationBlocks != 6 {
		t.Errorf("expected threshold 6, got %d", cfg.Watch.ConfirmationBlocks)
	}
	if cfg.Watch.PollingInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms polling interval, got %s", cfg.Watch.PollingInterval)
	}
	if cfg.Requests.Subject != "confirmd.requests" {
		t.Errorf("unexpected requests subject %q", cfg.Requests.Subject)
	}
	if !cfg.NATS.Enabled || cfg.NATS.URL != "nats://nats.internal:4222" {
		t.Errorf("unexpected NATS sink config: %+v", cfg.NATS)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("unexpected Redis sink config: %+v", cfg.Redis)
	}
	if !cfg.WS.Enabled || cfg.WS.Listen != ":9090" {
		t.Errorf("unexpected WS config: %+v", cfg.WS)
	}

	// Untouched sections keep their defaults.
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka sink to stay disabled")
	}
	if cfg.Postgres.Database != "txwatch" {
		t.Errorf("expected default database name, got %q", cfg.Postgres.Database)
	}
}

func TestWatchRequest_Decode(t *testing.T) {
	var req WatchRequest
	if err := json.Unmarshal([]byte(`{"tx_hash":"0xabc","confirmation_blocks":6}`), &req); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if req.TxHash != "0xabc" || req.ConfirmationBlocks != 6 {
		t.Errorf("unexpected request: %+v", req)
	}

	if err := json.Unmarshal([]byte(`{"tx_hash":"0xdef"}`), &req); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if req.ConfirmationBlocks != 0 {
		t.Errorf("expected zero threshold override, got %d", req.ConfirmationBlocks)
	}
}
