package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mirador/txwatch/internal/watch"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string        `yaml:"url"`             // NATS server URL (e.g., "nats://localhost:4222")
	Name           string        `yaml:"name"`            // Client connection name for identification
	SubjectPrefix  string        `yaml:"subject_prefix"`  // Prefix for confirmation subjects
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`  // Time to wait between reconnection attempts
	MaxReconnects  int           `yaml:"max_reconnects"`  // Maximum reconnection attempts (-1 for unlimited)
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // Initial connection timeout
}

// DefaultNATSConfig returns sensible defaults for local development.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		Name:           "txwatch",
		SubjectPrefix:  "confirmations",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 10 * time.Second,
	}
}

// NATS publishes confirmation events to JetStream, one subject per
// transaction hash.
type NATS struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// ConnectNATS establishes a connection to NATS with JetStream enabled.
func ConnectNATS(cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("nats: disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats: reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("nats: connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	return &NATS{nc: nc, js: js, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject confirmation events for the given tx hash are
// published on.
func (n *NATS) Subject(txHash string) string {
	return n.prefix + "." + txHash
}

func (n *NATS) Confirmation(ctx context.Context, ev watch.ConfirmationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}

	if _, err := n.js.Publish(ctx, n.Subject(ev.TxHash.Hex()), data); err != nil {
		return fmt.Errorf("publish confirmation: %w", err)
	}
	return nil
}

// Close gracefully shuts down the NATS connection. Drain ensures in-flight
// messages are processed before closing.
func (n *NATS) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

var _ watch.Emitter = (*NATS)(nil)
