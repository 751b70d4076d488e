// Package service wires the confirmation tracker to its delivery sinks and
// runs the confirmd daemon loop.
package service

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mirador/txwatch/internal/chain"
	"github.com/mirador/txwatch/internal/registry"
	"github.com/mirador/txwatch/internal/sink"
	"github.com/mirador/txwatch/internal/store"
	"github.com/mirador/txwatch/internal/watch"
)

// Config holds the full confirmd configuration.
type Config struct {
	// RPC endpoint configuration
	RPC chain.RPCConfig `yaml:"rpc"`

	// Watch defaults (threshold, polling cadence)
	Watch watch.Config `yaml:"watch"`

	// Requests configures where watch requests are consumed from.
	Requests RequestsConfig `yaml:"requests"`

	// Sinks
	NATS     NATSSinkConfig     `yaml:"nats"`
	Kafka    KafkaSinkConfig    `yaml:"kafka"`
	Redis    RedisSinkConfig    `yaml:"redis"`
	Postgres PostgresSinkConfig `yaml:"postgres"`
	WS       WSConfig           `yaml:"ws"`
}

// RequestsConfig holds watch-request intake settings.
type RequestsConfig struct {
	// NATS URL requests are consumed from
	URL string `yaml:"url"`

	// Subject carrying watch requests
	Subject string `yaml:"subject"`

	// ReceiptTimeout bounds how long a request may wait for its receipt to
	// appear before being rejected.
	ReceiptTimeout time.Duration `yaml:"receipt_timeout"`
}

// NATSSinkConfig enables publishing confirmation events to NATS.
type NATSSinkConfig struct {
	Enabled         bool `yaml:"enabled"`
	sink.NATSConfig `yaml:",inline"`
}

// KafkaSinkConfig enables producing confirmation events to Kafka.
type KafkaSinkConfig struct {
	Enabled          bool `yaml:"enabled"`
	sink.KafkaConfig `yaml:",inline"`
}

// RedisSinkConfig enables the in-flight watch registry.
type RedisSinkConfig struct {
	Enabled              bool `yaml:"enabled"`
	registry.RedisConfig `yaml:",inline"`
}

// PostgresSinkConfig enables the confirmation audit store.
type PostgresSinkConfig struct {
	Enabled      bool `yaml:"enabled"`
	store.Config `yaml:",inline"`
}

// WSConfig holds the WebSocket streaming endpoint settings.
type WSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LoadConfig loads configuration from a file on top of defaults.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		RPC:   chain.DefaultRPCConfig(),
		Watch: watch.Config{},
		Requests: RequestsConfig{
			URL:            "nats://localhost:4222",
			Subject:        "watch.requests",
			ReceiptTimeout: 2 * time.Minute,
		},
		NATS:     NATSSinkConfig{NATSConfig: sink.DefaultNATSConfig()},
		Kafka:    KafkaSinkConfig{KafkaConfig: sink.DefaultKafkaConfig()},
		Redis:    RedisSinkConfig{RedisConfig: registry.RedisConfig{Addr: "localhost:6379"}},
		Postgres: PostgresSinkConfig{Config: store.DefaultConfig()},
		WS: WSConfig{
			Listen: ":8080",
			Path:   "/confirmations",
		},
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if cfg.Requests.Subject == "" {
		return nil, fmt.Errorf("requests.subject is required")
	}

	return cfg, nil
}
