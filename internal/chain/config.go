// Package chain provides the RPC client used as the block source for
// confirmation watching.
package chain

import "time"

// RPCConfig holds RPC connection settings.
type RPCConfig struct {
	// Endpoint URL. A ws:// or wss:// endpoint enables new-head
	// subscriptions; http(s) endpoints fall back to polling.
	URL string `yaml:"url"`

	// Connection timeout
	Timeout time.Duration `yaml:"timeout"`

	// Retry settings
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// DefaultRPCConfig returns sensible defaults for local development.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		URL:           "ws://localhost:8546",
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		RetryInterval: 5 * time.Second,
	}
}
