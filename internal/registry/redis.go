// Package registry tracks in-flight confirmation watches in Redis so the
// daemon can be inspected while running. The registry is advisory: watches
// are not resumed after a restart, entries only describe what this process
// is currently doing.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyWatch     = "watch:"
	keyActiveSet = "watches:active"
	keyTxIndex   = "watch:tx:"
)

// ErrNotFound is returned when a watch ID is unknown to the registry.
var ErrNotFound = errors.New("registry: watch not found")

// Entry describes one in-flight watch.
type Entry struct {
	ID            string    `json:"id"`
	TxHash        string    `json:"tx_hash"`
	BlockNumber   uint64    `json:"block_number"`
	Threshold     uint64    `json:"threshold"`
	Confirmations uint64    `json:"confirmations"`
	Mode          string    `json:"mode"`
	StartedAt     time.Time `json:"started_at"`
}

// RedisConfig holds registry connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type RedisRegistry struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisRegistry(cfg RedisConfig) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisRegistry{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisRegistryWithClient wraps an existing client, for tests.
func NewRedisRegistryWithClient(client *redis.Client, keyPrefix string) *RedisRegistry {
	return &RedisRegistry{client: client, keyPrefix: keyPrefix}
}

func (r *RedisRegistry) key(parts ...string) string {
	result := r.keyPrefix
	for _, p := range parts {
		result += p
	}
	return result
}

// Register records a newly started watch.
func (r *RedisRegistry) Register(ctx context.Context, entry *Entry) error {
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal watch entry: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(keyWatch, entry.ID), data, 0)
	pipe.SAdd(ctx, r.key(keyActiveSet), entry.ID)
	pipe.SAdd(ctx, r.key(keyTxIndex, entry.TxHash), entry.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("register pipeline: %w", err)
	}
	return nil
}

// Progress updates the confirmation counter of an existing entry.
func (r *RedisRegistry) Progress(ctx context.Context, watchID string, confirmations uint64) error {
	entry, err := r.Get(ctx, watchID)
	if err != nil {
		return err
	}
	if confirmations < entry.Confirmations {
		return nil
	}
	entry.Confirmations = confirmations

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal watch entry: %w", err)
	}
	if err := r.client.Set(ctx, r.key(keyWatch, watchID), data, 0).Err(); err != nil {
		return fmt.Errorf("update watch entry: %w", err)
	}
	return nil
}

// Complete removes a terminated watch.
func (r *RedisRegistry) Complete(ctx context.Context, watchID string) error {
	entry, err := r.Get(ctx, watchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(keyWatch, watchID))
	pipe.SRem(ctx, r.key(keyActiveSet), watchID)
	pipe.SRem(ctx, r.key(keyTxIndex, entry.TxHash), watchID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete pipeline: %w", err)
	}
	return nil
}

// Get fetches one watch entry by ID.
func (r *RedisRegistry) Get(ctx context.Context, watchID string) (*Entry, error) {
	data, err := r.client.Get(ctx, r.key(keyWatch, watchID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get watch entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal watch entry: %w", err)
	}
	return &entry, nil
}

// List returns all in-flight watches.
func (r *RedisRegistry) List(ctx context.Context) ([]*Entry, error) {
	ids, err := r.client.SMembers(ctx, r.key(keyActiveSet)).Result()
	if err != nil {
		return nil, fmt.Errorf("list active watches: %w", err)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ListByTx returns in-flight watches for a transaction hash.
func (r *RedisRegistry) ListByTx(ctx context.Context, txHash string) ([]*Entry, error) {
	ids, err := r.client.SMembers(ctx, r.key(keyTxIndex, txHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("list watches by tx: %w", err)
	}

	entries := make([]*Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
