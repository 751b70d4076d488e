// Package store persists an append-only audit trail of emitted confirmation
// events in PostgreSQL.
package store

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirador/txwatch/internal/watch"
)

//go:embed schema.sql
var schemaSQL string

// Config holds database configuration.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	// Pool settings
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "txwatch",
		Password:        "txwatch_dev",
		Database:        "txwatch",
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// ConnectionString returns the PostgreSQL connection string.
func (c Config) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Store wraps a pgx pool and records confirmation events. It satisfies
// watch.Emitter.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	defaults := DefaultConfig()
	if cfg.MaxConns == 0 {
		cfg.MaxConns = defaults.MaxConns
	}
	if cfg.MinConns == 0 {
		cfg.MinConns = defaults.MinConns
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = defaults.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = defaults.MaxConnIdleTime
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Migrate applies the confirmations schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Confirmation(ctx context.Context, ev watch.ConfirmationEvent) error {
	const insertSQL = `
		INSERT INTO confirmations (
			tx_hash, block_hash, block_number, confirmations, recorded_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	var blockNumber uint64
	if ev.Receipt != nil && ev.Receipt.BlockNumber != nil {
		blockNumber = ev.Receipt.BlockNumber.Uint64()
	}

	_, err := s.pool.Exec(ctx, insertSQL,
		ev.TxHash.Hex(),
		ev.BlockHash.Hex(),
		int64(blockNumber),
		int64(ev.Confirmations),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert confirmation: %w", err)
	}
	return nil
}

// LatestConfirmations returns the highest recorded confirmation count for a
// transaction, or 0 when none has been recorded.
func (s *Store) LatestConfirmations(ctx context.Context, txHash string) (uint64, error) {
	const querySQL = `
		SELECT COALESCE(MAX(confirmations), 0) FROM confirmations WHERE tx_hash = $1
	`

	var n int64
	if err := s.pool.QueryRow(ctx, querySQL, txHash).Scan(&n); err != nil {
		return 0, fmt.Errorf("query confirmations: %w", err)
	}
	return uint64(n), nil
}

func (s *Store) Close() {
	s.pool.Close()
}

var _ watch.Emitter = (*Store)(nil)
