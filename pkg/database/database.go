package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cast"
)

// DB wraps the relational store consumed as a read-only metric source.
// All writes stay with the owning platform services; this process only
// runs single-value aggregate queries against it.
type DB struct {
	*sqlx.DB
}

type Config struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	MaxConnections  int
	SSLMode         string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, sslMode,
	)
}

func New(cfg Config) (*DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool with configurable values
	connMaxLifetime := cfg.ConnMaxLifetime
	if connMaxLifetime == 0 {
		connMaxLifetime = 30 * time.Minute
	}
	connMaxIdleTime := cfg.ConnMaxIdleTime
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 5 * time.Minute
	}
	pingTimeout := cfg.PingTimeout
	if pingTimeout == 0 {
		pingTimeout = 10 * time.Second
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// QueryValue runs a query expected to yield one row with one numeric
// column and coerces the result to float64. Postgres returns NUMERIC and
// aggregate columns as []byte, so raw bytes are converted before casting.
// A NULL result (SUM over an empty set) reads as 0.
func (db *DB) QueryValue(ctx context.Context, query string) (float64, error) {
	var raw interface{}
	if err := db.QueryRowxContext(ctx, query).Scan(&raw); err != nil {
		return 0, fmt.Errorf("value query failed: %w", err)
	}

	if raw == nil {
		return 0, nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}

	value, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, fmt.Errorf("value query returned non-numeric result %v: %w", raw, err)
	}
	return value, nil
}
