package db

import (
	"context"
	"time"
)

// Store is the key-value facade behind ledger snapshots, usage counters and overrides.
type Store interface {
	Pinger
	HashStore
	CounterStore
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Hash is one key with its fields. A positive TTL is (re)applied on every write.
type Hash struct {
	Key    string
	Fields map[string]string
	TTL    time.Duration
}

// HashStore keeps records as hashes.
type HashStore interface {
	// PutHash writes fields and refreshes TTL in a single round-trip.
	PutHash(ctx context.Context, h Hash) error
	PutHashes(ctx context.Context, hs []Hash) error
	GetHash(ctx context.Context, key string) (map[string]string, error)
	GetHashes(ctx context.Context, keys []string) ([]map[string]string, error)
	DeleteFields(ctx context.Context, key string, fields ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// CounterStore keeps integer counters that expire on their own.
type CounterStore interface {
	// Incr adds one and returns the new value. TTL is set only on the first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Counter returns ErrKeyNotFound for missing keys.
	Counter(ctx context.Context, key string) (int64, error)
}
