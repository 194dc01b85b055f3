// Package redis persists indicator state histories and raw market events as
// sorted sets: member = serialized record tagged with a per-key serial,
// score = UTC epoch seconds, so recovery can range-query by time.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	opTimeout = 5 * time.Second

	// defaultKeyTTL keeps session keys around long enough for replay and
	// next-day recovery without growing the keyspace forever.
	defaultKeyTTL = 7 * 24 * time.Hour
)

// Config configures the Redis store.
type Config struct {
	Addr     string
	Password string
	DB       int
	KeyTTL   time.Duration
}

// Store wraps the Redis client shared by the history writer and reader.
type Store struct {
	client *goredis.Client
	ttl    time.Duration
}

// New creates a Store and pings the server.
func New(cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.KeyTTL
	if ttl <= 0 {
		ttl = defaultKeyTTL
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Store{client: client, ttl: ttl}, nil
}

// Client returns the underlying client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Close releases the client connection pool.
func (s *Store) Close() error { return s.client.Close() }

// reserveSerials atomically advances the per-key serial counter by n and
// returns the first serial of the reserved block.
func (s *Store) reserveSerials(ctx context.Context, serialKey string, n int) (int64, error) {
	last, err := s.client.IncrBy(ctx, serialKey, int64(n)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", serialKey, err)
	}
	return last - int64(n) + 1, nil
}

// zaddBatch writes members and refreshes the key TTL.
func (s *Store) zaddBatch(ctx context.Context, key string, members []*goredis.Z) error {
	if len(members) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}
