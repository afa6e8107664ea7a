// Package redis keeps consumer idempotency markers in Redis with a TTL.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix = "billing:processed"
	defaultTTL       = 7 * 24 * time.Hour
)

// ProcessedStore implements eventing.ProcessedStore on Redis keys.
type ProcessedStore struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

// Option configures the store.
type Option func(*ProcessedStore)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(s *ProcessedStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL sets how long markers survive.
func WithTTL(ttl time.Duration) Option {
	return func(s *ProcessedStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// Dial parses a redis:// URL and verifies the connection.
func Dial(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewProcessedStore constructs a Redis-backed processed store.
func NewProcessedStore(client *goredis.Client, opts ...Option) (*ProcessedStore, error) {
	if client == nil {
		return nil, errors.New("redis processed store: nil client")
	}
	store := &ProcessedStore{client: client, prefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func (s *ProcessedStore) key(eventID, consumerName string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, consumerName, eventID)
}

// HasProcessed checks whether the marker exists.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	if eventID == "" || consumerName == "" {
		return false, errors.New("redis processed store: invalid arguments")
	}
	n, err := s.client.Exists(ctx, s.key(eventID, consumerName)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed sets the marker if absent.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if eventID == "" || consumerName == "" {
		return errors.New("redis processed store: invalid arguments")
	}
	if err := s.client.SetNX(ctx, s.key(eventID, consumerName), time.Now().UTC().Format(time.RFC3339), s.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	return nil
}
