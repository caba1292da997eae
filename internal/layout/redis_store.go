package layout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long an untouched layout is kept.
const DefaultTTL = 90 * 24 * time.Hour

// RedisStore implements layout storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed layout store
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "layout:",
		ttl:    DefaultTTL,
	}
}

func (s *RedisStore) key(reviewID string) string {
	return s.prefix + reviewID
}

// Save stores the layout and refreshes its expiry.
func (s *RedisStore) Save(ctx context.Context, reviewID string, layout Layout) error {
	if layout.UpdatedAt.IsZero() {
		layout.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("marshal layout: %w", err)
	}
	if err := s.client.Set(ctx, s.key(reviewID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save layout: %w", err)
	}
	return nil
}

// Load returns ErrNotFound when nothing was saved or the entry expired.
func (s *RedisStore) Load(ctx context.Context, reviewID string) (Layout, error) {
	data, err := s.client.Get(ctx, s.key(reviewID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Layout{}, ErrNotFound
	}
	if err != nil {
		return Layout{}, fmt.Errorf("load layout: %w", err)
	}

	var layout Layout
	if err := json.Unmarshal(data, &layout); err != nil {
		return Layout{}, fmt.Errorf("unmarshal layout: %w", err)
	}
	if layout.Widths == nil {
		layout.Widths = map[string]int{}
	}
	if layout.Hidden == nil {
		layout.Hidden = map[string]bool{}
	}
	return layout, nil
}

func (s *RedisStore) Delete(ctx context.Context, reviewID string) error {
	if err := s.client.Del(ctx, s.key(reviewID)).Err(); err != nil {
		return fmt.Errorf("delete layout: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
