// Package redis provides a Redis-backed implementation of blob.Store.
//
// Payloads are stored under their URI as the key, optionally with a TTL. The
// backend suits small, short-lived payloads such as screenshots served to a
// live view; use an object store for large or long-retention blobs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/webrun/runtime/browser/blob"
)

// setter is the narrow slice of the Redis API the store needs; tests provide
// a lightweight stub.
type setter interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Options configures the Store.
type Options struct {
	// Client is the connected Redis client. Required.
	Client *redis.Client
	// TTL expires stored payloads. Zero means no expiry.
	TTL time.Duration
}

// Store is a Redis implementation of blob.Store.
type Store struct {
	client setter
	ttl    time.Duration
}

var _ blob.Store = (*Store)(nil)

// New returns a Store backed by the provided Redis client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Store{client: opts.Client, ttl: opts.TTL}, nil
}

// WriteBytes implements blob.Store.
func (s *Store) WriteBytes(ctx context.Context, uri string, data []byte) error {
	if uri == "" {
		return errors.New("uri is required")
	}
	if err := s.client.Set(ctx, uri, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis write blob %q: %w", uri, err)
	}
	return nil
}

// WriteFile implements blob.Store. Redis takes whole values, so the source
// file is read before the write.
func (s *Store) WriteFile(ctx context.Context, uri string, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read blob source %q: %w", path, err)
	}
	return s.WriteBytes(ctx, uri, data)
}
