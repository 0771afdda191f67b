// Package cache is the result cache that short-circuits repeated analysis
// submissions. Keys are request digests; values are encoded run records.
package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the byte cache behind result reuse.
type Provider interface {
	// Get returns the cached value or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Del removes a key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// Disabled implements Provider without storing anything. It backs
// deployments that turn result caching off.
type Disabled struct{}

func (Disabled) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (Disabled) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (Disabled) Del(context.Context, string) error { return nil }

func (Disabled) Close() error { return nil }
