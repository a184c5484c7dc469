// Package kv abstracts the shared, TTL-capable key-value store the session
// control plane coordinates through. The store guarantees per-key atomicity
// only; there are no multi-key transactions, and replicas may lag writes.
package kv

import (
	"context"
	"time"
)

// Store is a TTL-bound key-value store. Expired entries read as absent.
type Store interface {
	// Get returns the value for key. ok is false when the key is missing or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set writes value under key, replacing any previous value. ttl must be positive.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
