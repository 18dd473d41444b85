// Package cache defines the durable key-value store that sits in front of
// every external data call. Entries carry a TTL and the store enforces a
// total-size ceiling by evicting the oldest-stored entries first.
//
// The cache is an optimization, never a correctness dependency: callers must
// treat every storage fault as a miss and fall through to the network.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is the entry lifetime applied when callers pass a non-positive TTL.
const DefaultTTL = 24 * time.Hour

// DefaultMaxBytes is the default total-size ceiling for a store.
const DefaultMaxBytes = 100 << 20 // 100 MB

// ErrStorage wraps backend faults (disk full, corruption, connection loss).
// Callers degrade it to a cache miss; it is never propagated past the fetch layer.
var ErrStorage = errors.New("cache storage error")

// Store is a key-value store with per-entry expiration.
//
// Contract:
//   - Get returns (nil, false) for keys never stored or whose entry expired.
//     Expired payloads are never returned under any interleaving.
//   - Put overwrites any prior entry for the key and stamps the current time.
//     If the total size would exceed the ceiling, the oldest-stored entries
//     are evicted until the new entry fits. A put is atomic per key.
//   - Size reports total payload bytes currently held.
//
// Implementations must be safe for concurrent use; concurrent writes to the
// same key race benignly (last writer wins).
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Size(ctx context.Context) (int64, error)
	Close() error
}

// Key derives a deterministic cache key from a namespace (one per provider
// capability) and its query parameters. Identical parameter sets always yield
// the identical key; distinct sets practically never collide.
//
// encoding/json marshals map keys in sorted order, so the serialized form is
// canonical regardless of map iteration order.
func Key(namespace string, params map[string]any) string {
	data, _ := json.Marshal(params)
	h := sha256.Sum256(append([]byte(namespace+"|"), data...))
	return namespace + ":" + hex.EncodeToString(h[:16])
}
