// Package kv provides a ristretto-backed in-memory key-value store with TTL.
// The Manager uses it as a best-effort spill target when the vector index
// rejects a write.
package kv

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Store implements memory.KeyValue on a ristretto cache.
type Store struct {
	cache *ristretto.Cache
}

// New creates a store holding up to maxBytes of values.
func New(maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		// Ristretto wants counters at ~10x the expected item count; assume
		// small spilled records.
		NumCounters: maxBytes / 100,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{cache: cache}, nil
}

// Set stores value under key for ttl. Ristretto may reject entries under
// memory pressure; the return value reports admission.
func (s *Store) Set(key string, value []byte, ttl time.Duration) bool {
	return s.cache.SetWithTTL(key, value, int64(len(value)), ttl)
}

// Get returns the value for key if present and unexpired.
func (s *Store) Get(key string) ([]byte, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	data, ok := v.([]byte)
	return data, ok
}

// Wait blocks until buffered writes are applied. Used by tests.
func (s *Store) Wait() {
	s.cache.Wait()
}

// Close releases the cache.
func (s *Store) Close() {
	s.cache.Close()
}
