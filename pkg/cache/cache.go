// Package cache provides the key/blob store used to share parsed rules
// between evaluations, and the per-run memo for host function results.
//
// A Store is a side optimization: every consumer must behave identically
// when the store is empty, failing or disabled.
package cache

import (
	"context"
	"time"
)

// Store is a key/blob cache with per-entry time-to-live. Concurrent Sets of
// the same key are allowed; the last writer wins.
type Store interface {
	// Get returns the blob stored under key. ok is false on a miss or when
	// the entry has expired.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)

	// Set stores val under key. A zero ttl means the entry never expires.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// NopStore is a disabled cache: every Get misses and every Set is dropped.
type NopStore struct{}

// Get always misses.
func (NopStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set does nothing.
func (NopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
