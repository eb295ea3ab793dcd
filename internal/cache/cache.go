// Package cache memoizes raw classification responses so retry rounds
// never pay twice for an identical (chunk, statement) pair.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores raw classification responses by pair key.
type Cache interface {
	Get(key string) (string, bool)
	Set(key string, raw string, ttl time.Duration)
}

// PairKey derives the cache key for a (chunk, statement) pair.
func PairKey(chunk, statement string) string {
	hash := sha256.Sum256([]byte(chunk + "\x1f" + statement))
	return "classify:v1:" + hex.EncodeToString(hash[:])
}
