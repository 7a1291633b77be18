// Package cache holds the ephemeral key-value tier in front of the URL store.
// Nothing here is durable; callers treat every error as a miss or a no-op.
package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Backend names a Cache implementation.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

const ownerListingPrefix = "user_urls:"

// Cache is a string cache with per-entry TTL.
type Cache interface {
	// Get reports found=false with a nil error on a plain miss.
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// LinkKey is the key of the code -> long URL entry. It is the code itself.
func LinkKey(code string) string {
	return code
}

// OwnerKey is the key of an owner's serialized listing.
func OwnerKey(owner uuid.UUID) string {
	return ownerListingPrefix + owner.String()
}
