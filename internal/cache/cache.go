package cache

import (
	"context"
	"time"
)

// Cache is the key-value store shared by the JWKS and user-info lookups.
// A ttl of zero stores the value without expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
