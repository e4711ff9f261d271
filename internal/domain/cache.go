package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID int64, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID int64, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID int64, key string) error

	// GetActiveRules retrieves the cached active-rule list for a program.
	// Returns nil, nil on a miss.
	GetActiveRules(ctx context.Context, tenantID int64, programID int64) ([]*RewardRule, error)

	// SetActiveRules caches the active-rule list for a program.
	SetActiveRules(ctx context.Context, tenantID int64, programID int64, rules []*RewardRule, ttl time.Duration) error

	// InvalidateActiveRules drops the cached list after a rule changes.
	InvalidateActiveRules(ctx context.Context, tenantID int64, programID int64) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for request rate limiting on the authoring API.
	IncrementCounter(ctx context.Context, tenantID int64, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
