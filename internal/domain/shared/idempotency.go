package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers which mutation IDs have already been applied remotely
type IdempotencyStore interface {
	// MarkProcessed marks an ID as applied with a TTL
	// Returns true if the ID was newly marked, false if it was already applied
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// IsProcessed reports whether an ID has already been applied
	IsProcessed(ctx context.Context, id string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for the applied-mutation ledger
type IdempotencyConfig struct {
	// TTL is how long an applied mutation ID is remembered
	// Default: 24 hours
	TTL time.Duration

	// Enabled determines whether ledger checks run during replay
	// Default: true
	Enabled bool
}

// DefaultIdempotencyConfig returns the default ledger configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
