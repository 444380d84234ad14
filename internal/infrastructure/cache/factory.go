package cache

import (
	"context"
	"fmt"

	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/config"
	"go.uber.org/zap"
)

// LedgerFactory creates the applied-mutation ledger from configuration
type LedgerFactory struct {
	ledgerConfig          config.LedgerConfig
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// LedgerFactoryOption configures the factory
type LedgerFactoryOption func(*LedgerFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LedgerFactoryOption {
	return func(f *LedgerFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to memory.
// Default is true.
func WithInMemoryFallback(allow bool) LedgerFactoryOption {
	return func(f *LedgerFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLedgerFactory creates a new factory
func NewLedgerFactory(ledgerCfg config.LedgerConfig, redisCfg config.RedisConfig, opts ...LedgerFactoryOption) *LedgerFactory {
	f := &LedgerFactory{
		ledgerConfig:          ledgerCfg,
		redisConfig:           redisCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create builds the configured ledger
func (f *LedgerFactory) Create(ctx context.Context) (shared.IdempotencyStore, error) {
	if f.ledgerConfig.Backend != "redis" {
		f.logger.Info("Using in-memory applied-mutation ledger")
		return NewInMemoryLedger(), nil
	}

	ledger, err := NewRedisLedger(ctx, f.redisConfig.Addr(), f.redisConfig.Password, f.redisConfig.DB)
	if err == nil {
		f.logger.Info("Using Redis applied-mutation ledger", zap.String("addr", f.redisConfig.Addr()))
		return ledger, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis ledger required but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory ledger", zap.Error(err))
	return NewInMemoryLedger(), nil
}
