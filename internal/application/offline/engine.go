package offline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/erp/agency/internal/domain/offline"
	"github.com/erp/agency/internal/domain/shared"
	"github.com/erp/agency/internal/infrastructure/cache"
	"github.com/erp/agency/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// EngineDeps are the long-lived collaborators shared by every session
type EngineDeps struct {
	Remote  offline.RemoteStore
	Store   DurableStore
	Signal  offline.ConnectivitySignal
	Ledger  shared.IdempotencyStore
	Metrics *telemetry.SyncMetrics
	Logger  *zap.Logger
}

// EngineConfig holds per-session settings
type EngineConfig struct {
	CacheTTL     time.Duration
	Sync         SyncerConfig
	DrainOnStart bool
}

// DefaultEngineConfig returns default session settings
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CacheTTL:     cache.DefaultTTL,
		Sync:         DefaultSyncerConfig(),
		DrainOnStart: true,
	}
}

// Engine owns the cache, gateway and syncer of one signed-in user.
// It is created at login and closed at logout; nothing outlives it.
type Engine struct {
	userID  string
	cache   *cache.EphemeralCache[[]offline.Record]
	gateway *Gateway
	syncer  *Syncer
	notify  *Notifier
	config  EngineConfig
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed atomic.Bool
}

// NewEngine builds a session for userID. Register replay handlers on
// Syncer() before calling Start.
func NewEngine(userID string, deps EngineDeps, config EngineConfig) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("user_id", userID))

	e := &Engine{
		userID: userID,
		notify: NewNotifier(),
		config: config,
		logger: logger,
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.cache = cache.NewEphemeralCache[[]offline.Record](
		cache.WithTTL(config.CacheTTL),
		cache.WithCacheLogger(logger),
	)
	e.gateway = NewGateway(deps.Remote, deps.Store, e.cache, deps.Signal,
		offline.UserResolverFunc(e.resolveUser),
		WithGatewayLogger(logger),
		WithSyncMetrics(deps.Metrics),
		WithNotifier(e.notify),
	)
	e.syncer = NewSyncer(deps.Store, config.Sync,
		WithSyncerLogger(logger),
		WithLedger(deps.Ledger),
		WithSyncerNotifier(e.notify),
		WithSyncerMetrics(deps.Metrics),
		WithSyncerContext(e.ctx),
	)
	return e
}

func (e *Engine) resolveUser(context.Context) (string, bool) {
	if e.closed.Load() {
		return "", false
	}
	return e.userID, true
}

// UserID returns the session owner
func (e *Engine) UserID() string {
	return e.userID
}

// Gateway returns the session's read/write wrapper
func (e *Engine) Gateway() *Gateway {
	return e.gateway
}

// Syncer returns the session's replay processor
func (e *Engine) Syncer() *Syncer {
	return e.syncer
}

// Notifier returns the session's listeners
func (e *Engine) Notifier() *Notifier {
	return e.notify
}

// CacheStats returns the session cache counters
func (e *Engine) CacheStats() cache.CacheStats {
	return e.cache.Stats()
}

// Start drains whatever a previous process left queued, when configured to
func (e *Engine) Start() {
	if e.config.DrainOnStart {
		e.drainInBackground("start")
	}
}

// OnConnectivityChange drains the queue when the host comes back online
func (e *Engine) OnConnectivityChange(online bool) {
	if !online {
		e.logger.Info("Remote store unreachable, writes will be queued")
		return
	}
	e.drainInBackground("reconnect")
}

func (e *Engine) drainInBackground(trigger string) {
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		if _, err := e.syncer.Drain(e.ctx, e.userID); err != nil {
			e.logger.Warn("Background drain failed", zap.String("trigger", trigger), zap.Error(err))
		}
	}()
}

// Drain replays the queue now and waits for the result
func (e *Engine) Drain(ctx context.Context) (DrainResult, error) {
	if e.closed.Load() {
		return DrainResult{}, shared.ErrSessionClosed
	}
	return e.syncer.Drain(ctx, e.userID)
}

// Close cancels drains, waits for them and for pending snapshot writes, and
// drops the session cache. The durable queue is kept.
func (e *Engine) Close() {
	e.mu.Lock()
	if !e.closed.CompareAndSwap(false, true) {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.syncer.Wait()
	e.gateway.Wait()
	e.cache.Clear()
	e.logger.Info("Session closed")
}

// Closed reports whether Close has been called
func (e *Engine) Closed() bool {
	return e.closed.Load()
}
