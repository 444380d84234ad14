// Package connectivity tells the offline layer whether the remote store is reachable.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Pinger is anything that can cheaply check the remote store
type Pinger interface {
	Ping(ctx context.Context) error
}

// TransitionFunc is called with the new state after every change
type TransitionFunc func(online bool)

// MonitorConfig holds polling settings
type MonitorConfig struct {
	PollInterval time.Duration
	PingTimeout  time.Duration
}

// DefaultMonitorConfig returns default polling settings
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		PollInterval: 10 * time.Second,
		PingTimeout:  3 * time.Second,
	}
}

// Monitor polls a Pinger and publishes online/offline transitions.
// It starts pessimistic (offline) until the first successful ping.
type Monitor struct {
	pinger Pinger
	config MonitorConfig
	logger *zap.Logger

	online atomic.Bool

	subMu       sync.RWMutex
	subscribers map[int]TransitionFunc
	nextSubID   int

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// MonitorOption configures a Monitor
type MonitorOption func(*Monitor)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor creates a new connectivity monitor
func NewMonitor(pinger Pinger, config MonitorConfig, opts ...MonitorOption) *Monitor {
	defaults := DefaultMonitorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.PingTimeout <= 0 {
		config.PingTimeout = defaults.PingTimeout
	}
	m := &Monitor{
		pinger:      pinger,
		config:      config,
		logger:      zap.NewNop(),
		subscribers: make(map[int]TransitionFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Online reports the last observed state
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Subscribe registers fn for transitions and returns a function removing it
func (m *Monitor) Subscribe(fn func(online bool)) func() {
	m.subMu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	m.subMu.Unlock()

	return func() {
		m.subMu.Lock()
		delete(m.subscribers, id)
		m.subMu.Unlock()
	}
}

// Start checks once and then polls until Stop or ctx is cancelled
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.runLoop(ctx)

	m.logger.Info("Connectivity monitor started",
		zap.Duration("poll_interval", m.config.PollInterval),
	)
	return nil
}

// Stop stops polling
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Connectivity monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) runLoop(ctx context.Context) {
	defer m.wg.Done()

	m.Check(ctx)

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check pings once and returns the resulting state
func (m *Monitor) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.config.PingTimeout)
	defer cancel()

	err := m.pinger.Ping(pingCtx)
	if err != nil && ctx.Err() != nil {
		// shutting down; keep the last state
		return m.Online()
	}
	if err != nil {
		m.logger.Debug("Remote ping failed", zap.Error(err))
	}
	m.Set(err == nil)
	return err == nil
}

// Set records a state observed elsewhere and notifies subscribers on change
func (m *Monitor) Set(online bool) {
	if m.online.Swap(online) == online {
		return
	}

	if online {
		m.logger.Info("Remote store reachable")
	} else {
		m.logger.Info("Remote store unreachable, writes will be queued")
	}

	m.subMu.RLock()
	subs := make([]TransitionFunc, 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range subs {
		fn(online)
	}
}
