package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/agency/internal/domain/shared"
)

// InMemoryLedger remembers applied mutation IDs in process memory.
// It is the default for a single local agent.
type InMemoryLedger struct {
	mu        sync.RWMutex
	entries   map[string]time.Time // id -> expiresAt
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryLedger creates a ledger and starts its expiry sweeper
func NewInMemoryLedger() *InMemoryLedger {
	l := &InMemoryLedger{
		entries:  make(map[string]time.Time),
		stopChan: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.cleanupLoop()

	return l
}

// MarkProcessed marks id as applied for ttl.
// Returns false if it was already marked and has not expired.
func (l *InMemoryLedger) MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiresAt, ok := l.entries[id]; ok && time.Now().Before(expiresAt) {
		return false, nil
	}
	l.entries[id] = time.Now().Add(ttl)
	return true, nil
}

// IsProcessed reports whether id is marked and not expired
func (l *InMemoryLedger) IsProcessed(ctx context.Context, id string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	expiresAt, ok := l.entries[id]
	return ok && time.Now().Before(expiresAt), nil
}

// Close stops the sweeper. Safe to call multiple times.
func (l *InMemoryLedger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopChan)
		l.wg.Wait()
	})
	return nil
}

func (l *InMemoryLedger) cleanupLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

func (l *InMemoryLedger) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for id, expiresAt := range l.entries {
		if now.After(expiresAt) {
			delete(l.entries, id)
		}
	}
}

// Size returns the number of remembered IDs
func (l *InMemoryLedger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

var _ shared.IdempotencyStore = (*InMemoryLedger)(nil)
