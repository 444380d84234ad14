package offline

import (
	"sync"

	"github.com/erp/agency/internal/domain/offline"
)

// Notifier fans queue-count and reconciliation events out to listeners.
// Listeners are called synchronously and must not block.
type Notifier struct {
	mu        sync.RWMutex
	queue     []offline.QueueListener
	reconcile []offline.ReconcileListener
}

// NewNotifier creates a notifier with no listeners
func NewNotifier() *Notifier {
	return &Notifier{}
}

// AddQueueListener registers l for queue-count changes
func (n *Notifier) AddQueueListener(l offline.QueueListener) {
	n.mu.Lock()
	n.queue = append(n.queue, l)
	n.mu.Unlock()
}

// AddReconcileListener registers l for temp-id reconciliation
func (n *Notifier) AddReconcileListener(l offline.ReconcileListener) {
	n.mu.Lock()
	n.reconcile = append(n.reconcile, l)
	n.mu.Unlock()
}

// QueueCountChanged implements offline.QueueListener
func (n *Notifier) QueueCountChanged(userID string, count int) {
	n.mu.RLock()
	listeners := n.queue
	n.mu.RUnlock()
	for _, l := range listeners {
		l.QueueCountChanged(userID, count)
	}
}

// IDReconciled implements offline.ReconcileListener
func (n *Notifier) IDReconciled(userID, tempID, serverID string) {
	n.mu.RLock()
	listeners := n.reconcile
	n.mu.RUnlock()
	for _, l := range listeners {
		l.IDReconciled(userID, tempID, serverID)
	}
}

// QueueHub keeps the latest queue count per user and pushes changes to subscribers.
// Slow subscribers only ever see the most recent count.
type QueueHub struct {
	mu     sync.Mutex
	counts map[string]int
	subs   map[string]map[chan int]struct{}
}

// NewQueueHub creates an empty hub
func NewQueueHub() *QueueHub {
	return &QueueHub{
		counts: make(map[string]int),
		subs:   make(map[string]map[chan int]struct{}),
	}
}

// QueueCountChanged implements offline.QueueListener
func (h *QueueHub) QueueCountChanged(userID string, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.counts[userID] = count
	for ch := range h.subs[userID] {
		select {
		case <-ch:
		default:
		}
		ch <- count
	}
}

// Subscribe returns a channel that receives the user's current count first and
// every change after it, plus a function that ends the subscription.
func (h *QueueHub) Subscribe(userID string) (<-chan int, func()) {
	ch := make(chan int, 1)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan int]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	if count, ok := h.counts[userID]; ok {
		ch <- count
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Count returns the last count published for userID
func (h *QueueHub) Count(userID string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	count, ok := h.counts[userID]
	return count, ok
}
