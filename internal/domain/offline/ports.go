package offline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RemoteStore is the cloud database as seen by the offline layer.
// Upsert must be idempotent on the record id.
type RemoteStore interface {
	Upsert(ctx context.Context, table string, record Record) (Record, error)
	Delete(ctx context.Context, table, id, userID string) error
	Select(ctx context.Context, table, userID string) ([]Record, error)
	Ping(ctx context.Context) error
}

// SnapshotStore keeps the last-known dataset per key across restarts
type SnapshotStore interface {
	// SaveSnapshot stores data read at fetchedAt. A snapshot read earlier than
	// the stored one is ignored.
	SaveSnapshot(ctx context.Context, key string, data []Record, fetchedAt time.Time) error
	// GetSnapshot returns nil data and no error when no snapshot exists
	GetSnapshot(ctx context.Context, key string) ([]Record, error)
}

// MutationQueue is the durable, per-user FIFO of pending writes
type MutationQueue interface {
	AppendMutation(ctx context.Context, m *QueuedMutation) error
	// ListMutations returns the user's mutations in enqueue order
	ListMutations(ctx context.Context, userID string) ([]*QueuedMutation, error)
	RemoveMutation(ctx context.Context, id uuid.UUID) error
	CountMutations(ctx context.Context, userID string) (int, error)
	// CompleteMutation removes a replayed mutation and stores its id mapping atomically.
	// mapping may be nil when the server kept the client id.
	CompleteMutation(ctx context.Context, id uuid.UUID, mapping *IDMapping) error
	ListMappings(ctx context.Context, userID string) ([]IDMapping, error)
}

// ConnectivitySignal reports whether the host currently believes it is online.
// The answer is advisory: writes still classify remote errors.
type ConnectivitySignal interface {
	Online() bool
}

// UserResolver extracts the owning user from a request context
type UserResolver interface {
	UserID(ctx context.Context) (string, bool)
}

// UserResolverFunc adapts a function to UserResolver
type UserResolverFunc func(ctx context.Context) (string, bool)

// UserID calls f
func (f UserResolverFunc) UserID(ctx context.Context) (string, bool) { return f(ctx) }

// QueueListener is told how many mutations remain after queue changes
type QueueListener interface {
	QueueCountChanged(userID string, count int)
}

// ReconcileListener is told when a temporary id has been replaced by a server id
type ReconcileListener interface {
	IDReconciled(userID, tempID, serverID string)
}

// QueueListenerFunc adapts a function to QueueListener
type QueueListenerFunc func(userID string, count int)

// QueueCountChanged calls f
func (f QueueListenerFunc) QueueCountChanged(userID string, count int) { f(userID, count) }

// ReconcileListenerFunc adapts a function to ReconcileListener
type ReconcileListenerFunc func(userID, tempID, serverID string)

// IDReconciled calls f
func (f ReconcileListenerFunc) IDReconciled(userID, tempID, serverID string) {
	f(userID, tempID, serverID)
}
