package persistence

import (
	"github.com/erp/agency/internal/domain/offline"
)

// DurableStore is the local store surviving restarts: dataset snapshots plus
// the pending mutation queue, both in the same SQLite file
type DurableStore struct {
	*GormSnapshotRepository
	*GormMutationQueue
	db *Database
}

// NewDurableStore builds the store on an opened database
func NewDurableStore(db *Database) *DurableStore {
	return &DurableStore{
		GormSnapshotRepository: NewGormSnapshotRepository(db.DB),
		GormMutationQueue:      NewGormMutationQueue(db.DB),
		db:                     db,
	}
}

// Database returns the underlying database
func (s *DurableStore) Database() *Database {
	return s.db
}

var (
	_ offline.SnapshotStore = (*DurableStore)(nil)
	_ offline.MutationQueue = (*DurableStore)(nil)
)
