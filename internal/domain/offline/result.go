package offline

import "github.com/google/uuid"

// WriteState tells whether a write reached the remote store
type WriteState string

const (
	// WriteStateConfirmed means the remote store accepted the record
	WriteStateConfirmed WriteState = "CONFIRMED"
	// WriteStatePending means the record was queued and is shown optimistically
	WriteStatePending WriteState = "PENDING"
)

// WriteResult is the outcome of a safe upsert or delete
type WriteResult struct {
	State      WriteState `json:"state"`
	Record     Record     `json:"record"`
	MutationID uuid.UUID  `json:"mutation_id,omitempty"`
}

// Confirmed builds a result for a record the server accepted
func Confirmed(r Record) WriteResult {
	return WriteResult{State: WriteStateConfirmed, Record: r}
}

// Pending builds a result for a record waiting in the mutation queue
func Pending(r Record, mutationID uuid.UUID) WriteResult {
	return WriteResult{State: WriteStatePending, Record: r, MutationID: mutationID}
}

// IsPending reports whether the write is still queued locally
func (w WriteResult) IsPending() bool {
	return w.State == WriteStatePending
}
