package offline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action names the domain save function a queued mutation replays through
type Action string

const (
	ActionSaveSale            Action = "saveSale"
	ActionSavePurchase        Action = "savePurchase"
	ActionSaveCustomer        Action = "saveCustomer"
	ActionSaveSupplier        Action = "saveSupplier"
	ActionSaveVoucher         Action = "saveVoucher"
	ActionSaveExpense         Action = "saveExpense"
	ActionSaveCategory        Action = "saveCategory"
	ActionSaveWaste           Action = "saveWaste"
	ActionSaveExpenseTemplate Action = "saveExpenseTemplate"
	ActionSaveOpeningBalance  Action = "saveOpeningBalance"
	ActionReturnSale          Action = "returnSale"
	ActionReturnPurchase      Action = "returnPurchase"
	ActionUpdateSettings      Action = "updateSettings"
	ActionDeleteRecord        Action = "deleteRecord"
)

// AllActions lists every action the replay dispatcher understands
func AllActions() []Action {
	return []Action{
		ActionSaveSale, ActionSavePurchase, ActionSaveCustomer, ActionSaveSupplier,
		ActionSaveVoucher, ActionSaveExpense, ActionSaveCategory, ActionSaveWaste,
		ActionSaveExpenseTemplate, ActionSaveOpeningBalance, ActionReturnSale,
		ActionReturnPurchase, ActionUpdateSettings, ActionDeleteRecord,
	}
}

// IsValid reports whether a is a known action
func (a Action) IsValid() bool {
	for _, known := range AllActions() {
		if a == known {
			return true
		}
	}
	return false
}

// QueuedMutation is a write intent recorded while the remote store was unreachable.
// It is created once, never modified, and removed after a successful replay.
type QueuedMutation struct {
	ID         uuid.UUID
	UserID     string
	Action     Action
	Payload    Record
	TempID     string
	OriginalID string
	Timestamp  time.Time
}

// NewQueuedMutation creates a mutation for payload. The temp id is the payload id.
func NewQueuedMutation(userID string, action Action, payload Record, now time.Time) (*QueuedMutation, error) {
	if userID == "" {
		return nil, errors.New("queued mutation requires a user id")
	}
	if !action.IsValid() {
		return nil, errors.New("queued mutation has unknown action: " + string(action))
	}
	tempID := payload.ID()
	if tempID == "" {
		tempID = uuid.NewString()
	}
	return &QueuedMutation{
		ID:        uuid.New(),
		UserID:    userID,
		Action:    action,
		Payload:   payload.Clone(),
		TempID:    tempID,
		Timestamp: now,
	}, nil
}

// WithOriginalID records the id of the record this mutation corrects or returns against
func (m *QueuedMutation) WithOriginalID(id string) *QueuedMutation {
	m.OriginalID = id
	return m
}

// IDMapping links a client-generated temporary id to the id the server assigned
type IDMapping struct {
	UserID    string
	TempID    string
	ServerID  string
	CreatedAt time.Time
}

// Snapshot is the last dataset successfully read from the remote store for a key
type Snapshot struct {
	Key       string
	Data      []Record
	UpdatedAt time.Time
}

// CacheKey builds the cache and snapshot key for a user's collection
func CacheKey(collection, userID string) string {
	return collection + ":" + userID
}
