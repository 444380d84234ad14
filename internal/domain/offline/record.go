// Package offline defines the types shared by the offline-resilience layer:
// records, queued mutations, write outcomes and the ports the layer depends on.
package offline

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is a business entity as exchanged with the remote store.
// Every record carries a stable "id" once it has been written.
type Record map[string]any

// Well-known record fields
const (
	FieldID        = "id"
	FieldUserID    = "user_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldOffline   = "_offline"
	FieldTempID    = "tempId"
	FieldOrigID    = "originalId"
	// FieldTable names the target collection in a deleteRecord payload
	FieldTable = "table"
)

// clientOnlyFields never leave the client: preview image data and local markers.
var clientOnlyFields = []string{
	"image_base64_data",
	"image_mime_type",
	"image_file_name",
	"record_type_for_image",
	FieldTempID,
	FieldOrigID,
	FieldCreatedAt,
	FieldUpdatedAt,
	FieldOffline,
}

// ID returns the record id as a string, or "" if absent
func (r Record) ID() string {
	v, ok := r[FieldID]
	if !ok || v == nil {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case uuid.UUID:
		return id.String()
	case fmt.Stringer:
		return id.String()
	default:
		return fmt.Sprint(id)
	}
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Clean returns a copy without client-only fields, owned by userID.
// A missing id is filled with a fresh UUID so the write is idempotent on replay.
func (r Record) Clean(userID string) Record {
	out := r.Clone()
	for _, f := range clientOnlyFields {
		delete(out, f)
	}
	if out.ID() == "" {
		out[FieldID] = uuid.NewString()
	} else {
		out[FieldID] = out.ID()
	}
	out[FieldUserID] = userID
	return out
}

// Optimistic returns the record as shown to the caller before the server confirms it
func (r Record) Optimistic(now time.Time) Record {
	out := r.Clone()
	out[FieldOffline] = true
	out[FieldCreatedAt] = now.UTC().Format(time.RFC3339Nano)
	return out
}

// String returns the string value of a field, or "" when absent or not a string
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}
