// Package models defines the shared domain types for the trip context engine.
package models

import (
	"fmt"
	"time"
)

// SourceKind identifies the type of trip record a source item originates from.
type SourceKind string

const (
	KindChatMessage   SourceKind = "chat-message"
	KindTask          SourceKind = "task"
	KindPoll          SourceKind = "poll"
	KindCalendarEvent SourceKind = "calendar-event"
	KindPlace         SourceKind = "place"
	KindPayment       SourceKind = "payment"
	KindBroadcast     SourceKind = "broadcast"
	KindLink          SourceKind = "link"
)

// AllSourceKinds lists every kind the engine indexes.
var AllSourceKinds = []SourceKind{
	KindChatMessage,
	KindTask,
	KindPoll,
	KindCalendarEvent,
	KindPlace,
	KindPayment,
	KindBroadcast,
	KindLink,
}

// Valid reports whether the kind is one of the known source kinds.
func (k SourceKind) Valid() bool {
	for _, kind := range AllSourceKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// SourceRef is the identity of a source item: tenant, kind and id together
// uniquely address at most one live embedding record.
type SourceRef struct {
	TenantID string     `json:"tenant_id"`
	Kind     SourceKind `json:"kind"`
	SourceID string     `json:"source_id"`
}

// Validate checks that the ref addresses exactly one tenant-scoped item.
func (r SourceRef) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("source ref: tenant id is required")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("source ref: unknown source kind %q", r.Kind)
	}
	if r.SourceID == "" {
		return fmt.Errorf("source ref: source id is required")
	}
	return nil
}

// String returns a stable identifier usable as a document id or log field.
func (r SourceRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.TenantID, r.Kind, r.SourceID)
}

// IntentOp is the operation a refresh intent requests.
type IntentOp string

const (
	OpUpsert IntentOp = "upsert"
	OpDelete IntentOp = "delete"
)

// RefreshIntent is emitted by change capture for every create, update or
// delete of a source item. Duplicates are tolerated; the queue deduplicates.
type RefreshIntent struct {
	ID  string    `json:"id,omitempty"`
	Ref SourceRef `json:"ref"`
	Op  IntentOp  `json:"op"`
}

// Validate checks the intent addresses a valid ref with a known operation.
func (i RefreshIntent) Validate() error {
	if err := i.Ref.Validate(); err != nil {
		return err
	}
	if i.Op != OpUpsert && i.Op != OpDelete {
		return fmt.Errorf("refresh intent: unknown op %q", i.Op)
	}
	return nil
}

// SourceItem is a read-only projection of a trip record owned by the
// surrounding application. Fields holds the kind-specific named values the
// text projection draws from (e.g. "text" for chat, "title"/"notes" for
// tasks); the engine never writes source items.
type SourceItem struct {
	Ref       SourceRef         `json:"ref"`
	Fields    map[string]string `json:"fields"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Field returns the named field or the empty string.
func (s *SourceItem) Field(name string) string {
	if s.Fields == nil {
		return ""
	}
	return s.Fields[name]
}
