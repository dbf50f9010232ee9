// Package events defines memory lifecycle events and a synchronous
// in-process bus to deliver them.
package events

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/scrypster/memorycore/pkg/types"
)

// Type names an event kind.
type Type string

// Event types published by the memory manager.
const (
	TypeMemoryCreated  Type = "memory.created"
	TypeMemoryUpdated  Type = "memory.updated"
	TypeMemoryDeleted  Type = "memory.deleted"
	TypeMemorySearched Type = "memory.searched"

	// Wildcard subscribers receive every event.
	Wildcard Type = "*"
)

// Event is implemented by every lifecycle event.
type Event interface {
	ID() string
	Type() Type
	Timestamp() time.Time
	TenantID() string
	Metadata() map[string]interface{}
}

// Envelope carries the fields common to all events. Concrete events embed it.
type Envelope struct {
	EventID   string                 `json:"id"`
	EventType Type                   `json:"type"`
	At        time.Time              `json:"timestamp"`
	Tenant    string                 `json:"tenant_id"`
	Meta      map[string]interface{} `json:"metadata,omitempty"`
}

// NewEnvelope stamps a new envelope with a ULID generated from at.
func NewEnvelope(t Type, tenantID string, at time.Time) Envelope {
	return Envelope{
		EventID:   ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String(),
		EventType: t,
		At:        at.UTC(),
		Tenant:    tenantID,
		Meta:      map[string]interface{}{},
	}
}

func (e Envelope) ID() string                       { return e.EventID }
func (e Envelope) Type() Type                       { return e.EventType }
func (e Envelope) Timestamp() time.Time             { return e.At }
func (e Envelope) TenantID() string                 { return e.Tenant }
func (e Envelope) Metadata() map[string]interface{} { return e.Meta }

// MemoryCreated is published after a memory is first persisted.
type MemoryCreated struct {
	Envelope
	Memory *types.Memory `json:"memory"`
}

// NewMemoryCreated builds a memory.created event.
func NewMemoryCreated(m *types.Memory, at time.Time) *MemoryCreated {
	env := NewEnvelope(TypeMemoryCreated, m.TenantID, at)
	env.Meta["memory_id"] = m.ID
	env.Meta["category"] = m.Metadata.Category
	return &MemoryCreated{Envelope: env, Memory: m}
}

// MemoryUpdated is published after an update is persisted.
type MemoryUpdated struct {
	Envelope
	Memory          *types.Memory `json:"memory"`
	PreviousVersion int           `json:"previous_version"`
}

// NewMemoryUpdated builds a memory.updated event.
func NewMemoryUpdated(m *types.Memory, previousVersion int, at time.Time) *MemoryUpdated {
	env := NewEnvelope(TypeMemoryUpdated, m.TenantID, at)
	env.Meta["memory_id"] = m.ID
	env.Meta["version"] = m.Version
	return &MemoryUpdated{Envelope: env, Memory: m, PreviousVersion: previousVersion}
}

// MemoryDeleted is published after a delete succeeds.
type MemoryDeleted struct {
	Envelope
	MemoryID string `json:"memory_id"`
}

// NewMemoryDeleted builds a memory.deleted event.
func NewMemoryDeleted(id, tenantID string, at time.Time) *MemoryDeleted {
	env := NewEnvelope(TypeMemoryDeleted, tenantID, at)
	env.Meta["memory_id"] = id
	return &MemoryDeleted{Envelope: env, MemoryID: id}
}

// MemorySearched is published after a search completes.
type MemorySearched struct {
	Envelope
	Query       string `json:"query"`
	ResultCount int    `json:"result_count"`
}

// NewMemorySearched builds a memory.searched event.
func NewMemorySearched(query, tenantID string, resultCount int, at time.Time) *MemorySearched {
	env := NewEnvelope(TypeMemorySearched, tenantID, at)
	env.Meta["result_count"] = resultCount
	return &MemorySearched{Envelope: env, Query: query, ResultCount: resultCount}
}

// MemoryID returns the memory an event concerns, or "" for searches.
func MemoryID(e Event) string {
	if id, ok := e.Metadata()["memory_id"].(string); ok {
		return id
	}
	return ""
}
