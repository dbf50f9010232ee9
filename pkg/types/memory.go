package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Memory represents a single stored unit of text with its metadata, optional
// embedding, and version history. A memory always belongs to exactly one tenant.
type Memory struct {
	// Core identification fields
	ID       string `json:"id"`        // Unique identifier (uuid v4), immutable
	Content  string `json:"content"`   // Trimmed, non-empty memory content
	TenantID string `json:"tenant_id"` // Owning tenant, never empty once persisted

	// Classification and organization
	Metadata Metadata `json:"metadata"`

	// Embedding vector; nil until generated, regenerated whenever Content changes
	Embedding []float32 `json:"embedding,omitempty"`

	// Timestamps
	CreatedAt time.Time  `json:"created_at"`           // When the memory was created
	UpdatedAt time.Time  `json:"updated_at"`           // Advances on every mutation
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // Advisory expiry; nil never expires

	// Graph and history
	Relationships []Relationship `json:"relationships,omitempty"` // At most one entry per target
	Versions      []Version      `json:"versions,omitempty"`      // Append-only snapshots of prior states
	Version       int            `json:"version"`                 // Monotonic counter, starts at 1
}

// Metadata holds the user-facing classification of a memory.
type Metadata struct {
	Category     string                 `json:"category"`                // Primary category (default "general")
	Tags         []string               `json:"tags,omitempty"`          // Lower-cased, trimmed tags
	Importance   Importance             `json:"importance"`              // low, medium or high
	CustomFields map[string]interface{} `json:"custom_fields,omitempty"` // Arbitrary caller data
}

// Relationship links a memory to another memory by ID.
type Relationship struct {
	TargetID string           `json:"target_id"`
	Type     RelationshipType `json:"relationship_type"`
	Strength float64          `json:"strength"` // 0.0 to 1.0
}

// Version is a snapshot of a memory's content taken before an update.
type Version struct {
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	Content       string    `json:"content"`
	ChangedFields []string  `json:"changed_fields"`
}

// DefaultMetadata returns metadata with the default category and importance.
func DefaultMetadata() Metadata {
	return Metadata{
		Category:   DefaultCategory,
		Importance: ImportanceMedium,
	}
}

// NewMemory builds a memory for tenantID with a fresh ID. Content is trimmed
// and must not be blank. A nil metadata pointer yields DefaultMetadata.
func NewMemory(content string, metadata *Metadata, tenantID string) (*Memory, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, NewInvalidMemoryError("content", "memory content cannot be empty")
	}

	md := DefaultMetadata()
	if metadata != nil {
		md = metadata.Clone()
	}
	md.Normalize()
	if err := md.Validate(); err != nil {
		return nil, err
	}

	if tenantID == "" {
		tenantID = DefaultTenant
	}

	now := time.Now().UTC()
	return &Memory{
		ID:        uuid.New().String(),
		Content:   trimmed,
		TenantID:  tenantID,
		Metadata:  md,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}, nil
}

// SetContent replaces the content after trimming. Blank content is rejected
// and leaves the memory untouched. The stale embedding is cleared.
func (m *Memory) SetContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return NewInvalidMemoryError("content", "memory content cannot be empty")
	}
	m.Content = trimmed
	m.Embedding = nil
	return nil
}

// IsExpired reports whether the memory's expiry lies in the past.
func (m *Memory) IsExpired() bool {
	return m.IsExpiredAt(time.Now())
}

// IsExpiredAt reports whether the memory is expired at instant t.
func (m *Memory) IsExpiredAt(t time.Time) bool {
	if m.ExpiresAt == nil {
		return false
	}
	return t.After(*m.ExpiresAt)
}

// SetTTL sets the expiry to now plus the given number of days. Zero or
// negative values are accepted and make the memory expire immediately.
func (m *Memory) SetTTL(days int) {
	expires := time.Now().UTC().Add(time.Duration(days) * 24 * time.Hour)
	m.ExpiresAt = &expires
}

// AddRelationship links this memory to targetID. An existing relationship to
// the same target is replaced and moved to the end of the list.
func (m *Memory) AddRelationship(targetID string, relType RelationshipType, strength float64) error {
	if targetID == "" {
		return NewInvalidMemoryError("target_id", "relationship target is required")
	}
	if !relType.IsValid() {
		return NewInvalidMemoryError("relationship_type", fmt.Sprintf("unknown relationship type %q", relType))
	}
	if strength < 0 || strength > 1 {
		return NewInvalidMemoryError("strength", fmt.Sprintf("strength %.2f outside [0,1]", strength))
	}

	kept := m.Relationships[:0]
	for _, r := range m.Relationships {
		if r.TargetID != targetID {
			kept = append(kept, r)
		}
	}
	m.Relationships = append(kept, Relationship{TargetID: targetID, Type: relType, Strength: strength})
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateVersion appends a snapshot of the current content, stamped with the
// current UpdatedAt, then bumps Version and advances UpdatedAt to now.
// A nil changedFields defaults to ["content"].
func (m *Memory) CreateVersion(changedFields []string) {
	if changedFields == nil {
		changedFields = []string{"content"}
	}
	m.Versions = append(m.Versions, Version{
		Version:       m.Version,
		CreatedAt:     m.UpdatedAt,
		Content:       m.Content,
		ChangedFields: append([]string(nil), changedFields...),
	})
	m.Version++

	now := time.Now().UTC()
	if !now.After(m.UpdatedAt) {
		now = m.UpdatedAt.Add(time.Nanosecond)
	}
	m.UpdatedAt = now
}

// Touch advances UpdatedAt without creating a version.
func (m *Memory) Touch() {
	now := time.Now().UTC()
	if !now.After(m.UpdatedAt) {
		now = m.UpdatedAt.Add(time.Nanosecond)
	}
	m.UpdatedAt = now
}

// HasEmbedding reports whether an embedding vector is attached.
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0
}

// Clone returns a deep copy so callers and backends never share slices or maps.
func (m *Memory) Clone() *Memory {
	if m == nil {
		return nil
	}
	c := *m
	c.Metadata = m.Metadata.Clone()
	if m.Embedding != nil {
		c.Embedding = append([]float32(nil), m.Embedding...)
	}
	if m.ExpiresAt != nil {
		t := *m.ExpiresAt
		c.ExpiresAt = &t
	}
	if m.Relationships != nil {
		c.Relationships = append([]Relationship(nil), m.Relationships...)
	}
	if m.Versions != nil {
		c.Versions = make([]Version, len(m.Versions))
		for i, v := range m.Versions {
			v.ChangedFields = append([]string(nil), v.ChangedFields...)
			c.Versions[i] = v
		}
	}
	return &c
}

// Normalize applies defaults and tag normalization in place.
func (md *Metadata) Normalize() {
	if strings.TrimSpace(md.Category) == "" {
		md.Category = DefaultCategory
	}
	if md.Importance == "" {
		md.Importance = ImportanceMedium
	}
	md.Tags = NormalizeTags(md.Tags)
}

// Validate checks fields that cannot be defaulted.
func (md Metadata) Validate() error {
	if !md.Importance.IsValid() {
		return NewInvalidMemoryError("importance", fmt.Sprintf("importance must be one of low, medium, high (got %q)", md.Importance))
	}
	return nil
}

// Clone returns a deep copy of the metadata.
func (md Metadata) Clone() Metadata {
	c := md
	if md.Tags != nil {
		c.Tags = append([]string(nil), md.Tags...)
	}
	if md.CustomFields != nil {
		c.CustomFields = make(map[string]interface{}, len(md.CustomFields))
		for k, v := range md.CustomFields {
			c.CustomFields[k] = v
		}
	}
	return c
}

// HasTags reports whether every tag in required is present.
func (md Metadata) HasTags(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(md.Tags))
	for _, t := range md.Tags {
		have[t] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// NormalizeTags lower-cases and trims each tag and drops blanks. Order and
// duplicates are preserved.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
