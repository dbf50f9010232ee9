// Package types defines the core data structures for the memorycore memory
// system: memories, their metadata, relationships and version history, and
// the typed errors returned across component boundaries.
package types

// Importance is the coarse importance level attached to a memory.
type Importance string

// Importance levels
const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// ValidImportanceLevels lists every accepted importance level.
var ValidImportanceLevels = []Importance{ImportanceLow, ImportanceMedium, ImportanceHigh}

// IsValid reports whether i is one of the known importance levels.
func (i Importance) IsValid() bool {
	for _, v := range ValidImportanceLevels {
		if i == v {
			return true
		}
	}
	return false
}

// RelationshipType classifies how one memory relates to another.
type RelationshipType string

// Relationship type constants
const (
	RelationshipRelated     RelationshipType = "related"
	RelationshipSupersedes  RelationshipType = "supersedes"
	RelationshipContradicts RelationshipType = "contradicts"
	RelationshipExtends     RelationshipType = "extends"
)

// ValidRelationshipTypes lists every accepted relationship type.
var ValidRelationshipTypes = []RelationshipType{
	RelationshipRelated,
	RelationshipSupersedes,
	RelationshipContradicts,
	RelationshipExtends,
}

// IsValid reports whether t is one of the known relationship types.
func (t RelationshipType) IsValid() bool {
	for _, v := range ValidRelationshipTypes {
		if t == v {
			return true
		}
	}
	return false
}

// DefaultCategory is assigned to memories saved without an explicit category.
const DefaultCategory = "general"

// DefaultTenant is used when neither the caller nor the configuration names one.
const DefaultTenant = "default"
