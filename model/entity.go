package model

import (
	"time"

	"github.com/google/uuid"
)

// Entity is a structured record instance of an EntityType.
// Version is an optimistic concurrency counter: updates carry the version
// they were read at and fail with ErrConcurrencyConflict on mismatch.
type Entity struct {
	ID         uuid.UUID   `json:"id"`
	TypeRef    TypeRef     `json:"type_ref"`
	Properties Metadata    `json:"properties"`
	Aliases    []string    `json:"aliases,omitempty"`
	Provenance []uuid.UUID `json:"provenance,omitempty"` // ordered source mention ids
	Version    int64       `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Name returns the entity's identifying name property, if present.
func (e *Entity) Name() string {
	if e.Properties == nil {
		return ""
	}
	if s, ok := e.Properties["name"].(string); ok {
		return s
	}
	return ""
}

// Completeness returns the number of non-null property values, used as a
// resolution tie-break (more complete entities win).
func (e *Entity) Completeness() int {
	n := 0
	for _, v := range e.Properties {
		if v != nil {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	clone := *e
	clone.Properties = make(Metadata, len(e.Properties))
	for k, v := range e.Properties {
		clone.Properties[k] = v
	}
	clone.Aliases = append([]string(nil), e.Aliases...)
	clone.Provenance = append([]uuid.UUID(nil), e.Provenance...)
	return &clone
}
