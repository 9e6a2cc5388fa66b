package model

import (
	"time"

	"github.com/google/uuid"
)

// ExcerptSource says how an excerpt entered the context.
type ExcerptSource string

const (
	ExcerptSourceKeyword   ExcerptSource = "keyword"
	ExcerptSourceProximity ExcerptSource = "proximity"
	ExcerptSourceNamedDoc  ExcerptSource = "named_document"
	ExcerptSourceSemantic  ExcerptSource = "semantic"
)

// Excerpt is one ranked snippet of scratchpad content.
type Excerpt struct {
	DocumentID    uuid.UUID     `json:"document_id"`
	DocumentTitle string        `json:"document_title"`
	Text          string        `json:"text"`
	Score         float64       `json:"score"`
	ByteLength    int           `json:"byte_length"`
	Source        ExcerptSource `json:"source"`
	LastModified  time.Time     `json:"last_modified"`
}

// EntitySnapshot is the current property state of a directly-named entity,
// pinned to one schema version for the lifetime of a request.
type EntitySnapshot struct {
	EntityID   uuid.UUID `json:"entity_id"`
	TypeName   string    `json:"type_name"`
	Version    int64     `json:"version"`
	Properties Metadata  `json:"properties"`
}

// RelationPath is a summarized link-graph path between two named entities.
type RelationPath struct {
	From    uuid.UUID `json:"from"`
	To      uuid.UUID `json:"to"`
	Summary string    `json:"summary"`
	Hops    int       `json:"hops"`
}

// SynthesisContext is the bounded, ranked assembly of structured and
// unstructured material handed to response generation. TotalBytes never
// exceeds the requested budget.
type SynthesisContext struct {
	Query         string           `json:"query"`
	Excerpts      []Excerpt        `json:"excerpts"`
	Entities      []EntitySnapshot `json:"entities,omitempty"`
	Relations     []RelationPath   `json:"relations,omitempty"`
	SchemaSummary string           `json:"schema_summary,omitempty"`
	TotalBytes    int              `json:"total_bytes"`
	Budget        int              `json:"budget"`
}
