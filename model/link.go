package model

import (
	"time"

	"github.com/google/uuid"
)

// LinkTargetKind says what a wiki link points at.
type LinkTargetKind string

const (
	LinkTargetDocument LinkTargetKind = "document"
	LinkTargetEntity   LinkTargetKind = "entity"
	// LinkTargetPending marks an unresolved stub keyed by anchor text.
	// Stubs are upgraded in place once a matching target is created.
	LinkTargetPending LinkTargetKind = "pending"
)

// WikiLink is a named reference from one document to another document or
// entity. TargetID is zero while the link is pending.
type WikiLink struct {
	ID          uuid.UUID      `json:"id"`
	SourceDocID uuid.UUID      `json:"source_doc_id"`
	AnchorText  string         `json:"anchor_text"`
	TargetKind  LinkTargetKind `json:"target_kind"`
	TargetID    uuid.UUID      `json:"target_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Resolved reports whether the link points at an existing target.
func (l *WikiLink) Resolved() bool {
	return l.TargetKind != LinkTargetPending
}

// NodeKind distinguishes document and entity nodes in the link graph.
type NodeKind string

const (
	NodeDocument NodeKind = "document"
	NodeEntity   NodeKind = "entity"
)

// GraphNeighbor is a node reached by bounded traversal, with its hop
// distance from the source.
type GraphNeighbor struct {
	ID       uuid.UUID `json:"id"`
	Kind     NodeKind  `json:"kind"`
	Distance int       `json:"distance"`
}

// GraphPath is an ordered node sequence between two nodes.
type GraphPath struct {
	Nodes []uuid.UUID `json:"nodes"`
}

// Len returns the number of hops in the path.
func (p GraphPath) Len() int {
	if len(p.Nodes) == 0 {
		return 0
	}
	return len(p.Nodes) - 1
}
