package model

import (
	"github.com/google/uuid"
)

// OpKind identifies a proposed batch operation.
type OpKind string

const (
	OpCreateEntity  OpKind = "create_entity"
	OpUpdateEntity  OpKind = "update_entity"
	OpWriteDocument OpKind = "write_document"
)

// EntityRef identifies an entity in a batch: exactly one of ID, LocalRef or
// Mention is set. LocalRef points at a create operation in the same batch;
// a Mention is routed through the resolver.
type EntityRef struct {
	ID       uuid.UUID `json:"id,omitempty"`
	LocalRef string    `json:"local_ref,omitempty"`
	Mention  *Mention  `json:"mention,omitempty"`
}

// Zero reports whether the reference is empty.
func (r EntityRef) Zero() bool {
	return r.ID == uuid.Nil && r.LocalRef == "" && r.Mention == nil
}

// BatchOp is one proposed operation derived from a user statement.
// Which fields apply depends on Kind.
type BatchOp struct {
	Kind OpKind `json:"kind"`

	// create_entity: LocalRef names the new entity within the batch so
	// later operations can reference it before it has an id.
	LocalRef      string   `json:"local_ref,omitempty"`
	TypeName      string   `json:"type_name,omitempty"`
	Properties    Metadata `json:"properties,omitempty"`
	SourceMention *Mention `json:"source_mention,omitempty"`

	// update_entity
	Target      *EntityRef `json:"target,omitempty"`
	ReadVersion int64      `json:"read_version,omitempty"`

	// write_document
	Document *ScratchpadDocument `json:"document,omitempty"`
}

// CreateEntityOp proposes a new entity of the given type.
func CreateEntityOp(localRef, typeName string, properties Metadata) BatchOp {
	return BatchOp{
		Kind:       OpCreateEntity,
		LocalRef:   localRef,
		TypeName:   typeName,
		Properties: properties,
	}
}

// UpdateEntityOp proposes a property update against the version the entity
// was read at.
func UpdateEntityOp(target EntityRef, readVersion int64, properties Metadata) BatchOp {
	return BatchOp{
		Kind:        OpUpdateEntity,
		Target:      &target,
		ReadVersion: readVersion,
		Properties:  properties,
	}
}

// WriteDocumentOp proposes a scratchpad document write.
func WriteDocumentOp(doc *ScratchpadDocument) BatchOp {
	return BatchOp{
		Kind:     OpWriteDocument,
		Document: doc,
	}
}

// BatchResult reports what a committed batch changed.
type BatchResult struct {
	// Created maps local refs (and mention raw text for entities created
	// through resolution) to the new entity ids.
	Created   map[string]uuid.UUID   `json:"created,omitempty"`
	Updated   []uuid.UUID            `json:"updated,omitempty"`
	Documents []uuid.UUID            `json:"documents,omitempty"`
	Resolved  []*ResolutionCandidate `json:"resolved,omitempty"`
}
