// Package store defines the storage capability consumed by the
// consolidation engine. Implementations must provide the versioned-read /
// optimistic-write semantics described on EntityStore; the engine never
// depends on a particular persisted representation.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/model"
)

// TypeStore persists committed entity type versions and the schema-op
// audit log.
type TypeStore interface {
	InsertTypeVersion(ctx context.Context, typ *model.EntityType) error
	// SelectAllTypeVersions returns every committed version of every type,
	// ordered by name then version.
	SelectAllTypeVersions(ctx context.Context) ([]*model.EntityType, error)
	// RecordSchemaOp appends to the audit log. Every committed schema
	// mutation is recorded with its operation type and JSON payload.
	RecordSchemaOp(ctx context.Context, opType string, payload []byte) error
}

// EntityStore provides typed create/read/update/query over entities.
// UpdateEntity compares expectedVersion against the stored version counter
// and fails with model.ErrConcurrencyConflict on mismatch; it never
// silently overwrites.
type EntityStore interface {
	InsertEntity(ctx context.Context, entity *model.Entity) error
	SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error)
	SelectEntitiesByType(ctx context.Context, typeName string) ([]*model.Entity, error)
	SelectAllEntities(ctx context.Context) ([]*model.Entity, error)
	UpdateEntity(ctx context.Context, entity *model.Entity, expectedVersion int64) error
}

// DocumentStore persists scratchpad documents. Titles are unique.
type DocumentStore interface {
	UpsertDocument(ctx context.Context, doc *model.ScratchpadDocument) error
	SelectDocument(ctx context.Context, id uuid.UUID) (*model.ScratchpadDocument, error)
	SelectDocumentByTitle(ctx context.Context, title string) (*model.ScratchpadDocument, error)
	SelectAllDocuments(ctx context.Context) ([]*model.ScratchpadDocument, error)
}

// LinkStore persists forward wiki links. Backlinks are never stored: they
// are recomputed from forward links so they cannot drift.
type LinkStore interface {
	// ReplaceDocumentLinks atomically replaces the forward-link set of a
	// source document.
	ReplaceDocumentLinks(ctx context.Context, sourceDocID uuid.UUID, links []*model.WikiLink) error
	SelectAllLinks(ctx context.Context) ([]*model.WikiLink, error)
	// UpdateLink upgrades a pending stub in place.
	UpdateLink(ctx context.Context, link *model.WikiLink) error
}

// MentionStore records mentions and their terminal resolution outcomes.
type MentionStore interface {
	InsertMention(ctx context.Context, mention *model.Mention, outcome model.ResolutionOutcome) error
	UpdateMentionOutcome(ctx context.Context, mentionID uuid.UUID, outcome model.ResolutionOutcome) error
}

// Stores bundles the capability interfaces handed to the engine.
type Stores struct {
	Types     TypeStore
	Entities  EntityStore
	Documents DocumentStore
	Links     LinkStore
	Mentions  MentionStore
}

// TxRunner is implemented by store sets that can apply a function
// atomically. The write coordinator uses it for the commit phase when
// available; without it the coordinator relies on its validate-then-commit
// discard policy alone.
type TxRunner interface {
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
}
