// Package memory provides an in-memory transactional implementation of the
// storage capability. It backs the embedded mode and the engine's unit
// tests; the Postgres handlers in package database provide the durable
// implementation of the same interfaces.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/model"
	"github.com/siherrmann/memoir/store"
)

// SchemaOp is one recorded schema mutation.
type SchemaOp struct {
	OpType    string
	Payload   []byte
	AppliedAt time.Time
}

type mentionRecord struct {
	mention *model.Mention
	outcome model.ResolutionOutcome
}

// Store is an in-memory implementation of every store interface plus
// store.TxRunner. All reads return deep copies.
type Store struct {
	txMu sync.Mutex // serializes Atomically blocks
	mu   sync.RWMutex

	types     map[string][]*model.EntityType
	schemaOps []SchemaOp
	entities  map[uuid.UUID]*model.Entity
	documents map[uuid.UUID]*model.ScratchpadDocument
	titles    map[string]uuid.UUID
	links     map[uuid.UUID][]*model.WikiLink
	mentions  map[uuid.UUID]mentionRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		types:     map[string][]*model.EntityType{},
		entities:  map[uuid.UUID]*model.Entity{},
		documents: map[uuid.UUID]*model.ScratchpadDocument{},
		titles:    map[string]uuid.UUID{},
		links:     map[uuid.UUID][]*model.WikiLink{},
		mentions:  map[uuid.UUID]mentionRecord{},
	}
}

// Stores bundles the store for the engine.
func (s *Store) Stores() *store.Stores {
	return &store.Stores{
		Types:     s,
		Entities:  s,
		Documents: s,
		Links:     s,
		Mentions:  s,
	}
}

type snapshot struct {
	types     map[string][]*model.EntityType
	schemaOps []SchemaOp
	entities  map[uuid.UUID]*model.Entity
	documents map[uuid.UUID]*model.ScratchpadDocument
	titles    map[string]uuid.UUID
	links     map[uuid.UUID][]*model.WikiLink
	mentions  map[uuid.UUID]mentionRecord
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		types:     make(map[string][]*model.EntityType, len(s.types)),
		schemaOps: append([]SchemaOp(nil), s.schemaOps...),
		entities:  make(map[uuid.UUID]*model.Entity, len(s.entities)),
		documents: make(map[uuid.UUID]*model.ScratchpadDocument, len(s.documents)),
		titles:    make(map[string]uuid.UUID, len(s.titles)),
		links:     make(map[uuid.UUID][]*model.WikiLink, len(s.links)),
		mentions:  make(map[uuid.UUID]mentionRecord, len(s.mentions)),
	}
	for name, versions := range s.types {
		cloned := make([]*model.EntityType, len(versions))
		for i, v := range versions {
			cloned[i] = v.Clone()
		}
		snap.types[name] = cloned
	}
	for id, e := range s.entities {
		snap.entities[id] = e.Clone()
	}
	for id, d := range s.documents {
		clone := *d
		snap.documents[id] = &clone
	}
	for title, id := range s.titles {
		snap.titles[title] = id
	}
	for src, ls := range s.links {
		cloned := make([]*model.WikiLink, len(ls))
		for i, l := range ls {
			c := *l
			cloned[i] = &c
		}
		snap.links[src] = cloned
	}
	for id, m := range s.mentions {
		snap.mentions[id] = m
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = snap.types
	s.schemaOps = snap.schemaOps
	s.entities = snap.entities
	s.documents = snap.documents
	s.titles = snap.titles
	s.links = snap.links
	s.mentions = snap.mentions
}

// Atomically runs fn and rolls every store mutation back if it fails.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// InsertTypeVersion stores a committed type version.
func (s *Store) InsertTypeVersion(ctx context.Context, typ *model.EntityType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.types[typ.Name]
	if len(versions)+1 != typ.Version {
		return fmt.Errorf("type %s: expected version %d, got %d", typ.Name, len(versions)+1, typ.Version)
	}
	s.types[typ.Name] = append(versions, typ.Clone())
	return nil
}

// SelectAllTypeVersions returns every committed version ordered by name
// then version.
func (s *Store) SelectAllTypeVersions(ctx context.Context) ([]*model.EntityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*model.EntityType
	for _, name := range names {
		for _, v := range s.types[name] {
			out = append(out, v.Clone())
		}
	}
	return out, nil
}

// RecordSchemaOp appends to the audit log.
func (s *Store) RecordSchemaOp(ctx context.Context, opType string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemaOps = append(s.schemaOps, SchemaOp{
		OpType:    opType,
		Payload:   append([]byte(nil), payload...),
		AppliedAt: time.Now(),
	})
	return nil
}

// SchemaOps returns a copy of the audit log, oldest first.
func (s *Store) SchemaOps() []SchemaOp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SchemaOp(nil), s.schemaOps...)
}

// InsertEntity stores a new entity, assigning id, version and timestamps.
func (s *Store) InsertEntity(ctx context.Context, entity *model.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entity.ID == uuid.Nil {
		entity.ID = uuid.New()
	}
	if _, exists := s.entities[entity.ID]; exists {
		return fmt.Errorf("entity %s already exists", entity.ID)
	}
	now := time.Now()
	entity.Version = 1
	entity.CreatedAt = now
	entity.UpdatedAt = now
	s.entities[entity.ID] = entity.Clone()
	return nil
}

// SelectEntity returns the entity or model.ErrNotFound.
func (s *Store) SelectEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entity, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, model.ErrNotFound)
	}
	return entity.Clone(), nil
}

// SelectEntitiesByType returns all entities of typeName ordered by id.
func (s *Store) SelectEntitiesByType(ctx context.Context, typeName string) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Entity
	for _, e := range s.entities {
		if e.TypeRef.Name == typeName {
			out = append(out, e.Clone())
		}
	}
	sortEntities(out)
	return out, nil
}

// SelectAllEntities returns every entity ordered by id.
func (s *Store) SelectAllEntities(ctx context.Context) ([]*model.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		out = append(out, e.Clone())
	}
	sortEntities(out)
	return out, nil
}

// UpdateEntity applies an optimistic-concurrency update. A version
// mismatch fails with model.ErrConcurrencyConflict and leaves the stored
// entity untouched.
func (s *Store) UpdateEntity(ctx context.Context, entity *model.Entity, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entities[entity.ID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entity.ID, model.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("entity %s read at version %d, stored version is %d: %w",
			entity.ID, expectedVersion, current.Version, model.ErrConcurrencyConflict)
	}
	entity.Version = current.Version + 1
	entity.CreatedAt = current.CreatedAt
	entity.UpdatedAt = time.Now()
	s.entities[entity.ID] = entity.Clone()
	return nil
}

// UpsertDocument stores a document, enforcing title uniqueness.
func (s *Store) UpsertDocument(ctx context.Context, doc *model.ScratchpadDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if existingID, ok := s.titles[doc.Title]; ok && existingID != doc.ID {
		return fmt.Errorf("document title %q already used by %s", doc.Title, existingID)
	}
	now := time.Now()
	if existing, ok := s.documents[doc.ID]; ok {
		doc.CreatedAt = existing.CreatedAt
		delete(s.titles, existing.Title)
	} else {
		doc.CreatedAt = now
	}
	doc.LastModified = now
	clone := *doc
	s.documents[doc.ID] = &clone
	s.titles[doc.Title] = doc.ID
	return nil
}

// SelectDocument returns the document or model.ErrNotFound.
func (s *Store) SelectDocument(ctx context.Context, id uuid.UUID) (*model.ScratchpadDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	clone := *doc
	return &clone, nil
}

// SelectDocumentByTitle returns the document with the given title or
// model.ErrNotFound.
func (s *Store) SelectDocumentByTitle(ctx context.Context, title string) (*model.ScratchpadDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.titles[title]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", title, model.ErrNotFound)
	}
	clone := *s.documents[id]
	return &clone, nil
}

// SelectAllDocuments returns every document ordered by id.
func (s *Store) SelectAllDocuments(ctx context.Context) ([]*model.ScratchpadDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.ScratchpadDocument, 0, len(s.documents))
	for _, d := range s.documents {
		clone := *d
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

// ReplaceDocumentLinks atomically replaces the forward links of a source
// document.
func (s *Store) ReplaceDocumentLinks(ctx context.Context, sourceDocID uuid.UUID, links []*model.WikiLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := make([]*model.WikiLink, len(links))
	for i, l := range links {
		if l.ID == uuid.Nil {
			l.ID = uuid.New()
		}
		if l.CreatedAt.IsZero() {
			l.CreatedAt = time.Now()
		}
		c := *l
		cloned[i] = &c
	}
	if len(cloned) == 0 {
		delete(s.links, sourceDocID)
		return nil
	}
	s.links[sourceDocID] = cloned
	return nil
}

// SelectAllLinks returns every forward link ordered by source then anchor.
func (s *Store) SelectAllLinks(ctx context.Context) ([]*model.WikiLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.WikiLink
	for _, ls := range s.links {
		for _, l := range ls {
			c := *l
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceDocID != out[j].SourceDocID {
			return out[i].SourceDocID.String() < out[j].SourceDocID.String()
		}
		return out[i].AnchorText < out[j].AnchorText
	})
	return out, nil
}

// UpdateLink upgrades a stored link in place, matched by id.
func (s *Store) UpdateLink(ctx context.Context, link *model.WikiLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ls := range s.links {
		for i, l := range ls {
			if l.ID == link.ID {
				c := *link
				ls[i] = &c
				return nil
			}
		}
	}
	return fmt.Errorf("link %s: %w", link.ID, model.ErrNotFound)
}

// InsertMention records a mention with its resolution outcome.
func (s *Store) InsertMention(ctx context.Context, mention *model.Mention, outcome model.ResolutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mention.ID == uuid.Nil {
		mention.ID = uuid.New()
	}
	if mention.CreatedAt.IsZero() {
		mention.CreatedAt = time.Now()
	}
	clone := *mention
	s.mentions[mention.ID] = mentionRecord{mention: &clone, outcome: outcome}
	return nil
}

// UpdateMentionOutcome records a state transition for a mention.
func (s *Store) UpdateMentionOutcome(ctx context.Context, mentionID uuid.UUID, outcome model.ResolutionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.mentions[mentionID]
	if !ok {
		return fmt.Errorf("mention %s: %w", mentionID, model.ErrNotFound)
	}
	record.outcome = outcome
	s.mentions[mentionID] = record
	return nil
}

// MentionOutcome returns the recorded outcome for a mention.
func (s *Store) MentionOutcome(mentionID uuid.UUID) (model.ResolutionOutcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.mentions[mentionID]
	if !ok {
		return "", false
	}
	return record.outcome, true
}

func sortEntities(entities []*model.Entity) {
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID.String() < entities[j].ID.String()
	})
}
