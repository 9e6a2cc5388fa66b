// Package batch commits proposed operation batches with all-or-nothing
// semantics. A batch is validated completely against one pinned schema
// snapshot before any mutation is staged; a single failure discards the
// whole batch and nothing reaches the stores.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/core/linkgraph"
	"github.com/siherrmann/memoir/core/resolve"
	"github.com/siherrmann/memoir/core/schema"
	"github.com/siherrmann/memoir/helper"
	"github.com/siherrmann/memoir/model"
	"github.com/siherrmann/memoir/store"
)

// Coordinator serializes batches and drives them through the
// validate-then-commit cycle. Mentions inside a batch are routed through
// the resolver; unresolved ones reject the batch rather than commit
// ambiguous writes.
type Coordinator struct {
	stores   store.Stores
	registry *schema.Registry
	resolver *resolve.Resolver
	graph    *linkgraph.Index
	tx       store.TxRunner
	log      *slog.Logger

	// mu serializes Submit so validation reads stay consistent with the
	// commit that follows them.
	mu sync.Mutex
}

// NewCoordinator creates a write coordinator. When the entity store also
// implements store.TxRunner the commit phase runs inside it.
func NewCoordinator(stores store.Stores, registry *schema.Registry, resolver *resolve.Resolver, graph *linkgraph.Index, logger *slog.Logger) (*Coordinator, error) {
	if stores.Types == nil || stores.Entities == nil || stores.Documents == nil || stores.Links == nil || stores.Mentions == nil {
		return nil, helper.NewError("coordinator validation", fmt.Errorf("all stores are required"))
	}
	if registry == nil || resolver == nil || graph == nil {
		return nil, helper.NewError("coordinator validation", fmt.Errorf("registry, resolver and graph are required"))
	}

	c := &Coordinator{
		stores:   stores,
		registry: registry,
		resolver: resolver,
		graph:    graph,
		log:      logger,
	}
	if tx, ok := stores.Entities.(store.TxRunner); ok {
		c.tx = tx
	}
	return c, nil
}

// plannedCreate is a fully validated entity creation, including implicit
// creates materialized from CreatedNew resolutions.
type plannedCreate struct {
	key     string // local ref, or mention raw text for implicit creates
	entity  *model.Entity
	mention *model.Mention
}

type plannedUpdate struct {
	entity      *model.Entity
	readVersion int64
}

// plan is the staged result of a fully validated batch.
type plan struct {
	creates  []*plannedCreate
	updates  []*plannedUpdate
	docs     []*model.ScratchpadDocument
	resolved []*model.ResolutionCandidate
	touches  []uuid.UUID

	// byRef indexes creates by their key so later operations in the same
	// batch can target them before they have a persisted id.
	byRef map[string]*plannedCreate
}

// Submit validates the batch against the current schema snapshot and
// commits every operation, or none. Validation and resolution failures
// are aggregated into a *model.BatchError.
func (c *Coordinator) Submit(ctx context.Context, ops []model.BatchOp) (*model.BatchResult, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("batch is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.registry.Snapshot()

	staged, failures := c.validate(ctx, snap, ops)
	if len(failures) > 0 {
		c.log.Warn("Batch rejected",
			slog.Int("ops", len(ops)),
			slog.Int("failures", len(failures)))
		return nil, &model.BatchError{Failures: failures}
	}

	result := &model.BatchResult{Created: map[string]uuid.UUID{}}
	commit := func(ctx context.Context) error {
		return c.commit(ctx, staged, result)
	}

	// The graph mutates during commit (stub upgrades, new document nodes),
	// so a failed commit restores it together with the store rollback.
	graphState := c.graph.Snapshot()

	var err error
	if c.tx != nil {
		err = c.tx.Atomically(ctx, commit)
	} else {
		err = commit(ctx)
	}
	if err != nil {
		c.graph.Restore(graphState)
		return nil, helper.NewError("commit batch", err)
	}

	result.Resolved = staged.resolved
	c.log.Info("Batch committed",
		slog.Int("created", len(result.Created)),
		slog.Int("updated", len(result.Updated)),
		slog.Int("documents", len(result.Documents)))

	return result, nil
}

// validate checks every operation against the pinned snapshot and builds
// the commit plan. Creates stage first regardless of submission order, so
// an update may reference a create that appears later in the batch. It
// always walks the full batch so the caller sees every failure at once.
func (c *Coordinator) validate(ctx context.Context, snap *schema.Snapshot, ops []model.BatchOp) (*plan, []model.OpFailure) {
	staged := &plan{byRef: map[string]*plannedCreate{}}
	var failures []model.OpFailure

	fail := func(index int, kind model.OpKind, err error) {
		failures = append(failures, model.OpFailure{Index: index, Kind: kind, Err: err})
	}

	for index, op := range ops {
		if op.Kind != model.OpCreateEntity {
			continue
		}
		if err := c.validateCreate(snap, staged, op); err != nil {
			fail(index, op.Kind, err)
		}
	}

	for index, op := range ops {
		switch op.Kind {
		case model.OpCreateEntity:
			// Staged in the first pass.
		case model.OpUpdateEntity:
			if err := c.validateUpdate(ctx, snap, staged, op); err != nil {
				fail(index, op.Kind, err)
			}
		case model.OpWriteDocument:
			if err := c.validateDocument(ctx, staged, op); err != nil {
				fail(index, op.Kind, err)
			}
		default:
			fail(index, op.Kind, fmt.Errorf("unknown operation kind %q", op.Kind))
		}
	}

	return staged, failures
}

func (c *Coordinator) validateCreate(snap *schema.Snapshot, staged *plan, op model.BatchOp) error {
	typ, err := snap.Get(op.TypeName)
	if err != nil {
		return err
	}
	if op.LocalRef != "" {
		if _, taken := staged.byRef[op.LocalRef]; taken {
			return fmt.Errorf("local ref %q used twice in one batch", op.LocalRef)
		}
	}
	if err := schema.ValidateProperties(typ, op.Properties, true); err != nil {
		return err
	}

	entity := &model.Entity{
		ID:         uuid.New(),
		TypeRef:    model.TypeRef{Name: typ.Name, Version: typ.Version},
		Properties: cloneProperties(op.Properties),
	}
	if op.SourceMention != nil {
		if op.SourceMention.ID == uuid.Nil {
			op.SourceMention.ID = uuid.New()
		}
		entity.Provenance = append(entity.Provenance, op.SourceMention.ID)
	}

	key := op.LocalRef
	if key == "" {
		key = entity.ID.String()
	}
	create := &plannedCreate{key: key, entity: entity, mention: op.SourceMention}
	staged.creates = append(staged.creates, create)
	staged.byRef[key] = create
	return nil
}

func (c *Coordinator) validateUpdate(ctx context.Context, snap *schema.Snapshot, staged *plan, op model.BatchOp) error {
	if op.Target == nil || op.Target.Zero() {
		return fmt.Errorf("update requires a target entity reference")
	}

	// Updates against an entity created earlier in the same batch fold
	// into the pending create: the entity does not exist yet, so there is
	// no version to conflict with.
	if op.Target.LocalRef != "" {
		create, ok := staged.byRef[op.Target.LocalRef]
		if !ok {
			return fmt.Errorf("local ref %q does not name a create in this batch", op.Target.LocalRef)
		}
		typ, err := snap.Get(create.entity.TypeRef.Name)
		if err != nil {
			return err
		}
		if err := schema.ValidateProperties(typ, op.Properties, false); err != nil {
			return err
		}
		for k, v := range op.Properties {
			create.entity.Properties[k] = v
		}
		return nil
	}

	targetID := op.Target.ID
	if op.Target.Mention != nil {
		id, implicit, err := c.resolveTarget(ctx, snap, staged, op.Target.Mention)
		if err != nil {
			return err
		}
		if implicit != nil {
			typ, err := snap.Get(implicit.entity.TypeRef.Name)
			if err != nil {
				return err
			}
			if err := schema.ValidateProperties(typ, op.Properties, false); err != nil {
				return err
			}
			for k, v := range op.Properties {
				implicit.entity.Properties[k] = v
			}
			return nil
		}
		targetID = id
	}

	// Look before committing: a vanished target or stale read version
	// must reject the batch before anything is staged for it.
	entity, err := c.stores.Entities.SelectEntity(ctx, targetID)
	if err != nil {
		return fmt.Errorf("target entity %s: %w", targetID, err)
	}
	if op.ReadVersion <= 0 {
		return fmt.Errorf("update of %s requires the read version", targetID)
	}
	if entity.Version != op.ReadVersion {
		return fmt.Errorf("entity %s is at version %d, update read version %d: %w",
			targetID, entity.Version, op.ReadVersion, model.ErrConcurrencyConflict)
	}

	typ, err := snap.Get(entity.TypeRef.Name)
	if err != nil {
		return err
	}
	if err := schema.ValidateProperties(typ, op.Properties, false); err != nil {
		return err
	}

	updated := entity.Clone()
	for k, v := range op.Properties {
		updated.Properties[k] = v
	}
	if op.Target.Mention != nil && op.Target.Mention.ID != uuid.Nil {
		updated.Provenance = append(updated.Provenance, op.Target.Mention.ID)
	}
	staged.updates = append(staged.updates, &plannedUpdate{entity: updated, readVersion: op.ReadVersion})
	return nil
}

// resolveTarget routes a target mention through the resolver. AutoMatched
// yields the entity id; CreatedNew materializes an implicit create;
// anything needing confirmation rejects the batch.
func (c *Coordinator) resolveTarget(ctx context.Context, snap *schema.Snapshot, staged *plan, mention *model.Mention) (uuid.UUID, *plannedCreate, error) {
	candidate, err := c.resolver.Resolve(ctx, snap, mention, mention.TypeHint)
	if err != nil {
		return uuid.Nil, nil, err
	}
	staged.resolved = append(staged.resolved, candidate)

	switch candidate.Outcome {
	case model.OutcomeAutoMatched:
		staged.touches = append(staged.touches, candidate.EntityID)
		return candidate.EntityID, nil, nil

	case model.OutcomePendingConfirmation:
		return uuid.Nil, nil, fmt.Errorf("mention %q needs confirmation (%d candidates): %w",
			mention.RawText, len(candidate.Candidates), model.ErrAmbiguousResolution)

	case model.OutcomeCreatedNew:
		if mention.TypeHint == "" {
			return uuid.Nil, nil, fmt.Errorf("mention %q would create an entity but carries no type: %w",
				mention.RawText, model.ErrInsufficientIdentity)
		}
		typ, err := snap.Get(mention.TypeHint)
		if err != nil {
			return uuid.Nil, nil, err
		}
		if mention.ID == uuid.Nil {
			mention.ID = uuid.New()
		}
		entity := &model.Entity{
			ID:         uuid.New(),
			TypeRef:    model.TypeRef{Name: typ.Name, Version: typ.Version},
			Properties: model.Metadata{"name": resolve.IdentifyingName(mention)},
			Provenance: []uuid.UUID{mention.ID},
		}
		candidate.EntityID = entity.ID
		create := &plannedCreate{key: mention.RawText, entity: entity, mention: mention}
		staged.creates = append(staged.creates, create)
		staged.byRef[create.key] = create
		return entity.ID, create, nil

	default:
		return uuid.Nil, nil, fmt.Errorf("mention %q ended in state %q: %w",
			mention.RawText, candidate.Outcome, model.ErrAmbiguousResolution)
	}
}

func (c *Coordinator) validateDocument(ctx context.Context, staged *plan, op model.BatchOp) error {
	doc := op.Document
	if doc == nil {
		return fmt.Errorf("write_document requires a document")
	}
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("document title cannot be empty")
	}

	// Rewriting an existing title updates that document in place.
	if doc.ID == uuid.Nil {
		existing, err := c.stores.Documents.SelectDocumentByTitle(ctx, doc.Title)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return helper.NewError("look up document title", err)
		}
		if existing != nil {
			doc.ID = existing.ID
		}
	}

	staged.docs = append(staged.docs, doc)
	return nil
}

// commit applies a validated plan: creates first so the entities exist for
// link resolution, then updates, then documents with their link indexing.
func (c *Coordinator) commit(ctx context.Context, staged *plan, result *model.BatchResult) error {
	for _, create := range staged.creates {
		if err := c.stores.Entities.InsertEntity(ctx, create.entity); err != nil {
			return err
		}
		result.Created[create.key] = create.entity.ID
		c.resolver.Touch(create.entity.ID)

		if create.mention != nil {
			if err := c.stores.Mentions.InsertMention(ctx, create.mention, model.OutcomeCreatedNew); err != nil {
				return err
			}
		}
		// A new entity may be the target dangling link stubs were waiting
		// for.
		if name := create.entity.Name(); name != "" {
			if err := c.graph.ResolvePendingLinks(ctx, name, create.entity.ID, model.NodeEntity); err != nil {
				return err
			}
		}
	}

	for _, update := range staged.updates {
		if err := c.stores.Entities.UpdateEntity(ctx, update.entity, update.readVersion); err != nil {
			return err
		}
		result.Updated = append(result.Updated, update.entity.ID)
		c.resolver.Touch(update.entity.ID)
	}

	for _, candidate := range staged.resolved {
		if candidate.Outcome == model.OutcomeAutoMatched {
			if err := c.stores.Mentions.InsertMention(ctx, candidate.Mention, candidate.Outcome); err != nil {
				return err
			}
		}
	}

	resolver := storeTargetResolver{documents: c.stores.Documents, entities: c.stores.Entities}
	for _, doc := range staged.docs {
		if err := c.stores.Documents.UpsertDocument(ctx, doc); err != nil {
			return err
		}
		if err := c.graph.IndexDocument(ctx, doc, resolver); err != nil {
			return err
		}
		result.Documents = append(result.Documents, doc.ID)

		// A new document title can likewise satisfy pending stubs.
		if err := c.graph.ResolvePendingLinks(ctx, doc.Title, doc.ID, model.NodeDocument); err != nil {
			return err
		}
	}

	return nil
}

// storeTargetResolver resolves wiki-link targets against the persisted
// stores at indexing time.
type storeTargetResolver struct {
	documents store.DocumentStore
	entities  store.EntityStore
}

func (r storeTargetResolver) DocumentIDByTitle(ctx context.Context, title string) (uuid.UUID, bool, error) {
	doc, err := r.documents.SelectDocumentByTitle(ctx, title)
	if errors.Is(err, model.ErrNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return doc.ID, true, nil
}

func (r storeTargetResolver) EntityIDByName(ctx context.Context, name string) (uuid.UUID, bool, error) {
	all, err := r.entities.SelectAllEntities(ctx)
	if err != nil {
		return uuid.Nil, false, err
	}
	for _, entity := range all {
		if strings.EqualFold(entity.Name(), name) {
			return entity.ID, true, nil
		}
		for _, alias := range entity.Aliases {
			if strings.EqualFold(alias, name) {
				return entity.ID, true, nil
			}
		}
	}
	return uuid.Nil, false, nil
}

func cloneProperties(properties model.Metadata) model.Metadata {
	clone := make(model.Metadata, len(properties))
	for k, v := range properties {
		clone[k] = v
	}
	return clone
}
