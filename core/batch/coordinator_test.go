package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/core/linkgraph"
	"github.com/siherrmann/memoir/core/resolve"
	"github.com/siherrmann/memoir/core/schema"
	"github.com/siherrmann/memoir/model"
	"github.com/siherrmann/memoir/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type coordinatorEnv struct {
	mem         *memory.Store
	registry    *schema.Registry
	resolver    *resolve.Resolver
	graph       *linkgraph.Index
	coordinator *Coordinator
}

func newCoordinatorEnv(t *testing.T, resolverConfig model.ResolverConfig) *coordinatorEnv {
	t.Helper()
	mem := memory.New()
	registry, err := schema.NewRegistry(context.Background(), mem, testLogger())
	require.NoError(t, err)

	for _, name := range []string{"person", "company"} {
		proposal, err := registry.ProposeType(name, []model.PropertyDef{
			{Name: "name", Kind: model.KindText},
			{Name: "notes", Kind: model.KindText, Nullable: true},
		})
		require.NoError(t, err)
		_, err = registry.CommitType(context.Background(), proposal)
		require.NoError(t, err)
	}

	resolver, err := resolve.NewResolver(mem, resolverConfig, testLogger())
	require.NoError(t, err)
	graph, err := linkgraph.NewIndex(context.Background(), mem, testLogger())
	require.NoError(t, err)

	coordinator, err := NewCoordinator(*mem.Stores(), registry, resolver, graph, testLogger())
	require.NoError(t, err, "Expected NewCoordinator to not return an error")

	return &coordinatorEnv{mem: mem, registry: registry, resolver: resolver, graph: graph, coordinator: coordinator}
}

func (env *coordinatorEnv) entityCount(t *testing.T) int {
	t.Helper()
	all, err := env.mem.SelectAllEntities(context.Background())
	require.NoError(t, err)
	return len(all)
}

func TestSubmitCreate(t *testing.T) {
	t.Run("Create commits and returns the new id", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		})

		require.NoError(t, err)
		id, ok := result.Created["sarah"]
		require.True(t, ok, "Expected the local ref in the result")

		entity, err := env.mem.SelectEntity(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "Sarah Chen", entity.Name())
		assert.Equal(t, int64(1), entity.Version)
		assert.Equal(t, "person", entity.TypeRef.Name)
	})

	t.Run("Empty batch fails", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), nil)

		assert.Error(t, err, "Expected error for an empty batch")
	})

	t.Run("Unknown type rejects the whole batch", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("ok", "person", model.Metadata{"name": "Sarah Chen"}),
			model.CreateEntityOp("bad", "spaceship", model.Metadata{"name": "Rocinante"}),
		})

		require.Error(t, err)
		var batchErr *model.BatchError
		require.ErrorAs(t, err, &batchErr, "Expected a batch error")
		require.Len(t, batchErr.Failures, 1)
		assert.Equal(t, 1, batchErr.Failures[0].Index)
		assert.ErrorIs(t, err, model.ErrUnknownType)
		assert.Equal(t, 0, env.entityCount(t), "Expected nothing to be persisted")
	})

	t.Run("Every failure is reported at once", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("a", "spaceship", model.Metadata{"name": "Rocinante"}),
			model.CreateEntityOp("b", "person", model.Metadata{}),
			model.CreateEntityOp("c", "person", model.Metadata{"name": "Sarah Chen", "salary": 1}),
		})

		var batchErr *model.BatchError
		require.ErrorAs(t, err, &batchErr)
		assert.Len(t, batchErr.Failures, 3, "Expected validation to walk the full batch")
	})

	t.Run("Duplicate local refs reject the batch", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chenoweth"}),
		})

		require.Error(t, err)
		assert.Equal(t, 0, env.entityCount(t))
	})

	t.Run("Source mention is recorded as provenance", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		mention := &model.Mention{RawText: "Sarah Chen", CandidateName: "Sarah Chen"}

		op := model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"})
		op.SourceMention = mention
		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{op})

		require.NoError(t, err)
		entity, err := env.mem.SelectEntity(context.Background(), result.Created["sarah"])
		require.NoError(t, err)
		require.Len(t, entity.Provenance, 1)
		assert.Equal(t, mention.ID, entity.Provenance[0])

		outcome, ok := env.mem.MentionOutcome(mention.ID)
		require.True(t, ok, "Expected the mention to be persisted")
		assert.Equal(t, model.OutcomeCreatedNew, outcome)
	})
}

func TestSubmitUpdate(t *testing.T) {
	t.Run("Update by id bumps the version", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		})
		require.NoError(t, err)
		id := result.Created["sarah"]

		updated, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{ID: id}, 1, model.Metadata{"notes": "moved to platform team"}),
		})

		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{id}, updated.Updated)
		entity, err := env.mem.SelectEntity(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), entity.Version)
		assert.Equal(t, "moved to platform team", entity.Properties["notes"])
		assert.Equal(t, "Sarah Chen", entity.Name(), "Expected unmentioned properties to survive")
	})

	t.Run("Stale read version is a concurrency conflict", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		})
		require.NoError(t, err)
		id := result.Created["sarah"]
		_, err = env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{ID: id}, 1, model.Metadata{"notes": "first writer"}),
		})
		require.NoError(t, err)

		_, err = env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{ID: id}, 1, model.Metadata{"notes": "second writer"}),
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrConcurrencyConflict, "Expected the stale read version to conflict")
		entity, err := env.mem.SelectEntity(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "first writer", entity.Properties["notes"], "Expected the first write to stand")
	})

	t.Run("Update without a read version rejects", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		})
		require.NoError(t, err)

		_, err = env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{ID: result.Created["sarah"]}, 0, model.Metadata{"notes": "x"}),
		})

		assert.Error(t, err, "Expected error without a read version")
	})

	t.Run("Update without a target rejects", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{}, 1, model.Metadata{"notes": "x"}),
		})

		assert.Error(t, err)
	})

	t.Run("Update of a vanished entity rejects", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{ID: uuid.New()}, 1, model.Metadata{"notes": "x"}),
		})

		assert.Error(t, err)
	})

	t.Run("Update of a local ref folds into the create", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
			model.UpdateEntityOp(model.EntityRef{LocalRef: "sarah"}, 0, model.Metadata{"notes": "hired in march"}),
		})

		require.NoError(t, err)
		entity, err := env.mem.SelectEntity(context.Background(), result.Created["sarah"])
		require.NoError(t, err)
		assert.Equal(t, int64(1), entity.Version, "Expected a single insert, not an update")
		assert.Equal(t, "hired in march", entity.Properties["notes"])
	})

	t.Run("Update may precede its create in the batch", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{LocalRef: "jake"}, 0, model.Metadata{"notes": "prefers async reviews"}),
			model.CreateEntityOp("jake", "person", model.Metadata{"name": "Jake Moore"}),
		})

		require.NoError(t, err, "Expected the create to stage regardless of submission order")
		entity, err := env.mem.SelectEntity(context.Background(), result.Created["jake"])
		require.NoError(t, err)
		assert.Equal(t, int64(1), entity.Version, "Expected the update to fold into the create")
		assert.Equal(t, "Jake Moore", entity.Name())
		assert.Equal(t, "prefers async reviews", entity.Properties["notes"])
	})

	t.Run("Local ref without a matching create rejects", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{LocalRef: "ghost"}, 0, model.Metadata{"notes": "x"}),
		})

		assert.Error(t, err)
	})
}

func TestSubmitMentionRouting(t *testing.T) {
	t.Run("Auto-matched mention targets the existing entity", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		})
		require.NoError(t, err)
		id := result.Created["sarah"]

		mention := &model.Mention{RawText: "Sarah Chen", CandidateName: "Sarah Chen"}
		updated, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{Mention: mention}, 1, model.Metadata{"notes": "on vacation"}),
		})

		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{id}, updated.Updated)
		require.Len(t, updated.Resolved, 1)
		assert.Equal(t, model.OutcomeAutoMatched, updated.Resolved[0].Outcome)

		outcome, ok := env.mem.MentionOutcome(mention.ID)
		require.True(t, ok, "Expected the resolved mention to be persisted")
		assert.Equal(t, model.OutcomeAutoMatched, outcome)
	})

	t.Run("Unknown mention with a type hint creates implicitly", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		mention := &model.Mention{RawText: "Bright Horizons", CandidateName: "Bright Horizons", TypeHint: "company"}
		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{Mention: mention}, 0, model.Metadata{"notes": "new customer"}),
		})

		require.NoError(t, err)
		id, ok := result.Created["Bright Horizons"]
		require.True(t, ok, "Expected an implicit create keyed by the raw text")

		entity, err := env.mem.SelectEntity(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, "company", entity.TypeRef.Name)
		assert.Equal(t, "Bright Horizons", entity.Name())
		assert.Equal(t, "new customer", entity.Properties["notes"])
		require.Len(t, entity.Provenance, 1, "Expected the mention as provenance")
	})

	t.Run("Unknown mention without a type hint rejects", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		mention := &model.Mention{RawText: "Bright Horizons", CandidateName: "Bright Horizons"}
		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{Mention: mention}, 0, model.Metadata{"notes": "x"}),
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrInsufficientIdentity)
		assert.Equal(t, 0, env.entityCount(t))
	})

	t.Run("Ambiguous mention rejects the batch", func(t *testing.T) {
		config := model.DefaultResolverConfig()
		config.ExactWeight = 0.40 // exact matches land between the watermarks
		env := newCoordinatorEnv(t, config)
		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		})
		require.NoError(t, err)
		env.resolver.ResetSession()

		mention := &model.Mention{RawText: "Sarah Chen", CandidateName: "Sarah Chen"}
		_, err = env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.UpdateEntityOp(model.EntityRef{Mention: mention}, 1, model.Metadata{"notes": "x"}),
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, model.ErrAmbiguousResolution, "Expected ambiguity instead of a silent guess")
	})
}

func TestSubmitDocument(t *testing.T) {
	t.Run("Document is committed and indexed", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		})
		require.NoError(t, err)
		sarahID := result.Created["sarah"]

		doc := &model.ScratchpadDocument{Title: "Phoenix Kickoff", Body: "Owner [[entity:Sarah Chen]]."}
		written, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.WriteDocumentOp(doc),
		})

		require.NoError(t, err)
		require.Len(t, written.Documents, 1)
		assert.Equal(t, []uuid.UUID{doc.ID}, env.graph.Backlinks(sarahID), "Expected the entity link to resolve")
	})

	t.Run("Rewriting a title updates the document in place", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		first := &model.ScratchpadDocument{Title: "Phoenix Kickoff", Body: "Version one."}
		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{model.WriteDocumentOp(first)})
		require.NoError(t, err)

		second := &model.ScratchpadDocument{Title: "Phoenix Kickoff", Body: "Version two."}
		_, err = env.coordinator.Submit(context.Background(), []model.BatchOp{model.WriteDocumentOp(second)})

		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "Expected the title to address the same document")
		stored, err := env.mem.SelectDocumentByTitle(context.Background(), "Phoenix Kickoff")
		require.NoError(t, err)
		assert.Equal(t, "Version two.", stored.Body)
	})

	t.Run("Empty title rejects", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.WriteDocumentOp(&model.ScratchpadDocument{Title: "   ", Body: "orphan"}),
		})

		assert.Error(t, err)
	})

	t.Run("Missing document rejects", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())

		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{{Kind: model.OpWriteDocument}})

		assert.Error(t, err)
	})

	t.Run("Entity created later upgrades pending document links", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		doc := &model.ScratchpadDocument{Title: "Phoenix Kickoff", Body: "Owner [[entity:Sarah Chen]]."}
		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{model.WriteDocumentOp(doc)})
		require.NoError(t, err)
		require.NotEmpty(t, env.graph.PendingAnchors(), "Expected a pending stub before the entity exists")

		result, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		})

		require.NoError(t, err)
		assert.Empty(t, env.graph.PendingAnchors(), "Expected the stub to be upgraded")
		assert.Equal(t, []uuid.UUID{doc.ID}, env.graph.Backlinks(result.Created["sarah"]))
	})
}

func TestSubmitAtomicity(t *testing.T) {
	env := newCoordinatorEnv(t, model.DefaultResolverConfig())

	_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
		model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
		model.WriteDocumentOp(&model.ScratchpadDocument{Title: "Phoenix Kickoff", Body: "Notes."}),
		model.CreateEntityOp("bad", "spaceship", model.Metadata{"name": "Rocinante"}),
	})

	require.Error(t, err, "Expected the invalid op to reject the batch")
	assert.Equal(t, 0, env.entityCount(t), "Expected no entities")
	docs, selectErr := env.mem.SelectAllDocuments(context.Background())
	require.NoError(t, selectErr)
	assert.Empty(t, docs, "Expected no documents")
	var batchErr *model.BatchError
	require.ErrorAs(t, err, &batchErr)
	require.Len(t, batchErr.Failures, 1)
	assert.Equal(t, 2, batchErr.Failures[0].Index)
	assert.True(t, errors.Is(batchErr.Failures[0].Err, model.ErrUnknownType))
}

func TestSubmitCommitFailure(t *testing.T) {
	t.Run("Failed commit restores upgraded stubs", func(t *testing.T) {
		env := newCoordinatorEnv(t, model.DefaultResolverConfig())
		_, err := env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.WriteDocumentOp(&model.ScratchpadDocument{Title: "Standup Notes", Body: "Blocked on [[entity:Jake Moore]]."}),
		})
		require.NoError(t, err)
		require.Equal(t, []string{"jake moore"}, env.graph.PendingAnchors())

		// A preset id with an already used title passes validation and
		// fails at the document upsert, after the create and its stub
		// upgrade already ran.
		conflicting := &model.ScratchpadDocument{ID: uuid.New(), Title: "Standup Notes", Body: "Different note."}
		_, err = env.coordinator.Submit(context.Background(), []model.BatchOp{
			model.CreateEntityOp("jake", "person", model.Metadata{"name": "Jake Moore"}),
			model.WriteDocumentOp(conflicting),
		})

		require.Error(t, err, "Expected the conflicting title to fail the commit")
		assert.Equal(t, 0, env.entityCount(t), "Expected the create to be rolled back")
		assert.Equal(t, []string{"jake moore"}, env.graph.PendingAnchors(),
			"Expected the stub upgrade to be rolled back with the store")

		links, err := env.mem.SelectAllLinks(context.Background())
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.False(t, links[0].Resolved(), "Expected the persisted link to stay pending")
	})
}
