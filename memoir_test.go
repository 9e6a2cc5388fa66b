package memoir

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/memoir/core/generate"
	"github.com/siherrmann/memoir/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoir(t *testing.T) *Memoir {
	t.Helper()
	m, err := NewMemoirInMemory(nil)
	require.NoError(t, err, "Expected NewMemoirInMemory to not return an error")
	return m
}

func commitPersonType(t *testing.T, m *Memoir) {
	t.Helper()
	proposal, err := m.ProposeType("person", []model.PropertyDef{
		{Name: "name", Kind: model.KindText},
		{Name: "role", Kind: model.KindText, Nullable: true},
	})
	require.NoError(t, err)
	_, err = m.CommitType(context.Background(), proposal)
	require.NoError(t, err)
}

func TestNewMemoirInMemory(t *testing.T) {
	m := newTestMemoir(t)
	defer m.Close()

	assert.Nil(t, m.DB, "Expected no database connection")
	assert.NotNil(t, m.Registry)
	assert.NotNil(t, m.Resolver)
	assert.NotNil(t, m.Graph)
	assert.NotNil(t, m.Synthesis)
	assert.NotNil(t, m.Coordinator)
}

func TestSchemaLifecycle(t *testing.T) {
	m := newTestMemoir(t)
	commitPersonType(t, m)

	t.Run("Add property publishes the next version", func(t *testing.T) {
		next, err := m.AddProperty(context.Background(), "person", model.PropertyDef{
			Name: "employer", Kind: model.KindText, Nullable: true,
		})

		require.NoError(t, err)
		assert.Equal(t, 2, next.Version)
		assert.NotNil(t, next.Property("employer"))
		assert.NotNil(t, next.Property("name"), "Expected existing properties to survive")
	})

	t.Run("Deprecate keeps the property readable", func(t *testing.T) {
		next, err := m.DeprecateProperty(context.Background(), "person", "employer")

		require.NoError(t, err)
		require.NotNil(t, next.Property("employer"))
		assert.True(t, next.Property("employer").Deprecated)
	})
}

func TestConsolidationFlow(t *testing.T) {
	m := newTestMemoir(t)
	commitPersonType(t, m)

	// Create an entity and a linked note in one batch.
	result, err := m.SubmitBatch(context.Background(), []model.BatchOp{
		model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen", "role": "tech lead"}),
		model.WriteDocumentOp(&model.ScratchpadDocument{
			Title: "Phoenix Kickoff",
			Body:  "[[entity:Sarah Chen]] owns the rollout. Follow up in [[Weekly Review]].",
		}),
	})
	require.NoError(t, err)
	sarahID := result.Created["sarah"]
	require.NotEqual(t, uuid.Nil, sarahID)
	require.Len(t, result.Documents, 1)
	kickoffID := result.Documents[0]

	t.Run("Entity links resolve during the same batch", func(t *testing.T) {
		assert.Equal(t, []uuid.UUID{kickoffID}, m.Backlinks(sarahID), "Expected the note to backlink the entity")
	})

	t.Run("Dangling document links stay pending until the title exists", func(t *testing.T) {
		require.Equal(t, []string{"weekly review"}, m.Graph.PendingAnchors())

		review, err := m.WriteNote(context.Background(), "Weekly Review", "Rollout risks were discussed.")
		require.NoError(t, err)

		assert.Empty(t, m.Graph.PendingAnchors(), "Expected the stub to be upgraded")
		assert.Contains(t, m.Backlinks(review.ID), kickoffID)
	})

	t.Run("Mentions resolve against the consolidated entities", func(t *testing.T) {
		candidate, err := m.Resolve(context.Background(), &model.Mention{
			RawText: "Sarah Chen", CandidateName: "Sarah Chen",
		}, "")

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeAutoMatched, candidate.Outcome)
		assert.Equal(t, sarahID, candidate.EntityID)
	})

	t.Run("Graph queries cross documents and entities", func(t *testing.T) {
		review, err := m.Stores.Documents.SelectDocumentByTitle(context.Background(), "Weekly Review")
		require.NoError(t, err)

		path, err := m.ShortestPath(sarahID, review.ID, 3)
		require.NoError(t, err)
		assert.Equal(t, 2, path.Len(), "Expected entity -> kickoff -> review")

		neighbors := m.Neighbors(sarahID, 2)
		assert.Len(t, neighbors, 2)
	})

	t.Run("Build context anchors on the named entity", func(t *testing.T) {
		sc, err := m.BuildContext(context.Background(), "What is Sarah Chen working on?", 4096)

		require.NoError(t, err)
		require.Len(t, sc.Entities, 1)
		assert.Equal(t, sarahID, sc.Entities[0].EntityID)
		assert.NotEmpty(t, sc.Excerpts)
		assert.LessOrEqual(t, sc.TotalBytes, 4096)
		assert.Contains(t, sc.SchemaSummary, "person")
	})

	t.Run("Answer renders the context through the completer", func(t *testing.T) {
		var seenPrompt string
		err := m.SetCompleter(generate.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
			seenPrompt = prompt
			return "Sarah Chen owns the Phoenix rollout.", nil
		}))
		require.NoError(t, err)

		answer, err := m.Answer(context.Background(), "What is Sarah Chen working on?", 4096)

		require.NoError(t, err)
		assert.Equal(t, "Sarah Chen owns the Phoenix rollout.", answer)
		assert.True(t, strings.Contains(seenPrompt, "Sarah Chen"), "Expected the entity in the prompt")
		assert.True(t, strings.Contains(seenPrompt, "Question:"), "Expected the question in the prompt")
	})
}

func TestConfirmResolutionFlow(t *testing.T) {
	config := &Config{Resolver: model.DefaultResolverConfig()}
	config.Resolver.ExactWeight = 0.40 // exact matches land between the watermarks
	m, err := NewMemoirInMemory(config)
	require.NoError(t, err)
	commitPersonType(t, m)

	result, err := m.SubmitBatch(context.Background(), []model.BatchOp{
		model.CreateEntityOp("sarah", "person", model.Metadata{"name": "Sarah Chen"}),
	})
	require.NoError(t, err)
	m.Resolver.ResetSession()

	mention := &model.Mention{RawText: "Sarah Chen", CandidateName: "Sarah Chen"}
	require.NoError(t, m.Stores.Mentions.InsertMention(context.Background(), mention, model.OutcomePendingConfirmation))

	candidate, err := m.Resolve(context.Background(), mention, "")
	require.NoError(t, err)
	require.Equal(t, model.OutcomePendingConfirmation, candidate.Outcome)

	t.Run("Confirmation persists the outcome", func(t *testing.T) {
		err := m.ConfirmResolution(context.Background(), candidate, result.Created["sarah"])

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeAutoMatched, candidate.Outcome)
	})

	t.Run("Rejection requires the pending state", func(t *testing.T) {
		err := m.RejectResolution(context.Background(), candidate)

		assert.Error(t, err, "Expected error rejecting a confirmed candidate")
	})
}

func TestUnconfiguredCapabilities(t *testing.T) {
	m := newTestMemoir(t)

	t.Run("Answer without a completer fails", func(t *testing.T) {
		_, err := m.Answer(context.Background(), "anything?", 1024)
		assert.Error(t, err, "Expected error without a completer")
	})

	t.Run("Extract mentions without a pipeline fails", func(t *testing.T) {
		_, err := m.ExtractMentions("met Sarah Chen", "conversation-1")
		assert.Error(t, err, "Expected error without a pipeline")
	})

	t.Run("Index tuning is Postgres only", func(t *testing.T) {
		err := m.ChangeIndexType(context.Background(), "hnsw", nil)
		assert.Error(t, err, "Expected error on the in-memory store")
	})
}

func TestWriteNoteFromFile(t *testing.T) {
	m := newTestMemoir(t)

	path := filepath.Join(t.TempDir(), "Release Retro.md")
	require.NoError(t, os.WriteFile(path, []byte("Follow ups owned by [[entity:Sarah Chen]]."), 0o644))

	doc, err := m.WriteNoteFromFile(context.Background(), path, model.Metadata{"source": "import"})

	require.NoError(t, err, "Expected WriteNoteFromFile to not return an error")
	assert.Equal(t, "Release Retro", doc.Title, "Expected the title from the file name")
	assert.Equal(t, "import", doc.Metadata["source"])

	stored, err := m.Stores.Documents.SelectDocumentByTitle(context.Background(), "Release Retro")
	require.NoError(t, err)
	assert.Contains(t, stored.Body, "Sarah Chen")
	assert.Equal(t, []string{"sarah chen"}, m.Graph.PendingAnchors(), "Expected the unresolved entity link as a stub")

	t.Run("Missing file fails", func(t *testing.T) {
		_, err := m.WriteNoteFromFile(context.Background(), filepath.Join(t.TempDir(), "absent.md"), nil)
		assert.Error(t, err, "Expected error for a missing file")
	})
}
