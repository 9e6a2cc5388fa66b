package linkgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLinks(t *testing.T) {
	t.Run("Plain document link", func(t *testing.T) {
		links := ParseLinks("Met with [[Project Phoenix]] team today.")

		require.Len(t, links, 1)
		assert.Equal(t, "Project Phoenix", links[0].Target)
		assert.Equal(t, "Project Phoenix", links[0].Anchor, "Expected anchor to default to the target")
		assert.False(t, links[0].IsEntity)
	})

	t.Run("Link with display anchor", func(t *testing.T) {
		links := ParseLinks("See [[Project Phoenix|the kickoff notes]].")

		require.Len(t, links, 1)
		assert.Equal(t, "Project Phoenix", links[0].Target)
		assert.Equal(t, "the kickoff notes", links[0].Anchor)
	})

	t.Run("Entity link", func(t *testing.T) {
		links := ParseLinks("Assigned to [[entity:Sarah Chen]].")

		require.Len(t, links, 1)
		assert.Equal(t, "Sarah Chen", links[0].Target, "Expected the prefix to be stripped")
		assert.Equal(t, "Sarah Chen", links[0].Anchor)
		assert.True(t, links[0].IsEntity)
	})

	t.Run("Entity link with display anchor", func(t *testing.T) {
		links := ParseLinks("Ping [[entity:Sarah Chen|Sarah]] about it.")

		require.Len(t, links, 1)
		assert.Equal(t, "Sarah Chen", links[0].Target)
		assert.Equal(t, "Sarah", links[0].Anchor)
		assert.True(t, links[0].IsEntity)
	})

	t.Run("Multiple links keep document order", func(t *testing.T) {
		links := ParseLinks("[[Alpha]] then [[entity:Sarah Chen]] then [[Beta]].")

		require.Len(t, links, 3)
		assert.Equal(t, "Alpha", links[0].Target)
		assert.Equal(t, "Sarah Chen", links[1].Target)
		assert.Equal(t, "Beta", links[2].Target)
	})

	t.Run("Duplicate targets are kept once", func(t *testing.T) {
		links := ParseLinks("[[Alpha]] and again [[alpha]] and [[Alpha|renamed]].")

		require.Len(t, links, 1, "Expected case-insensitive dedupe")
		assert.Equal(t, "Alpha", links[0].Target)
	})

	t.Run("Entity and document targets with the same name stay distinct", func(t *testing.T) {
		links := ParseLinks("[[Phoenix]] vs [[entity:Phoenix]].")

		require.Len(t, links, 2)
		assert.False(t, links[0].IsEntity)
		assert.True(t, links[1].IsEntity)
	})

	t.Run("Empty markers are ignored", func(t *testing.T) {
		links := ParseLinks("Nothing here: [[ ]] or [[entity: ]] or plain text.")

		assert.Empty(t, links)
	})

	t.Run("Body without markers yields no links", func(t *testing.T) {
		links := ParseLinks("Just [brackets] and [single [nesting]].")

		assert.Empty(t, links)
	})
}
