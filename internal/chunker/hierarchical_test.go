package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_SmallInputReturnedWhole(t *testing.T) {
	h := NewHierarchical(500, 2)
	text := "Hello world. This is fine."
	chunks := h.Chunk(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunk_EmptyInput(t *testing.T) {
	h := NewHierarchical(500, 2)
	assert.Nil(t, h.Chunk(""))
	assert.Nil(t, h.Chunk("   \n\t  \n"))
}

func TestChunk_TitledSectionGetsPrefix(t *testing.T) {
	h := NewHierarchical(500, 2)
	chunks := h.Chunk("# Title\n\nSome content here.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "[Title]\n\nSome content here.", chunks[0])
}

func TestChunk_PreambleBeforeFirstHeaderIsKept(t *testing.T) {
	h := NewHierarchical(500, 2)
	chunks := h.Chunk("intro line before any header\n\n# Later\n\nsection body")
	require.Len(t, chunks, 2)
	assert.Equal(t, "intro line before any header", chunks[0])
	assert.Equal(t, "[Later]\n\nsection body", chunks[1])
}

// syntheticSentences builds n ten-word sentences.
func syntheticSentences(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("This is synthetic sentence number %d padding word tail.", i)
	}
	return out
}

func TestChunk_LargeParagraphSplitsAtSentences(t *testing.T) {
	h := NewHierarchical(500, 2)
	sentences := syntheticSentences(300) // ~3000 words, one paragraph
	text := strings.Join(sentences, " ")

	chunks := h.Chunk(text)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.LessOrEqual(t, WordCount(c), h.ChunkWords(), "chunk %d over budget", i)
	}

	// Consecutive chunks share exactly two sentences at the boundary.
	for i := 1; i < len(chunks); i++ {
		prev := SplitSentences(chunks[i-1])
		curr := SplitSentences(chunks[i])
		require.GreaterOrEqual(t, len(prev), 2)
		require.GreaterOrEqual(t, len(curr), 2)
		assert.Equal(t, prev[len(prev)-2:], curr[:2], "boundary between chunk %d and %d", i-1, i)
	}

	// No sentence is lost.
	joined := strings.Join(chunks, " ")
	for _, s := range sentences {
		assert.Contains(t, joined, s)
	}
}

func TestChunk_ParagraphAccumulation(t *testing.T) {
	h := NewHierarchical(100, 2) // 77-word budget
	para := strings.Repeat("word ", 30)
	para = strings.TrimSpace(para) + "."
	text := strings.Join([]string{para, para, para, para}, "\n\n")

	chunks := h.Chunk(text)
	require.Greater(t, len(chunks), 1)

	// Budget may be exceeded only by the carried overlap seed.
	allowance := 2 * overlapFallbackWordsPerSentence
	for i, c := range chunks {
		assert.LessOrEqual(t, WordCount(c), h.ChunkWords()+allowance, "chunk %d", i)
	}
}

func TestChunk_SplitChunksKeepSectionTitle(t *testing.T) {
	h := NewHierarchical(100, 2)
	sentences := syntheticSentences(40)
	text := "# Notes\n\n" + strings.Join(sentences, " ")

	chunks := h.Chunk(text)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.True(t, strings.HasPrefix(c, "[Notes]\n\n"), "chunk %d missing title prefix", i)
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("First one. Second one! Third one? Fourth")
	assert.Equal(t, []string{"First one.", "Second one!", "Third one?", "Fourth"}, got)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	// 77 words at 0.77 words per token is ~100 tokens.
	assert.Equal(t, 100, EstimateTokens(strings.TrimSpace(strings.Repeat("w ", 77))))
}
