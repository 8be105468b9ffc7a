package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mdChunk(t *testing.T, chunker *MarkdownChunker, path, content string) []*Chunk {
	t.Helper()
	chunks, err := chunker.Chunk(context.Background(), &FileInput{Path: path, Content: []byte(content)})
	require.NoError(t, err)
	return chunks
}

func TestMarkdownChunker_EmptyFile(t *testing.T) {
	chunks := mdChunk(t, NewMarkdownChunker(), "empty.md", "   \n\n  ")
	assert.Empty(t, chunks)
}

func TestMarkdownChunker_SingleSection(t *testing.T) {
	content := "# Guide\n\nThis is the introduction paragraph.\n\nA second paragraph follows it.\n"
	chunks := mdChunk(t, NewMarkdownChunker(), "docs/guide.md", content)

	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.Equal(t, "docs/guide.md", c.SourcePath)
	assert.Equal(t, []string{"Guide"}, c.HeadingPath)
	assert.Equal(t, 1, c.StartLine)
	assert.Contains(t, c.Text, "introduction paragraph")
	assert.Contains(t, c.Text, "second paragraph")
	assert.Equal(t, 0, c.ChunkIndex)
	assert.Equal(t, 1, c.TotalChunks)
	assert.NotEmpty(t, c.ID)
}

func TestMarkdownChunker_FrontmatterSkipped(t *testing.T) {
	content := "---\ntitle: Secret\nauthor: nobody\n---\n# Visible\n\nBody text here.\n"
	chunks := mdChunk(t, NewMarkdownChunker(), "post.md", content)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotContains(t, c.Text, "title: Secret")
	}
	// Line numbers account for the dropped frontmatter.
	assert.Equal(t, 5, chunks[0].StartLine)
}

func TestMarkdownChunker_HeadingStack(t *testing.T) {
	opts := MarkdownChunkerOptions{TargetTokens: 30, OverlapTokens: 5, MinTokens: 1}
	content := strings.Join([]string{
		"# Top",
		"",
		"Top level introduction text that fills the first chunk completely.",
		"",
		"## Install",
		"",
		"Installation instructions go here with enough words to stand alone.",
		"",
		"## Usage",
		"",
		"Usage instructions replace the install heading at the same depth.",
	}, "\n")
	chunks := mdChunk(t, NewMarkdownChunkerWithOptions(opts), "readme.md", content)

	require.True(t, len(chunks) >= 3)

	var installPath, usagePath []string
	for _, c := range chunks {
		if strings.Contains(c.Text, "Installation instructions") {
			installPath = c.HeadingPath
		}
		if strings.Contains(c.Text, "Usage instructions") {
			usagePath = c.HeadingPath
		}
	}
	assert.Equal(t, []string{"Top", "Install"}, installPath)
	// A sibling heading replaces its level rather than nesting deeper.
	assert.Equal(t, []string{"Top", "Usage"}, usagePath)
}

func TestMarkdownChunker_FencedBlockAtomic(t *testing.T) {
	fence := "```go\nfunc a() {}\n\n\nfunc b() {}\n```"
	content := "# Code\n\nBefore the fence.\n\n" + fence + "\n\nAfter the fence.\n"
	chunks := mdChunk(t, NewMarkdownChunker(), "code.md", content)

	// Blank lines inside the fence must not split it across chunks.
	found := false
	for _, c := range chunks {
		if strings.Contains(c.Text, "func a()") {
			assert.Contains(t, c.Text, "func b()")
			assert.Equal(t, 2, strings.Count(c.Text, "```"))
			found = true
		}
	}
	assert.True(t, found, "fenced block missing from output")
}

func TestMarkdownChunker_LargeSectionSplitsWithOverlap(t *testing.T) {
	opts := MarkdownChunkerOptions{TargetTokens: 100, OverlapTokens: 40, MinTokens: 10}

	para := strings.Repeat("tokenized words fill this paragraph nicely ", 3) // ~30 tokens
	var sb strings.Builder
	sb.WriteString("# Big Section\n\n")
	for i := 0; i < 12; i++ {
		sb.WriteString(para)
		sb.WriteString("\n\n")
	}
	chunks := mdChunk(t, NewMarkdownChunkerWithOptions(opts), "big.md", sb.String())

	require.True(t, len(chunks) > 1, "section should split")
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, []string{"Big Section"}, chunks[i].HeadingPath)
		// Consecutive chunks of one section share overlapping text.
		prevTail := chunks[i-1].Text[len(chunks[i-1].Text)-20:]
		assert.Contains(t, chunks[i].Text, strings.TrimSpace(prevTail))
	}
}

func TestMarkdownChunker_TinyTrailingChunkMerged(t *testing.T) {
	opts := MarkdownChunkerOptions{TargetTokens: 60, OverlapTokens: 10, MinTokens: 20}
	body := strings.Repeat("enough words to pass the minimum size threshold here ", 4)
	content := "# One\n\n" + body + "\n\n# Two\n\nok\n"
	chunks := mdChunk(t, NewMarkdownChunkerWithOptions(opts), "tiny.md", content)

	// The two-word trailing section folds into its predecessor.
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "# Two")
}

func TestMarkdownChunker_PlainTextWithoutHeadings(t *testing.T) {
	content := "First paragraph of plain text.\n\nSecond paragraph of plain text.\n"
	chunks := mdChunk(t, NewMarkdownChunker(), "notes.txt", content)

	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].HeadingPath)
	assert.Empty(t, chunks[0].Language)
}

func TestMarkdownChunker_Deterministic(t *testing.T) {
	content := "# A\n\n" + strings.Repeat("stable words in a stable order ", 100)

	first := mdChunk(t, NewMarkdownChunker(), "d.md", content)
	second := mdChunk(t, NewMarkdownChunker(), "d.md", content)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].StartLine, second[i].StartLine)
		assert.Equal(t, first[i].EndLine, second[i].EndLine)
	}
}
