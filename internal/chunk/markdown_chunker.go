package chunk

import (
	"context"
	"regexp"
	"strings"
)

// MarkdownChunkerOptions configures chunk sizing in estimated tokens.
// Zero values take the package defaults.
type MarkdownChunkerOptions struct {
	TargetTokens  int // soft chunk size
	OverlapTokens int // tail carried into the next chunk of the same section
	MinTokens     int // chunks below this merge into a neighbor
}

// MarkdownChunker splits prose on structural boundaries: headings first,
// then paragraphs. Fenced code blocks are never split and YAML
// frontmatter is dropped.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// NewMarkdownChunker creates a markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom
// options.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.TargetTokens == 0 {
		opts.TargetTokens = DefaultMarkdownTargetTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultMarkdownOverlapTokens
	}
	if opts.MinTokens == 0 {
		opts.MinTokens = DefaultMarkdownMinTokens
	}
	return &MarkdownChunker{options: opts}
}

// Close exists for interface symmetry with CodeChunker.
func (c *MarkdownChunker) Close() {}

// SupportedExtensions returns the file extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx", ".txt", ".rst"}
}

// paragraph is a block of consecutive non-blank lines, or one fenced
// code block, tagged with the heading stack active at its position.
type paragraph struct {
	text        string
	startLine   int
	endLine     int
	headingPath []string
	tokens      int
}

// Chunk splits a prose file into heading-aware chunks.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := strings.ReplaceAll(string(file.Content), "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	body, lineOffset := stripFrontmatter(content)
	paragraphs := parseParagraphs(body, lineOffset)
	if len(paragraphs) == 0 {
		return nil, nil
	}

	chunks := c.pack(file, paragraphs)
	chunks = c.mergeSmall(chunks)
	return Finalize(chunks), nil
}

// stripFrontmatter drops a leading YAML frontmatter block and returns
// the remaining content plus the number of lines removed.
func stripFrontmatter(content string) (string, int) {
	if !strings.HasPrefix(content, "---\n") {
		return content, 0
	}
	lines := strings.Split(content, "\n")
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			return strings.Join(lines[i+1:], "\n"), i + 1
		}
	}
	return content, 0
}

// parseParagraphs walks the lines once, tracking the heading stack and
// fence state. Blank lines split paragraphs except inside fences.
func parseParagraphs(content string, lineOffset int) []*paragraph {
	lines := strings.Split(content, "\n")
	headingStack := make([]string, 6)

	var paragraphs []*paragraph
	var buf []string
	bufStart := 0
	inFence := false

	currentPath := func() []string {
		var path []string
		for _, h := range headingStack {
			if h != "" {
				path = append(path, h)
			}
		}
		return path
	}

	flush := func(endLine int) {
		if len(buf) == 0 {
			return
		}
		text := strings.TrimRight(strings.Join(buf, "\n"), "\n ")
		if strings.TrimSpace(text) != "" {
			paragraphs = append(paragraphs, &paragraph{
				text:        text,
				startLine:   bufStart,
				endLine:     endLine,
				headingPath: currentPath(),
				tokens:      estimateTokens(text),
			})
		}
		buf = nil
	}

	for i, line := range lines {
		lineNo := lineOffset + i + 1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			if len(buf) == 0 {
				bufStart = lineNo
			}
			buf = append(buf, line)
			if inFence {
				inFence = false
				flush(lineNo)
			} else {
				inFence = true
			}
			continue
		}
		if inFence {
			buf = append(buf, line)
			continue
		}

		if match := headingPattern.FindStringSubmatch(line); match != nil {
			flush(lineNo - 1)
			level := len(match[1])
			headingStack[level-1] = strings.TrimSpace(match[2])
			for j := level; j < 6; j++ {
				headingStack[j] = ""
			}
			buf = append(buf, line)
			bufStart = lineNo
			continue
		}

		if trimmed == "" {
			flush(lineNo - 1)
			continue
		}

		if len(buf) == 0 {
			bufStart = lineNo
		}
		buf = append(buf, line)
	}
	flush(lineOffset + len(lines))

	return paragraphs
}

// pack greedily accumulates paragraphs into chunks. A chunk closes when
// the heading path changes (and enough content accumulated) or when the
// next paragraph would push it past the target size; size splits within
// one section carry an overlap tail forward.
func (c *MarkdownChunker) pack(file *FileInput, paragraphs []*paragraph) []*Chunk {
	var chunks []*Chunk
	var cur []*paragraph
	curTokens := 0

	emit := func(overlapInto bool) {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, c.newChunk(file, cur))

		if !overlapInto {
			cur = nil
			curTokens = 0
			return
		}
		// Carry the trailing paragraphs, up to the overlap budget, into
		// the next chunk of the same section.
		var tail []*paragraph
		tailTokens := 0
		for i := len(cur) - 1; i >= 0; i-- {
			if tailTokens+cur[i].tokens > c.options.OverlapTokens {
				break
			}
			tail = append([]*paragraph{cur[i]}, tail...)
			tailTokens += cur[i].tokens
		}
		cur = tail
		curTokens = tailTokens
	}

	for _, p := range paragraphs {
		if len(cur) > 0 {
			sameSection := pathKey(p.headingPath) == pathKey(cur[len(cur)-1].headingPath)
			switch {
			case !sameSection && curTokens >= c.options.MinTokens:
				emit(false)
			case curTokens+p.tokens > c.options.TargetTokens:
				emit(sameSection)
			}
		}
		cur = append(cur, p)
		curTokens += p.tokens
	}
	emit(false)

	return chunks
}

func (c *MarkdownChunker) newChunk(file *FileInput, paras []*paragraph) *Chunk {
	texts := make([]string, len(paras))
	for i, p := range paras {
		texts[i] = p.text
	}
	return &Chunk{
		SourcePath:  file.Path,
		Text:        strings.Join(texts, "\n\n"),
		StartLine:   paras[0].startLine,
		EndLine:     paras[len(paras)-1].endLine,
		HeadingPath: paras[0].headingPath,
	}
}

// mergeSmall folds fragments below the minimum size into their
// predecessor, keeping the predecessor's heading path.
func (c *MarkdownChunker) mergeSmall(chunks []*Chunk) []*Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	var out []*Chunk
	for _, chunk := range chunks {
		if len(out) > 0 && estimateTokens(chunk.Text) < c.options.MinTokens {
			prev := out[len(out)-1]
			prev.Text += "\n\n" + chunk.Text
			prev.EndLine = chunk.EndLine
			continue
		}
		out = append(out, chunk)
	}
	// A tiny leading chunk merges forward instead.
	if len(out) > 1 && estimateTokens(out[0].Text) < c.options.MinTokens {
		out[1].Text = out[0].Text + "\n\n" + out[1].Text
		out[1].StartLine = out[0].StartLine
		out[1].HeadingPath = out[0].HeadingPath
		out = out[1:]
	}
	return out
}

func pathKey(path []string) string {
	return strings.Join(path, " > ")
}
