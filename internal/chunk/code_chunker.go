package chunk

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
)

// CodeChunkerOptions configures chunk sizing. Zero values take the
// package defaults.
type CodeChunkerOptions struct {
	TargetLines  int // split threshold and window size for oversize symbols
	OverlapLines int // lines repeated between consecutive windows
	MaxChars     int // hard cap on chunk text length
	Logger       *slog.Logger
}

// CodeChunker produces symbol-centered chunks from source files using
// tree-sitter. Files that fail to parse are split by fixed-size line
// windows instead, with a logged warning.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
	logger    *slog.Logger
}

// NewCodeChunker creates a code chunker with default options.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a code chunker with custom options.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.TargetLines == 0 {
		opts.TargetLines = DefaultCodeTargetLines
	}
	if opts.OverlapLines == 0 {
		opts.OverlapLines = DefaultCodeOverlapLines
	}
	if opts.OverlapLines >= opts.TargetLines {
		opts.OverlapLines = opts.TargetLines / 2
	}
	if opts.MaxChars == 0 {
		opts.MaxChars = DefaultCodeMaxChars
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
		logger:    opts.Logger,
	}
}

// Close releases parser resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns the file extensions this chunker handles.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a source file into symbol-centered chunks.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	language := file.Language
	if language == "" {
		if config, ok := c.registry.GetByExtension(filepath.Ext(file.Path)); ok {
			language = config.Name
		}
	}
	config, supported := c.registry.GetByName(language)
	if !supported {
		c.logger.Warn("unsupported language, falling back to line chunking",
			"path", file.Path, "language", language)
		return c.lineFallback(file, language), nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, language)
	if err != nil || tree.Root == nil || tree.Root.HasError {
		c.logger.Warn("parse failed, falling back to line chunking",
			"path", file.Path, "language", language)
		return c.lineFallback(file, language), nil
	}

	lines := strings.Split(content, "\n")
	symbols := c.extractor.Extract(tree)
	imports, importLines := c.collectImports(tree, config, len(lines))

	var chunks []*Chunk
	if len(symbols) == 0 {
		chunks = c.windowChunks(file, language, lines, 1, len(lines), nil)
	} else {
		chunks = c.symbolChunks(file, language, lines, symbols, importLines)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	chunks = c.capChunks(chunks)
	if len(imports) > 0 {
		first := chunks[0]
		first.Imports = imports
		first.Text = strings.Join(imports, "\n") + "\n\n" + first.Text
	}

	return Finalize(chunks), nil
}

// symbolChunks builds chunks around top-level declarations, plus module
// chunks for any code between them.
func (c *CodeChunker) symbolChunks(file *FileInput, language string, lines []string, symbols []*Symbol, importLines []bool) []*Chunk {
	topLevel := topLevelSymbols(symbols)

	var chunks []*Chunk
	covered := 0 // last line covered so far

	for _, sym := range topLevel {
		// Code between symbols becomes module chunks.
		if sym.StartLine > covered+1 {
			chunks = append(chunks, c.gapChunks(file, language, lines, covered+1, sym.StartLine-1, importLines)...)
		}

		span := sym.EndLine - sym.StartLine + 1
		switch {
		case span <= c.options.TargetLines:
			chunks = append(chunks, c.newChunk(file, language, lines, sym.StartLine, sym.EndLine, sym))
		case sym.Kind == SymbolKindClass:
			chunks = append(chunks, c.classChunks(file, language, lines, sym, symbols)...)
		default:
			chunks = append(chunks, c.windowChunks(file, language, lines, sym.StartLine, sym.EndLine, sym)...)
		}

		if sym.EndLine > covered {
			covered = sym.EndLine
		}
	}

	if covered < len(lines) {
		chunks = append(chunks, c.gapChunks(file, language, lines, covered+1, len(lines), importLines)...)
	}
	return chunks
}

// classChunks splits an oversize class into a header chunk followed by
// per-method chunks.
func (c *CodeChunker) classChunks(file *FileInput, language string, lines []string, class *Symbol, all []*Symbol) []*Chunk {
	var methods []*Symbol
	for _, sym := range all {
		if sym.Kind == SymbolKindMethod && sym.Parent == class.Name &&
			sym.StartLine >= class.StartLine && sym.EndLine <= class.EndLine {
			methods = append(methods, sym)
		}
	}
	if len(methods) == 0 {
		return c.windowChunks(file, language, lines, class.StartLine, class.EndLine, class)
	}

	var chunks []*Chunk
	if methods[0].StartLine > class.StartLine {
		chunks = append(chunks, c.windowChunks(file, language, lines, class.StartLine, methods[0].StartLine-1, class)...)
	}
	for i, m := range methods {
		end := class.EndLine
		if i+1 < len(methods) {
			end = methods[i+1].StartLine - 1
		}
		chunks = append(chunks, c.windowChunks(file, language, lines, m.StartLine, end, m)...)
	}
	return chunks
}

// gapChunks emits module chunks for non-blank code between symbols,
// excluding import statements (those travel on the first chunk).
func (c *CodeChunker) gapChunks(file *FileInput, language string, lines []string, start, end int, importLines []bool) []*Chunk {
	var chunks []*Chunk
	runStart := 0
	flush := func(runEnd int) {
		if runStart == 0 {
			return
		}
		if hasContent(lines, runStart, runEnd) {
			chunks = append(chunks, c.windowChunks(file, language, lines, runStart, runEnd, nil)...)
		}
		runStart = 0
	}

	for line := start; line <= end && line <= len(lines); line++ {
		if importLines != nil && importLines[line-1] {
			flush(line - 1)
			continue
		}
		if runStart == 0 {
			runStart = line
		}
	}
	flush(minInt(end, len(lines)))
	return chunks
}

// windowChunks splits a line range into target-sized windows with
// overlap between consecutive windows. A nil symbol yields module
// chunks.
func (c *CodeChunker) windowChunks(file *FileInput, language string, lines []string, start, end int, sym *Symbol) []*Chunk {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return nil
	}

	var chunks []*Chunk
	step := c.options.TargetLines - c.options.OverlapLines
	for s := start; s <= end; s += step {
		e := s + c.options.TargetLines - 1
		if e > end {
			e = end
		}
		chunks = append(chunks, c.newChunk(file, language, lines, s, e, sym))
		if e >= end {
			break
		}
	}
	return chunks
}

func (c *CodeChunker) newChunk(file *FileInput, language string, lines []string, start, end int, sym *Symbol) *Chunk {
	chunk := &Chunk{
		SourcePath: file.Path,
		Text:       strings.Join(lines[start-1:end], "\n"),
		Language:   language,
		SymbolKind: SymbolKindModule,
		StartLine:  start,
		EndLine:    end,
	}
	if sym != nil {
		chunk.SymbolName = sym.Name
		chunk.SymbolKind = sym.Kind
		chunk.Parent = sym.Parent
		chunk.Extends = sym.Extends
	}
	return chunk
}

// capChunks enforces the hard character cap by splitting oversize
// chunk text on line boundaries.
func (c *CodeChunker) capChunks(chunks []*Chunk) []*Chunk {
	var out []*Chunk
	for _, chunk := range chunks {
		if len(chunk.Text) <= c.options.MaxChars {
			out = append(out, chunk)
			continue
		}

		lines := strings.Split(chunk.Text, "\n")
		part := *chunk
		var buf []string
		size := 0
		startLine := chunk.StartLine
		for _, line := range lines {
			if size > 0 && size+len(line)+1 > c.options.MaxChars {
				piece := part
				piece.Text = strings.Join(buf, "\n")
				piece.StartLine = startLine
				piece.EndLine = startLine + len(buf) - 1
				out = append(out, &piece)
				startLine += len(buf)
				buf = buf[:0]
				size = 0
			}
			// A single line beyond the cap is truncated rather than split
			// mid-token.
			if len(line) > c.options.MaxChars {
				line = line[:c.options.MaxChars]
			}
			buf = append(buf, line)
			size += len(line) + 1
		}
		if len(buf) > 0 {
			piece := part
			piece.Text = strings.Join(buf, "\n")
			piece.StartLine = startLine
			piece.EndLine = startLine + len(buf) - 1
			out = append(out, &piece)
		}
	}
	return out
}

// lineFallback splits a file into fixed-size line windows when parsing
// is unavailable.
func (c *CodeChunker) lineFallback(file *FileInput, language string) []*Chunk {
	lines := strings.Split(string(file.Content), "\n")
	chunks := c.windowChunks(file, language, lines, 1, len(lines), nil)
	for _, chunk := range chunks {
		chunk.Metadata = map[string]string{"strategy": "lines"}
	}
	return Finalize(c.capChunks(chunks))
}

// collectImports gathers import statement text in document order and
// marks the lines those statements occupy.
func (c *CodeChunker) collectImports(tree *Tree, config *LanguageConfig, lineCount int) ([]string, []bool) {
	var imports []string
	importLines := make([]bool, lineCount)

	tree.Root.Walk(func(n *Node) bool {
		if !config.isImport(n.Type) {
			return true
		}
		text := strings.TrimSpace(n.GetContent(tree.Source))
		if text != "" {
			imports = append(imports, text)
		}
		for line := int(n.StartPoint.Row); line <= int(n.EndPoint.Row) && line < lineCount; line++ {
			importLines[line] = true
		}
		return false
	})
	return imports, importLines
}

// topLevelSymbols filters nested declarations out: extraction emits
// symbols in pre-order, so a container always precedes its members.
func topLevelSymbols(symbols []*Symbol) []*Symbol {
	var top []*Symbol
	var cur *Symbol
	for _, sym := range symbols {
		if cur != nil && sym.StartLine >= cur.StartLine && sym.EndLine <= cur.EndLine {
			continue
		}
		top = append(top, sym)
		cur = sym
	}
	return top
}

func hasContent(lines []string, start, end int) bool {
	for i := start; i <= end && i <= len(lines); i++ {
		if strings.TrimSpace(lines[i-1]) != "" {
			return true
		}
	}
	return false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
