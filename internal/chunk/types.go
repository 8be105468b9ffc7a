package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Default chunking parameters. Markdown sizes are in estimated tokens,
// code sizes in source lines.
const (
	DefaultMarkdownTargetTokens  = 512
	DefaultMarkdownOverlapTokens = 50
	DefaultMarkdownMinTokens     = 64

	DefaultCodeTargetLines  = 50
	DefaultCodeOverlapLines = 20
	DefaultCodeMaxChars     = 2000
)

// SymbolKind classifies the declaration a code chunk is centered on.
type SymbolKind string

const (
	SymbolKindModule   SymbolKind = "module"
	SymbolKindClass    SymbolKind = "class"
	SymbolKindFunction SymbolKind = "function"
	SymbolKindMethod   SymbolKind = "method"
)

// FileInput is a single file handed to a chunker.
type FileInput struct {
	Path     string
	Content  []byte
	Language string // optional override; detected from the extension when empty
}

// Chunker splits one file into retrievable chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
	SupportedExtensions() []string
}

// Chunk is one retrievable unit of content. ID, ChunkIndex and
// TotalChunks are assigned by Finalize once the per-file set is known.
type Chunk struct {
	ID          string
	SourcePath  string
	Text        string
	Language    string // code language tag; empty for prose
	SymbolName  string
	SymbolKind  SymbolKind
	StartLine   int // 1-indexed, inclusive
	EndLine     int
	HeadingPath []string
	ChunkIndex  int
	TotalChunks int

	// Imports holds the file's import statements, attached to the first
	// chunk of a code file. Parent and Extends carry the enclosing-class
	// and inheritance facts used for graph extraction.
	Imports []string
	Parent  string
	Extends string

	Metadata map[string]string
}

// Symbol is a declaration found in a parsed source file.
type Symbol struct {
	Name      string
	Kind      SymbolKind
	StartLine int
	EndLine   int
	Parent    string // enclosing class name, if any
	Extends   string // superclass or first base, for classes
}

// Tree is a parsed AST with its source.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is a language-agnostic view of a tree-sitter node.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	HasError   bool
	Children   []*Node
}

// Point is a row/column position in the source, 0-indexed.
type Point struct {
	Row    uint32
	Column uint32
}

// NormalizeText canonicalizes chunk text for identity purposes: CRLF
// becomes LF and surrounding whitespace is dropped.
func NormalizeText(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
}

// ChunkID derives the stable content-addressed identifier of a chunk:
// the first 16 hex characters of sha256(path + ":" + index + ":" +
// normalized text). The same input bytes always produce the same id.
func ChunkID(sourcePath string, index int, text string) string {
	sum := sha256.Sum256([]byte(sourcePath + ":" + strconv.Itoa(index) + ":" + NormalizeText(text)))
	return hex.EncodeToString(sum[:])[:16]
}

// Finalize assigns ChunkIndex, TotalChunks and ID to a per-file chunk
// sequence. Chunks must already be in document order.
func Finalize(chunks []*Chunk) []*Chunk {
	for i, c := range chunks {
		c.ChunkIndex = i
		c.TotalChunks = len(chunks)
		c.ID = ChunkID(c.SourcePath, i, c.Text)
	}
	return chunks
}

// estimateTokens approximates the token count of a text. Four bytes per
// token tracks common BPE vocabularies closely enough for sizing.
func estimateTokens(text string) int {
	return len(text) / 4
}
