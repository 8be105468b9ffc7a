package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps tree-sitter and converts its trees into Node values.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser creates a parser over the default language registry.
func NewParser() *Parser {
	return &Parser{parser: sitter.NewParser(), registry: DefaultRegistry()}
}

// NewParserWithRegistry creates a parser over a custom registry.
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{parser: sitter.NewParser(), registry: registry}
}

// Parse parses source in the named language and returns the AST.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}

	p.parser.SetLanguage(tsLang)
	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s source: %w", language, err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("parse %s source: nil tree", language)
	}

	return &Tree{
		Root:     convertNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:       tsNode.Type(),
		StartByte:  tsNode.StartByte(),
		EndByte:    tsNode.EndByte(),
		StartPoint: Point{Row: tsNode.StartPoint().Row, Column: tsNode.StartPoint().Column},
		EndPoint:   Point{Row: tsNode.EndPoint().Row, Column: tsNode.EndPoint().Column},
		HasError:   tsNode.HasError(),
		Children:   make([]*Node, 0, int(tsNode.ChildCount())),
	}
	for i := uint32(0); i < tsNode.ChildCount(); i++ {
		if child := tsNode.Child(int(i)); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}
	return node
}

// GetContent returns the source bytes spanned by the node.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindAllByType recursively collects nodes of the given type.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var result []*Node
	n.Walk(func(node *Node) bool {
		if node.Type == nodeType {
			result = append(result, node)
		}
		return true
	})
	return result
}

// Walk traverses the tree depth-first; fn returning false prunes the
// subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
