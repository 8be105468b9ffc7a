package chunk

// SymbolExtractor finds declarations in a parsed tree.
type SymbolExtractor struct {
	registry *LanguageRegistry
}

// NewSymbolExtractor creates an extractor over the default registry.
func NewSymbolExtractor() *SymbolExtractor {
	return &SymbolExtractor{registry: DefaultRegistry()}
}

// NewSymbolExtractorWithRegistry creates an extractor over a custom registry.
func NewSymbolExtractorWithRegistry(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{registry: registry}
}

// Extract walks the tree and returns every named declaration in source
// order. Functions nested inside a class-like declaration are reported
// as methods with Parent set to the enclosing class.
func (e *SymbolExtractor) Extract(tree *Tree) []*Symbol {
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}
	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	symbols := []*Symbol{}
	e.walk(tree.Root, tree.Source, config, tree.Language, "", &symbols)
	return symbols
}

func (e *SymbolExtractor) walk(n *Node, source []byte, config *LanguageConfig, language, enclosing string, out *[]*Symbol) {
	next := enclosing

	if sym := e.symbolFor(n, source, config, language, enclosing); sym != nil {
		*out = append(*out, sym)
		if sym.Kind == SymbolKindClass {
			next = sym.Name
		}
	}

	for _, child := range n.Children {
		e.walk(child, source, config, language, next, out)
	}
}

func (e *SymbolExtractor) symbolFor(n *Node, source []byte, config *LanguageConfig, language, enclosing string) *Symbol {
	var kind SymbolKind
	switch {
	case config.isFunction(n.Type):
		kind = SymbolKindFunction
		if enclosing != "" {
			kind = SymbolKindMethod
		}
	case config.isMethod(n.Type):
		kind = SymbolKindMethod
	case config.isClass(n.Type):
		kind = SymbolKindClass
	default:
		return e.variableFunctionSymbol(n, source, language, enclosing)
	}

	name := declarationName(n, source)
	if name == "" {
		return nil
	}

	sym := &Symbol{
		Name:      name,
		Kind:      kind,
		StartLine: int(n.StartPoint.Row) + 1,
		EndLine:   int(n.EndPoint.Row) + 1,
	}
	if kind == SymbolKindMethod {
		sym.Parent = enclosing
	}
	if kind == SymbolKindClass {
		sym.Extends = extractExtends(n, source)
	}
	return sym
}

// variableFunctionSymbol handles the JS/TS idiom of binding a function
// to a const or var: `const handler = () => {}`.
func (e *SymbolExtractor) variableFunctionSymbol(n *Node, source []byte, language, enclosing string) *Symbol {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
	default:
		return nil
	}
	if n.Type != "lexical_declaration" && n.Type != "variable_declaration" {
		return nil
	}

	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}
		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "identifier":
				if name == "" {
					name = grandchild.GetContent(source)
				}
			case "arrow_function", "function", "function_expression", "generator_function":
				hasFunction = true
			}
		}
		if name == "" || !hasFunction {
			continue
		}

		kind := SymbolKindFunction
		parent := ""
		if enclosing != "" {
			kind = SymbolKindMethod
			parent = enclosing
		}
		return &Symbol{
			Name:      name,
			Kind:      kind,
			StartLine: int(n.StartPoint.Row) + 1,
			EndLine:   int(n.EndPoint.Row) + 1,
			Parent:    parent,
		}
	}
	return nil
}

// Name-bearing node types. Plain identifiers beat type identifiers at
// the same depth so a declared name wins over a return type in
// C-family grammars.
var primaryNameTypes = map[string]bool{
	"identifier":          true,
	"field_identifier":    true,
	"simple_identifier":   true,
	"property_identifier": true,
}

// declarationName finds the declared name of a symbol node. The search
// walks breadth-first to depth 3: the name sits at depth 1 in most
// grammars and at depth 2 behind a declarator or spec node elsewhere.
// Within a depth the last plain identifier wins, because C-family
// grammars place the return type before the name.
func declarationName(n *Node, source []byte) string {
	level := n.Children
	for depth := 0; depth < 3 && len(level) > 0; depth++ {
		var name, typeName string
		var next []*Node
		for _, child := range level {
			if primaryNameTypes[child.Type] {
				name = child.GetContent(source)
			} else if typeName == "" && child.Type == "type_identifier" {
				typeName = child.GetContent(source)
			}
			next = append(next, child.Children...)
		}
		if name != "" {
			return name
		}
		if typeName != "" {
			return typeName
		}
		level = next
	}
	return ""
}

// Node types that introduce an inheritance clause in the supported
// grammars.
var heritageTypes = map[string]bool{
	"superclass":            true, // java
	"class_heritage":        true, // typescript, javascript
	"extends_clause":        true, // typescript
	"argument_list":         true, // python
	"base_list":             true, // csharp
	"base_class_clause":     true, // cpp
	"delegation_specifier":  true, // kotlin
	"inheritance_specifier": true, // swift
}

// extractExtends returns the first named base of a class declaration,
// or "" when the class declares none.
func extractExtends(n *Node, source []byte) string {
	for _, child := range n.Children {
		if !heritageTypes[child.Type] {
			continue
		}
		if name := firstTypeName(child, source); name != "" {
			return name
		}
	}
	return ""
}

func firstTypeName(n *Node, source []byte) string {
	var found string
	n.Walk(func(node *Node) bool {
		if found != "" {
			return false
		}
		switch node.Type {
		case "identifier", "type_identifier", "simple_identifier":
			found = node.GetContent(source)
			return false
		}
		return true
	})
	return found
}
