package graph

import (
	"strings"

	"github.com/agentbrain/agentbrain/internal/chunk"
)

// ASTExtractor derives triples from code chunk metadata without any
// model calls: imports, class containment, inheritance, and symbol
// definitions. Fully deterministic.
type ASTExtractor struct{}

func NewASTExtractor() *ASTExtractor { return &ASTExtractor{} }

// Extract returns the facts asserted by one chunk. The caller binds
// them to the chunk id when storing.
func (e *ASTExtractor) Extract(c *chunk.Chunk) []Assertion {
	var assertions []Assertion
	file := NewEntity(EntityFile, c.SourcePath)

	if c.SymbolName != "" && c.SymbolKind != chunk.SymbolKindModule {
		symbol := NewEntity(symbolEntityType(c.SymbolKind), c.SymbolName)
		assertions = append(assertions, Assertion{
			Subject: symbol, Predicate: PredicateDefinedIn, Object: file,
		})
		if c.Parent != "" {
			assertions = append(assertions, Assertion{
				Subject: NewEntity(EntityClass, c.Parent), Predicate: PredicateContains, Object: symbol,
			})
		}
		if c.Extends != "" && c.SymbolKind == chunk.SymbolKindClass {
			assertions = append(assertions, Assertion{
				Subject: symbol, Predicate: PredicateExtends, Object: NewEntity(EntityClass, c.Extends),
			})
		}
	}

	for _, statement := range c.Imports {
		for _, target := range importTargets(statement) {
			assertions = append(assertions, Assertion{
				Subject: file, Predicate: PredicateImports, Object: NewEntity(EntityModule, target),
			})
		}
	}
	return assertions
}

func symbolEntityType(kind chunk.SymbolKind) string {
	switch kind {
	case chunk.SymbolKindClass:
		return EntityClass
	case chunk.SymbolKindMethod:
		return EntityMethod
	default:
		return EntityFunction
	}
}

// importKeywords are the statement heads stripped when looking for the
// imported name.
var importKeywords = map[string]bool{
	"import": true, "from": true, "use": true, "using": true,
	"require": true, "#include": true, "include": true, "static": true,
	"pub": true, "extern": true, "package": true,
}

// importTargets pulls module names out of an import statement. Quoted
// paths win; otherwise the first non-keyword token of each line is
// taken, trimmed of trailing punctuation.
func importTargets(statement string) []string {
	var targets []string
	seen := map[string]bool{}
	add := func(name string) {
		name = strings.Trim(name, `;,(){}"'<>`)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		targets = append(targets, name)
	}

	for _, line := range strings.Split(statement, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "(" || line == ")" {
			continue
		}
		if quoted := quotedStrings(line); len(quoted) > 0 {
			for _, q := range quoted {
				add(q)
			}
			continue
		}
		for _, token := range strings.Fields(line) {
			if importKeywords[strings.ToLower(token)] {
				continue
			}
			// "from x import y" and "import a as b": the module is the
			// first real token; aliases and member lists are noise.
			add(strings.TrimSuffix(token, "::"))
			break
		}
	}
	return targets
}

func quotedStrings(line string) []string {
	var result []string
	for _, delim := range []byte{'"', '\'', '<'} {
		closer := delim
		if delim == '<' {
			closer = '>'
		}
		rest := line
		for {
			start := strings.IndexByte(rest, delim)
			if start < 0 {
				break
			}
			end := strings.IndexByte(rest[start+1:], closer)
			if end < 0 {
				break
			}
			if inner := rest[start+1 : start+1+end]; inner != "" {
				result = append(result, inner)
			}
			rest = rest[start+1+end+1:]
		}
		if len(result) > 0 {
			return result
		}
	}
	return result
}
