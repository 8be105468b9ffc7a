package chunk

import (
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// LanguageConfig describes how to find declarations in one grammar.
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types for function-like declarations. A function nested in a
	// class-type node is reported as a method.
	FunctionTypes []string

	// Node types that are methods regardless of nesting.
	MethodTypes []string

	// Node types for class-like declarations (classes, interfaces,
	// structs, traits, impl blocks).
	ClassTypes []string

	// Node types for import/include/using statements.
	ImportTypes []string
}

func (c *LanguageConfig) isFunction(nodeType string) bool { return contains(c.FunctionTypes, nodeType) }
func (c *LanguageConfig) isMethod(nodeType string) bool   { return contains(c.MethodTypes, nodeType) }
func (c *LanguageConfig) isClass(nodeType string) bool    { return contains(c.ClassTypes, nodeType) }
func (c *LanguageConfig) isImport(nodeType string) bool   { return contains(c.ImportTypes, nodeType) }

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// LanguageRegistry maps language names and file extensions to grammar
// configurations.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry builds a registry with all supported languages.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}

	r.register(&LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		ClassTypes:    []string{"type_declaration"},
		ImportTypes:   []string{"import_declaration"},
	}, golang.GetLanguage())

	r.register(&LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_definition"},
		ImportTypes:   []string{"import_statement", "import_from_statement"},
	}, python.GetLanguage())

	tsConfig := &LanguageConfig{
		Name:          "typescript",
		Extensions:    []string{".ts", ".mts", ".cts"},
		FunctionTypes: []string{"function_declaration", "generator_function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration", "interface_declaration", "enum_declaration"},
		ImportTypes:   []string{"import_statement"},
	}
	r.register(tsConfig, typescript.GetLanguage())
	r.register(&LanguageConfig{
		Name:          "tsx",
		Extensions:    []string{".tsx"},
		FunctionTypes: tsConfig.FunctionTypes,
		MethodTypes:   tsConfig.MethodTypes,
		ClassTypes:    tsConfig.ClassTypes,
		ImportTypes:   tsConfig.ImportTypes,
	}, tsx.GetLanguage())

	jsConfig := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs", ".cjs"},
		FunctionTypes: []string{"function_declaration", "generator_function_declaration"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ImportTypes:   []string{"import_statement"},
	}
	r.register(jsConfig, javascript.GetLanguage())
	r.register(&LanguageConfig{
		Name:          "jsx",
		Extensions:    []string{".jsx"},
		FunctionTypes: jsConfig.FunctionTypes,
		MethodTypes:   jsConfig.MethodTypes,
		ClassTypes:    jsConfig.ClassTypes,
		ImportTypes:   jsConfig.ImportTypes,
	}, javascript.GetLanguage())

	r.register(&LanguageConfig{
		Name:        "java",
		Extensions:  []string{".java"},
		MethodTypes: []string{"method_declaration", "constructor_declaration"},
		ClassTypes: []string{
			"class_declaration", "interface_declaration",
			"enum_declaration", "record_declaration",
		},
		ImportTypes: []string{"import_declaration"},
	}, java.GetLanguage())

	r.register(&LanguageConfig{
		Name:          "kotlin",
		Extensions:    []string{".kt", ".kts"},
		FunctionTypes: []string{"function_declaration"},
		ClassTypes:    []string{"class_declaration", "object_declaration"},
		ImportTypes:   []string{"import_header"},
	}, kotlin.GetLanguage())

	r.register(&LanguageConfig{
		Name:          "rust",
		Extensions:    []string{".rs"},
		FunctionTypes: []string{"function_item"},
		ClassTypes:    []string{"struct_item", "enum_item", "trait_item", "impl_item"},
		ImportTypes:   []string{"use_declaration"},
	}, rust.GetLanguage())

	r.register(&LanguageConfig{
		Name:          "c",
		Extensions:    []string{".c", ".h"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"struct_specifier", "enum_specifier", "union_specifier"},
		ImportTypes:   []string{"preproc_include"},
	}, c.GetLanguage())

	r.register(&LanguageConfig{
		Name:          "cpp",
		Extensions:    []string{".cc", ".cpp", ".cxx", ".hpp", ".hh"},
		FunctionTypes: []string{"function_definition"},
		ClassTypes:    []string{"class_specifier", "struct_specifier", "enum_specifier"},
		ImportTypes:   []string{"preproc_include"},
	}, cpp.GetLanguage())

	r.register(&LanguageConfig{
		Name:          "swift",
		Extensions:    []string{".swift"},
		FunctionTypes: []string{"function_declaration"},
		ClassTypes:    []string{"class_declaration", "protocol_declaration"},
		ImportTypes:   []string{"import_declaration"},
	}, swift.GetLanguage())

	r.register(&LanguageConfig{
		Name:        "csharp",
		Extensions:  []string{".cs"},
		MethodTypes: []string{"method_declaration", "constructor_declaration"},
		ClassTypes: []string{
			"class_declaration", "interface_declaration", "struct_declaration",
			"enum_declaration", "record_declaration",
		},
		ImportTypes: []string{"using_directive"},
	}, csharp.GetLanguage())

	return r
}

func (r *LanguageRegistry) register(config *LanguageConfig, tsLang *sitter.Language) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[config.Name] = config
	r.tsLanguages[config.Name] = tsLang
	for _, ext := range config.Extensions {
		r.extToLang[ext] = config.Name
	}
}

// GetByName returns the configuration for a language name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetByExtension returns the configuration for a file extension.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	name, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the grammar for a language name.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions lists every registered extension, sorted.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the shared language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
