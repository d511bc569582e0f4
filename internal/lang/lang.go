// Package lang provides a language registry mapping source file extensions
// to tree-sitter grammars for the C family.
package lang

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
)

// Language holds tree-sitter configuration for a supported language.
type Language struct {
	Name       string
	Extensions []string
	lang       *sitter.Language

	// FunctionName returns the name declared by a function_definition node,
	// or "" when the declarator does not name a function.
	FunctionName func(node *sitter.Node, source []byte) string
}

// GetLanguage returns the tree-sitter Language pointer.
func (l *Language) GetLanguage() *sitter.Language {
	return l.lang
}

// NewParser creates a fresh tree-sitter parser for this language.
// Each goroutine must use its own parser (not thread-safe).
func (l *Language) NewParser() *sitter.Parser {
	p := sitter.NewParser()
	p.SetLanguage(l.lang)
	return p
}

// Languages maps language names to their configuration.
// Populated by init() functions in per-language files.
var Languages = map[string]*Language{}

// extensionMap is built lazily after all init() functions have run.
var extensionMap map[string]string
var extensionOnce sync.Once

func getExtensionMap() map[string]string {
	extensionOnce.Do(func() {
		extensionMap = make(map[string]string)
		for _, l := range Languages {
			for _, ext := range l.Extensions {
				extensionMap[ext] = l.Name
			}
		}
	})
	return extensionMap
}

// ForExtension returns the language name for a file extension, or "" if unsupported.
func ForExtension(ext string) string {
	return getExtensionMap()[strings.ToLower(ext)]
}

// ForPath returns the language for a file path, or nil if unsupported.
func ForPath(path string) *Language {
	name := ForExtension(filepath.Ext(path))
	if name == "" {
		return nil
	}
	return Languages[name]
}

// NodeText returns the source text of a tree-sitter node.
func NodeText(node *sitter.Node, source []byte) string {
	return string(source[node.StartByte():node.EndByte()])
}

// declaratorName follows the declarator field chain of a definition down
// to the identifier it declares.
func declaratorName(node *sitter.Node, source []byte, nameTypes map[string]bool) string {
	for n := node.ChildByFieldName("declarator"); n != nil; {
		if nameTypes[n.Type()] {
			return NodeText(n, source)
		}
		next := n.ChildByFieldName("declarator")
		if next == nil {
			// reference_declarator and friends carry the inner declarator
			// as an unnamed field.
			for i := 0; i < int(n.NamedChildCount()); i++ {
				c := n.NamedChild(i)
				if strings.HasSuffix(c.Type(), "declarator") || nameTypes[c.Type()] {
					next = c
					break
				}
			}
		}
		n = next
	}
	return ""
}
