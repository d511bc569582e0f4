package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
)

func init() {
	Languages["c"] = &Language{
		Name:         "c",
		Extensions:   []string{".c", ".h"},
		lang:         c.GetLanguage(),
		FunctionName: cFunctionName,
	}
}

var cNameTypes = map[string]bool{
	"identifier": true,
}

// cFunctionName navigates function_definition → (pointer_declarator →)*
// function_declarator → identifier. Zend definition macros are expanded
// to the name they produce.
func cFunctionName(node *sitter.Node, source []byte) string {
	if name, ok := macroFunctionName(node, source); ok {
		return name
	}
	return declaratorName(node, source, cNameTypes)
}
