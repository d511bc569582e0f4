package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
)

func init() {
	Languages["cpp"] = &Language{
		Name:         "cpp",
		Extensions:   []string{".cpp", ".cc", ".cxx", ".hpp"},
		lang:         cpp.GetLanguage(),
		FunctionName: cppFunctionName,
	}
}

var cppNameTypes = map[string]bool{
	"identifier":           true,
	"field_identifier":     true,
	"qualified_identifier": true,
	"destructor_name":      true,
	"operator_name":        true,
	"template_function":    true,
}

// cppFunctionName is like cFunctionName but also accepts qualified and
// member names (Foo::bar, ~Foo, operator==).
func cppFunctionName(node *sitter.Node, source []byte) string {
	if name, ok := macroFunctionName(node, source); ok {
		return name
	}
	return declaratorName(node, source, cppNameTypes)
}
