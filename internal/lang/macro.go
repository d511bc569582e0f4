package lang

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// definitionMacros maps the Zend macros that open a function definition to
// the prefix their expansion gives the function name. PHP_FUNCTION(foo)
// defines zif_foo.
var definitionMacros = map[string]string{
	"PHP_FUNCTION":            "zif_",
	"ZEND_FUNCTION":           "zif_",
	"PHP_NAMED_FUNCTION":      "",
	"ZEND_NAMED_FUNCTION":     "",
	"PHP_MINIT_FUNCTION":      "zm_startup_",
	"ZEND_MINIT_FUNCTION":     "zm_startup_",
	"PHP_MSHUTDOWN_FUNCTION":  "zm_shutdown_",
	"ZEND_MSHUTDOWN_FUNCTION": "zm_shutdown_",
	"PHP_RINIT_FUNCTION":      "zm_activate_",
	"ZEND_RINIT_FUNCTION":     "zm_activate_",
	"PHP_RSHUTDOWN_FUNCTION":  "zm_deactivate_",
	"ZEND_RSHUTDOWN_FUNCTION": "zm_deactivate_",
	"PHP_MINFO_FUNCTION":      "zm_info_",
	"ZEND_MINFO_FUNCTION":     "zm_info_",
	"PHP_GINIT_FUNCTION":      "zm_globals_ctor_",
	"ZEND_GINIT_FUNCTION":     "zm_globals_ctor_",
	"PHP_GSHUTDOWN_FUNCTION":  "zm_globals_dtor_",
	"ZEND_GSHUTDOWN_FUNCTION": "zm_globals_dtor_",
}

// macroFunctionName recognizes a definition spelled through one of the
// definitionMacros. Without a preprocessor the C grammar reads
// PHP_FUNCTION(foo) { ... } as a definition whose type is PHP_FUNCTION and
// whose declarator is the parenthesized name; the C++ grammar may read it as a
// constructor-like declarator PHP_FUNCTION with one unnamed parameter.
func macroFunctionName(node *sitter.Node, source []byte) (string, bool) {
	decl := node.ChildByFieldName("declarator")
	if decl == nil {
		return "", false
	}

	if typ := node.ChildByFieldName("type"); typ != nil && decl.Type() == "parenthesized_declarator" {
		prefix, ok := definitionMacros[NodeText(typ, source)]
		if !ok {
			return "", false
		}
		if decl.NamedChildCount() != 1 || decl.NamedChild(0).Type() != "identifier" {
			return "", false
		}
		return prefix + NodeText(decl.NamedChild(0), source), true
	}

	if decl.Type() == "function_declarator" {
		callee := decl.ChildByFieldName("declarator")
		params := decl.ChildByFieldName("parameters")
		if callee == nil || params == nil || params.NamedChildCount() != 1 {
			return "", false
		}
		prefix, ok := definitionMacros[NodeText(callee, source)]
		if !ok {
			return "", false
		}
		param := params.NamedChild(0)
		if param.Type() != "parameter_declaration" || param.ChildByFieldName("declarator") != nil {
			return "", false
		}
		typ := param.ChildByFieldName("type")
		if typ == nil || typ.Type() != "type_identifier" {
			return "", false
		}
		return prefix + NodeText(typ, source), true
	}
	return "", false
}
