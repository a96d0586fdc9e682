package lang

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/phobologic/logicindex/internal/model"
)

func init() {
	Languages["python"] = &Language{
		Name:        "python",
		Extensions:  []string{".py"},
		lang:        python.GetLanguage(),
		PackageInit: "__init__",
		DynamicNames: []string{
			"getattr", "setattr", "delattr", "eval", "exec", "compile",
			"__import__", "import_module", "globals", "locals", "vars",
			"__metaclass__",
		},
		ExtractSignature: pythonExtractSignature,
		ExtractDocstring: pythonExtractDocstring,
	}
}

// pythonExtractSignature renders a function's parameter list, with the
// return annotation when present. Classes have no signature.
func pythonExtractSignature(defNode *sitter.Node, kind model.SymbolKind, source []byte) string {
	if kind == model.Class {
		return ""
	}
	var params, returnType string
	if p := defNode.ChildByFieldName("parameters"); p != nil {
		params = CollapseWhitespace(NodeText(p, source))
	}
	if r := defNode.ChildByFieldName("return_type"); r != nil {
		returnType = CollapseWhitespace(NodeText(r, source))
	}
	if returnType != "" {
		return params + " -> " + returnType
	}
	return params
}

// pythonExtractDocstring returns the string literal that opens a function or
// class body, the way the interpreter assigns __doc__.
func pythonExtractDocstring(defNode *sitter.Node, source []byte) string {
	body := defNode.ChildByFieldName("body")
	if body == nil {
		return ""
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		stmt := body.NamedChild(i)
		if stmt.Type() == "comment" {
			continue
		}
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 {
			return ""
		}
		expr := stmt.NamedChild(0)
		if expr.Type() != "string" {
			return ""
		}
		return unquotePythonString(NodeText(expr, source))
	}
	return ""
}

// unquotePythonString strips the prefix and quotes from a string literal.
// Escape sequences are left untouched.
func unquotePythonString(lit string) string {
	s := strings.TrimLeft(lit, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}
