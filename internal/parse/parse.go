// Package parse extracts symbols, imports and references from source files
// using tree-sitter.
package parse

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/logicindex/internal/lang"
	"github.com/phobologic/logicindex/internal/model"
)

// ParseError reports a file whose syntax tree contains errors. The file is
// skipped for the current run.
type ParseError struct {
	Path string
	Line int
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: syntax error", e.Path, e.Line)
	}
	return fmt.Sprintf("%s: syntax error", e.Path)
}

// File parses one source file into a snapshot holding its symbols, imports
// and referenced identifiers. The parser must be created for l.
// path is stored as-is and should be the repo-relative, slash-separated path.
func File(l *lang.Language, parser *sitter.Parser, path string, source []byte) (*model.FileSnapshot, error) {
	snap := &model.FileSnapshot{
		Path:       path,
		Content:    string(source),
		References: make(map[string]struct{}),
	}
	if len(source) == 0 {
		return snap, nil
	}

	tree, err := parser.ParseCtx(context.Background(), nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, &ParseError{Path: path, Line: firstErrorLine(root)}
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := unwrapDecorated(root.NamedChild(i))
		switch node.Type() {
		case "function_definition":
			snap.Symbols = append(snap.Symbols, newSymbol(l, node, "", model.Function, source))
		case "class_definition":
			cls := newSymbol(l, node, "", model.Class, source)
			snap.Symbols = append(snap.Symbols, cls)
			snap.Symbols = append(snap.Symbols, classMethods(l, node, cls.Name, source)...)
		}
	}

	collect(l, root, source, snap)
	return snap, nil
}

func newSymbol(l *lang.Language, node *sitter.Node, prefix string, kind model.SymbolKind, source []byte) *model.Symbol {
	name := ""
	if n := node.ChildByFieldName("name"); n != nil {
		name = lang.NodeText(n, source)
	}
	if prefix != "" {
		name = prefix + "." + name
	}
	return &model.Symbol{
		Name:   name,
		Args:   l.ExtractSignature(node, kind, source),
		Kind:   kind,
		Line:   int(node.StartPoint().Row) + 1,
		Source: lang.NodeText(node, source),
		Doc:    l.ExtractDocstring(node, source),
	}
}

// classMethods returns the functions defined directly in a class body,
// named "Class.method".
func classMethods(l *lang.Language, classNode *sitter.Node, className string, source []byte) []*model.Symbol {
	body := classNode.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var methods []*model.Symbol
	for i := 0; i < int(body.NamedChildCount()); i++ {
		node := unwrapDecorated(body.NamedChild(i))
		if node.Type() == "function_definition" {
			methods = append(methods, newSymbol(l, node, className, model.Function, source))
		}
	}
	return methods
}

// unwrapDecorated returns the definition inside a decorated_definition.
// The decorators are not part of the symbol's span.
func unwrapDecorated(node *sitter.Node) *sitter.Node {
	if node.Type() != "decorated_definition" {
		return node
	}
	if def := node.ChildByFieldName("definition"); def != nil {
		return def
	}
	return node
}

// collect walks the whole tree recording imports and referenced identifiers.
// Identifiers inside import statements and definition names are not
// references.
func collect(l *lang.Language, node *sitter.Node, source []byte, snap *model.FileSnapshot) {
	switch node.Type() {
	case "import_statement":
		snap.Imports = append(snap.Imports, importStatement(node, source)...)
		return
	case "import_from_statement":
		snap.Imports = append(snap.Imports, importFromStatement(node, source))
		return
	case "identifier":
		name := lang.NodeText(node, source)
		snap.References[name] = struct{}{}
		if l.IsDynamic(name) {
			snap.Complex = true
		}
		return
	}

	var skip *sitter.Node
	if t := node.Type(); t == "function_definition" || t == "class_definition" {
		skip = node.ChildByFieldName("name")
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if skip != nil && sameNode(child, skip) {
			continue
		}
		collect(l, child, source, snap)
	}
}

// importStatement handles "import a.b, c as d".
func importStatement(node *sitter.Node, source []byte) []model.Import {
	line := int(node.StartPoint().Row) + 1
	var imports []model.Import
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			imports = append(imports, model.Import{
				Module: lang.NodeText(child, source),
				Whole:  true,
				Line:   line,
			})
		case "aliased_import":
			if n := child.ChildByFieldName("name"); n != nil {
				imports = append(imports, model.Import{
					Module:  lang.NodeText(n, source),
					Whole:   true,
					Aliased: true,
					Line:    line,
				})
			}
		}
	}
	return imports
}

// importFromStatement handles "from .pkg.mod import a, b as c" and
// "from x import *". A wildcard is treated like an alias: every name may be
// in use.
func importFromStatement(node *sitter.Node, source []byte) model.Import {
	imp := model.Import{Line: int(node.StartPoint().Row) + 1}

	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode != nil {
		if moduleNode.Type() == "relative_import" {
			for i := 0; i < int(moduleNode.NamedChildCount()); i++ {
				part := moduleNode.NamedChild(i)
				switch part.Type() {
				case "import_prefix":
					imp.Level = len(lang.NodeText(part, source))
				case "dotted_name":
					imp.Module = lang.NodeText(part, source)
				}
			}
		} else {
			imp.Module = lang.NodeText(moduleNode, source)
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if moduleNode != nil && sameNode(child, moduleNode) {
			continue
		}
		switch child.Type() {
		case "dotted_name":
			imp.Names = append(imp.Names, lang.NodeText(child, source))
		case "aliased_import":
			if n := child.ChildByFieldName("name"); n != nil {
				imp.Names = append(imp.Names, lang.NodeText(n, source))
			}
			imp.Aliased = true
		case "wildcard_import":
			imp.Aliased = true
		}
	}
	return imp
}

func firstErrorLine(node *sitter.Node) int {
	if node.Type() == "ERROR" || node.IsMissing() {
		return int(node.StartPoint().Row) + 1
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.HasError() || child.IsMissing() {
			return firstErrorLine(child)
		}
	}
	return 0
}

func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}
