// Package graph resolves import statements to in-tree files and decides which
// dependency symbols are relevant to an importing file.
package graph

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/phobologic/logicindex/internal/model"
)

// Resolver maps module names to repo-relative file paths.
type Resolver struct {
	// Ext is the source file extension including the dot (".py").
	Ext string
	// PackageInit is the file stem that marks a package directory ("__init__").
	PackageInit string
	// Exists reports whether a repo-relative, slash-separated path is a file.
	Exists func(rel string) bool
}

// FileExists returns an Exists function backed by the filesystem under root.
func FileExists(root string) func(rel string) bool {
	return func(rel string) bool {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
		return err == nil && !info.IsDir()
	}
}

// Module resolves a dotted module name imported from importer. level is the
// number of leading dots; 0 means absolute. Returns "" if no in-tree file
// matches.
func (r *Resolver) Module(importer, module string, level int) string {
	base := ""
	if level > 0 {
		base = path.Dir(importer)
		for i := 1; i < level; i++ {
			if base == "." || base == "" {
				return ""
			}
			base = path.Dir(base)
		}
		if base == "." {
			base = ""
		}
	}

	rel := strings.ReplaceAll(module, ".", "/")
	if base != "" && rel != "" {
		rel = base + "/" + rel
	} else if base != "" {
		rel = base
	}

	var candidates []string
	if module != "" {
		candidates = append(candidates, rel+r.Ext)
	}
	if r.PackageInit != "" {
		if rel == "" {
			candidates = append(candidates, r.PackageInit+r.Ext)
		} else {
			candidates = append(candidates, rel+"/"+r.PackageInit+r.Ext)
		}
	}
	for _, c := range candidates {
		if r.Exists(c) {
			return c
		}
	}
	return ""
}

// Resolve fills Edges on every snapshot. Each in-tree target appears once
// per importer, carrying the strongest usage seen across its imports.
func (r *Resolver) Resolve(snaps []*model.FileSnapshot) {
	for _, snap := range snaps {
		usage := make(map[string]model.UsageKind)
		add := func(target string, kind model.UsageKind) {
			if target == "" || target == snap.Path {
				return // no self-edges
			}
			if prev, ok := usage[target]; !ok || strength(kind) > strength(prev) {
				usage[target] = kind
			}
		}

		for _, imp := range snap.Imports {
			add(r.Module(snap.Path, imp.Module, imp.Level), classify(snap, imp))

			// "from pkg import mod" may bind a submodule rather than a name.
			for _, name := range imp.Names {
				sub := name
				if imp.Module != "" {
					sub = imp.Module + "." + name
				}
				add(r.Module(snap.Path, sub, imp.Level), model.UsageAliased)
			}
		}

		targets := make([]string, 0, len(usage))
		for t := range usage {
			targets = append(targets, t)
		}
		sort.Strings(targets)

		snap.Edges = snap.Edges[:0]
		for _, t := range targets {
			snap.Edges = append(snap.Edges, model.DependencyEdge{Source: snap.Path, Target: t, Usage: usage[t]})
		}
	}
}

// classify decides how an importing file uses one import. Whole-module and
// aliased imports cannot be seen through statically and count as aliased.
func classify(snap *model.FileSnapshot, imp model.Import) model.UsageKind {
	if imp.Whole || imp.Aliased {
		return model.UsageAliased
	}
	for _, name := range imp.Names {
		if snap.Refers(name) {
			return model.UsageSpecific
		}
	}
	return model.UsageUnused
}

func strength(k model.UsageKind) int {
	switch k {
	case model.UsageAliased:
		return 2
	case model.UsageSpecific:
		return 1
	default:
		return 0
	}
}

// Relevant reports whether a dependency symbol can affect the importing
// file: the importer is complex, the edge is aliased, or the symbol name (or
// the last component of a qualified name) is referenced.
func Relevant(importer *model.FileSnapshot, edge model.DependencyEdge, symbolName string) bool {
	if importer.Complex || edge.Usage == model.UsageAliased {
		return true
	}
	if importer.Refers(symbolName) {
		return true
	}
	if i := strings.LastIndex(symbolName, "."); i >= 0 {
		return importer.Refers(symbolName[i+1:])
	}
	return false
}

// SymbolLookup returns the known symbols of a repo-relative path.
type SymbolLookup func(path string) []*model.Symbol

// RelevantSymbols returns the dependency symbols relevant to importer across
// all of its edges, in edge order.
func RelevantSymbols(importer *model.FileSnapshot, lookup SymbolLookup) []*model.Symbol {
	var out []*model.Symbol
	for _, edge := range importer.Edges {
		for _, s := range lookup(edge.Target) {
			if Relevant(importer, edge, s.Name) {
				out = append(out, s)
			}
		}
	}
	return out
}

// Fingerprint returns the sorted "name:summary" strings of every relevant
// dependency symbol. It is folded into the importer's file hash.
func Fingerprint(importer *model.FileSnapshot, lookup SymbolLookup) []string {
	syms := RelevantSymbols(importer, lookup)
	parts := make([]string, 0, len(syms))
	for _, s := range syms {
		parts = append(parts, s.Name+":"+s.Summary)
	}
	sort.Strings(parts)
	return parts
}
