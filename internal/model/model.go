// Package model defines core data structures for logicindex.
package model

import "encoding/json"

// SymbolKind indicates the syntactic kind of a symbol.
// Methods are recorded as functions named "Class.method".
type SymbolKind string

const (
	Class    SymbolKind = "class"
	Function SymbolKind = "function"
)

// Symbol is a function, class or class method extracted from a source file.
type Symbol struct {
	Name    string
	Args    string
	Kind    SymbolKind
	Line    int
	Hash    string
	Summary string // "" until computed; persisted as null

	// Source is the exact source text of the definition. Not persisted.
	Source string
	// Doc is the leading docstring with quotes removed, if any. Not persisted.
	Doc string
}

// HasSummary reports whether the symbol carries a summary.
func (s *Symbol) HasSummary() bool {
	return s.Summary != ""
}

type symbolJSON struct {
	Name    string     `json:"name"`
	Args    string     `json:"args"`
	Kind    SymbolKind `json:"type"`
	Line    int        `json:"lineno"`
	Hash    string     `json:"hash"`
	Summary *string    `json:"summary"`
}

// MarshalJSON encodes the persisted subset of a symbol; an empty summary
// is written as null.
func (s Symbol) MarshalJSON() ([]byte, error) {
	out := symbolJSON{Name: s.Name, Args: s.Args, Kind: s.Kind, Line: s.Line, Hash: s.Hash}
	if s.Summary != "" {
		summary := s.Summary
		out.Summary = &summary
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a persisted symbol.
func (s *Symbol) UnmarshalJSON(data []byte) error {
	var in symbolJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Symbol{Name: in.Name, Args: in.Args, Kind: in.Kind, Line: in.Line, Hash: in.Hash}
	if in.Summary != nil {
		s.Summary = *in.Summary
	}
	return nil
}

// Import is a single imported module as written in a source file.
type Import struct {
	Module  string   // dotted module name without leading dots
	Level   int      // number of leading dots for relative imports
	Names   []string // names brought in by "from x import a, b"
	Aliased bool     // "import x as y" or "from x import a as b"
	Whole   bool     // "import x": the whole module is bound
	Line    int
}

// UsageKind classifies how an importing file refers to a dependency.
type UsageKind string

const (
	UsageAliased  UsageKind = "aliased"
	UsageSpecific UsageKind = "specific-names"
	UsageUnused   UsageKind = "unused-directly"
)

// DependencyEdge links an importing file to an in-tree imported file.
type DependencyEdge struct {
	Source string
	Target string
	Usage  UsageKind
}

// FileSnapshot is the in-memory view of one source file for a single run.
type FileSnapshot struct {
	Path    string // relative, forward-slash normalized
	Content string
	Symbols []*Symbol
	Imports []Import

	// References holds every identifier read or attribute accessed in the body.
	References map[string]struct{}
	// Complex is set when the file uses reflection or dynamic evaluation.
	Complex bool

	// Edges is filled by dependency resolution.
	Edges []DependencyEdge
	// Hash and Changed are filled by change detection.
	Hash    string
	Changed bool
}

// Batch is the dirty work for one file: the symbols that need a generated
// summary this run.
type Batch struct {
	File    *FileSnapshot
	Symbols []*Symbol
}

// DependencyPaths returns the resolved in-tree import targets in edge order.
func (f *FileSnapshot) DependencyPaths() []string {
	paths := make([]string, 0, len(f.Edges))
	for _, e := range f.Edges {
		paths = append(paths, e.Target)
	}
	return paths
}

// Refers reports whether name is referenced anywhere in the file body.
func (f *FileSnapshot) Refers(name string) bool {
	_, ok := f.References[name]
	return ok
}
