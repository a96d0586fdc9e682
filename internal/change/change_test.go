package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/logicindex/internal/cache"
	"github.com/phobologic/logicindex/internal/model"
)

var policy = Policy{Mode: StripAll, FilterSmall: true, MinLines: 3}

const fooSource = "def foo():\n    \"\"\"Return one.\"\"\"\n    return 1"
const barSource = "def bar(x):\n    y = x * 2\n    return y"

// twoFiles builds a.py defining a documented foo and b.py importing it.
// When useFoo is set, b.py's body references foo.
func twoFiles(useFoo bool) []*model.FileSnapshot {
	a := &model.FileSnapshot{
		Path:       "a.py",
		Content:    fooSource + "\n",
		References: map[string]struct{}{},
		Symbols: []*model.Symbol{
			{Name: "foo", Kind: model.Function, Source: fooSource, Doc: "Return one."},
		},
	}
	bRefs := map[string]struct{}{"x": {}, "y": {}}
	if useFoo {
		bRefs["foo"] = struct{}{}
	}
	b := &model.FileSnapshot{
		Path:       "b.py",
		Content:    "from a import foo\n" + barSource + "\n",
		References: bRefs,
		Symbols: []*model.Symbol{
			{Name: "bar", Kind: model.Function, Source: barSource},
		},
		Edges: []model.DependencyEdge{{Source: "b.py", Target: "a.py"}},
	}
	if useFoo {
		b.Edges[0].Usage = model.UsageSpecific
	} else {
		b.Edges[0].Usage = model.UsageUnused
	}
	return []*model.FileSnapshot{a, b}
}

// warm simulates a completed run: summaries filled, hashes finalized, cache built.
func warm(t *testing.T, snaps []*model.FileSnapshot) *cache.Store {
	t.Helper()
	batches := Detect(snaps, cache.New(), policy)
	for _, b := range batches {
		for _, s := range b.Symbols {
			s.Summary = "generated " + s.Name
		}
	}
	Finalize(snaps, policy)
	return cache.FromSnapshots(snaps)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	strip := Policy{Mode: StripAll}
	assert.Equal(t, "a=b+c", strip.Normalize("a = b +\n\tc"))

	collapse := Policy{Mode: Collapse}
	assert.Equal(t, "a = b + c", collapse.Normalize("  a  =  b\n+   c "))
	assert.NotEqual(t, collapse.Normalize("a=b+c"), collapse.Normalize("a = b + c"))
}

func TestSymbolHashWhitespaceInsensitive(t *testing.T) {
	t.Parallel()

	original := "def f(a, b):\n    return a + b\n"
	reformatted := "def f(a,b):\n\n        return a+b"
	assert.Equal(t, policy.SymbolHash(original), policy.SymbolHash(reformatted))
	assert.NotEqual(t, policy.SymbolHash(original), policy.SymbolHash("def f(a, b):\n    return a - b\n"))
}

func TestParseHashMode(t *testing.T) {
	t.Parallel()

	m, err := ParseHashMode("")
	require.NoError(t, err)
	assert.Equal(t, StripAll, m)

	m, err = ParseHashMode("collapse")
	require.NoError(t, err)
	assert.Equal(t, Collapse, m)

	_, err = ParseHashMode("exact")
	assert.Error(t, err)
}

func TestDocSummary(t *testing.T) {
	t.Parallel()

	doc := "\n    First line.\n\n    Second line.\n    Third.\n    Fourth is dropped.\n"
	assert.Equal(t, "[Doc] First line. Second line. Third.", DocSummary(doc))
	assert.Equal(t, "", DocSummary("   \n\t"))
}

func TestDetectColdCache(t *testing.T) {
	t.Parallel()

	small := &model.Symbol{Name: "tiny", Kind: model.Function, Source: "def tiny(): return 1"}
	snaps := twoFiles(true)
	snaps[1].Symbols = append(snaps[1].Symbols, small)

	batches := Detect(snaps, cache.New(), policy)

	for _, s := range snaps {
		assert.True(t, s.Changed, s.Path)
		assert.NotEmpty(t, s.Hash)
	}
	assert.Equal(t, "[Doc] Return one.", snaps[0].Symbols[0].Summary)
	assert.Equal(t, SmallPlaceholder, small.Summary)

	require.Len(t, batches, 1)
	assert.Equal(t, "b.py", batches[0].File.Path)
	require.Len(t, batches[0].Symbols, 1)
	assert.Equal(t, "bar", batches[0].Symbols[0].Name)
}

func TestDetectFilterSmallDisabled(t *testing.T) {
	t.Parallel()

	snap := &model.FileSnapshot{
		Path:       "s.py",
		Content:    "def tiny(): return 1\n",
		References: map[string]struct{}{},
		Symbols:    []*model.Symbol{{Name: "tiny", Source: "def tiny(): return 1"}},
	}
	batches := Detect([]*model.FileSnapshot{snap}, cache.New(), Policy{Mode: StripAll, MinLines: 3})
	require.Len(t, batches, 1)
	assert.False(t, snap.Symbols[0].HasSummary())
}

func TestDetectWarmCacheReuses(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(true))

	snaps := twoFiles(true)
	batches := Detect(snaps, store, policy)

	assert.Empty(t, batches)
	for _, s := range snaps {
		assert.False(t, s.Changed, s.Path)
	}
	assert.Equal(t, "generated bar", snaps[1].Symbols[0].Summary)
}

func TestDetectWhitespaceOnlyEdit(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(true))

	snaps := twoFiles(true)
	reformatted := "def bar(x):\n\n    y = x*2\n    return   y"
	snaps[1].Symbols[0].Source = reformatted
	snaps[1].Content = "from a import foo\n" + reformatted + "\n\n"

	assert.Empty(t, Detect(snaps, store, policy))
}

func TestDetectNullSummaryRetried(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(true))
	store.Get("b.py").Symbols[0].Summary = ""

	snaps := twoFiles(true)
	batches := Detect(snaps, store, policy)

	assert.False(t, snaps[1].Changed)
	require.Len(t, batches, 1)
	assert.Equal(t, "bar", batches[0].Symbols[0].Name)
}

func TestDetectEditedSymbol(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(true))

	snaps := twoFiles(true)
	edited := "def bar(x):\n    y = x * 3\n    return y"
	snaps[1].Symbols[0].Source = edited
	snaps[1].Content = "from a import foo\n" + edited + "\n"

	batches := Detect(snaps, store, policy)
	assert.True(t, snaps[1].Changed)
	require.Len(t, batches, 1)
	assert.Equal(t, "bar", batches[0].Symbols[0].Name)
}

func TestDependencyPropagationReferenced(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(true))
	store.Get("a.py").Symbols[0].Summary = "tampered"

	snaps := twoFiles(true)
	batches := Detect(snaps, store, policy)

	assert.False(t, snaps[0].Changed, "a.py source is untouched")
	assert.True(t, snaps[1].Changed, "b.py references foo")
	require.Len(t, batches, 1)
	assert.Equal(t, "b.py", batches[0].File.Path)
}

func TestDependencyPropagationUnreferenced(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(false))
	store.Get("a.py").Symbols[0].Summary = "tampered"

	snaps := twoFiles(false)
	batches := Detect(snaps, store, policy)

	assert.False(t, snaps[1].Changed, "foo is imported but never used")
	assert.Empty(t, batches)
}

func TestCascade(t *testing.T) {
	t.Parallel()

	// a.py has an undocumented helper that b.py uses.
	build := func() []*model.FileSnapshot {
		snaps := twoFiles(true)
		snaps[0].Symbols[0].Doc = ""
		return snaps
	}
	store := warm(t, build())

	// a.py is edited, so its helper is resummarized with a new meaning.
	snaps := build()
	snaps[0].Content += "\n# edited\nx = 1\n"
	batches := Detect(snaps, store, policy)
	require.Len(t, batches, 1)
	assert.Equal(t, "a.py", batches[0].File.Path)
	assert.False(t, snaps[1].Changed)
	batches[0].Symbols[0].Summary = "new meaning"

	processed := map[string]bool{"a.py": true}
	cascade := Cascade(snaps, store, processed, policy)
	require.Len(t, cascade, 1)
	assert.Equal(t, "b.py", cascade[0].File.Path)
	assert.True(t, snaps[1].Changed)
	assert.False(t, snaps[1].Symbols[0].HasSummary())

	// Nothing further once b.py is processed.
	processed["b.py"] = true
	assert.Empty(t, Cascade(snaps, store, processed, policy))
}

func TestCascadeStableWhenSummaryUnchanged(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(true))
	snaps := twoFiles(true)
	require.Empty(t, Detect(snaps, store, policy))
	assert.Empty(t, Cascade(snaps, store, map[string]bool{}, policy))
}

func TestFinalizeMatchesDetectInSteadyState(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(true))
	snaps := twoFiles(true)
	Detect(snaps, store, policy)
	detected := snaps[1].Hash
	Finalize(snaps, policy)
	assert.Equal(t, detected, snaps[1].Hash)
	assert.Equal(t, store.Get("b.py").Hash, snaps[1].Hash)
}

func editFoo(snaps []*model.FileSnapshot) {
	src := "def foo():\n    \"\"\"Return two.\"\"\"\n    return 2"
	snaps[0].Content = src + "\n"
	snaps[0].Symbols[0].Source = src
	snaps[0].Symbols[0].Doc = "Return two."
}

func TestFinalizeKeepsUnchangedHashWithoutCascade(t *testing.T) {
	t.Parallel()

	store := warm(t, twoFiles(true))
	snaps := twoFiles(true)
	editFoo(snaps)

	Detect(snaps, store, policy)
	require.True(t, snaps[0].Changed)
	require.False(t, snaps[1].Changed, "fingerprint still uses the cached foo summary")

	// The run stops before the cascade reaches b.py.
	Finalize(snaps, policy)
	assert.Equal(t, store.Get("b.py").Hash, snaps[1].Hash)

	next := twoFiles(true)
	editFoo(next)
	batches := Detect(next, cache.FromSnapshots(snaps), policy)
	assert.False(t, next[0].Changed)
	assert.True(t, next[1].Changed, "b.py sees the new foo summary on the next run")
	require.Len(t, batches, 1)
	assert.Equal(t, "b.py", batches[0].File.Path)
}
