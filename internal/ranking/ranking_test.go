package ranking

import (
	"math"
	"reflect"
	"testing"

	"github.com/phobologic/logicindex/internal/model"
)

func TestRankUniform(t *testing.T) {
	t.Parallel()

	files := Rank([]string{"c.py", "a.py", "b.py"}, nil)

	expected := 1.0 / 3.0
	for _, f := range files {
		if math.Abs(f.Rank-expected) > 1e-9 {
			t.Errorf("%s rank = %f, want %f", f.Path, f.Rank, expected)
		}
	}
	if got := Paths(files); !reflect.DeepEqual(got, []string{"a.py", "b.py", "c.py"}) {
		t.Errorf("equal ranks should sort by path, got %v", got)
	}
}

func TestRankWithEdges(t *testing.T) {
	t.Parallel()

	edges := []model.DependencyEdge{
		{Source: "a.py", Target: "b.py", Usage: model.UsageSpecific},
		{Source: "c.py", Target: "b.py", Usage: model.UsageAliased},
	}
	files := Rank([]string{"a.py", "b.py", "c.py"}, edges)

	// b.py is imported by both a.py and c.py.
	if files[0].Path != "b.py" {
		t.Errorf("expected b.py first, got %s", files[0].Path)
	}

	var sum float64
	for _, f := range files {
		sum += f.Rank
	}
	if math.Abs(sum-1.0) > 0.01 {
		t.Errorf("ranks sum to %f, expected ~1.0", sum)
	}

	if files[0].Rank <= files[1].Rank {
		t.Errorf("b.py rank (%f) should be > second file rank (%f)", files[0].Rank, files[1].Rank)
	}
}

func TestRankIgnoresUnknownAndSelfEdges(t *testing.T) {
	t.Parallel()

	edges := []model.DependencyEdge{
		{Source: "a.py", Target: "gone.py"},
		{Source: "a.py", Target: "a.py"},
	}
	files := Rank([]string{"a.py", "b.py"}, edges)
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if math.Abs(files[0].Rank-0.5) > 1e-9 {
		t.Errorf("expected uniform ranks, got %+v", files)
	}
}

func TestRankEmpty(t *testing.T) {
	t.Parallel()
	if got := Rank(nil, nil); got != nil {
		t.Errorf("Rank(nil) = %v", got)
	}
}

func makeFiles() []File {
	return []File{
		{Path: "pkg/core.py", Rank: 0.5},
		{Path: "pkg/util.py", Rank: 0.3},
		{Path: "main.py", Rank: 0.2},
	}
}

func TestSelectFilesAll(t *testing.T) {
	t.Parallel()

	files := makeFiles()
	for _, n := range []int{0, 3, 5} {
		if got := SelectFiles(files, n); len(got) != 3 {
			t.Errorf("SelectFiles(%d) returned %d files", n, len(got))
		}
	}
}

func TestSelectFilesSubset(t *testing.T) {
	t.Parallel()

	got := SelectFiles(makeFiles(), 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 files, got %d", len(got))
	}
	if got[0].Path != "pkg/core.py" || got[1].Path != "pkg/util.py" {
		t.Errorf("expected pkg/core.py, pkg/util.py; got %s, %s", got[0].Path, got[1].Path)
	}
}

func TestFilterByFile(t *testing.T) {
	t.Parallel()

	got := FilterByFile(makeFiles(), "PKG/")
	if want := []string{"pkg/core.py", "pkg/util.py"}; !reflect.DeepEqual(Paths(got), want) {
		t.Errorf("FilterByFile = %v, want %v", Paths(got), want)
	}
	if got := FilterByFile(makeFiles(), ""); len(got) != 3 {
		t.Errorf("empty filter should keep all files, got %d", len(got))
	}
	if got := FilterByFile(makeFiles(), "nothing"); len(got) != 0 {
		t.Errorf("expected no matches, got %v", got)
	}
}
