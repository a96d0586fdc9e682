// Package ranking orders indexed files by PageRank over their import edges
// and narrows the set of files a rendered index shows.
package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/phobologic/logicindex/internal/model"
)

// File is a path with its PageRank score.
type File struct {
	Path string
	Rank float64
}

// Rank applies PageRank to paths and returns them sorted by rank
// descending, ties broken by path. An edge from source to target means the
// source imports the target, so heavily imported files rank first. Edges
// touching unknown paths are ignored.
func Rank(paths []string, edges []model.DependencyEdge) []File {
	if len(paths) == 0 {
		return nil
	}

	nodes := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		nodes[p] = struct{}{}
	}

	outEdges := make(map[string][]string)
	outDegree := make(map[string]int)
	for _, e := range edges {
		_, srcOK := nodes[e.Source]
		_, tgtOK := nodes[e.Target]
		if !srcOK || !tgtOK || e.Source == e.Target {
			continue
		}
		outEdges[e.Source] = append(outEdges[e.Source], e.Target)
		outDegree[e.Source]++
	}

	var ranks map[string]float64
	if len(outEdges) == 0 {
		uniform := 1.0 / float64(len(nodes))
		ranks = make(map[string]float64, len(nodes))
		for p := range nodes {
			ranks[p] = uniform
		}
	} else {
		ranks = pageRank(nodes, outEdges, outDegree, 0.85, 100, 1e-6)
	}

	files := make([]File, 0, len(nodes))
	for p := range nodes {
		files = append(files, File{Path: p, Rank: ranks[p]})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].Rank != files[j].Rank {
			return files[i].Rank > files[j].Rank
		}
		return files[i].Path < files[j].Path
	})
	return files
}

// Paths returns the paths of files in order.
func Paths(files []File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

// SelectFiles keeps the first maxFiles files. If maxFiles is <= 0 or
// >= len(files), files is returned unchanged.
func SelectFiles(files []File, maxFiles int) []File {
	if maxFiles <= 0 || maxFiles >= len(files) {
		return files
	}
	return files[:maxFiles]
}

// FilterByFile keeps files whose path contains substr, case-insensitively.
// An empty substr keeps everything.
func FilterByFile(files []File, substr string) []File {
	if substr == "" {
		return files
	}
	lower := strings.ToLower(substr)
	var out []File
	for _, f := range files {
		if strings.Contains(strings.ToLower(f.Path), lower) {
			out = append(out, f)
		}
	}
	return out
}

func pageRank(
	nodes map[string]struct{},
	outEdges map[string][]string,
	outDegree map[string]int,
	alpha float64,
	maxIter int,
	tol float64,
) map[string]float64 {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	rank := make(map[string]float64, n)
	initial := 1.0 / float64(n)
	for node := range nodes {
		rank[node] = initial
	}

	teleport := (1.0 - alpha) / float64(n)

	for iter := 0; iter < maxIter; iter++ {
		newRank := make(map[string]float64, n)

		// Nodes without outgoing edges spread their rank evenly.
		var danglingSum float64
		for node := range nodes {
			if outDegree[node] == 0 {
				danglingSum += rank[node]
			}
		}
		danglingContrib := alpha * danglingSum / float64(n)

		for node := range nodes {
			newRank[node] = teleport + danglingContrib
		}

		for src, targets := range outEdges {
			contrib := alpha * rank[src] / float64(outDegree[src])
			for _, tgt := range targets {
				newRank[tgt] += contrib
			}
		}

		var diff float64
		for node := range nodes {
			diff += math.Abs(newRank[node] - rank[node])
		}

		rank = newRank

		if diff < tol {
			break
		}
	}

	return rank
}
