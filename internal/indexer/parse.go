package indexer

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/phobologic/logicindex/internal/discover"
	"github.com/phobologic/logicindex/internal/graph"
	"github.com/phobologic/logicindex/internal/lang"
	"github.com/phobologic/logicindex/internal/model"
	"github.com/phobologic/logicindex/internal/parse"
)

// filterBySize drops files larger than maxSize bytes. Files that cannot be
// stat'ed are kept; reading them will report the problem.
func filterBySize(root string, files []discover.FileEntry, maxSize int, logger *slog.Logger) ([]discover.FileEntry, int) {
	if maxSize <= 0 {
		return files, 0
	}
	var kept []discover.FileEntry
	skipped := 0
	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			kept = append(kept, f)
			continue
		}
		if fi.Size() > int64(maxSize) {
			logger.Warn("skipping large file", "file", f.Path, "bytes", fi.Size(), "limit", maxSize)
			skipped++
			continue
		}
		kept = append(kept, f)
	}
	return kept, skipped
}

// parseFiles reads and parses files on GOMAXPROCS workers. Snapshots come
// back in input order; files that cannot be read or parsed are logged,
// counted and left out.
func parseFiles(root string, files []discover.FileEntry, logger *slog.Logger) ([]*model.FileSnapshot, int) {
	if len(files) == 0 {
		return nil, 0
	}

	type result struct {
		index int
		snap  *model.FileSnapshot
	}

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	work := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each goroutine gets its own parser
			parsers := make(map[string]*sitter.Parser)

			for idx := range work {
				f := files[idx]
				l, ok := lang.Languages[f.Language]
				if !ok {
					continue
				}
				parser, ok := parsers[f.Language]
				if !ok {
					parser = l.NewParser()
					parsers[f.Language] = parser
				}

				source, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(f.Path)))
				if err != nil {
					logger.Warn("skipping unreadable file", "file", f.Path, "error", err)
					continue
				}

				snap, err := parse.File(l, parser, f.Path, source)
				if err != nil {
					var perr *parse.ParseError
					if errors.As(err, &perr) {
						logger.Warn("skipping file with syntax errors", "file", f.Path, "line", perr.Line)
					} else {
						logger.Warn("skipping file", "file", f.Path, "error", err)
					}
					continue
				}
				results <- result{index: idx, snap: snap}
			}
		}()
	}

	for i := range files {
		work <- i
	}
	close(work)

	go func() {
		wg.Wait()
		close(results)
	}()

	// Collect results in original order
	indexed := make([]*model.FileSnapshot, len(files))
	for r := range results {
		indexed[r.index] = r.snap
	}

	var snaps []*model.FileSnapshot
	for _, snap := range indexed {
		if snap != nil {
			snaps = append(snaps, snap)
		}
	}
	return snaps, len(files) - len(snaps)
}

// resolve links every snapshot to the in-tree files it imports, using each
// language's primary extension and package marker.
func resolve(root string, snaps []*model.FileSnapshot) {
	exists := graph.FileExists(root)
	byLang := make(map[*lang.Language][]*model.FileSnapshot)
	for _, snap := range snaps {
		l := lang.Languages[lang.ForExtension(filepath.Ext(snap.Path))]
		if l == nil {
			continue
		}
		byLang[l] = append(byLang[l], snap)
	}
	for l, group := range byLang {
		r := &graph.Resolver{Ext: l.Extensions[0], PackageInit: l.PackageInit, Exists: exists}
		r.Resolve(group)
	}
}
