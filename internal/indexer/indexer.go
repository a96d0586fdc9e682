// Package indexer runs one incremental indexing pass over a repository:
// discover, parse, resolve, detect changes, summarize, then persist the
// cache and the rendered logic tree.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/phobologic/logicindex/internal/cache"
	"github.com/phobologic/logicindex/internal/change"
	"github.com/phobologic/logicindex/internal/config"
	"github.com/phobologic/logicindex/internal/discover"
	"github.com/phobologic/logicindex/internal/llm"
	"github.com/phobologic/logicindex/internal/metrics"
	"github.com/phobologic/logicindex/internal/model"
	"github.com/phobologic/logicindex/internal/render"
	"github.com/phobologic/logicindex/internal/scheduler"
)

// Deps are the collaborators of a run. Zero values are filled in by New.
type Deps struct {
	// Transport overrides the transport built from the configuration.
	Transport llm.Transport
	Logger    *slog.Logger
	// Metrics, if set, receives per-call outcomes and the run totals.
	Metrics *metrics.Recorder
	Now     func() time.Time
}

// Stats summarize a finished run.
type Stats struct {
	FilesScanned   int
	FilesProcessed int
	FilesFailed    int
	APICalls       int64
	Summarized     int
	Pending        int
	BreakerTripped bool
	Duration       time.Duration
}

// Indexer holds the configuration and collaborators of a run.
type Indexer struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
	policy change.Policy
}

// New returns an indexer for cfg.
func New(cfg config.Config, deps Deps) *Indexer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Indexer{cfg: cfg, deps: deps, logger: deps.Logger, policy: cfg.Policy()}
}

// Run performs one indexing pass. Once the sources are parsed, the cache and
// the Markdown output are written no matter how summarization ends; an error
// from that phase is joined into the returned error. API failures never fail
// the run, they show up in Stats.
func (ix *Indexer) Run(ctx context.Context) (stats *Stats, err error) {
	start := ix.deps.Now()
	stats = &Stats{}

	patterns, seeded, exErr := discover.LoadExclusions(ix.cfg.StateDir())
	if exErr != nil {
		ix.logger.Warn("using fallback exclusions", "error", exErr)
	}
	if seeded {
		ix.logger.Info("created exclusion file", "path", filepath.Join(ix.cfg.StateDir(), discover.ConfigFileName))
	}

	entries, err := discover.Files(ix.cfg.Root, patterns)
	if err != nil {
		return stats, fmt.Errorf("discovering files: %w", err)
	}
	stats.FilesScanned = len(entries)
	ix.logger.Info("scanning codebase", "files", len(entries))

	entries, skipped := filterBySize(ix.cfg.Root, entries, ix.cfg.MaxFileSize, ix.logger)
	snaps, failed := parseFiles(ix.cfg.Root, entries, ix.logger)
	stats.FilesFailed = skipped + failed

	var client *llm.Client
	defer func() {
		if r := recover(); r != nil {
			err = errors.Join(err, fmt.Errorf("indexing aborted: %v", r))
		}
		ix.finish(stats, snaps, client, start)
		if perr := ix.persist(snaps, client, ix.deps.Now()); perr != nil {
			err = errors.Join(err, perr)
		}
	}()

	resolve(ix.cfg.Root, snaps)

	store, cerr := cache.Load(ix.cfg.CachePath())
	switch {
	case errors.Is(cerr, cache.ErrVersionMismatch):
		ix.logger.Warn("cache schema changed, rebuilding every summary", "error", cerr)
	case cerr != nil:
		ix.logger.Warn("discarding unreadable cache", "error", cerr)
	}

	batches := change.Detect(snaps, store, ix.policy)
	if len(batches) == 0 {
		ix.logger.Info("index is up to date")
		return stats, nil
	}

	client, err = ix.client(ctx)
	if err != nil {
		return stats, err
	}
	if client == nil {
		ix.logger.Warn("no API key configured, skipping summary generation", "provider", ix.cfg.Provider, "pending", countSymbols(batches))
		return stats, nil
	}

	ix.summarize(ctx, client, store, snaps, batches, stats)
	return stats, nil
}

// summarize runs scheduling rounds until no file needs work. After each
// round, files whose dependency summaries moved are requeued.
func (ix *Indexer) summarize(ctx context.Context, client *llm.Client, store *cache.Store, snaps []*model.FileSnapshot, batches []model.Batch, stats *Stats) {
	sched := scheduler.New(client, scheduler.Options{
		Workers:         ix.cfg.Workers,
		ContextBudget:   ix.cfg.ContextBudget,
		BatchTokenLimit: ix.cfg.BatchTokenLimit,
		MaxTokens:       ix.cfg.MaxTokens,
		Temperature:     ix.cfg.Temperature,
		Logger:          ix.logger,
	})

	processed := make(map[string]bool)
	for round := 1; len(batches) > 0; round++ {
		ix.logger.Info("generating summaries", "round", round, "files", len(batches),
			"symbols", countSymbols(batches), "workers", ix.cfg.Workers)

		res := sched.Run(ctx, batches, change.SnapshotLookup(snaps))
		for _, b := range batches {
			processed[b.File.Path] = true
		}
		stats.FilesProcessed += len(res.Dispatched)
		stats.Summarized += res.Summarized

		if client.Breaker().Open() || ctx.Err() != nil {
			return
		}
		batches = change.Cascade(snaps, store, processed, ix.policy)
	}
}

// client builds the summarization client, or returns nil when no API key is
// configured and no transport was injected.
func (ix *Indexer) client(ctx context.Context) (*llm.Client, error) {
	transport := ix.deps.Transport
	if transport == nil {
		if ix.cfg.APIKey == "" {
			return nil, nil
		}
		t, err := llm.NewTransport(ctx, llm.Provider(ix.cfg.Provider), ix.cfg.APIKey, ix.cfg.BaseURL, ix.cfg.ModelName())
		if err != nil {
			return nil, fmt.Errorf("creating %s transport: %w", ix.cfg.Provider, err)
		}
		transport = t
	}

	opts := llm.DefaultOptions()
	opts.RetryLimit = ix.cfg.RetryLimit
	opts.Timeout = time.Duration(ix.cfg.Timeout)
	opts.Logger = ix.logger
	if ix.cfg.RequestsPerSecond > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(ix.cfg.RequestsPerSecond), 1)
	}
	if ix.deps.Metrics != nil {
		opts.Observe = ix.deps.Metrics.ObserveCall
	}
	return llm.NewClient(transport, opts), nil
}

func (ix *Indexer) finish(stats *Stats, snaps []*model.FileSnapshot, client *llm.Client, start time.Time) {
	for _, snap := range snaps {
		for _, s := range snap.Symbols {
			if !s.HasSummary() {
				stats.Pending++
			}
		}
	}
	if client != nil {
		stats.APICalls = client.Calls()
		stats.BreakerTripped = client.Breaker().Open()
	}
	stats.Duration = ix.deps.Now().Sub(start)

	if ix.deps.Metrics != nil {
		ix.deps.Metrics.RecordRun(metrics.Run{
			FilesScanned:   stats.FilesScanned,
			FilesProcessed: stats.FilesProcessed,
			FilesFailed:    stats.FilesFailed,
			Summarized:     stats.Summarized,
			Pending:        stats.Pending,
			BreakerTripped: stats.BreakerTripped,
			Duration:       stats.Duration,
		})
	}
}

// persist writes the cache from the final snapshots and renders the logic
// tree from it.
func (ix *Indexer) persist(snaps []*model.FileSnapshot, client *llm.Client, now time.Time) error {
	change.Finalize(snaps, ix.policy)
	store := cache.FromSnapshots(snaps)

	modelName := ix.cfg.ModelName()
	if client != nil {
		modelName = client.Model()
	}

	var errs []error
	if err := store.Save(ix.cfg.CachePath(), modelName, now); err != nil {
		errs = append(errs, err)
	}
	if err := render.WriteFile(ix.cfg.OutputPath(), render.Markdown(store, render.Options{Now: now})); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		ix.logger.Info("logic index updated", "path", ix.cfg.OutputPath())
	}
	return errors.Join(errs...)
}

func countSymbols(batches []model.Batch) int {
	n := 0
	for _, b := range batches {
		n += len(b.Symbols)
	}
	return n
}
