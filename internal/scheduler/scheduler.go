// Package scheduler dispatches dirty symbols to the summarization endpoint,
// one request per file where possible.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/phobologic/logicindex/internal/graph"
	"github.com/phobologic/logicindex/internal/llm"
	"github.com/phobologic/logicindex/internal/model"
)

// Completer is the part of llm.Client the scheduler uses.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
	Breaker() *llm.Breaker
}

// Options configure a Scheduler.
type Options struct {
	// Workers bounds the number of files processed concurrently.
	Workers int
	// ContextBudget caps the dependency context block, in characters.
	ContextBudget int
	// BatchTokenLimit is the estimated token size (chars/3) above which a
	// file is summarized one symbol per call.
	BatchTokenLimit int
	MaxTokens       int
	Temperature     float32
	Logger          *slog.Logger
}

// DefaultOptions returns the stock scheduling parameters.
func DefaultOptions() Options {
	return Options{
		Workers:         5,
		ContextBudget:   2000,
		BatchTokenLimit: 6000,
		MaxTokens:       2048,
		Temperature:     0.2,
	}
}

// Result describes one scheduling round.
type Result struct {
	// Dispatched lists files whose task started.
	Dispatched []string
	// Skipped lists files never started because the breaker was open.
	Skipped []string
	// Summarized and Unresolved count the batch symbols with and without a
	// summary after the round.
	Summarized int
	Unresolved int
	// Fallbacks counts files retried one symbol per call.
	Fallbacks int
}

// Scheduler runs file batches on a bounded worker pool.
type Scheduler struct {
	client Completer
	opts   Options
	logger *slog.Logger

	mu  sync.Mutex
	res Result
}

// New returns a scheduler that sends requests through client.
func New(client Completer, opts Options) *Scheduler {
	def := DefaultOptions()
	if opts.Workers < 1 {
		opts.Workers = def.Workers
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = def.ContextBudget
	}
	if opts.BatchTokenLimit <= 0 {
		opts.BatchTokenLimit = def.BatchTokenLimit
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = def.MaxTokens
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{client: client, opts: opts, logger: opts.Logger}
}

// Run processes batches and writes summaries into their symbols. Dependency
// context is built from lookup before any request is sent. Once the breaker
// opens no further task starts; tasks already running finish on their own.
func (s *Scheduler) Run(ctx context.Context, batches []model.Batch, lookup graph.SymbolLookup) Result {
	s.res = Result{}

	contexts := make([]string, len(batches))
	for i, b := range batches {
		contexts[i] = DependencyContext(b.File, lookup, s.opts.ContextBudget)
	}

	breaker := s.client.Breaker()
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for i, b := range batches {
		if breaker.Open() {
			for _, rest := range batches[i:] {
				s.skip(rest.File.Path)
			}
			break
		}
		g.Go(func() error {
			if breaker.Open() {
				s.skip(b.File.Path)
				return nil
			}
			s.mu.Lock()
			s.res.Dispatched = append(s.res.Dispatched, b.File.Path)
			s.mu.Unlock()
			s.process(ctx, b, contexts[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range batches {
		for _, sym := range b.Symbols {
			if sym.HasSummary() {
				s.res.Summarized++
			} else {
				s.res.Unresolved++
			}
		}
	}
	return s.res
}

func (s *Scheduler) skip(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res.Skipped = append(s.res.Skipped, path)
}

func (s *Scheduler) process(ctx context.Context, b model.Batch, depContext string) {
	path := b.File.Path
	if tokens := len(b.File.Content) / 3; tokens > s.opts.BatchTokenLimit {
		s.logger.Debug("file too large for a batch request", "file", path, "tokens", tokens)
		s.atomic(ctx, b, depContext)
		return
	}

	names := make([]string, len(b.Symbols))
	for i, sym := range b.Symbols {
		names[i] = sym.Name
	}
	text, err := s.client.Complete(ctx, llm.Request{
		System:      systemPrompt,
		Prompt:      batchPrompt(path, b.File.Content, names, depContext),
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
		JSON:        true,
		Effort:      effort(b.File.Content),
	})
	if err != nil {
		if errors.Is(err, llm.ErrTruncated) {
			s.logger.Warn("batch reply truncated, summarizing symbols individually", "file", path, "symbols", len(b.Symbols))
			s.atomic(ctx, b, depContext)
			return
		}
		s.logFailure(path, "", err)
		return
	}

	items, err := ParseReply(text)
	if err != nil {
		s.logger.Warn("malformed batch reply, summarizing symbols individually", "file", path, "error", err)
		s.atomic(ctx, b, depContext)
		return
	}
	for _, sym := range b.Symbols {
		if it, ok := match(items, sym.Name); ok && strings.TrimSpace(it.Summary) != "" {
			sym.Summary = strings.TrimSpace(it.Summary)
			continue
		}
		s.logger.Warn("symbol missing from batch reply", "file", path, "symbol", sym.Name)
	}
}

// atomic summarizes each symbol of b with its own request.
func (s *Scheduler) atomic(ctx context.Context, b model.Batch, depContext string) {
	s.mu.Lock()
	s.res.Fallbacks++
	s.mu.Unlock()

	path := b.File.Path
	for _, sym := range b.Symbols {
		if s.client.Breaker().Open() {
			return
		}
		text, err := s.client.Complete(ctx, llm.Request{
			System:         systemPrompt,
			Prompt:         atomicPrompt(path, sym, depContext),
			MaxTokens:      s.opts.MaxTokens,
			Temperature:    s.opts.Temperature,
			JSON:           true,
			RetryTruncated: true,
			Effort:         effort(sym.Source),
			CheckComplete:  checkAtomicReply,
		})
		if err != nil {
			s.logFailure(path, sym.Name, err)
			continue
		}
		summary := atomicSummary(text, sym.Name)
		if summary == "" {
			s.logger.Warn("unusable reply for symbol", "file", path, "symbol", sym.Name)
			continue
		}
		sym.Summary = summary
	}
}

// checkAtomicReply rejects a JSON reply that stops before its closing
// bracket or brace. Plain-text replies are accepted as they are.
func checkAtomicReply(text string) error {
	trimmed := strings.TrimSpace(stripFence(strings.TrimSpace(text)))
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return nil
	}
	if _, err := ParseReply(text); errors.Is(err, errTruncatedReply) {
		return err
	}
	return nil
}

// atomicSummary extracts the summary for name from a per-symbol reply. A
// reply that is not JSON at all is taken as the summary text.
func atomicSummary(text, name string) string {
	items, err := ParseReply(text)
	if err != nil {
		trimmed := strings.TrimSpace(stripFence(strings.TrimSpace(text)))
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			return ""
		}
		return trimmed
	}
	if it, ok := match(items, name); ok {
		return strings.TrimSpace(it.Summary)
	}
	if len(items) == 1 {
		return strings.TrimSpace(items[0].Summary)
	}
	return ""
}

func (s *Scheduler) logFailure(path, symbol string, err error) {
	attrs := []any{"file", path, "error", err}
	if symbol != "" {
		attrs = append(attrs, "symbol", symbol)
	}
	switch {
	case errors.Is(err, llm.ErrCircuitOpen):
		s.logger.Debug("call refused, circuit breaker open", attrs...)
	case llm.IsFatal(err):
		// The client already logged the trip.
	default:
		s.logger.Warn("summarization failed", attrs...)
	}
}
