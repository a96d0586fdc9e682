// logicindex keeps a cached, dependency-aware index of natural-language
// summaries for the functions and classes of a Python repository.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/phobologic/logicindex/internal/cache"
	"github.com/phobologic/logicindex/internal/config"
	"github.com/phobologic/logicindex/internal/indexer"
	"github.com/phobologic/logicindex/internal/llm"
	"github.com/phobologic/logicindex/internal/metrics"
	"github.com/phobologic/logicindex/internal/render"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{stdout: os.Stdout, stderr: os.Stderr, getenv: os.Getenv}
	if err := a.execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app carries the process environment into the command tree.
type app struct {
	stdout, stderr io.Writer
	getenv         func(string) string
	// transport replaces the configured summarization backend.
	transport llm.Transport
}

func (a *app) execute(ctx context.Context, args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	return root.ExecuteContext(ctx)
}

type indexFlags struct {
	verbose     bool
	workers     int
	model       string
	provider    string
	hashMode    string
	metricsFile string
	noInject    bool
}

func (a *app) rootCmd() *cobra.Command {
	var f indexFlags

	cmd := &cobra.Command{
		Use:   "logicindex [path]",
		Short: "Summarize the functions and classes of a Python repository",
		Long: `logicindex walks a Python repository, extracts every function, class and
method, and asks a language model for a one-line summary of each. Summaries
are cached in .claude/logic_index.json and only regenerated when a symbol or
the dependency summaries it relies on change. The result is rendered to
.claude/logic_tree.md and referenced from CLAUDE.md.

Settings come from .claude/logic_index.yaml and LOGIC_INDEX_* environment
variables; flags override both.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runIndex(cmd, args, f)
		},
	}
	cmd.SetVersionTemplate("logicindex {{.Version}}\n")

	flags := cmd.Flags()
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log debug output")
	flags.IntVarP(&f.workers, "workers", "w", 0, "concurrent files in flight")
	flags.StringVar(&f.model, "model", "", "model name (default depends on provider)")
	flags.StringVar(&f.provider, "provider", "", "summarization backend: openai or gemini")
	flags.StringVar(&f.hashMode, "hash-mode", "", "whitespace handling when hashing: strip or collapse")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "write prometheus metrics to this file")
	flags.BoolVar(&f.noInject, "no-inject", false, "do not update CLAUDE.md")

	cmd.AddCommand(a.renderCmd(), newInjectCmd(a.stdout, a.stderr), a.configCmd())
	return cmd
}

func (a *app) runIndex(cmd *cobra.Command, args []string, f indexFlags) error {
	root, err := rootDir(args)
	if err != nil {
		return err
	}

	logger := newLogger(a.stderr, f.verbose)
	cfg, err := config.Load(root, a.getenv, logger)
	if err != nil {
		return err
	}

	set := cmd.Flags().Changed
	if set("workers") {
		cfg.Workers = f.workers
	}
	if set("model") {
		cfg.Model = f.model
	}
	if set("provider") {
		cfg.Provider = f.provider
	}
	if set("hash-mode") {
		cfg.HashMode = f.hashMode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	deps := indexer.Deps{Transport: a.transport, Logger: logger}
	if f.metricsFile != "" {
		deps.Metrics = metrics.New()
	}

	stats, runErr := indexer.New(cfg, deps).Run(cmd.Context())
	if stats != nil {
		printSummary(a.stdout, cfg, stats)
	}
	if deps.Metrics != nil {
		if err := deps.Metrics.WriteFile(f.metricsFile); err != nil {
			logger.Warn("could not write metrics", "path", f.metricsFile, "error", err)
		}
	}
	switch {
	case runErr != nil:
		logger.Error("indexing finished with errors", "error", runErr)
		_, _ = fmt.Fprintf(a.stderr, "skipping %s injection due to indexing errors\n", contextFileName)
	case f.noInject:
	case stats.BreakerTripped:
		_, _ = fmt.Fprintf(a.stderr, "skipping %s injection due to API errors\n", contextFileName)
	default:
		changed, err := injectReference(root)
		if err != nil {
			logger.Warn("could not update context file", "error", err)
			break
		}
		reportInjection(a.stderr, changed)
	}
	return nil
}

func (a *app) renderCmd() *cobra.Command {
	var (
		format   string
		order    string
		maxFiles int
		file     string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "render [path]",
		Short: "Print the cached index without calling the model",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootDir(args)
			if err != nil {
				return err
			}
			cfg := config.Default()
			cfg.Root = root

			store, err := cache.Load(cfg.CachePath())
			if err != nil {
				return fmt.Errorf("loading %s: %w", cfg.CachePath(), err)
			}
			if len(store.Entries) == 0 {
				return fmt.Errorf("no cached index at %s; run logicindex first", cfg.CachePath())
			}

			out, err := render.Render(store, render.Format(format), render.Options{
				Order:      render.Order(order),
				MaxFiles:   maxFiles,
				FileFilter: file,
			})
			if err != nil {
				return err
			}
			if output != "" {
				return render.WriteFile(output, out+"\n")
			}
			_, _ = fmt.Fprintln(a.stdout, out)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&format, "format", "f", string(render.FormatMarkdown), "output format: markdown or toon")
	flags.StringVar(&order, "order", string(render.OrderPath), "file order: path or rank")
	flags.IntVarP(&maxFiles, "max-files", "n", 0, "keep only the top-ranked N files")
	flags.StringVar(&file, "file", "", "keep files whose path contains this text")
	flags.StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the settings file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default settings to .claude/logic_index.yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootDir(args)
			if err != nil {
				return err
			}
			cfg := config.Default()
			cfg.Root = root
			path := cfg.SettingsPath()

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(a.stderr, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing settings file")
	cmd.AddCommand(initCmd)
	return cmd
}

// rootDir resolves the optional path argument to an existing directory.
func rootDir(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("root path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: not a directory", root)
	}
	return root, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("run_id", uuid.NewString())
}

func printSummary(w io.Writer, cfg config.Config, stats *indexer.Stats) {
	title := color.New(color.FgHiCyan, color.Bold)
	success := color.New(color.FgHiGreen)
	dim := color.New(color.FgHiBlack)
	alert := color.New(color.FgHiRed)

	_, _ = title.Fprintln(w, "Logic index")
	_, _ = dim.Fprintf(w, "  %s\n", cfg.OutputPath())
	_, _ = fmt.Fprintf(w, "  files: %d scanned, %d processed, %d failed\n",
		stats.FilesScanned, stats.FilesProcessed, stats.FilesFailed)
	_, _ = fmt.Fprintf(w, "  API calls: %d\n", stats.APICalls)

	if stats.Pending == 0 {
		_, _ = success.Fprintf(w, "  symbols: %d summarized, 0 pending\n", stats.Summarized)
	} else {
		_, _ = fmt.Fprintf(w, "  symbols: %d summarized, %d pending\n", stats.Summarized, stats.Pending)
	}
	if stats.BreakerTripped {
		_, _ = alert.Fprintln(w, "  circuit breaker tripped: pending symbols are retried on the next run")
	}
}
