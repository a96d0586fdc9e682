package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/phobologic/logicindex/internal/config"
)

const (
	sentinelStart = "<logic_index>"
	sentinelEnd   = "</logic_index>"

	contextFileName = "CLAUDE.md"
	contextHeader   = "# System Context\n\n"
)

// referenceLine links the rendered logic tree from the context file.
var referenceLine = "@" + config.StateDirName + "/" + config.OutputFileName

func newInjectCmd(stdout, stderr io.Writer) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "inject [path]",
		Short: "Reference the logic tree from CLAUDE.md",
		Long: `Add a reference to the rendered logic tree to CLAUDE.md in the repository
root. The reference is wrapped in <logic_index> tags so it can be updated in
place on later runs without touching surrounding content. Creates CLAUDE.md if
it does not exist.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := rootDir(args)
			if err != nil {
				return err
			}
			if dryRun {
				existing, err := readContextFile(root)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprint(stdout, applySection(existing, generateSection()))
				return nil
			}
			changed, err := injectReference(root)
			if err != nil {
				return err
			}
			reportInjection(stderr, changed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")
	return cmd
}

// generateSection returns the tag-wrapped reference block.
func generateSection() string {
	return sentinelStart + "\n\n" + referenceLine + "\n\n" + sentinelEnd
}

// applySection inserts section into content, replacing an existing tagged
// block if present or appending if not. Content that already links the logic
// tree outside a block is left alone. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}
	if strings.Contains(content, referenceLine) {
		return content
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}

// readContextFile returns the current CLAUDE.md, or the header a new file
// starts with.
func readContextFile(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, contextFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return contextHeader, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", contextFileName, err)
	}
	return string(data), nil
}

// injectReference updates CLAUDE.md under root and reports whether the file
// was written.
func injectReference(root string) (bool, error) {
	path := filepath.Join(root, contextFileName)
	_, statErr := os.Stat(path)
	existing, err := readContextFile(root)
	if err != nil {
		return false, err
	}

	updated := applySection(existing, generateSection())
	if updated == existing && statErr == nil {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

func reportInjection(w io.Writer, changed bool) {
	if changed {
		_, _ = fmt.Fprintf(w, "updated %s\n", contextFileName)
		return
	}
	_, _ = fmt.Fprintf(w, "no changes needed for %s\n", contextFileName)
}
