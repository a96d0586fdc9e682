package scheduler

import (
	"fmt"
	"strings"

	"github.com/phobologic/logicindex/internal/graph"
	"github.com/phobologic/logicindex/internal/llm"
	"github.com/phobologic/logicindex/internal/model"
)

const systemPrompt = "You are a code documentation assistant. " +
	"You summarize source code symbols in one concise sentence each, describing what they do. " +
	"Return valid JSON only, with no commentary or markdown."

// DependencyContext lists the summaries of dependency symbols relevant to
// snap, one line each, stopping before the line that would exceed budget
// characters.
func DependencyContext(snap *model.FileSnapshot, lookup graph.SymbolLookup, budget int) string {
	var b strings.Builder
	for _, edge := range snap.Edges {
		for _, s := range lookup(edge.Target) {
			if !s.HasSummary() || !graph.Relevant(snap, edge, s.Name) {
				continue
			}
			line := fmt.Sprintf("- %s::%s%s: %s\n", edge.Target, s.Name, s.Args, s.Summary)
			if b.Len()+len(line) > budget {
				return b.String()
			}
			b.WriteString(line)
		}
	}
	return b.String()
}

func batchPrompt(path, source string, names []string, depContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n\n", path)
	fmt.Fprintf(&b, "Summarize each of these symbols: %s\n", strings.Join(names, ", "))
	b.WriteString(`Respond with a JSON array of objects with "name" and "summary" keys, one per symbol.` + "\n")
	writeContext(&b, depContext)
	fmt.Fprintf(&b, "\nSource:\n```\n%s\n```\n", source)
	return b.String()
}

func atomicPrompt(path string, s *model.Symbol, depContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n\n", path)
	fmt.Fprintf(&b, "Summarize the %s %s.\n", s.Kind, s.Name)
	b.WriteString(`Respond with a JSON object with "name" and "summary" keys.` + "\n")
	writeContext(&b, depContext)
	fmt.Fprintf(&b, "\nSource:\n```\n%s\n```\n", s.Source)
	return b.String()
}

func writeContext(b *strings.Builder, depContext string) {
	if depContext == "" {
		return
	}
	b.WriteString("\nDependency context:\n")
	b.WriteString(depContext)
}

var complexIndicators = []string{"yield", "__metaclass__", "getattr", "setattr", "eval", "exec", "compile("}

// effort picks a reasoning hint from the size and dynamism of source.
func effort(source string) llm.Effort {
	if strings.Count(source, "\n")+1 > 100 {
		return llm.EffortLow
	}
	for _, ind := range complexIndicators {
		if strings.Contains(source, ind) {
			return llm.EffortLow
		}
	}
	return llm.EffortMinimal
}
