package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Item is one entry of a summarization reply.
type Item struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

var errTruncatedReply = errors.New("reply does not end in a closing bracket or brace")

// ParseReply decodes a summarization reply. The expected shape is a JSON
// array of items; a single item, an object wrapping an item array, and an
// object mapping names to summaries are also accepted. Code fences around
// the JSON are ignored.
func ParseReply(text string) ([]Item, error) {
	text = stripFence(strings.TrimSpace(text))
	if text == "" {
		return nil, errors.New("empty reply")
	}
	if last := text[len(text)-1]; last != ']' && last != '}' {
		return nil, errTruncatedReply
	}

	var items []Item
	if err := json.Unmarshal([]byte(text), &items); err == nil {
		return items, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	if _, ok := obj["name"]; ok {
		var it Item
		if err := json.Unmarshal([]byte(text), &it); err != nil {
			return nil, fmt.Errorf("decoding reply item: %w", err)
		}
		return []Item{it}, nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		var wrapped []Item
		if err := json.Unmarshal(obj[k], &wrapped); err == nil && len(wrapped) > 0 {
			return wrapped, nil
		}
	}

	items = nil
	for _, k := range keys {
		var summary string
		if err := json.Unmarshal(obj[k], &summary); err != nil {
			return nil, fmt.Errorf("unexpected reply shape at key %q", k)
		}
		items = append(items, Item{Name: k, Summary: summary})
	}
	return items, nil
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSpace(text)
	return strings.TrimSpace(strings.TrimSuffix(text, "```"))
}

// match finds the reply item for a target symbol name. Qualified names
// ("Class.method") also match an item carrying only the last component.
func match(items []Item, name string) (Item, bool) {
	for _, it := range items {
		if it.Name == name {
			return it, true
		}
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		short := name[i+1:]
		for _, it := range items {
			if it.Name == short {
				return it, true
			}
		}
	}
	return Item{}, false
}
