package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/logicindex/internal/llm"
	"github.com/phobologic/logicindex/internal/model"
)

// fakeClient records requests and answers them with respond.
type fakeClient struct {
	mu      sync.Mutex
	breaker llm.Breaker
	reqs    []llm.Request
	respond func(req llm.Request) (string, error)
}

func (f *fakeClient) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.respond(req)
}

func (f *fakeClient) Breaker() *llm.Breaker { return &f.breaker }

func (f *fakeClient) counts() (batch, single int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reqs {
		if r.RetryTruncated {
			single++
		} else {
			batch++
		}
	}
	return batch, single
}

var atomicTarget = regexp.MustCompile(`Summarize the \w+ (\S+)\.\n`)

// atomicEcho answers a per-symbol request with a summary naming the symbol.
func atomicEcho(req llm.Request) (string, error) {
	m := atomicTarget.FindStringSubmatch(req.Prompt)
	if m == nil {
		return "", fmt.Errorf("not an atomic prompt")
	}
	return fmt.Sprintf(`{"name":%q,"summary":"atomic %s"}`, m[1], m[1]), nil
}

func noDeps(string) []*model.Symbol { return nil }

func testOptions() Options {
	opts := DefaultOptions()
	opts.Workers = 2
	return opts
}

func fileBatch(path string, size int, names ...string) model.Batch {
	var b strings.Builder
	var syms []*model.Symbol
	for _, n := range names {
		src := fmt.Sprintf("def %s():\n    x = 1\n    return x", n)
		b.WriteString(src + "\n\n")
		syms = append(syms, &model.Symbol{Name: n, Kind: model.Function, Source: src})
	}
	for b.Len() < size {
		b.WriteString("# padding line for the file body\n")
	}
	snap := &model.FileSnapshot{Path: path, Content: b.String(), Symbols: syms, References: map[string]struct{}{}}
	return model.Batch{File: snap, Symbols: syms}
}

func TestSingleBatchForSmallFile(t *testing.T) {
	t.Parallel()

	b := fileBatch("calc.py", 3000, "a", "b")
	b.File.Content = strings.Replace(b.File.Content, "def b():\n    x = 1\n    return x", "def b():\n    x = 1\n    return a()", 1)
	b.Symbols[1].Source = "def b():\n    x = 1\n    return a()"
	require.GreaterOrEqual(t, len(b.File.Content), 3000)

	client := &fakeClient{respond: func(llm.Request) (string, error) {
		return `[{"name":"a","summary":"S1"},{"name":"b","summary":"S2"}]`, nil
	}}
	res := New(client, testOptions()).Run(context.Background(), []model.Batch{b}, noDeps)

	require.Len(t, client.reqs, 1)
	req := client.reqs[0]
	assert.Contains(t, req.Prompt, "a, b")
	assert.Contains(t, req.Prompt, "return a()")
	assert.True(t, req.JSON)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	assert.Contains(t, req.System, "valid JSON")

	assert.Equal(t, "S1", b.Symbols[0].Summary)
	assert.Equal(t, "S2", b.Symbols[1].Summary)
	assert.Equal(t, 2, res.Summarized)
	assert.Zero(t, res.Fallbacks)
	assert.Equal(t, []string{"calc.py"}, res.Dispatched)
}

func TestMalformedReplyFallsBackToAtomic(t *testing.T) {
	t.Parallel()

	b := fileBatch("m.py", 500, "one", "two", "three")
	client := &fakeClient{respond: func(req llm.Request) (string, error) {
		if !req.RetryTruncated {
			return "Sure! Here are your summaries: one does things.", nil
		}
		return atomicEcho(req)
	}}
	res := New(client, testOptions()).Run(context.Background(), []model.Batch{b}, noDeps)

	batch, single := client.counts()
	assert.Equal(t, 1, batch)
	assert.Equal(t, 3, single, "exactly one call per dirty symbol")
	for _, s := range b.Symbols {
		assert.Equal(t, "atomic "+s.Name, s.Summary)
	}
	assert.Equal(t, 1, res.Fallbacks)
	assert.Equal(t, 3, res.Summarized)
}

func TestTruncatedReplyFallsBackToAtomic(t *testing.T) {
	t.Parallel()

	b := fileBatch("t.py", 500, "a", "b")
	client := &fakeClient{respond: func(req llm.Request) (string, error) {
		if !req.RetryTruncated {
			return `[{"name":"a","summary":"S1"},{"name":"b","summ`, nil
		}
		return atomicEcho(req)
	}}
	New(client, testOptions()).Run(context.Background(), []model.Batch{b}, noDeps)

	batch, single := client.counts()
	assert.Equal(t, 1, batch)
	assert.Equal(t, 2, single)
	assert.Equal(t, "atomic a", b.Symbols[0].Summary)
}

func TestTruncationErrorFallsBackToAtomic(t *testing.T) {
	t.Parallel()

	b := fileBatch("t.py", 500, "a", "b")
	client := &fakeClient{respond: func(req llm.Request) (string, error) {
		if !req.RetryTruncated {
			return `[{"name":"a"`, &llm.APIError{Class: llm.ClassTruncated, Err: llm.ErrTruncated}
		}
		return atomicEcho(req)
	}}
	New(client, testOptions()).Run(context.Background(), []model.Batch{b}, noDeps)

	_, single := client.counts()
	assert.Equal(t, 2, single)
	assert.Equal(t, "atomic b", b.Symbols[1].Summary)
}

func TestMissingSymbolKeepsNullSummary(t *testing.T) {
	t.Parallel()

	b := fileBatch("p.py", 200, "a", "b")
	client := &fakeClient{respond: func(llm.Request) (string, error) {
		return `[{"name":"a","summary":"S1"}]`, nil
	}}
	res := New(client, testOptions()).Run(context.Background(), []model.Batch{b}, noDeps)

	assert.Len(t, client.reqs, 1, "a missing name does not trigger a fallback")
	assert.Equal(t, "S1", b.Symbols[0].Summary)
	assert.False(t, b.Symbols[1].HasSummary())
	assert.Equal(t, 1, res.Summarized)
	assert.Equal(t, 1, res.Unresolved)
}

func TestLargeFileGoesStraightToAtomic(t *testing.T) {
	t.Parallel()

	b := fileBatch("big.py", 6000*3+100, "a", "b")
	client := &fakeClient{respond: atomicEcho}
	New(client, testOptions()).Run(context.Background(), []model.Batch{b}, noDeps)

	batch, single := client.counts()
	assert.Zero(t, batch)
	assert.Equal(t, 2, single)
	for _, r := range client.reqs {
		assert.NotContains(t, r.Prompt, "padding line", "atomic prompts carry only the symbol span")
	}
}

func TestQualifiedNameMatchesShortReply(t *testing.T) {
	t.Parallel()

	b := fileBatch("k.py", 100, "Klass.method")
	client := &fakeClient{respond: func(llm.Request) (string, error) {
		return `{"summaries":[{"name":"method","summary":"M"}]}`, nil
	}}
	New(client, testOptions()).Run(context.Background(), []model.Batch{b}, noDeps)
	assert.Equal(t, "M", b.Symbols[0].Summary)
}

func TestOpenBreakerSkipsEverything(t *testing.T) {
	t.Parallel()

	client := &fakeClient{respond: func(llm.Request) (string, error) { return "[]", nil }}
	client.breaker.Trip(fmt.Errorf("earlier fatal"))

	batches := []model.Batch{fileBatch("a.py", 10, "a"), fileBatch("b.py", 10, "b")}
	res := New(client, testOptions()).Run(context.Background(), batches, noDeps)

	assert.Empty(t, client.reqs)
	assert.Equal(t, []string{"a.py", "b.py"}, res.Skipped)
	assert.Equal(t, 2, res.Unresolved)
}

func TestRateLimitTripsBreakerAndSkipsQueuedBatch(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited","type":"requests"}}`)
	}))
	defer srv.Close()

	client := llm.NewClient(
		llm.NewOpenAITransport("key", srv.URL+"/v1", "test-model"),
		llm.Options{RetryLimit: 3, BaseDelay: time.Millisecond},
	)
	opts := testOptions()
	opts.Workers = 1

	first := fileBatch("first.py", 100, "a")
	second := fileBatch("second.py", 100, "b")
	res := New(client, opts).Run(context.Background(), []model.Batch{first, second}, noDeps)

	assert.EqualValues(t, 1, hits.Load(), "the queued batch never reaches the network")
	assert.True(t, client.Breaker().Open())
	assert.False(t, second.Symbols[0].HasSummary())
	assert.Equal(t, []string{"second.py"}, res.Skipped)
	assert.Equal(t, []string{"first.py"}, res.Dispatched)
}

func TestBreakerTripPreservesEarlierResults(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	client := &fakeClient{}
	client.respond = func(req llm.Request) (string, error) {
		if calls.Add(1) == 1 {
			return `[{"name":"a","summary":"kept"}]`, nil
		}
		err := &llm.APIError{Class: llm.ClassFatal, Status: 401, Err: fmt.Errorf("unauthorized")}
		client.breaker.Trip(err)
		return "", err
	}
	opts := testOptions()
	opts.Workers = 1

	batches := []model.Batch{fileBatch("a.py", 10, "a"), fileBatch("b.py", 10, "b"), fileBatch("c.py", 10, "c")}
	res := New(client, opts).Run(context.Background(), batches, noDeps)

	assert.Equal(t, "kept", batches[0].Symbols[0].Summary)
	assert.False(t, batches[1].Symbols[0].HasSummary())
	assert.False(t, batches[2].Symbols[0].HasSummary())
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, []string{"c.py"}, res.Skipped)
}

func TestManyBatchesConcurrently(t *testing.T) {
	t.Parallel()

	var batches []model.Batch
	for i := range 20 {
		batches = append(batches, fileBatch(fmt.Sprintf("f%02d.py", i), 50, fmt.Sprintf("fn%d", i)))
	}
	client := &fakeClient{respond: func(req llm.Request) (string, error) {
		for i := range 20 {
			name := fmt.Sprintf("fn%d", i)
			if strings.Contains(req.Prompt, "symbols: "+name+"\n") {
				return fmt.Sprintf(`[{"name":%q,"summary":"done"}]`, name), nil
			}
		}
		return "[]", nil
	}}
	opts := testOptions()
	opts.Workers = 4
	res := New(client, opts).Run(context.Background(), batches, noDeps)

	assert.Equal(t, 20, res.Summarized)
	assert.Len(t, res.Dispatched, 20)
}

func TestDependencyContext(t *testing.T) {
	t.Parallel()

	importer := &model.FileSnapshot{
		Path:       "b.py",
		References: map[string]struct{}{"foo": {}, "bar": {}, "nosum": {}},
		Edges:      []model.DependencyEdge{{Source: "b.py", Target: "a.py", Usage: model.UsageSpecific}},
	}
	deps := []*model.Symbol{
		{Name: "foo", Args: "()", Summary: "Returns one."},
		{Name: "unused", Args: "()", Summary: "Not referenced."},
		{Name: "nosum", Args: "()"},
		{Name: "bar", Args: "(x)", Summary: "Doubles x."},
	}
	lookup := func(path string) []*model.Symbol {
		if path == "a.py" {
			return deps
		}
		return nil
	}

	got := DependencyContext(importer, lookup, 2000)
	assert.Equal(t, "- a.py::foo(): Returns one.\n- a.py::bar(x): Doubles x.\n", got)

	first := "- a.py::foo(): Returns one.\n"
	assert.Equal(t, first, DependencyContext(importer, lookup, len(first)+5), "truncation drops whole lines")
	assert.Empty(t, DependencyContext(importer, lookup, 3))
}

func TestContextIncludedInPrompt(t *testing.T) {
	t.Parallel()

	b := fileBatch("b.py", 10, "bar")
	b.File.References["foo"] = struct{}{}
	b.File.Edges = []model.DependencyEdge{{Source: "b.py", Target: "a.py", Usage: model.UsageSpecific}}
	lookup := func(path string) []*model.Symbol {
		return []*model.Symbol{{Name: "foo", Summary: "Returns one."}}
	}
	client := &fakeClient{respond: func(llm.Request) (string, error) { return `[{"name":"bar","summary":"B"}]`, nil }}
	New(client, testOptions()).Run(context.Background(), []model.Batch{b}, lookup)

	require.Len(t, client.reqs, 1)
	assert.Contains(t, client.reqs[0].Prompt, "Dependency context:\n- a.py::foo: Returns one.")
}

func TestParseReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		want    []Item
		wantErr bool
	}{
		{"array", `[{"name":"a","summary":"S"}]`, []Item{{"a", "S"}}, false},
		{"fenced", "```json\n[{\"name\":\"a\",\"summary\":\"S\"}]\n```", []Item{{"a", "S"}}, false},
		{"single object", `{"name":"a","summary":"S"}`, []Item{{"a", "S"}}, false},
		{"wrapped array", `{"results":[{"name":"a","summary":"S"}]}`, []Item{{"a", "S"}}, false},
		{"name map", `{"b":"S2","a":"S1"}`, []Item{{"a", "S1"}, {"b", "S2"}}, false},
		{"truncated", `[{"name":"a","summary":"S"`, nil, true},
		{"prose", `Here you go.`, nil, true},
		{"empty", "  ", nil, true},
		{"wrong shape", `{"a":1}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAtomicSummary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "S", atomicSummary(`{"name":"f","summary":"S"}`, "f"))
	assert.Equal(t, "S", atomicSummary(`[{"name":"other","summary":"S"}]`, "f"))
	assert.Equal(t, "Plain text summary.", atomicSummary("Plain text summary.", "f"))
	assert.Empty(t, atomicSummary(`{"name":"f","summ`, "f"))
}

func TestCheckAtomicReply(t *testing.T) {
	t.Parallel()

	assert.NoError(t, checkAtomicReply(`{"name":"f","summary":"S"}`))
	assert.NoError(t, checkAtomicReply("Plain text summary"))
	assert.Error(t, checkAtomicReply(`{"name":"f","summ`))
	assert.Error(t, checkAtomicReply("```json\n[{\"name\":\"f\""))
}

func TestAtomicRequestsCheckCompleteness(t *testing.T) {
	t.Parallel()

	b := fileBatch("big.py", 30000, "a")
	client := &fakeClient{respond: atomicEcho}
	New(client, testOptions()).Run(context.Background(), []model.Batch{b}, noDeps)

	require.Len(t, client.reqs, 1)
	req := client.reqs[0]
	require.True(t, req.RetryTruncated)
	require.NotNil(t, req.CheckComplete)
	assert.Error(t, req.CheckComplete(`[{"name":"a","summary":"cut`))
	assert.Equal(t, "atomic a", b.Symbols[0].Summary)
}

func TestEffort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, llm.EffortMinimal, effort("def f():\n    return 1"))
	assert.Equal(t, llm.EffortLow, effort("def f():\n    return getattr(x, 'y')"))
	assert.Equal(t, llm.EffortLow, effort(strings.Repeat("x = 1\n", 120)))
}
