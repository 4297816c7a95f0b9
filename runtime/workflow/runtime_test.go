package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/features/store/inmem"
	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/model/modeltest"
	"github.com/flowclip/flowclip/runtime/retry"
	"github.com/flowclip/flowclip/runtime/store"
)

type eventCollector struct {
	mu     sync.Mutex
	events []bus.Event
}

func (c *eventCollector) HandleEvent(_ context.Context, event bus.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *eventCollector) types() []bus.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bus.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type()
	}
	return out
}

func newTestRuntime(t *testing.T) (*Runtime, *inmem.Store, *eventCollector) {
	t.Helper()
	st := inmem.New()
	b := bus.New()
	collector := &eventCollector{}
	_, err := b.Register(collector)
	require.NoError(t, err)
	rt, err := New(Options{
		Store: st,
		Bus:   b,
		Model: &modeltest.Client{},
		Retry: retry.Config{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	})
	require.NoError(t, err)
	return rt, st, collector
}

func insertItem(t *testing.T, st *inmem.Store, id string) {
	t.Helper()
	require.NoError(t, st.InsertItem(context.Background(), store.Item{
		ID:        id,
		Content:   "some captured content",
		Timestamp: time.Now().UTC(),
	}))
}

func TestExecuteLinearWorkflow(t *testing.T) {
	rt, st, collector := newTestRuntime(t)
	insertItem(t, st, "item1")

	require.NoError(t, rt.Register(Definition{
		Name:  "linear",
		Start: "first",
		Nodes: []Node{
			{Name: "first", Run: func(_ context.Context, ex *Execution) (*Patch, error) {
				return &Patch{Set: map[string]any{"a": "one"}}, nil
			}},
			{Name: "second", Run: func(_ context.Context, ex *Execution) (*Patch, error) {
				require.Equal(t, "one", ex.String("a"))
				return &Patch{Set: map[string]any{"b": "two", "confidence": 0.9}}, nil
			}},
		},
		Edges: map[string]Edge{
			"first":  {Default: "second"},
			"second": {Default: End},
		},
	}))

	final, err := rt.Execute(context.Background(), "linear", State{"seed": "s"}, WithItem("item1"))
	require.NoError(t, err)
	require.Equal(t, "one", final["a"])
	require.Equal(t, "two", final["b"])

	tasks, err := st.ListTasks(context.Background(), "item1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, store.TaskCompleted, tasks[0].Status)
	require.NotNil(t, tasks[0].CompletedAt)

	results, err := st.ListWorkflowResults(context.Background(), "item1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "linear", results[0].WorkflowType)
	require.NotNil(t, results[0].Confidence)
	require.InDelta(t, 0.9, *results[0].Confidence, 1e-9)

	require.Equal(t, []bus.EventType{
		bus.EventWorkflowStarted,
		bus.EventWorkflowNodeCompleted,
		bus.EventWorkflowNodeCompleted,
		bus.EventWorkflowCompleted,
	}, collector.types())
}

func TestExecuteConditionalRoute(t *testing.T) {
	rt, st, _ := newTestRuntime(t)
	insertItem(t, st, "item1")

	visited := []string{}
	node := func(name, route string) Node {
		return Node{Name: name, Run: func(context.Context, *Execution) (*Patch, error) {
			visited = append(visited, name)
			return &Patch{Next: route}, nil
		}}
	}
	require.NoError(t, rt.Register(Definition{
		Name:  "routed",
		Start: "score",
		Nodes: []Node{
			node("score", "low"),
			node("refine", ""),
			node("skip", ""),
		},
		Edges: map[string]Edge{
			"score":  {Default: End, Routes: map[string]string{"low": "refine"}},
			"refine": {Default: End},
			"skip":   {Default: End},
		},
	}))

	_, err := rt.Execute(context.Background(), "routed", State{}, WithItem("item1"))
	require.NoError(t, err)
	require.Equal(t, []string{"score", "refine"}, visited)
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	rt, st, _ := newTestRuntime(t)
	insertItem(t, st, "item1")

	calls := 0
	require.NoError(t, rt.Register(Definition{
		Name:  "flaky",
		Start: "only",
		Nodes: []Node{
			{Name: "only", Run: func(context.Context, *Execution) (*Patch, error) {
				calls++
				if calls <= 2 {
					return nil, model.NewProviderError("anthropic", "messages.new", 503, model.KindUnavailable, "overloaded", true, nil)
				}
				return &Patch{Set: map[string]any{"ok": true}}, nil
			}},
		},
		Edges: map[string]Edge{"only": {Default: End}},
	}))

	final, err := rt.Execute(context.Background(), "flaky", State{}, WithItem("item1"))
	require.NoError(t, err)
	require.Equal(t, true, final["ok"])
	require.Equal(t, 3, calls)

	tasks, err := st.ListTasks(context.Background(), "item1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, store.TaskCompleted, tasks[0].Status)
	require.Equal(t, 3, tasks[0].Attempts)
}

func TestExecuteFailsTaskOnPermanentError(t *testing.T) {
	rt, st, collector := newTestRuntime(t)
	insertItem(t, st, "item1")

	boom := errors.New("boom")
	require.NoError(t, rt.Register(Definition{
		Name:  "failing",
		Start: "only",
		Nodes: []Node{
			{Name: "only", Run: func(context.Context, *Execution) (*Patch, error) {
				return nil, boom
			}},
		},
		Edges: map[string]Edge{"only": {Default: End}},
	}))

	_, err := rt.Execute(context.Background(), "failing", State{}, WithItem("item1"))
	require.ErrorIs(t, err, boom)

	tasks, err := st.ListTasks(context.Background(), "item1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, store.TaskFailed, tasks[0].Status)
	require.Contains(t, tasks[0].Error, "boom")

	types := collector.types()
	require.Equal(t, bus.EventWorkflowFailed, types[len(types)-1])

	results, err := st.ListWorkflowResults(context.Background(), "item1")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestExecuteCancellation(t *testing.T) {
	rt, st, _ := newTestRuntime(t)
	insertItem(t, st, "item1")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, rt.Register(Definition{
		Name:  "cancellable",
		Start: "only",
		Nodes: []Node{
			{Name: "only", Run: func(ctx context.Context, _ *Execution) (*Patch, error) {
				cancel()
				return nil, ctx.Err()
			}},
		},
		Edges: map[string]Edge{"only": {Default: End}},
	}))

	_, err := rt.Execute(ctx, "cancellable", State{}, WithItem("item1"))
	require.Error(t, err)

	tasks, listErr := st.ListTasks(context.Background(), "item1")
	require.NoError(t, listErr)
	require.Len(t, tasks, 1)
	require.Equal(t, store.TaskFailed, tasks[0].Status)
	require.Equal(t, reasonCancelled, tasks[0].Error)
}

func TestWorkflowCacheIsScopedPerWorkflow(t *testing.T) {
	rt, st, _ := newTestRuntime(t)
	insertItem(t, st, "item1")

	computations := 0
	cached := func(ctx context.Context, ex *Execution) (*Patch, error) {
		key := Fingerprint(ex.String("content"))
		if v, ok := ex.Cache.Get("expensive", key); ok {
			return &Patch{Set: map[string]any{"value": v}}, nil
		}
		computations++
		ex.Cache.Put("expensive", key, computations)
		return &Patch{Set: map[string]any{"value": computations}}, nil
	}
	require.NoError(t, rt.Register(Definition{
		Name:  "cached",
		Start: "expensive",
		Nodes: []Node{{Name: "expensive", Run: cached}},
		Edges: map[string]Edge{"expensive": {Default: End}},
	}))

	initial := State{"content": "same input"}
	_, err := rt.Execute(context.Background(), "cached", initial, WithItem("item1"))
	require.NoError(t, err)
	_, err = rt.Execute(context.Background(), "cached", initial, WithItem("item1"))
	require.NoError(t, err)
	require.Equal(t, 1, computations)
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	rt, _, _ := newTestRuntime(t)

	err := rt.Register(Definition{Name: "broken", Start: "missing", Nodes: []Node{
		{Name: "a", Run: func(context.Context, *Execution) (*Patch, error) { return nil, nil }},
	}})
	require.Error(t, err)

	def := Definition{
		Name:  "dup",
		Start: "a",
		Nodes: []Node{{Name: "a", Run: func(context.Context, *Execution) (*Patch, error) { return nil, nil }}},
		Edges: map[string]Edge{"a": {Default: End}},
	}
	require.NoError(t, rt.Register(def))
	require.Error(t, rt.Register(def))
}
