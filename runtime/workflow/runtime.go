package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/retry"
	"github.com/flowclip/flowclip/runtime/store"
	"github.com/flowclip/flowclip/runtime/telemetry"
)

// reasonCancelled is recorded on the task row when an execution is cancelled
// at a suspension point.
const reasonCancelled = "cancelled"

type (
	// Options configures a Runtime.
	Options struct {
		// Store is the persistence layer for task and result bookkeeping. Required.
		Store store.Store
		// Bus receives lifecycle events. Required.
		Bus bus.Bus
		// Model is the model client handed to node bodies. The client should
		// already be wrapped with the process-wide inflight gate and rate
		// limiter; the runtime adds node-level retries itself. Required.
		Model model.Client
		// Retry overrides the node retry policy. Zero value uses defaults.
		Retry retry.Config
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics defaults to a no-op recorder.
		Metrics telemetry.Metrics
		// Tracer defaults to a no-op tracer.
		Tracer telemetry.Tracer
	}

	// ExecOption customizes one Execute call.
	ExecOption func(*execOptions)

	execOptions struct {
		progress ProgressSink
		itemID   string
	}

	// Runtime executes registered workflow definitions. It owns per-workflow
	// scoped caches and transient per-execution state; on completion it hands
	// results off to the store. Any number of executions may run in parallel.
	Runtime struct {
		mu     sync.RWMutex
		defs   map[string]*Definition
		caches map[string]*Cache

		store   store.Store
		bus     bus.Bus
		model   model.Client
		retry   retry.Config
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer
	}
)

// WithProgress attaches a progress sink to the execution. Nodes that emit
// intermediate progress deliver their updates to the sink; the sink may
// block, and producers never drop updates.
func WithProgress(sink ProgressSink) ExecOption {
	return func(o *execOptions) { o.progress = sink }
}

// WithItem associates the execution with a clipboard item so task rows and
// lifecycle events carry the item reference.
func WithItem(itemID string) ExecOption {
	return func(o *execOptions) { o.itemID = itemID }
}

// New constructs a Runtime from the provided options.
func New(opts Options) (*Runtime, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	cfg := opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	cfg.Retryable = model.IsRetryable
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = telemetry.NoopTracer{}
	}
	return &Runtime{
		defs:    make(map[string]*Definition),
		caches:  make(map[string]*Cache),
		store:   opts.Store,
		bus:     opts.Bus,
		model:   opts.Model,
		retry:   cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}, nil
}

// Register adds a workflow definition to the runtime. Definitions are
// validated and immutable once registered; re-registering a name fails.
func (r *Runtime) Register(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.defs[def.Name]; dup {
		return fmt.Errorf("workflow %q already registered", def.Name)
	}
	d := def
	r.defs[def.Name] = &d
	r.caches[def.Name] = NewCache()
	return nil
}

// Execute runs the named workflow over the initial state until the terminal
// sink is reached, returning the final state. The execution is recorded as a
// task: pending at creation, running while nodes execute, completed or failed
// at the end. Node failures classified rate-limited or transient are retried
// with exponential backoff before the execution fails; cancellation at any
// suspension point fails the task with reason "cancelled".
func (r *Runtime) Execute(ctx context.Context, name string, initial State, opts ...ExecOption) (State, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	cache := r.caches[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("workflow %q not registered", name)
	}

	var eo execOptions
	for _, o := range opts {
		o(&eo)
	}

	state := make(State, len(initial))
	for k, v := range initial {
		state[k] = v
	}

	task := store.Task{
		ID:        uuid.New().String(),
		ItemID:    eo.itemID,
		TaskType:  name,
		Status:    store.TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.UpsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("record task: %w", err)
	}
	task.Status = store.TaskRunning
	if err := r.store.UpsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("start task: %w", err)
	}
	r.publish(ctx, bus.NewWorkflowStarted(name, eo.itemID))
	r.metrics.IncCounter("workflow_started", 1, "workflow", name)

	attempts := 0
	cfg := r.retry
	cfg.OnAttempt = func(int) { attempts++ }

	ex := &Execution{
		State:    state,
		Model:    r.model,
		Cache:    cache,
		Logger:   r.logger,
		ItemID:   eo.itemID,
		progress: eo.progress,
	}

	started := time.Now()
	cur := def.Start
	for cur != End {
		node, ok := def.node(cur)
		if !ok {
			return nil, r.fail(ctx, &task, name, eo.itemID, fmt.Errorf("node %q is not defined", cur))
		}
		if err := ctx.Err(); err != nil {
			return nil, r.cancel(&task, name, eo.itemID)
		}

		nodeStart := time.Now()
		var patch *Patch
		err := retry.Do(ctx, cfg, func(ctx context.Context) error {
			var nodeErr error
			patch, nodeErr = node.Run(ctx, ex)
			return nodeErr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil, r.cancel(&task, name, eo.itemID)
			}
			return nil, r.fail(ctx, &task, name, eo.itemID, fmt.Errorf("node %q: %w", cur, err))
		}

		route := ""
		if patch != nil {
			for k, v := range patch.Set {
				state[k] = v
			}
			route = patch.Next
		}
		r.publish(ctx, bus.NewWorkflowNodeCompleted(name, cur, eo.itemID, time.Since(nodeStart).Milliseconds()))
		cur = def.next(cur, route)
	}

	result, err := json.Marshal(state)
	if err != nil {
		return nil, r.fail(ctx, &task, name, eo.itemID, fmt.Errorf("marshal final state: %w", err))
	}
	now := time.Now().UTC()
	task.Status = store.TaskCompleted
	task.Attempts = attempts
	task.Result = result
	task.CompletedAt = &now
	if err := r.store.UpsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	if eo.itemID != "" {
		wr := store.WorkflowResult{
			ID:           uuid.New().String(),
			ItemID:       eo.itemID,
			WorkflowType: name,
			ExecutedAt:   now,
			Payload:      result,
		}
		if c, ok := state["confidence"].(float64); ok {
			wr.Confidence = &c
		}
		if err := r.store.InsertWorkflowResult(ctx, wr); err != nil {
			return nil, fmt.Errorf("record workflow result: %w", err)
		}
	}
	r.publish(ctx, bus.NewWorkflowCompleted(name, eo.itemID, true))
	r.metrics.IncCounter("workflow_completed", 1, "workflow", name)
	r.metrics.RecordTimer("workflow_duration", time.Since(started), "workflow", name)
	return state, nil
}

// fail records a terminal failure on the task and emits workflow-failed.
func (r *Runtime) fail(ctx context.Context, task *store.Task, name, itemID string, cause error) error {
	now := time.Now().UTC()
	task.Status = store.TaskFailed
	task.Error = cause.Error()
	task.CompletedAt = &now
	if err := r.store.UpsertTask(context.WithoutCancel(ctx), *task); err != nil {
		r.logger.Error(ctx, "record task failure", "workflow", name, "err", err)
	}
	r.publish(ctx, bus.NewWorkflowFailed(name, itemID, cause.Error()))
	r.metrics.IncCounter("workflow_failed", 1, "workflow", name)
	return cause
}

// cancel records a cancellation on the task and emits workflow-failed with
// reason "cancelled". The bookkeeping writes use a detached context so they
// survive the cancellation that triggered them.
func (r *Runtime) cancel(task *store.Task, name, itemID string) error {
	ctx := context.Background()
	now := time.Now().UTC()
	task.Status = store.TaskFailed
	task.Error = reasonCancelled
	task.CompletedAt = &now
	if err := r.store.UpsertTask(ctx, *task); err != nil {
		r.logger.Error(ctx, "record task cancellation", "workflow", name, "err", err)
	}
	r.publish(ctx, bus.NewWorkflowFailed(name, itemID, reasonCancelled))
	r.metrics.IncCounter("workflow_cancelled", 1, "workflow", name)
	return fmt.Errorf("workflow %s: %s: %w", name, reasonCancelled, context.Canceled)
}

func (r *Runtime) publish(ctx context.Context, event bus.Event) {
	if err := r.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Warn(ctx, "publish event", "type", string(event.Type()), "err", err)
	}
}
