// Package flowclip assembles the capture pipeline: the store, the model
// client stack, the workflow runtime with its catalog, the session engine,
// the research consolidator, the automation dispatcher, and the event bus,
// all owned by a single Core record constructed at startup. Nothing in the
// pipeline is a process-wide singleton; embedding applications may construct
// several independent cores.
package flowclip

import (
	"context"
	"errors"

	"github.com/flowclip/flowclip/features/model/middleware"
	"github.com/flowclip/flowclip/runtime/automation"
	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/capture"
	"github.com/flowclip/flowclip/runtime/catalog"
	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/research"
	"github.com/flowclip/flowclip/runtime/retry"
	"github.com/flowclip/flowclip/runtime/session"
	"github.com/flowclip/flowclip/runtime/store"
	"github.com/flowclip/flowclip/runtime/telemetry"
	"github.com/flowclip/flowclip/runtime/workflow"
)

type (
	// Deps are the externally constructed collaborators of a Core: the
	// durable store and the raw model client. The Core wraps the model
	// client with its inflight gate and adaptive rate limiter.
	Deps struct {
		// Store is the persistence layer. Required.
		Store store.Store
		// Model is the raw provider client. Required.
		Model model.Client
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
		// Metrics defaults to a no-op recorder.
		Metrics telemetry.Metrics
		// Tracer defaults to a no-op tracer.
		Tracer telemetry.Tracer
	}

	// Core owns the pipeline components. Construct with New and release with
	// Close.
	Core struct {
		// Store is the persistence layer.
		Store store.Store
		// Model is the gated, rate-limited model client.
		Model model.Client
		// Bus is the in-process event broadcast.
		Bus bus.Bus
		// Runtime executes the workflow catalog.
		Runtime *workflow.Runtime
		// Sessions is the session lifecycle engine.
		Sessions *session.Engine
		// Consolidator builds session research summaries.
		Consolidator *research.Consolidator
		// Dispatcher is the automation webhook dispatcher.
		Dispatcher *automation.Dispatcher
		// Gateway is the inbound capture entry point.
		Gateway *capture.Gateway
	}
)

// New wires a Core from configuration and dependencies.
func New(ctx context.Context, cfg Config, deps Deps) (*Core, error) {
	if deps.Store == nil {
		return nil, errors.New("store is required")
	}
	if deps.Model == nil {
		return nil, errors.New("model client is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	b := bus.New()

	gate := middleware.NewInflightGate(cfg.Model.MaxInflight)
	limiter := middleware.NewAdaptiveRateLimiter(cfg.Model.TokensPerMinute, 0)
	client := model.Chain(deps.Model, gate.Middleware(), limiter.Middleware())

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Model.MaxRetries + 1

	rt, err := workflow.New(workflow.Options{
		Store:   deps.Store,
		Bus:     b,
		Model:   client,
		Retry:   retryCfg,
		Logger:  logger,
		Metrics: deps.Metrics,
		Tracer:  deps.Tracer,
	})
	if err != nil {
		return nil, err
	}
	if err := catalog.RegisterAll(rt); err != nil {
		return nil, err
	}

	consolidator, err := research.New(research.Options{Runtime: rt, Logger: logger})
	if err != nil {
		return nil, err
	}

	engine, err := session.New(session.Options{
		Store:               deps.Store,
		Runtime:             rt,
		Consolidator:        consolidator,
		Bus:                 b,
		IdleTimeout:         cfg.Session.IdleTimeout,
		JoinWindow:          cfg.Session.JoinWindow,
		MinJoinConfidence:   cfg.Session.JoinMinConfidence,
		ResearchDebounce:    cfg.Session.ResearchDebounce,
		ResearchMaxInflight: cfg.Session.ResearchMaxInflight,
		SweepInterval:       cfg.Session.SweepInterval,
		Complementary:       cfg.ComplementaryTypes(),
		Logger:              logger,
	})
	if err != nil {
		return nil, err
	}

	types := make(map[store.SessionType]automation.TypeConfig, len(cfg.Automation.Types))
	for name, t := range cfg.Automation.Types {
		types[store.SessionType(name)] = automation.TypeConfig{
			Enabled:          t.Enabled,
			TriggerThreshold: t.TriggerThreshold,
			WebhookURL:       t.WebhookURL,
			Tasks:            t.Tasks,
		}
	}
	dispatcher, err := automation.New(automation.Options{
		Store:          deps.Store,
		Bus:            b,
		Types:          types,
		RateLimit:      cfg.Automation.RateLimit,
		RequestTimeout: cfg.Automation.RequestTimeout,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	gateway, err := capture.NewGateway(capture.Options{
		Store:   deps.Store,
		Runtime: rt,
		Engine:  engine,
		Bus:     b,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	return &Core{
		Store:        deps.Store,
		Model:        client,
		Bus:          b,
		Runtime:      rt,
		Sessions:     engine,
		Consolidator: consolidator,
		Dispatcher:   dispatcher,
		Gateway:      gateway,
	}, nil
}

// Close releases the core's resources: in-flight webhook dispatches are
// flushed and the store is closed. The model client and bus hold no
// releasable state.
func (c *Core) Close(ctx context.Context) error {
	c.Dispatcher.Flush()
	return c.Store.Close(ctx)
}
