// Package capture provides the single inbound entry point of the pipeline:
// the gateway that accepts each new clipboard item, persists it, runs the
// unified content analysis, and hands the item to the session engine. The
// three stages are strictly ordered per item; different items proceed in
// parallel.
package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/catalog"
	"github.com/flowclip/flowclip/runtime/session"
	"github.com/flowclip/flowclip/runtime/store"
	"github.com/flowclip/flowclip/runtime/telemetry"
	"github.com/flowclip/flowclip/runtime/workflow"
)

type (
	// Options configures the Gateway.
	Options struct {
		// Store is the persistence layer. Required.
		Store store.Store
		// Runtime executes the content analysis workflow. Required.
		Runtime *workflow.Runtime
		// Engine assigns analyzed items to sessions. Required.
		Engine *session.Engine
		// Bus receives item lifecycle events. Required.
		Bus bus.Bus
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Gateway accepts new clipboard items from the capture adapter.
	Gateway struct {
		store   store.Store
		runtime *workflow.Runtime
		engine  *session.Engine
		bus     bus.Bus
		logger  telemetry.Logger

		mu sync.Mutex
		// lastSeen tracks the newest accepted timestamp per capture source to
		// enforce monotone timestamps per stream.
		lastSeen map[string]time.Time
	}
)

// NewGateway constructs the Gateway.
func NewGateway(opts Options) (*Gateway, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("workflow runtime is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("session engine is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Gateway{
		store:    opts.Store,
		runtime:  opts.Runtime,
		engine:   opts.Engine,
		bus:      opts.Bus,
		logger:   logger,
		lastSeen: make(map[string]time.Time),
	}, nil
}

// SubmitItem drives the per-item pipeline: validate, persist, analyze,
// assign. When SubmitItem returns, the item is queryable by ID and by
// full-text search. A failed analysis still leaves the item persisted with
// empty analysis and minimal tags; a failed session assignment is logged and
// the item stays unassigned.
func (g *Gateway) SubmitItem(ctx context.Context, item store.Item) error {
	if err := g.validate(&item); err != nil {
		return err
	}
	if err := g.store.InsertItem(ctx, item); err != nil {
		return fmt.Errorf("persist item: %w", err)
	}
	g.publish(ctx, bus.NewItemAdded(item.ID, bus.ItemPayload{
		ItemID:      item.ID,
		ContentType: string(item.ContentType),
		SourceApp:   item.SourceApp,
	}))

	analysis := g.analyze(ctx, &item)

	if err := g.engine.OnNewItem(ctx, item, analysis); err != nil {
		// The item is already persisted and searchable; assignment can be
		// retried by a later sweep or user action.
		g.logger.Error(ctx, "session assignment", "item", item.ID, "err", err)
	}
	return nil
}

// validate enforces the submission preconditions: non-empty content, an ID,
// and per-source monotone timestamps.
func (g *Gateway) validate(item *store.Item) error {
	if strings.TrimSpace(item.Content) == "" {
		return fmt.Errorf("%w: empty content", store.ErrInvalidStateTransition)
	}
	if item.ID == "" {
		return errors.New("item id is required")
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}
	item.Timestamp = item.Timestamp.UTC()
	if item.ContentType == "" {
		item.ContentType = store.ContentTypeText
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	source := item.SourceApp
	if last, ok := g.lastSeen[source]; ok && item.Timestamp.Before(last) {
		return fmt.Errorf("%w: timestamp regressed for source %q", store.ErrInvalidStateTransition, source)
	}
	g.lastSeen[source] = item.Timestamp
	return nil
}

// analyze runs the content analysis workflow and applies its tags and
// analysis blob to the item. Analysis failure is fatal only for the
// workflow, never for the item: the item keeps minimal tags.
func (g *Gateway) analyze(ctx context.Context, item *store.Item) *catalog.ContentAnalysis {
	state := workflow.State{
		"content": item.Content,
		"context": map[string]any{
			"sourceApp":       item.SourceApp,
			"windowTitle":     item.WindowTitle,
			"surroundingText": item.SurroundingText,
			"screenshotPath":  item.ScreenshotPath,
		},
	}
	final, err := g.runtime.Execute(ctx, catalog.WorkflowContentAnalysis, state, workflow.WithItem(item.ID))
	if err != nil {
		// The item stays usable: persist the minimal deterministic analysis
		// so tags and search keep working.
		g.logger.Warn(ctx, "content analysis failed", "item", item.ID, "err", err)
		return g.applyMinimal(ctx, item)
	}
	analysis, err := catalog.DecodeContentAnalysis(final)
	if err != nil {
		g.logger.Warn(ctx, "decode content analysis", "item", item.ID, "err", err)
		return g.applyMinimal(ctx, item)
	}
	blob, err := json.Marshal(analysis)
	if err != nil {
		g.logger.Warn(ctx, "marshal analysis", "item", item.ID, "err", err)
		return analysis
	}
	if err := g.store.UpdateItemAnalysis(ctx, item.ID, blob, analysis.Tags); err != nil {
		g.logger.Warn(ctx, "update item analysis", "item", item.ID, "err", err)
		return analysis
	}
	item.Tags = analysis.Tags
	item.Analysis = blob
	g.publish(ctx, bus.NewItemUpdated(item.ID, bus.ItemPayload{
		ItemID:      item.ID,
		ContentType: string(item.ContentType),
		SourceApp:   item.SourceApp,
		Tags:        analysis.Tags,
	}))
	return analysis
}

// applyMinimal records the deterministic minimal analysis after a terminal
// workflow failure.
func (g *Gateway) applyMinimal(ctx context.Context, item *store.Item) *catalog.ContentAnalysis {
	analysis := catalog.MinimalAnalysis(item.Content)
	if err := g.store.UpdateItemAnalysis(ctx, item.ID, nil, analysis.Tags); err != nil {
		g.logger.Warn(ctx, "apply minimal analysis", "item", item.ID, "err", err)
		return analysis
	}
	item.Tags = analysis.Tags
	return analysis
}

func (g *Gateway) publish(ctx context.Context, event bus.Event) {
	if err := g.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		g.logger.Warn(ctx, "publish event", "type", string(event.Type()), "err", err)
	}
}
