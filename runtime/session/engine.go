// Package session implements the session lifecycle engine: semantic type
// detection for new items, candidate search and membership evaluation,
// session creation and activation, debounced research triggering with live
// progress, and idle expiration. All persistence goes through the store;
// operations on a single session are serialized by a per-session mutex while
// different sessions proceed in parallel.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/catalog"
	"github.com/flowclip/flowclip/runtime/research"
	"github.com/flowclip/flowclip/runtime/store"
	"github.com/flowclip/flowclip/runtime/telemetry"
	"github.com/flowclip/flowclip/runtime/workflow"
)

type (
	// Options configures the Engine.
	Options struct {
		// Store is the persistence layer. Required.
		Store store.Store
		// Runtime executes the catalog workflows. Required.
		Runtime *workflow.Runtime
		// Consolidator builds the final session summaries. Required.
		Consolidator *research.Consolidator
		// Bus receives lifecycle and research events. Required.
		Bus bus.Bus
		// IdleTimeout expires sessions after this much inactivity.
		// Defaults to 10 minutes.
		IdleTimeout time.Duration
		// JoinWindow is the candidate search horizon. Defaults to 20 minutes.
		JoinWindow time.Duration
		// MinJoinConfidence is the membership acceptance bar. Defaults to 0.6.
		MinJoinConfidence float64
		// ResearchDebounce delays research after a member addition so bursts
		// coalesce. Defaults to 1 second.
		ResearchDebounce time.Duration
		// ResearchMaxInflight bounds concurrent member-query research per
		// session. Defaults to 2.
		ResearchMaxInflight int
		// SweepInterval is the expiration sweep period. Defaults to 1 minute.
		SweepInterval time.Duration
		// Complementary maps each session type to the types it may join.
		// Nil uses DefaultComplementary.
		Complementary map[store.SessionType][]store.SessionType
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Engine owns session status transitions and member edges. One engine
	// instance serves the whole process.
	Engine struct {
		store        store.Store
		runtime      *workflow.Runtime
		consolidator *research.Consolidator
		bus          bus.Bus
		opts         Options
		logger       telemetry.Logger

		mu    sync.Mutex
		locks map[string]*sync.Mutex
		// debounce holds the pending research timer per session.
		debounce map[string]*time.Timer
		// cancels holds the in-flight research cancellation per session. The
		// pointer identifies the owning run so a finished run never clears a
		// successor's slot.
		cancels map[string]*context.CancelFunc
	}
)

// DefaultComplementary returns the default complementary-type table. The
// table is symmetric: each pair is listed in both directions.
func DefaultComplementary() map[store.SessionType][]store.SessionType {
	return map[store.SessionType][]store.SessionType{
		store.TypeHotel:      {store.TypeRestaurant, store.TypeTravel},
		store.TypeRestaurant: {store.TypeHotel, store.TypeTravel},
		store.TypeTravel:     {store.TypeHotel, store.TypeRestaurant},
		store.TypeProduct:    {store.TypeService},
		store.TypeService:    {store.TypeProduct},
	}
}

// New constructs the session engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("workflow runtime is required")
	}
	if opts.Consolidator == nil {
		return nil, errors.New("consolidator is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.JoinWindow <= 0 {
		opts.JoinWindow = 20 * time.Minute
	}
	if opts.MinJoinConfidence <= 0 {
		opts.MinJoinConfidence = 0.6
	}
	if opts.ResearchDebounce <= 0 {
		opts.ResearchDebounce = time.Second
	}
	if opts.ResearchMaxInflight <= 0 {
		opts.ResearchMaxInflight = 2
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Complementary == nil {
		opts.Complementary = DefaultComplementary()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Engine{
		store:        opts.Store,
		runtime:      opts.Runtime,
		consolidator: opts.Consolidator,
		bus:          opts.Bus,
		opts:         opts,
		logger:       logger,
		locks:        make(map[string]*sync.Mutex),
		debounce:     make(map[string]*time.Timer),
		cancels:      make(map[string]*context.CancelFunc),
	}, nil
}

// OnNewItem assigns a freshly analyzed item to a session: it detects the
// item's session type, evaluates membership against compatible candidates
// in recency order stopping at the first acceptance, and either joins the
// item to the accepted session or creates a new inactive session around it.
// Joining a second member activates the session and schedules research.
func (e *Engine) OnNewItem(ctx context.Context, item store.Item, analysis *catalog.ContentAnalysis) error {
	decision, err := e.evaluate(ctx, item, analysis, nil)
	if err != nil {
		return fmt.Errorf("detect session type: %w", err)
	}
	detected := store.SessionType(decision.SessionType)

	candidates, err := e.store.FindSessionCandidates(ctx, item, e.opts.JoinWindow)
	if err != nil {
		return fmt.Errorf("find session candidates: %w", err)
	}

	for _, cand := range candidates {
		if !e.compatible(detected, cand.Type) {
			continue
		}
		accepted, cd, err := e.evaluateCandidate(ctx, item, analysis, cand, detected)
		if err != nil {
			return err
		}
		if accepted {
			return e.join(ctx, item, cand, cd)
		}
	}
	return e.createSession(ctx, item, detected, decision)
}

// compatible reports whether an item of the detected type may join a session
// of the candidate type: same type, or listed in the complementary table.
func (e *Engine) compatible(detected, candidate store.SessionType) bool {
	if detected == candidate {
		return true
	}
	for _, t := range e.opts.Complementary[detected] {
		if t == candidate {
			return true
		}
	}
	return false
}

// evaluateCandidate runs the membership workflow against one candidate. The
// hard type rule overrides the model: when the evaluation's detected type is
// incompatible with the candidate and not complementary, the membership
// confidence is forced to zero.
func (e *Engine) evaluateCandidate(ctx context.Context, item store.Item, analysis *catalog.ContentAnalysis, cand store.Session, detected store.SessionType) (bool, *catalog.SessionDecision, error) {
	members, err := e.memberContents(ctx, cand.ID)
	if err != nil {
		return false, nil, err
	}
	decision, err := e.evaluate(ctx, item, analysis, &candidateContext{session: cand, members: members})
	if err != nil {
		return false, nil, err
	}
	confidence := decision.Confidence
	if !e.compatible(store.SessionType(decision.SessionType), cand.Type) {
		confidence = 0
	}
	accepted := decision.BelongsToSession && confidence >= e.opts.MinJoinConfidence
	return accepted, decision, nil
}

type candidateContext struct {
	session store.Session
	members []string
}

// evaluate runs the session management workflow for the item, optionally
// against a candidate session.
func (e *Engine) evaluate(ctx context.Context, item store.Item, analysis *catalog.ContentAnalysis, cand *candidateContext) (*catalog.SessionDecision, error) {
	state := workflow.State{
		"content": item.Content,
		"context": captureContext(item, analysis),
	}
	if cand != nil {
		state["candidateMembers"] = cand.members
		state["candidateSessionType"] = string(cand.session.Type)
	}
	final, err := e.runtime.Execute(ctx, catalog.WorkflowSessionManagement, state, workflow.WithItem(item.ID))
	if err != nil {
		return nil, err
	}
	return catalog.DecodeSessionDecision(final)
}

// join adds the item to the accepted session, activating it when the second
// member arrives, and schedules research for active sessions.
func (e *Engine) join(ctx context.Context, item store.Item, sess store.Session, decision *catalog.SessionDecision) error {
	unlock := e.lockSession(sess.ID)
	defer unlock()

	count, err := e.store.AddSessionMember(ctx, sess.ID, item.ID, item.Timestamp)
	if err != nil {
		return fmt.Errorf("add session member: %w", err)
	}

	if sess.Status == store.SessionInactive && count >= 2 {
		if err := e.store.UpdateSessionStatus(ctx, sess.ID, store.SessionActive); err != nil {
			return fmt.Errorf("activate session: %w", err)
		}
		sess.Status = store.SessionActive
	}

	if label := e.refreshLabel(ctx, sess); label != "" {
		sess.Label = label
	}
	if len(decision.IntentAnalysis) > 0 {
		if err := e.store.UpdateSessionAnalysis(ctx, sess.ID, nil, decision.IntentAnalysis); err != nil {
			e.logger.Warn(ctx, "update session intent", "session", sess.ID, "err", err)
		}
	}

	e.publish(ctx, bus.NewSessionUpdated(bus.SessionPayload{
		SessionID:   sess.ID,
		SessionType: string(sess.Type),
		Status:      string(sess.Status),
		Label:       sess.Label,
		MemberCount: count,
	}))

	if sess.Status == store.SessionActive {
		e.scheduleResearch(sess.ID)
	}
	return nil
}

// createSession persists a new inactive session around the item.
func (e *Engine) createSession(ctx context.Context, item store.Item, detected store.SessionType, decision *catalog.SessionDecision) error {
	sess := store.Session{
		ID:           uuid.New().String(),
		Type:         detected,
		Label:        deriveLabel(detected, []string{item.Content}),
		Status:       store.SessionInactive,
		StartTime:    item.Timestamp,
		LastActivity: item.Timestamp,
	}
	if len(decision.IntentAnalysis) > 0 {
		sess.IntentAnalysis = decision.IntentAnalysis
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if _, err := e.store.AddSessionMember(ctx, sess.ID, item.ID, item.Timestamp); err != nil {
		return fmt.Errorf("add first member: %w", err)
	}
	e.publish(ctx, bus.NewSessionCreated(bus.SessionPayload{
		SessionID:   sess.ID,
		SessionType: string(sess.Type),
		Status:      string(sess.Status),
		Label:       sess.Label,
		MemberCount: 1,
	}))
	return nil
}

// CloseSession completes a session at the user's request, cancelling any
// in-flight research.
func (e *Engine) CloseSession(ctx context.Context, sessionID string) error {
	unlock := e.lockSession(sessionID)
	defer unlock()

	e.CancelResearch(sessionID)
	if err := e.store.UpdateSessionStatus(ctx, sessionID, store.SessionCompleted); err != nil {
		return err
	}
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	members, err := e.store.GetSessionMembersOrdered(ctx, sessionID)
	if err != nil {
		return err
	}
	e.publish(ctx, bus.NewSessionUpdated(bus.SessionPayload{
		SessionID:   sess.ID,
		SessionType: string(sess.Type),
		Status:      string(sess.Status),
		Label:       sess.Label,
		MemberCount: len(members),
	}))
	return nil
}

// refreshLabel recomputes the session label from the current members,
// persisting it only when it improves on the existing label. The label stays
// stable across additions unless no better candidate existed before.
func (e *Engine) refreshLabel(ctx context.Context, sess store.Session) string {
	contents, err := e.memberContents(ctx, sess.ID)
	if err != nil {
		return ""
	}
	label := deriveLabel(sess.Type, contents)
	if label == "" || label == sess.Label {
		return ""
	}
	if sess.Label != "" && !genericLabel(sess.Type, sess.Label) {
		return ""
	}
	if err := e.store.UpdateSessionLabel(ctx, sess.ID, label); err != nil {
		e.logger.Warn(ctx, "update session label", "session", sess.ID, "err", err)
		return ""
	}
	return label
}

// memberContents returns the contents of the session members in sequence
// order.
func (e *Engine) memberContents(ctx context.Context, sessionID string) ([]string, error) {
	members, err := e.store.GetSessionMembersOrdered(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	contents := make([]string, 0, len(members))
	for _, m := range members {
		item, err := e.store.GetItem(ctx, m.ItemID)
		if err != nil {
			return nil, err
		}
		contents = append(contents, item.Content)
	}
	return contents, nil
}

// lockSession returns the unlock function for the session's mutex, creating
// the mutex on first use.
func (e *Engine) lockSession(sessionID string) func() {
	e.mu.Lock()
	m, ok := e.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[sessionID] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func (e *Engine) publish(ctx context.Context, event bus.Event) {
	if err := e.bus.Publish(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn(ctx, "publish event", "type", string(event.Type()), "err", err)
	}
}

// captureContext renders the item metadata into the workflow context channel.
func captureContext(item store.Item, analysis *catalog.ContentAnalysis) map[string]any {
	cc := map[string]any{
		"sourceApp":       item.SourceApp,
		"windowTitle":     item.WindowTitle,
		"surroundingText": item.SurroundingText,
	}
	if item.ScreenshotPath != "" {
		cc["screenshotPath"] = item.ScreenshotPath
	}
	if analysis != nil {
		cc["tags"] = analysis.Tags
	} else if len(item.Tags) > 0 {
		cc["tags"] = item.Tags
	}
	return cc
}

// marshalJSON marshals v, returning nil instead of failing: the callers treat
// the payload as best-effort context.
func marshalJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
