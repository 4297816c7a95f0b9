package session

import (
	"context"
	"errors"
	"time"

	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/catalog"
	"github.com/flowclip/flowclip/runtime/research"
	"github.com/flowclip/flowclip/runtime/store"
	"github.com/flowclip/flowclip/runtime/workflow"
)

// progressBuffer bounds the per-session research progress channel. Producers
// block when the buffer is full; an update is dropped only when the run's
// context is cancelled while its producer waits.
const progressBuffer = 64

// reasonCancelled is the failure reason reported when research is cancelled.
const reasonCancelled = "cancelled"

// scheduleResearch debounces a research run for the session. Each member
// addition resets the timer so bursts coalesce into a single run; an
// in-flight run is cancelled and superseded when the timer fires again.
func (e *Engine) scheduleResearch(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.debounce[sessionID]; ok {
		t.Stop()
	}
	e.debounce[sessionID] = time.AfterFunc(e.opts.ResearchDebounce, func() {
		e.startResearch(sessionID)
	})
}

// startResearch cancels any in-flight run for the session and launches a new
// one on its own cancellable context.
func (e *Engine) startResearch(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	mine := &cancel

	e.mu.Lock()
	if prev, ok := e.cancels[sessionID]; ok && prev != nil {
		(*prev)()
	}
	e.cancels[sessionID] = mine
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			// A superseding run may already own the slot; only clear our own.
			if e.cancels[sessionID] == mine {
				delete(e.cancels, sessionID)
			}
			e.mu.Unlock()
			cancel()
		}()
		if err := e.runResearch(ctx, sessionID); err != nil {
			reason := err.Error()
			if errors.Is(err, context.Canceled) {
				reason = reasonCancelled
			}
			e.publish(ctx, bus.NewSessionResearchFailed(sessionID, reason))
		}
	}()
}

// CancelResearch cancels the pending or in-flight research run for the
// session. Still-inflight member queries are abandoned; no partial summary
// is persisted.
func (e *Engine) CancelResearch(sessionID string) {
	e.mu.Lock()
	if t, ok := e.debounce[sessionID]; ok {
		t.Stop()
		delete(e.debounce, sessionID)
	}
	cancel := e.cancels[sessionID]
	e.mu.Unlock()
	if cancel != nil {
		(*cancel)()
	}
}

// runResearch executes the consolidated research pipeline for an active
// session: per-member query generation, bounded-concurrency web research per
// (member, query) pair with live progress, aggregation by entity, strategy
// consolidation, and persistence of the summary. Research failures leave the
// session active; a later member addition retries.
func (e *Engine) runResearch(ctx context.Context, sessionID string) error {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	members, err := e.store.GetSessionMembersOrdered(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(members) < 2 {
		// A session with a single member never triggers research.
		return nil
	}

	e.publish(ctx, bus.NewSessionResearchStarted(sessionID))

	// Progress is forwarded through a bounded channel so event order is
	// preserved and producers block on backpressure instead of dropping.
	// The channel is never closed: workers may still be unwinding on the
	// cancellation paths, so the forwarder is stopped by signal and drains
	// whatever is already buffered.
	progress := make(chan bus.ResearchProgressPayload, progressBuffer)
	stop := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for {
			select {
			case p := <-progress:
				e.publish(ctx, bus.NewSessionResearchProgress(sessionID, p))
			case <-stop:
				for {
					select {
					case p := <-progress:
						e.publish(ctx, bus.NewSessionResearchProgress(sessionID, p))
					default:
						return
					}
				}
			}
		}
	}()
	emit := func(p bus.ResearchProgressPayload) {
		select {
		case progress <- p:
		case <-ctx.Done():
		}
	}
	finish := func() {
		close(stop)
		<-forwarded
	}

	emit(bus.ResearchProgressPayload{Phase: "initializing"})

	items := make([]store.Item, 0, len(members))
	for _, m := range members {
		item, err := e.store.GetItem(ctx, m.ItemID)
		if err != nil {
			finish()
			return err
		}
		items = append(items, item)
	}

	type memberQuery struct {
		item  store.Item
		query string
	}
	var queries []memberQuery
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			finish()
			return err
		}
		state, err := e.runtime.Execute(ctx, catalog.WorkflowQueryGeneration, workflow.State{
			"content": item.Content,
			"context": researchContext(item, sess),
		}, workflow.WithItem(item.ID))
		if err != nil {
			finish()
			return err
		}
		for _, q := range stateStrings(state, "queries") {
			queries = append(queries, memberQuery{item: item, query: q})
		}
	}
	emit(bus.ResearchProgressPayload{Phase: "queries_generated", TotalQueries: len(queries)})

	// Research every (member, query) pair with bounded concurrency.
	type queryResult struct {
		entity string
		out    *catalog.Research
		err    error
	}
	sem := make(chan struct{}, e.opts.ResearchMaxInflight)
	results := make(chan queryResult, len(queries))
	completed := 0
	findings := 0
	for _, mq := range queries {
		mq := mq
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			finish()
			return ctx.Err()
		}
		go func() {
			defer func() { <-sem }()
			state, err := e.runtime.Execute(ctx, workflowForType(sess.Type), workflow.State{
				"content":         mq.item.Content,
				"context":         researchContext(mq.item, sess),
				"researchQueries": []string{mq.query},
			}, workflow.WithItem(mq.item.ID), workflow.WithProgress(func(p bus.ResearchProgressPayload) {
				p.CurrentQuery = mq.query
				emit(p)
			}))
			if err != nil {
				results <- queryResult{entity: entityName(mq.item), err: err}
				return
			}
			out, err := catalog.DecodeResearch(state)
			results <- queryResult{entity: entityName(mq.item), out: out, err: err}
		}()
	}

	byEntity := make(map[string]*research.EntityResearch)
	var entityOrder []string
	var failed int
	for range queries {
		var r queryResult
		select {
		case r = <-results:
		case <-ctx.Done():
			finish()
			return ctx.Err()
		}
		completed++
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) || ctx.Err() != nil {
				finish()
				return context.Canceled
			}
			failed++
			continue
		}
		er, ok := byEntity[r.entity]
		if !ok {
			er = &research.EntityResearch{Entity: r.entity}
			byEntity[r.entity] = er
			entityOrder = append(entityOrder, r.entity)
		}
		er.Findings = append(er.Findings, r.out.KeyFindings...)
		er.Sources = append(er.Sources, r.out.Sources...)
		findings += len(r.out.KeyFindings)
		emit(bus.ResearchProgressPayload{
			Phase:            "searching",
			TotalQueries:     len(queries),
			CompletedQueries: completed,
			FindingsCount:    findings,
		})
	}
	if failed == len(queries) && len(queries) > 0 {
		finish()
		return errors.New("all member queries failed")
	}

	if err := ctx.Err(); err != nil {
		finish()
		return err
	}
	emit(bus.ResearchProgressPayload{Phase: "consolidating", TotalQueries: len(queries), CompletedQueries: completed, FindingsCount: findings})

	relationships, intent := e.sessionRelationships(ctx, items, sess)
	input := research.Input{
		SessionType:   string(sess.Type),
		Relationships: relationships,
	}
	for _, name := range entityOrder {
		input.Entities = append(input.Entities, *byEntity[name])
	}
	consolidated, err := e.consolidator.Consolidate(ctx, input)
	if err != nil {
		finish()
		return err
	}

	// The summary is persisted only on a clean finish; cancellation up to
	// this point leaves the previous summary untouched.
	if err := ctx.Err(); err != nil {
		finish()
		return err
	}
	summary := marshalJSON(consolidated)
	if err := e.store.UpdateSessionAnalysis(ctx, sessionID, summary, intent); err != nil {
		finish()
		return err
	}

	emit(bus.ResearchProgressPayload{Phase: "completed", TotalQueries: len(queries), CompletedQueries: completed, FindingsCount: len(consolidated.KeyFindings)})
	finish()
	e.publish(ctx, bus.NewSessionResearchCompleted(sessionID, bus.ResearchCompletedPayload{
		KeyFindings:     consolidated.KeyFindings,
		TotalSources:    consolidated.TotalSources,
		ResearchQuality: consolidated.Quality,
	}))
	return nil
}

// sessionRelationships refreshes the entity relationship analysis over the
// full member set. Failures fall back to the independent relationship so
// consolidation can still proceed.
func (e *Engine) sessionRelationships(ctx context.Context, items []store.Item, sess store.Session) (catalog.EntityRelationships, []byte) {
	contents := make([]string, 0, len(items))
	for _, it := range items {
		contents = append(contents, it.Content)
	}
	last := items[len(items)-1]
	state, err := e.runtime.Execute(ctx, catalog.WorkflowSessionManagement, workflow.State{
		"content":              last.Content,
		"context":              researchContext(last, sess),
		"candidateMembers":     contents,
		"candidateSessionType": string(sess.Type),
	}, workflow.WithItem(last.ID))
	if err != nil {
		return catalog.EntityRelationships{ConsolidationStrategy: "GENERIC", Type: "independent"}, nil
	}
	decision, err := catalog.DecodeSessionDecision(state)
	if err != nil {
		return catalog.EntityRelationships{ConsolidationStrategy: "GENERIC", Type: "independent"}, nil
	}
	if len(decision.EntityRelationships.Entities) == 0 {
		decision.EntityRelationships.Entities = contents
	}
	return decision.EntityRelationships, decision.IntentAnalysis
}

// workflowForType selects the research workflow specialization for the
// session type.
func workflowForType(t store.SessionType) string {
	if t == store.TypeHotel {
		return catalog.WorkflowHotelResearch
	}
	return catalog.WorkflowResearch
}

// entityName derives the entity identifier for aggregation from the member
// content.
func entityName(item store.Item) string {
	return trimmed(item.Content, 120)
}

func trimmed(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// researchContext renders the member metadata and session type into the
// workflow context channel.
func researchContext(item store.Item, sess store.Session) map[string]any {
	cc := map[string]any{
		"sourceApp":   item.SourceApp,
		"windowTitle": item.WindowTitle,
		"sessionType": string(sess.Type),
	}
	if len(item.Tags) > 0 {
		cc["tags"] = item.Tags
	}
	return cc
}

func stateStrings(state workflow.State, key string) []string {
	switch v := state[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
