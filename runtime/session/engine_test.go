package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/features/store/inmem"
	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/catalog"
	"github.com/flowclip/flowclip/runtime/model"
	"github.com/flowclip/flowclip/runtime/model/modeltest"
	"github.com/flowclip/flowclip/runtime/research"
	"github.com/flowclip/flowclip/runtime/store"
	"github.com/flowclip/flowclip/runtime/workflow"
)

const (
	detectHotel = `{"sessionType":"hotel_research","sessionTypeConfidence":0.9,"belongsToSession":false,"confidence":0}`
	joinHotel   = `{"sessionType":"hotel_research","sessionTypeConfidence":0.9,"belongsToSession":true,"confidence":0.9,"sessionDecision":"same hotel comparison"}`
	detectGen   = `{"sessionType":"general_research","sessionTypeConfidence":0.8,"belongsToSession":false,"confidence":0}`
	rejectGen   = `{"sessionType":"general_research","sessionTypeConfidence":0.8,"belongsToSession":false,"confidence":0.1,"sessionDecision":"unrelated"}`
)

type harness struct {
	store  *inmem.Store
	bus    bus.Bus
	engine *Engine
	client model.Client

	mu     sync.Mutex
	events []bus.Event
}

func newHarness(t *testing.T, client model.Client, tune func(*Options)) *harness {
	t.Helper()
	st := inmem.New()
	b := bus.New()
	h := &harness{store: st, bus: b, client: client}
	_, err := b.Register(bus.SubscriberFunc(func(_ context.Context, evt bus.Event) error {
		h.mu.Lock()
		h.events = append(h.events, evt)
		h.mu.Unlock()
		return nil
	}))
	require.NoError(t, err)

	rt, err := workflow.New(workflow.Options{Store: st, Bus: b, Model: client})
	require.NoError(t, err)
	require.NoError(t, catalog.RegisterAll(rt))
	consolidator, err := research.New(research.Options{Runtime: rt})
	require.NoError(t, err)

	opts := Options{
		Store:            st,
		Runtime:          rt,
		Consolidator:     consolidator,
		Bus:              b,
		ResearchDebounce: time.Hour, // keep research out of assignment tests
	}
	if tune != nil {
		tune(&opts)
	}
	h.engine, err = New(opts)
	require.NoError(t, err)
	return h
}

func (h *harness) submit(t *testing.T, id, content string, at time.Time) store.Item {
	t.Helper()
	item := store.Item{
		ID:        id,
		Content:   content,
		Timestamp: at,
		SourceApp: "Safari",
	}
	require.NoError(t, h.store.InsertItem(context.Background(), item))
	require.NoError(t, h.engine.OnNewItem(context.Background(), item, nil))
	return item
}

func (h *harness) eventsOf(types ...bus.EventType) []bus.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	want := make(map[bus.EventType]bool, len(types))
	for _, tp := range types {
		want[tp] = true
	}
	var out []bus.Event
	for _, e := range h.events {
		if want[e.Type()] {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) waitFor(t *testing.T, tp bus.EventType, timeout time.Duration) bus.Event {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if evts := h.eventsOf(tp); len(evts) > 0 {
			return evts[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", tp)
	return nil
}

func TestHotelItemsFormOneActiveSession(t *testing.T) {
	client := &modeltest.Client{}
	// Detection, then detection + evaluation per subsequent item.
	client.Respond("session_membership", detectHotel) // item a detection
	client.Respond("session_membership", detectHotel) // item b detection
	client.Respond("session_membership", joinHotel)   // item b vs session
	client.Respond("session_membership", detectHotel) // item c detection
	client.Respond("session_membership", joinHotel)   // item c vs session (sticky)

	h := newHarness(t, client, nil)
	base := time.Now().UTC()
	h.submit(t, "a", "Hilton Toronto Downtown", base)
	h.submit(t, "b", "The Ritz-Carlton, Toronto", base.Add(time.Second))
	h.submit(t, "c", "Shangri-La Hotel Toronto", base.Add(2*time.Second))

	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	sess := sessions[0]
	require.Equal(t, store.TypeHotel, sess.Type)
	require.Equal(t, store.SessionActive, sess.Status)
	require.Equal(t, "Hotel Research — Toronto", sess.Label)
	require.Equal(t, base.Add(2*time.Second), sess.LastActivity)

	members, err := h.store.GetSessionMembersOrdered(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	for i, m := range members {
		require.Equal(t, i+1, m.SequenceOrder)
	}

	require.Len(t, h.eventsOf(bus.EventSessionCreated), 1)
}

func TestUnrelatedItemsStayApart(t *testing.T) {
	client := &modeltest.Client{}
	client.Respond("session_membership", detectGen) // pancakes detection
	client.Respond("session_membership", detectGen) // tutorial detection
	client.Respond("session_membership", rejectGen) // tutorial vs pancakes session

	h := newHarness(t, client, nil)
	base := time.Now().UTC()
	h.submit(t, "a", "How to make pancakes", base)
	h.submit(t, "b", "JavaScript async/await tutorial", base.Add(time.Second))

	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	for _, s := range sessions {
		require.Equal(t, store.TypeGeneral, s.Type)
		require.Equal(t, store.SessionInactive, s.Status)
	}
}

func TestLowConfidenceMembershipRejected(t *testing.T) {
	lowConfidence := `{"sessionType":"hotel_research","belongsToSession":true,"confidence":0.4}`
	client := &modeltest.Client{}
	client.Respond("session_membership", detectHotel).
		Respond("session_membership", detectHotel).
		Respond("session_membership", lowConfidence)

	h := newHarness(t, client, nil)
	base := time.Now().UTC()
	h.submit(t, "a", "Hilton Toronto Downtown", base)
	h.submit(t, "b", "Marriott hotel downtown", base.Add(time.Second))

	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestIncompatibleTypeOverridesModel(t *testing.T) {
	// The model claims membership but detects a type incompatible with the
	// candidate; the hard rule forces the confidence to zero.
	incompatible := `{"sessionType":"academic_research","belongsToSession":true,"confidence":0.95}`
	client := &modeltest.Client{}
	client.Respond("session_membership", detectHotel).
		Respond("session_membership", detectHotel).
		Respond("session_membership", incompatible)

	h := newHarness(t, client, nil)
	base := time.Now().UTC()
	h.submit(t, "a", "Hilton Toronto Downtown", base)
	h.submit(t, "b", "Marriott hotel reviews", base.Add(time.Second))

	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestComplementaryTypesMayJoin(t *testing.T) {
	detectRestaurant := `{"sessionType":"restaurant_research","sessionTypeConfidence":0.9,"belongsToSession":false,"confidence":0}`
	joinRestaurant := `{"sessionType":"restaurant_research","belongsToSession":true,"confidence":0.8}`
	client := &modeltest.Client{}
	client.Respond("session_membership", detectHotel).
		Respond("session_membership", detectRestaurant).
		Respond("session_membership", joinRestaurant)

	h := newHarness(t, client, nil)
	base := time.Now().UTC()
	h.submit(t, "a", "Hilton Toronto Downtown", base)
	h.submit(t, "b", "Canoe restaurant Toronto reservations", base.Add(time.Second))

	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, store.SessionActive, sessions[0].Status)
}

func TestActiveSessionResearchCompletes(t *testing.T) {
	client := &modeltest.Client{}
	client.Respond("session_membership", detectHotel).
		Respond("session_membership", detectHotel).
		Respond("session_membership", joinHotel)

	h := newHarness(t, client, func(o *Options) {
		o.ResearchDebounce = 20 * time.Millisecond
	})
	base := time.Now().UTC()
	h.submit(t, "a", "Hilton Toronto Downtown", base)
	h.submit(t, "b", "The Ritz-Carlton, Toronto", base.Add(time.Second))

	completed := h.waitFor(t, bus.EventSessionResearchCompleted, 5*time.Second)
	payload, ok := completed.(*bus.SessionResearchCompleted)
	require.True(t, ok)
	require.NotEmpty(t, payload.Data.KeyFindings)
	require.NotEmpty(t, payload.Data.ResearchQuality)

	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, sessions[0].ContextSummary)

	// Phase progression must be a prefix of the documented order.
	order := map[string]int{
		"initializing": 0, "queries_generated": 1, "searching": 2,
		"consolidating": 3, "completed": 4, "failed": 4,
	}
	last := -1
	for _, evt := range h.eventsOf(bus.EventSessionResearchProgress) {
		p := evt.(*bus.SessionResearchProgress)
		rank, known := order[p.Data.Phase]
		require.True(t, known, "unknown phase %q", p.Data.Phase)
		require.GreaterOrEqual(t, rank, last)
		last = rank
	}
}

func TestSingleMemberSessionNeverResearches(t *testing.T) {
	client := &modeltest.Client{}
	client.Respond("session_membership", detectHotel)

	h := newHarness(t, client, func(o *Options) {
		o.ResearchDebounce = 10 * time.Millisecond
	})
	h.submit(t, "a", "Hilton Toronto Downtown", time.Now().UTC())
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, h.eventsOf(bus.EventSessionResearchStarted))
}

// blockingSearchClient wraps the scripted client but parks web searches until
// the context is cancelled, so tests can cancel mid-flight research.
type blockingSearchClient struct {
	*modeltest.Client
	started chan struct{}
	once    sync.Once
}

func (c *blockingSearchClient) WebSearchStream(ctx context.Context, query string, sink model.SearchSink) ([]model.SearchResult, error) {
	c.once.Do(func() { close(c.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancelledResearchPersistsNothing(t *testing.T) {
	scripted := &modeltest.Client{}
	scripted.Respond("session_membership", detectHotel).
		Respond("session_membership", detectHotel).
		Respond("session_membership", joinHotel).
		Respond("session_membership", detectHotel).
		Respond("session_membership", joinHotel)
	client := &blockingSearchClient{Client: scripted, started: make(chan struct{})}

	h := newHarness(t, client, func(o *Options) {
		o.ResearchDebounce = 10 * time.Millisecond
	})
	base := time.Now().UTC()
	h.submit(t, "a", "Hilton Toronto Downtown", base)
	h.submit(t, "b", "The Ritz-Carlton, Toronto", base.Add(time.Second))
	h.submit(t, "c", "Shangri-La Hotel Toronto", base.Add(2*time.Second))

	select {
	case <-client.started:
	case <-time.After(5 * time.Second):
		t.Fatal("research never reached the web search phase")
	}

	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	h.engine.CancelResearch(sessions[0].ID)

	failed := h.waitFor(t, bus.EventSessionResearchFailed, 5*time.Second)
	require.Equal(t, "cancelled", failed.(*bus.SessionResearchFailed).Reason)

	sess, err := h.store.GetSession(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Empty(t, sess.ContextSummary)

	members, err := h.store.GetSessionMembersOrdered(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	client := &modeltest.Client{}
	client.Respond("session_membership", detectHotel)

	h := newHarness(t, client, func(o *Options) {
		o.IdleTimeout = time.Minute
	})
	h.submit(t, "a", "Hilton Toronto Downtown", time.Now().UTC().Add(-10*time.Minute))

	require.NoError(t, h.engine.Sweep(context.Background()))
	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.Equal(t, store.SessionExpired, sessions[0].Status)

	// An expired session never reactivates; a new matching item starts a
	// fresh session.
	client.Respond("session_membership", detectHotel)
	h.submit(t, "b", "Marriott hotel Toronto", time.Now().UTC())
	sessions, err = h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestCloseSessionCompletes(t *testing.T) {
	client := &modeltest.Client{}
	client.Respond("session_membership", detectHotel)

	h := newHarness(t, client, nil)
	h.submit(t, "a", "Hilton Toronto Downtown", time.Now().UTC())

	sessions, err := h.store.ListSessions(context.Background(), store.SessionFilter{})
	require.NoError(t, err)
	require.NoError(t, h.engine.CloseSession(context.Background(), sessions[0].ID))

	sess, err := h.store.GetSession(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Equal(t, store.SessionCompleted, sess.Status)
}

func TestDeriveLabel(t *testing.T) {
	label := deriveLabel(store.TypeHotel, []string{
		"Hilton Toronto Downtown",
		"The Ritz-Carlton, Toronto",
	})
	require.Equal(t, "Hotel Research — Toronto", label)

	require.Equal(t, "General Research", deriveLabel(store.TypeGeneral, []string{"how to make pancakes"}))
}
