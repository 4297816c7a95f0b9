package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/features/store/inmem"
	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/catalog"
	"github.com/flowclip/flowclip/runtime/model/modeltest"
	"github.com/flowclip/flowclip/runtime/research"
	"github.com/flowclip/flowclip/runtime/session"
	"github.com/flowclip/flowclip/runtime/store"
	"github.com/flowclip/flowclip/runtime/workflow"
)

const analysisResponse = `{
	"contentType": "TEXT",
	"sentiment": "neutral",
	"purpose": "trip planning",
	"tags": ["hotel", "toronto"],
	"recommendedActions": [
		{"action": "research", "priority": "high", "reason": "hotel name", "confidence": 0.9}
	],
	"confidence": 0.85
}`

const detection = `{"sessionType":"hotel_research","sessionTypeConfidence":0.9,"belongsToSession":false,"confidence":0}`

func newGateway(t *testing.T, client *modeltest.Client) (*Gateway, *inmem.Store) {
	t.Helper()
	st := inmem.New()
	b := bus.New()
	rt, err := workflow.New(workflow.Options{Store: st, Bus: b, Model: client})
	require.NoError(t, err)
	require.NoError(t, catalog.RegisterAll(rt))
	consolidator, err := research.New(research.Options{Runtime: rt})
	require.NoError(t, err)
	engine, err := session.New(session.Options{
		Store:            st,
		Runtime:          rt,
		Consolidator:     consolidator,
		Bus:              b,
		ResearchDebounce: time.Hour,
	})
	require.NoError(t, err)
	g, err := NewGateway(Options{Store: st, Runtime: rt, Engine: engine, Bus: b})
	require.NoError(t, err)
	return g, st
}

func TestSubmitItemPersistsAndIndexes(t *testing.T) {
	client := &modeltest.Client{}
	client.Respond("content_analysis", analysisResponse)
	client.Respond("session_membership", detection)
	g, st := newGateway(t, client)

	item := store.Item{
		ID:        "item1",
		Content:   "Hilton Toronto Downtown weekend availability",
		Timestamp: time.Now().UTC(),
		SourceApp: "Safari",
	}
	require.NoError(t, g.SubmitItem(context.Background(), item))

	got, err := st.GetItem(context.Background(), "item1")
	require.NoError(t, err)
	require.Equal(t, item.Content, got.Content)
	require.Equal(t, []string{"hotel", "toronto"}, got.Tags)
	require.NotEmpty(t, got.Analysis)

	hits, err := st.Search(context.Background(), "Hilton Toronto weekend", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "item1", hits[0].Item.ID)
}

func TestSubmitItemRejectsEmptyContent(t *testing.T) {
	g, _ := newGateway(t, &modeltest.Client{})
	err := g.SubmitItem(context.Background(), store.Item{ID: "x", Content: "  "})
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestSubmitItemRejectsRegressingTimestamps(t *testing.T) {
	client := &modeltest.Client{}
	client.Respond("content_analysis", analysisResponse)
	client.Respond("session_membership", detection)
	g, _ := newGateway(t, client)

	base := time.Now().UTC()
	require.NoError(t, g.SubmitItem(context.Background(), store.Item{
		ID: "a", Content: "first", Timestamp: base, SourceApp: "Safari",
	}))
	err := g.SubmitItem(context.Background(), store.Item{
		ID: "b", Content: "second", Timestamp: base.Add(-time.Second), SourceApp: "Safari",
	})
	require.ErrorIs(t, err, store.ErrInvalidStateTransition)
}

func TestSubmitItemSurvivesAnalysisFailure(t *testing.T) {
	// No scripted analysis response: the workflow falls back to the minimal
	// deterministic analysis and the item is still persisted with tags.
	client := &modeltest.Client{}
	client.Respond("session_membership", detection)
	g, st := newGateway(t, client)

	require.NoError(t, g.SubmitItem(context.Background(), store.Item{
		ID:        "item1",
		Content:   "Hilton Toronto Downtown",
		Timestamp: time.Now().UTC(),
	}))
	got, err := st.GetItem(context.Background(), "item1")
	require.NoError(t, err)
	require.NotEmpty(t, got.Tags)
}
