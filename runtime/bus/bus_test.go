package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBusPublishFanOut(t *testing.T) {
	b := New()
	ctx := context.Background()

	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	_, err := b.Register(sub)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, NewItemAdded("item1", ItemPayload{ItemID: "item1"})))
	require.NoError(t, b.Publish(ctx, NewWorkflowCompleted("content_analysis", "item1", true)))
	require.Equal(t, 2, count)
}

func TestBusRegisterNil(t *testing.T) {
	b := New()
	_, err := b.Register(nil)
	require.Error(t, err)
}

func TestSubscriptionClose(t *testing.T) {
	b := New()
	ctx := context.Background()
	count := 0
	sub := SubscriberFunc(func(ctx context.Context, event Event) error {
		count++
		return nil
	})
	subscription, err := b.Register(sub)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, NewSessionCreated(SessionPayload{SessionID: "s1"})))
	require.NoError(t, subscription.Close())
	require.NoError(t, b.Publish(ctx, NewSessionUpdated(SessionPayload{SessionID: "s1"})))
	require.Equal(t, 1, count)
}

func TestBusStopsAtFirstError(t *testing.T) {
	b := New()
	ctx := context.Background()
	boom := errors.New("boom")
	_, err := b.Register(SubscriberFunc(func(context.Context, Event) error { return boom }))
	require.NoError(t, err)
	reached := false
	_, err = b.Register(SubscriberFunc(func(context.Context, Event) error {
		reached = true
		return nil
	}))
	require.NoError(t, err)
	require.ErrorIs(t, b.Publish(ctx, NewSessionResearchStarted("s1")), boom)
	require.False(t, reached)
}

func TestResearchProgressWireKeys(t *testing.T) {
	evt := NewSessionResearchProgress("s1", ResearchProgressPayload{
		Phase:            "searching",
		CurrentQuery:     "Hilton Toronto",
		CurrentAspect:    "price",
		LangGraphQuery:   "Hilton Toronto price",
		LangGraphStatus:  "completed",
		ResultsCount:     3,
		TotalQueries:     6,
		CompletedQueries: 2,
		FindingsCount:    4,
	})
	data, err := json.Marshal(evt.Payload())
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{
		"phase", "currentQuery", "currentAspect", "langGraphQuery",
		"langGraphStatus", "resultsCount", "totalQueries",
		"completedQueries", "findingsCount",
	} {
		require.Contains(t, decoded, key)
	}
}

func TestEnvelopeCarriesTypeAndTimestamp(t *testing.T) {
	evt := NewAutomationDispatched(AutomationPayload{SessionID: "s1", SessionType: "hotel_research"})
	env := Envelop(evt)
	require.Equal(t, EventAutomationDispatched, env.Type)
	require.False(t, env.At.IsZero())
	data, err := json.Marshal(env)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Contains(t, decoded, "type")
	require.Contains(t, decoded, "at")
}
