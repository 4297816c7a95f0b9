package automation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/features/store/inmem"
	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/retry"
	"github.com/flowclip/flowclip/runtime/store"
)

func seedSession(t *testing.T, st *inmem.Store, sessionID string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UTC()
	require.NoError(t, st.CreateSession(ctx, store.Session{
		ID:           sessionID,
		Type:         store.TypeHotel,
		Status:       store.SessionActive,
		StartTime:    base,
		LastActivity: base,
	}))
	for i, content := range contents {
		id := sessionID + "-item-" + content
		require.NoError(t, st.InsertItem(ctx, store.Item{
			ID:        id,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
		_, err := st.AddSessionMember(ctx, sessionID, id, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func newDispatcher(t *testing.T, st *inmem.Store, b bus.Bus, url string, rateLimit time.Duration) *Dispatcher {
	t.Helper()
	d, err := New(Options{
		Store:     st,
		Bus:       b,
		RateLimit: rateLimit,
		Retry:     fastRetry(),
		Types: map[store.SessionType]TypeConfig{
			store.TypeHotel: {
				Enabled:          true,
				TriggerThreshold: 2,
				WebhookURL:       url,
				Tasks:            []string{"compare_prices"},
			},
		},
	})
	require.NoError(t, err)
	return d
}

func sessionUpdate(sessionID string, members int) *bus.SessionUpdated {
	return bus.NewSessionUpdated(bus.SessionPayload{
		SessionID:   sessionID,
		SessionType: string(store.TypeHotel),
		Status:      string(store.SessionActive),
		MemberCount: members,
	})
}

func TestDispatchPayloadShape(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := inmem.New()
	b := bus.New()
	seedSession(t, st, "s1", "Hilton Toronto", "Ritz Toronto")
	d := newDispatcher(t, st, b, srv.URL, time.Minute)

	require.NoError(t, b.Publish(context.Background(), sessionUpdate("s1", 2)))
	d.Flush()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	for _, key := range []string{"sessionId", "sessionType", "itemCount", "extractedEntities", "automationTasks", "timestamp"} {
		require.Contains(t, decoded, key)
	}
	require.Equal(t, "s1", decoded["sessionId"])
	require.Equal(t, "hotel_research", decoded["sessionType"])
	require.Equal(t, float64(2), decoded["itemCount"])
	entities := decoded["extractedEntities"].(map[string]any)
	require.Contains(t, entities, "hotels")
	require.Len(t, entities["hotels"], 2)
}

func TestRateLimitOnePostPerWindow(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := inmem.New()
	b := bus.New()
	seedSession(t, st, "s1", "Hilton Toronto", "Ritz Toronto", "Shangri-La Toronto")
	d := newDispatcher(t, st, b, srv.URL, time.Minute)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, sessionUpdate("s1", 2)))
	require.NoError(t, b.Publish(ctx, sessionUpdate("s1", 3)))
	d.Flush()
	require.Equal(t, int32(1), atomic.LoadInt32(&posts))
}

func TestBelowThresholdNoDispatch(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
	}))
	defer srv.Close()

	st := inmem.New()
	b := bus.New()
	seedSession(t, st, "s1", "Hilton Toronto")
	d := newDispatcher(t, st, b, srv.URL, time.Minute)

	require.NoError(t, b.Publish(context.Background(), sessionUpdate("s1", 1)))
	d.Flush()
	require.Zero(t, atomic.LoadInt32(&posts))
}

func TestNoRetryOn4xx(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	st := inmem.New()
	b := bus.New()
	seedSession(t, st, "s1", "Hilton Toronto", "Ritz Toronto")

	var failures int32
	_, err := b.Register(bus.SubscriberFunc(func(_ context.Context, evt bus.Event) error {
		if evt.Type() == bus.EventAutomationFailed {
			atomic.AddInt32(&failures, 1)
		}
		return nil
	}))
	require.NoError(t, err)

	d := newDispatcher(t, st, b, srv.URL, time.Minute)
	require.NoError(t, b.Publish(context.Background(), sessionUpdate("s1", 2)))
	d.Flush()

	require.Equal(t, int32(1), atomic.LoadInt32(&posts))
	require.Equal(t, int32(1), atomic.LoadInt32(&failures))
}

func TestRetriesTransient5xx(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&posts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st := inmem.New()
	b := bus.New()
	seedSession(t, st, "s1", "Hilton Toronto", "Ritz Toronto")

	var dispatched int32
	_, err := b.Register(bus.SubscriberFunc(func(_ context.Context, evt bus.Event) error {
		if evt.Type() == bus.EventAutomationDispatched {
			atomic.AddInt32(&dispatched, 1)
		}
		return nil
	}))
	require.NoError(t, err)

	d := newDispatcher(t, st, b, srv.URL, time.Minute)
	require.NoError(t, b.Publish(context.Background(), sessionUpdate("s1", 2)))
	d.Flush()

	require.Equal(t, int32(3), atomic.LoadInt32(&posts))
	require.Equal(t, int32(1), atomic.LoadInt32(&dispatched))
}

func TestDisabledTypeNeverDispatches(t *testing.T) {
	st := inmem.New()
	b := bus.New()
	seedSession(t, st, "s1", "Hilton Toronto", "Ritz Toronto")
	d, err := New(Options{
		Store: st,
		Bus:   b,
		Types: map[store.SessionType]TypeConfig{
			store.TypeHotel: {Enabled: false, TriggerThreshold: 2, WebhookURL: "http://127.0.0.1:1"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), sessionUpdate("s1", 2)))
	d.Flush()
}

func TestEntityKey(t *testing.T) {
	require.Equal(t, "hotels", entityKey("hotel_research"))
	require.Equal(t, "entities", entityKey("general_research"))
}
