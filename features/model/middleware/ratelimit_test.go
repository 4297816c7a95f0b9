package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/runtime/model"
)

type blockingClient struct {
	mu       sync.Mutex
	inflight int32
	peak     int32
	release  chan struct{}
	err      error
}

func (c *blockingClient) Analyze(ctx context.Context, req *model.Request) (*model.Result, error) {
	cur := atomic.AddInt32(&c.inflight, 1)
	defer atomic.AddInt32(&c.inflight, -1)
	for {
		peak := atomic.LoadInt32(&c.peak)
		if cur <= peak || atomic.CompareAndSwapInt32(&c.peak, peak, cur) {
			break
		}
	}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return &model.Result{Text: "ok"}, nil
}

func (c *blockingClient) WebSearchStream(context.Context, string, model.SearchSink) ([]model.SearchResult, error) {
	return nil, nil
}

func TestInflightGateBoundsConcurrency(t *testing.T) {
	base := &blockingClient{release: make(chan struct{})}
	gate := NewInflightGate(2)
	client := gate.Middleware()(base)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = client.Analyze(context.Background(), &model.Request{Parts: []model.Part{model.TextPart{Text: "x"}}})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(base.release)
	wg.Wait()
	require.LessOrEqual(t, atomic.LoadInt32(&base.peak), int32(2))
}

func TestInflightGateRespectsCancellation(t *testing.T) {
	base := &blockingClient{release: make(chan struct{})}
	gate := NewInflightGate(1)
	client := gate.Middleware()(base)

	// Occupy the only slot.
	go func() {
		_, _ = client.Analyze(context.Background(), &model.Request{})
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Analyze(ctx, &model.Request{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(base.release)
}

func TestAdaptiveRateLimiterBacksOffOnThrottle(t *testing.T) {
	base := &blockingClient{err: model.NewProviderError("anthropic", "messages.new", 429, model.KindRateLimited, "throttled", true, nil)}
	lim := NewAdaptiveRateLimiter(60000, 120000)
	client := lim.Middleware()(base)

	before := lim.currentTPM
	_, err := client.Analyze(context.Background(), &model.Request{Parts: []model.Part{model.TextPart{Text: "x"}}})
	require.Error(t, err)
	require.Less(t, lim.currentTPM, before)
}

func TestAdaptiveRateLimiterProbesOnSuccess(t *testing.T) {
	base := &blockingClient{}
	lim := NewAdaptiveRateLimiter(60000, 120000)
	client := lim.Middleware()(base)

	lim.backoff()
	lowered := lim.currentTPM
	_, err := client.Analyze(context.Background(), &model.Request{Parts: []model.Part{model.TextPart{Text: "x"}}})
	require.NoError(t, err)
	require.Greater(t, lim.currentTPM, lowered)
}

func TestEstimateTokensFloor(t *testing.T) {
	require.Equal(t, 500, estimateTokens(&model.Request{}))
	req := &model.Request{Parts: []model.Part{model.TextPart{Text: "hello world, a short request"}}}
	require.Greater(t, estimateTokens(req), 500)
}
