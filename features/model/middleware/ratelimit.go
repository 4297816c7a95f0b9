// Package middleware provides reusable model.Client middlewares: a global
// inflight gate that makes violating requests wait rather than fail, and an
// adaptive tokens-per-minute limiter. The package has no retry middleware;
// the workflow runtime retries classified failures per node. Middlewares sit
// at the provider client boundary; construct them
// once per process and wrap the underlying client before handing it to the
// workflow runtime.
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/flowclip/flowclip/runtime/model"
)

type (
	// InflightGate bounds the number of concurrent model requests across the
	// whole process. Callers over the limit block until a slot frees; they
	// never fail because of the gate.
	InflightGate struct {
		slots chan struct{}
	}

	gatedClient struct {
		next model.Client
		gate *InflightGate
	}

	// AdaptiveRateLimiter applies an AIMD-style adaptive token bucket on top
	// of a model.Client. It estimates the token cost of each request, blocks
	// callers until capacity is available, and adjusts its effective
	// tokens-per-minute budget in response to rate-limiting signals from the
	// provider: halve on throttle, creep back up on success.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64

		recoveryRate float64
	}

	limitedClient struct {
		next    model.Client
		limiter *AdaptiveRateLimiter
	}
)

// NewInflightGate constructs a gate admitting at most maxInflight concurrent
// requests. Values below one are clamped to one.
func NewInflightGate(maxInflight int) *InflightGate {
	if maxInflight < 1 {
		maxInflight = 1
	}
	return &InflightGate{slots: make(chan struct{}, maxInflight)}
}

// Middleware returns a model.Client middleware that enforces the gate for
// both Analyze and WebSearchStream calls.
func (g *InflightGate) Middleware() model.Middleware {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &gatedClient{next: next, gate: g}
	}
}

func (g *InflightGate) acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *InflightGate) release() {
	<-g.slots
}

// Analyze waits for a slot before delegating to the underlying client.
func (c *gatedClient) Analyze(ctx context.Context, req *model.Request) (*model.Result, error) {
	if err := c.gate.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.gate.release()
	return c.next.Analyze(ctx, req)
}

// WebSearchStream waits for a slot before delegating to the underlying client.
func (c *gatedClient) WebSearchStream(ctx context.Context, query string, sink model.SearchSink) ([]model.SearchResult, error) {
	if err := c.gate.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.gate.release()
	return c.next.WebSearchStream(ctx, query, sink)
}

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter with an initial
// tokens-per-minute budget and an upper bound. When maxTPM is zero or less
// than initialTPM, it is clamped to initialTPM.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		// Default to a conservative budget when callers do not provide one.
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	lim := rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM))

	return &AdaptiveRateLimiter{
		limiter:      lim,
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Middleware returns a model.Client middleware that enforces the adaptive
// tokens-per-minute limit for Analyze calls. Web searches are not token
// metered; they pass through and still feed the AIMD signal.
func (l *AdaptiveRateLimiter) Middleware() model.Middleware {
	return func(next model.Client) model.Client {
		if next == nil {
			return nil
		}
		return &limitedClient{next: next, limiter: l}
	}
}

// Analyze enforces the limiter before delegating to the underlying client.
func (c *limitedClient) Analyze(ctx context.Context, req *model.Request) (*model.Result, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.next.Analyze(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

// WebSearchStream delegates to the underlying client and feeds the outcome
// back into the limiter.
func (c *limitedClient) WebSearchStream(ctx context.Context, query string, sink model.SearchSink) ([]model.SearchResult, error) {
	results, err := c.next.WebSearchStream(ctx, query, sink)
	c.limiter.observe(err)
	return results, err
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, req *model.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if pe, ok := model.AsProviderError(err); ok && pe.Kind() == model.KindRateLimited {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

func (l *AdaptiveRateLimiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// estimateTokens computes a cheap heuristic for the number of tokens in the
// request. It counts characters in text parts, converts them to tokens using
// a fixed ratio, and adds a small buffer for the system prompt and provider
// framing.
func estimateTokens(req *model.Request) int {
	charCount := len(req.System)
	for _, p := range req.Parts {
		if v, ok := p.(model.TextPart); ok {
			charCount += len(v.Text)
		}
	}
	if charCount <= 0 {
		// Minimal non-zero estimate so callers still incur limiter costs even
		// when requests are extremely small.
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}
