// Package automation implements the threshold-driven webhook dispatcher: it
// watches session updates on the bus and, when a session of a configured
// type reaches its member threshold, POSTs a JSON payload to the type's
// webhook. Dispatches are rate limited per session and retried only on
// transient failures; automation outcomes never affect session state.
package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/retry"
	"github.com/flowclip/flowclip/runtime/store"
	"github.com/flowclip/flowclip/runtime/telemetry"
)

type (
	// TypeConfig configures automation for one session type.
	TypeConfig struct {
		// Enabled gates dispatch for the type.
		Enabled bool
		// TriggerThreshold is the member count at which dispatch becomes
		// eligible. Must be at least 1.
		TriggerThreshold int
		// WebhookURL receives the POST.
		WebhookURL string
		// Tasks names the automation tasks requested from the executor.
		Tasks []string
	}

	// Options configures the Dispatcher.
	Options struct {
		// Store resolves session members for the payload. Required.
		Store store.Store
		// Bus receives dispatch outcome events. Required.
		Bus bus.Bus
		// Types maps session types to their automation configuration.
		Types map[store.SessionType]TypeConfig
		// RateLimit is the minimum interval between dispatches for one
		// session. Defaults to 60 seconds.
		RateLimit time.Duration
		// RequestTimeout bounds one webhook request. Defaults to 30 seconds.
		RequestTimeout time.Duration
		// HTTPClient overrides the default client, for tests.
		HTTPClient *http.Client
		// Retry overrides the transient retry policy. Zero value uses
		// defaults.
		Retry retry.Config
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Dispatcher is a bus subscriber watching session updates.
	Dispatcher struct {
		store   store.Store
		bus     bus.Bus
		types   map[store.SessionType]TypeConfig
		window  time.Duration
		timeout time.Duration
		client  *http.Client
		retry   retry.Config
		logger  telemetry.Logger

		mu       sync.Mutex
		limiters map[string]*rate.Limiter

		wg sync.WaitGroup
	}

	// payload is the webhook wire format. Key names are part of the external
	// contract; consumers must ignore unknown fields.
	payload struct {
		SessionID         string              `json:"sessionId"`
		SessionType       string              `json:"sessionType"`
		ItemCount         int                 `json:"itemCount"`
		ExtractedEntities map[string][]string `json:"extractedEntities"`
		AutomationTasks   []string            `json:"automationTasks"`
		Timestamp         time.Time           `json:"timestamp"`
	}

	// httpStatusError carries a non-2xx webhook response status for retry
	// classification.
	httpStatusError struct {
		status int
	}
)

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("webhook returned HTTP %d", e.status)
}

// New constructs the Dispatcher and registers it on the bus.
func New(opts Options) (*Dispatcher, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	window := opts.RateLimit
	if window <= 0 {
		window = time.Minute
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	cfg := opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.Config{
			MaxAttempts:       3,
			InitialBackoff:    time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
		}
	}
	cfg.Retryable = transient
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	d := &Dispatcher{
		store:    opts.Store,
		bus:      opts.Bus,
		types:    opts.Types,
		window:   window,
		timeout:  timeout,
		client:   client,
		retry:    cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	if _, err := opts.Bus.Register(d); err != nil {
		return nil, err
	}
	return d, nil
}

// HandleEvent implements bus.Subscriber. Eligible session updates launch an
// asynchronous dispatch; everything else is ignored. Errors never propagate
// to the publisher.
func (d *Dispatcher) HandleEvent(ctx context.Context, event bus.Event) error {
	upd, ok := event.(*bus.SessionUpdated)
	if !ok {
		return nil
	}
	cfg, ok := d.types[store.SessionType(upd.Data.SessionType)]
	if !ok || !cfg.Enabled || cfg.WebhookURL == "" || cfg.TriggerThreshold < 1 {
		return nil
	}
	if upd.Data.MemberCount < cfg.TriggerThreshold {
		return nil
	}
	if !d.allow(upd.Data.SessionID) {
		// Inside the rate window: drop silently.
		return nil
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatch(context.WithoutCancel(ctx), upd.Data, cfg)
	}()
	return nil
}

// allow consults the per-session limiter: at most one dispatch per session
// per rate window.
func (d *Dispatcher) allow(sessionID string) bool {
	d.mu.Lock()
	lim, ok := d.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(d.window), 1)
		d.limiters[sessionID] = lim
	}
	d.mu.Unlock()
	return lim.Allow()
}

// dispatch builds the payload and POSTs it, retrying transient failures.
// Permanent failures emit automation-failed and are otherwise ignored.
func (d *Dispatcher) dispatch(ctx context.Context, data bus.SessionPayload, cfg TypeConfig) {
	body, itemCount, err := d.buildPayload(ctx, data, cfg)
	outcome := bus.AutomationPayload{
		SessionID:   data.SessionID,
		SessionType: data.SessionType,
		ItemCount:   itemCount,
		WebhookURL:  cfg.WebhookURL,
	}
	if err == nil {
		err = retry.Do(ctx, d.retry, func(ctx context.Context) error {
			return d.post(ctx, cfg.WebhookURL, body)
		})
	}
	if err != nil {
		d.logger.Warn(ctx, "automation dispatch failed", "session", data.SessionID, "err", err)
		d.publish(ctx, bus.NewAutomationFailed(outcome, err.Error()))
		return
	}
	d.publish(ctx, bus.NewAutomationDispatched(outcome))
}

func (d *Dispatcher) buildPayload(ctx context.Context, data bus.SessionPayload, cfg TypeConfig) ([]byte, int, error) {
	members, err := d.store.GetSessionMembersOrdered(ctx, data.SessionID)
	if err != nil {
		return nil, 0, err
	}
	entities := make([]string, 0, len(members))
	for _, m := range members {
		item, err := d.store.GetItem(ctx, m.ItemID)
		if err != nil {
			return nil, 0, err
		}
		entities = append(entities, strings.TrimSpace(item.Content))
	}
	tasks := cfg.Tasks
	if tasks == nil {
		tasks = []string{}
	}
	p := payload{
		SessionID:   data.SessionID,
		SessionType: data.SessionType,
		ItemCount:   len(members),
		ExtractedEntities: map[string][]string{
			entityKey(data.SessionType): entities,
		},
		AutomationTasks: tasks,
		Timestamp:       time.Now().UTC(),
	}
	body, err := json.Marshal(p)
	return body, len(members), err
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode}
	}
	return nil
}

// Flush waits for in-flight dispatches, for shutdown and tests.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

func (d *Dispatcher) publish(ctx context.Context, event bus.Event) {
	if err := d.bus.Publish(ctx, event); err != nil {
		d.logger.Warn(ctx, "publish automation event", "err", err)
	}
}

// transient classifies webhook failures: network errors and 5xx/429 retry,
// other HTTP statuses do not.
func transient(err error) bool {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Context cancellation is final; other transport errors may recover.
	return !errors.Is(err, context.Canceled)
}

// entityKey pluralizes the session type stem for the payload
// ("hotel_research" becomes "hotels").
func entityKey(sessionType string) string {
	stem := strings.TrimSuffix(sessionType, "_research")
	if stem == "" || stem == "general" {
		return "entities"
	}
	return stem + "s"
}
