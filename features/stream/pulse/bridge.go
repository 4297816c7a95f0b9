package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/flowclip/flowclip/runtime/bus"
	"github.com/flowclip/flowclip/runtime/telemetry"
)

// bridgeBuffer bounds the in-process buffer between the bus and Redis.
// Publishers block when the buffer is full; events are never dropped.
const bridgeBuffer = 32

type (
	// BridgeOptions configures the event bridge.
	BridgeOptions struct {
		// Client is the Pulse client. Required.
		Client Client
		// StreamName is the Pulse stream receiving the events. Defaults to
		// "flowclip_events".
		StreamName string
		// Logger defaults to a no-op logger.
		Logger telemetry.Logger
	}

	// Bridge subscribes to the in-process bus and republishes every event as
	// a JSON envelope on a Pulse stream. Register it on the bus with
	// bus.Register(bridge) and Close it on shutdown to flush the buffer.
	Bridge struct {
		stream Stream
		logger telemetry.Logger

		buf  chan bus.Envelope
		done chan struct{}
		once sync.Once
	}
)

// NewBridge constructs the bridge and starts its forwarding goroutine.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.StreamName
	if name == "" {
		name = "flowclip_events"
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	stream, err := opts.Client.Stream(name)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		stream: stream,
		logger: logger,
		buf:    make(chan bus.Envelope, bridgeBuffer),
		done:   make(chan struct{}),
	}
	go b.forward()
	return b, nil
}

// HandleEvent implements bus.Subscriber: the event envelope is queued for
// forwarding. The call blocks when the buffer is full so event order is
// preserved under backpressure.
func (b *Bridge) HandleEvent(ctx context.Context, event bus.Event) error {
	select {
	case b.buf <- bus.Envelop(event):
		return nil
	case <-b.done:
		return errors.New("event bridge is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// forward drains the buffer onto the Pulse stream. Publish failures are
// logged and the event is dropped from the external stream only; in-process
// consumers are unaffected.
func (b *Bridge) forward() {
	for {
		select {
		case <-b.done:
			for {
				select {
				case env := <-b.buf:
					b.publish(env)
				default:
					return
				}
			}
		case env := <-b.buf:
			b.publish(env)
		}
	}
}

func (b *Bridge) publish(env bus.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.Warn(context.Background(), "encode event envelope", "type", string(env.Type), "err", err)
		return
	}
	if _, err := b.stream.Add(context.Background(), string(env.Type), payload); err != nil {
		b.logger.Warn(context.Background(), "forward event to pulse", "type", string(env.Type), "err", err)
	}
}

// Close signals the forwarding goroutine to publish the events still buffered
// and then stop. It returns without waiting for that flush to finish.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
}
