package session

import (
	"context"
	"time"

	"github.com/flowclip/flowclip/runtime/bus"
)

// Sweep expires every active or inactive session idle past the configured
// timeout, cancelling their research and emitting a session-updated event
// per transition. Expired sessions never reactivate; a later matching item
// starts a new session.
func (e *Engine) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-e.opts.IdleTimeout)
	expired, err := e.store.ExpireIdleSessions(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, sess := range expired {
		e.CancelResearch(sess.ID)
		members, err := e.store.GetSessionMembersOrdered(ctx, sess.ID)
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
	}
	return nil
}

// RunSweeper runs the periodic expiration sweep until the context is
// cancelled. Sweep errors are logged and the loop continues.
func (e *Engine) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(e.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error(ctx, "session sweep", "err", err)
			}
		}
	}
}
