package marketdata

import (
	"context"
	"time"

	"algodesk/internal/session"
	"algodesk/internal/types"
)

const followStopTimeout = 10 * time.Second

// SessionSource reports session transitions.
type SessionSource interface {
	Subscribe(fn func(session.Transition))
}

// FollowSession ties the poller to the session: it polls only while the
// session is Authenticated. Every transition is also published on the bus.
// Register it before restoring a persisted session so that one starts
// polling too.
func (p *Poller) FollowSession(ctx context.Context, src SessionSource) {
	src.Subscribe(func(t session.Transition) {
		if p.bus != nil {
			p.bus.Publish(Event{Type: EventSession, Data: t})
		}
		if t.To == types.SessionAuthenticated {
			if err := p.Start(ctx); err != nil {
				p.logger.Error().Err(err).Msg("start poller")
			}
			return
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), followStopTimeout)
		defer cancel()
		if err := p.Stop(stopCtx); err != nil {
			p.logger.Warn().Err(err).Str("state", string(t.To)).Msg("stop poller")
		}
	})
}
