package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Expiry drops the session on a cron schedule. The broker invalidates
// every access token once a day, so holding one past that point only
// produces failed calls.
type Expiry struct {
	Cron    *cron.Cron
	manager *Manager
	logger  zerolog.Logger
}

// NewExpiry parses spec with a seconds field; a CRON_TZ= prefix is honoured.
func NewExpiry(spec string, manager *Manager, logger zerolog.Logger) (*Expiry, error) {
	e := &Expiry{
		Cron:    cron.New(cron.WithSeconds()),
		manager: manager,
		logger:  logger,
	}
	if _, err := e.Cron.AddFunc(spec, func() { e.RunNow() }); err != nil {
		return nil, fmt.Errorf("register token expiry: %w", err)
	}
	return e, nil
}

func (e *Expiry) Start() {
	e.Cron.Start()
	e.logger.Info().Msg("token expiry scheduler started")
}

// Stop waits for a running sweep to finish or ctx to end.
func (e *Expiry) Stop(ctx context.Context) error {
	done := e.Cron.Stop()
	select {
	case <-done.Done():
		e.logger.Info().Msg("token expiry scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow performs one sweep immediately and reports whether a session was
// dropped.
func (e *Expiry) RunNow() bool {
	if e.manager.Expire("token expired") {
		e.logger.Info().Msg("broker token expired, session cleared")
		return true
	}
	return false
}
