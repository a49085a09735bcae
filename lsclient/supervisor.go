package lsclient

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Supervisor keeps a connection to one server alive, redialing after every
// disconnect. Each successful dial produces a new Session.
type Supervisor struct {
	Transport  Transport
	Init       InitOptions
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Log        *slog.Logger
}

// Run dials until ctx is done. onHandle is called with every new handle
// before it resolves, so the caller can wait on it alongside the
// supervisor.
func (s *Supervisor) Run(ctx context.Context, onHandle func(*Handle)) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	minBackoff, maxBackoff := s.MinBackoff, s.MaxBackoff
	if minBackoff <= 0 {
		minBackoff = defaultMinBackoff
	}
	if maxBackoff < minBackoff {
		maxBackoff = max(defaultMaxBackoff, minBackoff)
	}

	backoff := minBackoff
	for {
		h := Dial(ctx, s.Transport, s.Init, log)
		onHandle(h)

		session, err := h.Wait(ctx)
		if ctx.Err() != nil {
			if session != nil {
				session.Close()
			}
			return ctx.Err()
		}

		if err == nil {
			backoff = minBackoff
			select {
			case <-session.DisconnectNotify():
				log.Warn("language server disconnected", "sessionId", session.ID())
				session.Close()
			case <-ctx.Done():
				session.Close()
				return ctx.Err()
			}
		}

		log.Info("reconnecting", "transport", s.Transport.String(), "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
