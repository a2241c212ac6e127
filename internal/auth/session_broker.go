package auth

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/realtime"
	"github.com/MarcoPoloResearchLab/ecocarbon/internal/views"
	"go.uber.org/zap"
)

var (
	errMissingResolver = errors.New("session resolver is required")
	errMissingEvents   = errors.New("session event source is required")
)

// SessionResolver turns validated claims into the signed-in principal.
type SessionResolver interface {
	Resolve(ctx context.Context, claims SessionClaims) (Principal, error)
}

// SessionEvents opens a per-user event stream filtered to the given event types.
type SessionEvents interface {
	Subscribe(ctx context.Context, userID string, eventTypes ...string) (<-chan realtime.Message, func())
}

// SessionBrokerConfig wires a SessionBroker.
type SessionBrokerConfig struct {
	Resolver SessionResolver
	Events   SessionEvents
	Logger   *zap.Logger
}

// SessionSnapshot is one observation of a session. Principal is set only when the session
// is present.
type SessionSnapshot struct {
	Session   views.Session
	Principal Principal
}

// SessionBroker observes a signed-in session and re-resolves it whenever a session event is
// published for its user, so role and activation changes reach open clients.
type SessionBroker struct {
	resolver SessionResolver
	events   SessionEvents
	logger   *zap.Logger
}

func NewSessionBroker(cfg SessionBrokerConfig) (*SessionBroker, error) {
	if cfg.Resolver == nil {
		return nil, errMissingResolver
	}
	if cfg.Events == nil {
		return nil, errMissingEvents
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionBroker{resolver: cfg.Resolver, events: cfg.Events, logger: logger}, nil
}

// Watch emits an indeterminate snapshot, then the resolved session, then a fresh snapshot
// after every session event for the claims' subject. The channel closes when ctx ends or
// after an absent snapshot has been delivered.
func (b *SessionBroker) Watch(ctx context.Context, claims SessionClaims) <-chan SessionSnapshot {
	out := make(chan SessionSnapshot, 1)
	events, cleanup := b.events.Subscribe(ctx, claims.Subject, realtime.EventSession)
	go func() {
		defer close(out)
		defer cleanup()
		if !deliver(ctx, out, SessionSnapshot{Session: views.Session{Status: views.SessionIndeterminate}}) {
			return
		}
		for {
			snapshot := b.resolve(ctx, claims)
			if !deliver(ctx, out, snapshot) || snapshot.Session.Status == views.SessionAbsent {
				return
			}
			if !awaitSessionEvent(ctx, events) {
				return
			}
		}
	}()
	return out
}

func (b *SessionBroker) resolve(ctx context.Context, claims SessionClaims) SessionSnapshot {
	principal, err := b.resolver.Resolve(ctx, claims)
	if err == nil {
		return SessionSnapshot{Session: principal.ViewSession(), Principal: principal}
	}
	var authErr *apperrors.AuthError
	if errors.As(err, &authErr) {
		return SessionSnapshot{Session: views.Session{Status: views.SessionAbsent}}
	}
	if ctx.Err() == nil {
		b.logger.Warn("session resolution failed", zap.String("user_id", claims.Subject), zap.Error(err))
	}
	return SessionSnapshot{Session: views.Session{Status: views.SessionIndeterminate, UserID: claims.Subject}}
}

func awaitSessionEvent(ctx context.Context, events <-chan realtime.Message) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-events:
			if !open {
				return false
			}
			if message.EventType == realtime.EventSession {
				return true
			}
		}
	}
}

func deliver(ctx context.Context, out chan<- SessionSnapshot, snapshot SessionSnapshot) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- snapshot:
		return true
	}
}
