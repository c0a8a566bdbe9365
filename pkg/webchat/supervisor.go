package webchat

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/go-go-golems/chat2k/pkg/auth"
	"github.com/go-go-golems/chat2k/pkg/chat"
	"github.com/go-go-golems/chat2k/pkg/presence"
)

// Metrics receives session lifecycle counts.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	FrameRejected(code string)
	PresenceSize(n int)
	ConnectionDropped(reason string)
}

// Identities is the part of the authenticator a session needs.
type Identities interface {
	LookupByID(ctx context.Context, id string) (auth.User, error)
}

type SupervisorConfig struct {
	Store      chat.Store
	Identities Identities
	// Presence defaults to a fresh registry.
	Presence           *presence.Registry
	Metrics            Metrics
	BroadcasterOptions []chat.BroadcasterOption
	Session            SessionOptions
}

// Supervisor owns the live sessions. It is the broadcaster's recipient set.
type Supervisor struct {
	auth        Identities
	presence    *presence.Registry
	broadcaster *chat.Broadcaster
	metrics     Metrics
	opts        SessionOptions

	mu       sync.RWMutex
	sessions map[string]*Session

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ chat.RecipientSet = &Supervisor{}

func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Identities == nil {
		return nil, errors.New("webchat: identities are nil")
	}
	reg := cfg.Presence
	if reg == nil {
		reg = presence.NewRegistry()
	}
	sv := &Supervisor{
		auth:     cfg.Identities,
		presence: reg,
		metrics:  cfg.Metrics,
		opts:     cfg.Session.withDefaults(),
		sessions: map[string]*Session{},
		limiters: map[string]*rate.Limiter{},
	}
	b, err := chat.NewBroadcaster(cfg.Store, sv, cfg.BroadcasterOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "webchat: build broadcaster")
	}
	sv.broadcaster = b
	return sv, nil
}

func (sv *Supervisor) Presence() *presence.Registry { return sv.presence }

func (sv *Supervisor) Broadcaster() *chat.Broadcaster { return sv.broadcaster }

func (sv *Supervisor) newSession(conn Conn) *Session {
	id := uuid.NewString()
	l := log.With().Str("component", "webchat").Str("session_id", id).Logger()
	var onDrop func(string)
	if sv.metrics != nil {
		onDrop = sv.metrics.ConnectionDropped
	}
	return &Session{
		id:    id,
		sv:    sv,
		conn:  conn,
		opts:  sv.opts,
		log:   l,
		out:   newOutbox(conn, sv.opts.SendBuffer, sv.opts.WriteTimeout, l, onDrop),
		state: StateAnonymous,
	}
}

// allowSend takes one token from the user's send budget. Every session of a
// user shares the same limiter.
func (sv *Supervisor) allowSend(userID string) bool {
	if sv.opts.RateLimit <= 0 {
		return true
	}
	sv.limitMu.Lock()
	defer sv.limitMu.Unlock()
	l, ok := sv.limiters[userID]
	if !ok {
		l = rate.NewLimiter(sv.opts.RateLimit, sv.opts.RateBurst)
		sv.limiters[userID] = l
	}
	return l.Allow()
}

// Attach runs a session on conn and blocks until the connection ends.
func (sv *Supervisor) Attach(ctx context.Context, conn Conn) {
	if conn == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s := sv.newSession(conn)
	sv.register(s)
	defer sv.unregister(s)
	s.log.Info().Msg("ws connected")
	s.run(ctx)
}

func (sv *Supervisor) register(s *Session) {
	sv.mu.Lock()
	sv.sessions[s.id] = s
	sv.mu.Unlock()
	if sv.metrics != nil {
		sv.metrics.SessionOpened()
	}
}

func (sv *Supervisor) unregister(s *Session) {
	sv.mu.Lock()
	_, ok := sv.sessions[s.id]
	delete(sv.sessions, s.id)
	sv.mu.Unlock()
	if ok && sv.metrics != nil {
		sv.metrics.SessionClosed()
	}
}

// Live returns the sessions registered right now.
func (sv *Supervisor) Live() []chat.Recipient {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	out := make([]chat.Recipient, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		out = append(out, s)
	}
	return out
}

func (sv *Supervisor) Count() int {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return len(sv.sessions)
}

// CloseAll drops every connection. Each Attach returns once its read loop
// notices the closed socket.
func (sv *Supervisor) CloseAll() {
	sv.mu.RLock()
	sessions := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.mu.RUnlock()
	for _, s := range sessions {
		s.out.drop(DropShutdown)
	}
	log.Info().Int("sessions", len(sessions)).Msg("closed all websocket sessions")
}

func (sv *Supervisor) observePresence() {
	if sv.metrics != nil {
		sv.metrics.PresenceSize(sv.presence.Len())
	}
}
