package webchat

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/go-go-golems/chat2k/pkg/chat"
)

// State is where a session is in its lifecycle.
type State int

const (
	StateAnonymous State = iota
	StateIdentified
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionOptions tune every session a supervisor creates.
type SessionOptions struct {
	HistoryLimit     int
	PresenceInterval time.Duration
	SendBuffer       int
	WriteTimeout     time.Duration
	MaxMessageLength int
	// RateLimit is messages per second; zero disables limiting.
	RateLimit rate.Limit
	RateBurst int
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		HistoryLimit:     100,
		PresenceInterval: 3 * time.Second,
		SendBuffer:       64,
		WriteTimeout:     10 * time.Second,
		MaxMessageLength: 2000,
		RateLimit:        5,
		RateBurst:        10,
	}
}

func (o SessionOptions) withDefaults() SessionOptions {
	d := DefaultSessionOptions()
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	if o.PresenceInterval <= 0 {
		o.PresenceInterval = d.PresenceInterval
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = d.MaxMessageLength
	}
	if o.RateLimit > 0 && o.RateBurst <= 0 {
		o.RateBurst = 1
	}
	return o
}

// Session binds one transport connection to the presence registry and the
// broadcaster. Its read loop is the only goroutine that publishes on its
// behalf, which keeps a sender's messages in submission order.
type Session struct {
	id      string
	sv      *Supervisor
	conn    Conn
	opts    SessionOptions
	log     zerolog.Logger
	out     *outbox

	mu          sync.Mutex
	state       State
	userID      string
	name        string
	historySent bool
	pending     []chat.Message
}

var _ chat.Recipient = &Session{}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID is empty until the session is identified.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Deliver queues a message frame. Messages arriving before the history
// frame went out are held back and sent right after it, minus any the
// history already contained.
func (s *Session) Deliver(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if !s.historySent {
		s.pending = append(s.pending, m)
		return
	}
	s.sendLocked(encodeMessage(m))
}

func (s *Session) sendLocked(data []byte, err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("encoding frame failed")
		return
	}
	s.out.enqueue(data)
}

func (s *Session) send(data []byte, err error) {
	if err != nil {
		s.log.Error().Err(err).Msg("encoding frame failed")
		return
	}
	s.out.enqueue(data)
}

func (s *Session) reject(code string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.log.Debug().Str("code", code).Err(err).Msg("rejecting inbound event")
	if s.sv.metrics != nil {
		s.sv.metrics.FrameRejected(code)
	}
	s.send(encodeError(code, msg))
}

// run drives the session until the connection ends.
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.shutdown()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("session panicked, closing connection")
		}
	}()

	go s.out.run()
	go func() {
		select {
		case <-ctx.Done():
			s.out.drop(DropContextDone)
		case <-s.out.closed():
		}
	}()

	s.sendHistory(ctx)
	go s.announcePresence(ctx)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Debug().Err(err).Msg("ws read loop end")
			return
		}
		s.handleFrame(ctx, data)
	}
}

func (s *Session) sendHistory(ctx context.Context) {
	hist := s.sv.broadcaster.History(ctx, s.opts.HistoryLimit)
	seen := make(map[string]struct{}, len(hist))
	for _, m := range hist {
		seen[m.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendLocked(encodeHistory(chat.Chronological(hist)))
	for _, m := range s.pending {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		s.sendLocked(encodeMessage(m))
	}
	s.pending = nil
	s.historySent = true
}

// announcePresence sends the registry snapshot every interval, identified
// or not, until ctx ends.
func (s *Session) announcePresence(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PresenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.out.closed():
			return
		case <-ticker.C:
			s.send(encodePresence(s.sv.presence.Snapshot()))
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, data []byte) {
	ev, err := DecodeEvent(data)
	if err != nil {
		code := CodeBadRequest
		if errors.Is(err, ErrUnknownEvent) {
			code = CodeUnknownEvent
		}
		s.reject(code, err)
		return
	}
	switch e := ev.(type) {
	case IdentifyEvent:
		s.identify(ctx, e.UserID)
	case SendMessageEvent:
		s.sendMessage(ctx, e.Body)
	case PingEvent:
		s.send(encodePong())
	}
}

func (s *Session) identify(ctx context.Context, userID string) {
	u, err := s.sv.auth.LookupByID(ctx, userID)
	if err != nil {
		s.log.Info().Err(err).Str("user_id", userID).Msg("identify rejected, session stays as it was")
		s.reject(CodeIdentifyRejected, errors.New("unknown user"))
		return
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	prev := s.userID
	s.userID = u.ID
	s.name = u.Username
	s.state = StateIdentified
	s.mu.Unlock()

	if prev != "" && prev != u.ID {
		s.sv.presence.LeaveAs(prev, s.id)
	}
	s.sv.presence.JoinAs(u.ID, u.Username, s.id)
	s.sv.observePresence()
	s.log.Info().Str("user_id", u.ID).Str("name", u.Username).Msg("session identified")
	s.send(encodeIdentified(u.ID, u.Username))
}

func (s *Session) sendMessage(ctx context.Context, body string) {
	s.mu.Lock()
	state, userID, name := s.state, s.userID, s.name
	s.mu.Unlock()

	if state != StateIdentified {
		s.reject(CodeNotIdentified, errors.New("identify before sending messages"))
		return
	}
	body = strings.TrimSpace(body)
	if body == "" {
		s.reject(CodeEmptyBody, chat.ErrEmptyBody)
		return
	}
	if n := utf8.RuneCountInString(body); n > s.opts.MaxMessageLength {
		s.reject(CodeMessageTooLong, errors.Errorf("message has %d characters, limit is %d", n, s.opts.MaxMessageLength))
		return
	}
	if !s.sv.allowSend(userID) {
		s.reject(CodeRateLimited, errors.New("slow down"))
		return
	}

	msg, err := s.sv.broadcaster.Publish(ctx, s, body, name)
	switch {
	case errors.Is(err, chat.ErrNotPersisted):
		s.log.Warn().Str("message_id", msg.ID).Msg("message delivered without being persisted")
	case err != nil:
		s.log.Error().Err(err).Msg("publish failed")
	}
}

func (s *Session) shutdown() {
	s.out.drop(DropReadClosed)

	s.mu.Lock()
	userID := s.userID
	s.state = StateClosed
	s.pending = nil
	s.mu.Unlock()

	if userID != "" {
		s.sv.presence.LeaveAs(userID, s.id)
		s.sv.observePresence()
	}
	s.log.Info().Msg("ws disconnected")
}
