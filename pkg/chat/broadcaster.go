// Package chat stamps, persists and fans out chat messages.
package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat2k/pkg/persistence/chatstore"
)

var (
	ErrEmptyBody    = errors.New("chat: message body is empty")
	ErrNotPersisted = errors.New("chat: message delivered but not persisted")
)

// Recipient is a live connection that can take a message. Deliver must not
// block on the network.
type Recipient interface {
	ID() string
	Deliver(Message)
}

// RecipientSet yields the connections live at the time of the call.
type RecipientSet interface {
	Live() []Recipient
}

// Store is the slice of the store adapter the broadcaster needs.
type Store interface {
	Insert(ctx context.Context, table string, rec chatstore.Record) error
	RecentByTime(ctx context.Context, table string, limit int) ([]chatstore.Record, error)
}

// PublishObserver receives one call per published message.
type PublishObserver interface {
	ObservePublish(persisted bool, recipients int)
}

type BroadcasterOption func(*Broadcaster)

func WithMirror(m Mirror) BroadcasterOption {
	return func(b *Broadcaster) { b.mirror = m }
}

func WithPublishObserver(o PublishObserver) BroadcasterOption {
	return func(b *Broadcaster) { b.observer = o }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BroadcasterOption {
	return func(b *Broadcaster) { b.now = now }
}

type Broadcaster struct {
	store      Store
	recipients RecipientSet
	mirror     Mirror
	observer   PublishObserver
	now        func() time.Time

	clockMu sync.Mutex
	lastTs  int64
}

func NewBroadcaster(store Store, recipients RecipientSet, opts ...BroadcasterOption) (*Broadcaster, error) {
	if store == nil {
		return nil, errors.New("chat: store is nil")
	}
	if recipients == nil {
		return nil, errors.New("chat: recipient set is nil")
	}
	b := &Broadcaster{store: store, recipients: recipients, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// nextTimestamp never goes backwards, even if the wall clock does.
func (b *Broadcaster) nextTimestamp() int64 {
	b.clockMu.Lock()
	defer b.clockMu.Unlock()
	ts := b.now().UnixMilli()
	if ts < b.lastTs {
		ts = b.lastTs
	}
	b.lastTs = ts
	return ts
}

// Publish stamps body, persists it and delivers it to origin first, then to
// every other live recipient. A store failure does not stop delivery; it is
// reported as an error wrapping ErrNotPersisted next to the delivered message.
func (b *Broadcaster) Publish(ctx context.Context, origin Recipient, body, from string) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, ErrEmptyBody
	}
	msg := Message{
		ID:        uuid.NewString(),
		Body:      body,
		From:      from,
		Timestamp: b.nextTimestamp(),
	}

	persistErr := b.persist(ctx, msg)
	if persistErr != nil {
		log.Error().Err(persistErr).Str("component", "broadcaster").Str("message_id", msg.ID).
			Msg("persisting message failed, delivering anyway")
	}

	delivered := b.fanOut(origin, msg)
	if b.mirror != nil {
		if err := b.mirror.Mirror(ctx, msg); err != nil {
			log.Warn().Err(err).Str("component", "broadcaster").Str("message_id", msg.ID).Msg("mirroring message failed")
		}
	}
	if b.observer != nil {
		b.observer.ObservePublish(persistErr == nil, delivered)
	}
	if persistErr != nil {
		return msg, errors.Wrap(ErrNotPersisted, persistErr.Error())
	}
	return msg, nil
}

func (b *Broadcaster) persist(ctx context.Context, msg Message) error {
	rec, err := msg.toRecord()
	if err != nil {
		return err
	}
	return b.store.Insert(ctx, chatstore.TableMessages, rec)
}

func (b *Broadcaster) fanOut(origin Recipient, msg Message) int {
	n := 0
	originID := ""
	if origin != nil {
		originID = origin.ID()
		origin.Deliver(msg)
		n++
	}
	for _, r := range b.recipients.Live() {
		if r == nil || (originID != "" && r.ID() == originID) {
			continue
		}
		r.Deliver(msg)
		n++
	}
	return n
}

// History returns up to limit most recent messages, newest first. Read
// failures yield an empty slice.
func (b *Broadcaster) History(ctx context.Context, limit int) []Message {
	msgs, err := LoadHistory(ctx, b.store, limit)
	if err != nil {
		log.Warn().Err(err).Str("component", "broadcaster").Msg("reading history failed, serving empty history")
		return []Message{}
	}
	return msgs
}

// LoadHistory reads up to limit most recent messages from store, newest
// first. Undecodable records are skipped.
func LoadHistory(ctx context.Context, store Store, limit int) ([]Message, error) {
	if store == nil {
		return nil, errors.New("chat: store is nil")
	}
	if limit <= 0 {
		return []Message{}, nil
	}
	recs, err := store.RecentByTime(ctx, chatstore.TableMessages, limit)
	if err != nil {
		return nil, errors.Wrap(err, "chat: load history")
	}
	out := make([]Message, 0, len(recs))
	for _, rec := range recs {
		m, err := messageFromRecord(rec)
		if err != nil {
			log.Warn().Err(err).Str("component", "broadcaster").Str("record_id", rec.ID).Msg("skipping undecodable history record")
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
