package chat

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultMirrorTopic is where published messages are mirrored.
const DefaultMirrorTopic = "chat.messages"

// Mirror copies published messages to an out-of-band sink.
type Mirror interface {
	Mirror(ctx context.Context, msg Message) error
}

// WatermillMirror publishes each message as JSON on a watermill topic.
type WatermillMirror struct {
	pub   message.Publisher
	topic string
}

func NewWatermillMirror(pub message.Publisher, topic string) (*WatermillMirror, error) {
	if pub == nil {
		return nil, errors.New("chat mirror: publisher is nil")
	}
	if topic == "" {
		topic = DefaultMirrorTopic
	}
	return &WatermillMirror{pub: pub, topic: topic}, nil
}

func (m *WatermillMirror) Mirror(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "chat mirror: encode")
	}
	wm := message.NewMessage(msg.ID, payload)
	if ctx != nil {
		wm.SetContext(ctx)
	}
	if err := m.pub.Publish(m.topic, wm); err != nil {
		return errors.Wrapf(err, "chat mirror: publish to %s", m.topic)
	}
	return nil
}

// ConsumeMirror reads mirrored messages from topic and hands each to handle
// until ctx is done or the subscription closes. Undecodable payloads are
// acked and skipped.
func ConsumeMirror(ctx context.Context, sub message.Subscriber, topic string, handle func(Message)) error {
	if sub == nil {
		return errors.New("chat mirror: subscriber is nil")
	}
	if topic == "" {
		topic = DefaultMirrorTopic
	}
	ch, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "chat mirror: subscribe to %s", topic)
	}
	for wm := range ch {
		var msg Message
		if err := json.Unmarshal(wm.Payload, &msg); err != nil {
			log.Warn().Err(err).Str("component", "mirror").Str("uuid", wm.UUID).Msg("failed to decode mirrored message")
			wm.Ack()
			continue
		}
		if handle != nil {
			handle(msg)
		}
		wm.Ack()
	}
	return nil
}

// LogMirrored is a ConsumeMirror handler writing each message to the log.
func LogMirrored(msg Message) {
	log.Info().Str("component", "mirror").Str("message_id", msg.ID).Str("from", msg.From).
		Int64("timestamp", msg.Timestamp).Int("body_len", len(msg.Body)).Msg("chat message")
}
