package chat

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chat2k/pkg/persistence/chatstore"
)

// Message is an immutable chat line. Timestamp is milliseconds since epoch,
// assigned by the server on receipt.
type Message struct {
	ID        string `json:"id"`
	Body      string `json:"body"`
	From      string `json:"from"`
	Timestamp int64  `json:"timestamp"`
}

func (m Message) toRecord() (chatstore.Record, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return chatstore.Record{}, errors.Wrap(err, "chat: encode message")
	}
	return chatstore.Record{ID: m.ID, CreatedAtMs: m.Timestamp, Body: body}, nil
}

func messageFromRecord(rec chatstore.Record) (Message, error) {
	var m Message
	if err := json.Unmarshal(rec.Body, &m); err != nil {
		return Message{}, errors.Wrapf(err, "chat: decode message %s", rec.ID)
	}
	if m.ID == "" {
		m.ID = rec.ID
	}
	if m.Timestamp == 0 {
		m.Timestamp = rec.CreatedAtMs
	}
	return m, nil
}

// Chronological returns a copy of msgs in reverse order. History is read
// newest first; peers display it oldest first.
func Chronological(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
