package webchat

import (
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chat2k/pkg/chat"
)

func TestDecodeEvent(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    Event
		wantErr error
	}{
		{name: "identify", in: `{"type":"identify","user_id":" u1 "}`, want: IdentifyEvent{UserID: "u1"}},
		{name: "send", in: `{"type":"send_message","body":"hi"}`, want: SendMessageEvent{Body: "hi"}},
		{name: "send empty body is decoded", in: `{"type":"send_message","body":""}`, want: SendMessageEvent{Body: ""}},
		{name: "ping", in: `{"type":"ping"}`, want: PingEvent{}},
		{name: "not json", in: `hello`, wantErr: ErrMalformedFrame},
		{name: "array", in: `[1,2]`, wantErr: ErrMalformedFrame},
		{name: "missing type", in: `{"body":"x"}`, wantErr: ErrMalformedFrame},
		{name: "identify without id", in: `{"type":"identify"}`, wantErr: ErrMalformedFrame},
		{name: "identify blank id", in: `{"type":"identify","user_id":"  "}`, wantErr: ErrMalformedFrame},
		{name: "send without body", in: `{"type":"send_message"}`, wantErr: ErrMalformedFrame},
		{name: "unknown", in: `{"type":"typing"}`, wantErr: ErrUnknownEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tc.in))
			if tc.wantErr != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.wantErr), "got %v", err)
				require.Nil(t, ev)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, ev)
			require.Equal(t, tc.want.Type(), ev.Type())
		})
	}
}

func TestEncodeFrames(t *testing.T) {
	b, err := encodeHistory(nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"history","messages":[]}`, string(b))

	b, err = encodePresence(nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"presence","users":{}}`, string(b))

	b, err = encodeMessage(chat.Message{ID: "m1", Body: "hi", From: "alice", Timestamp: 42})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "message", decoded["type"])
	msg := decoded["message"].(map[string]any)
	require.Equal(t, "hi", msg["body"])
	require.Equal(t, "alice", msg["from"])
	require.EqualValues(t, 42, msg["timestamp"])

	b, err = encodeError(CodeNotIdentified, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"error","code":"not_identified"}`, string(b))
}
