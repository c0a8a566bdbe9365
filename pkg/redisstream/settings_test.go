package redisstream

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chat2k/pkg/chat"
)

func TestSettings_Validate(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())

	s.Enabled = true
	require.NoError(t, s.Validate())

	s.Addr = " "
	require.Error(t, s.Validate())

	s = DefaultSettings()
	s.Enabled = true
	s.Consumer = ""
	require.Error(t, s.Validate())

	opts := DefaultSettings().RedisOptions()
	require.Equal(t, "localhost:6379", opts.Addr)
}

func TestBuild_RequiresEnabled(t *testing.T) {
	_, _, err := Build(DefaultSettings())
	require.Error(t, err)
}

func TestBuild_MirrorRoundTrip(t *testing.T) {
	addr := os.Getenv("CHAT2K_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CHAT2K_TEST_REDIS_ADDR not set")
	}
	s := DefaultSettings()
	s.Enabled = true
	s.Addr = addr
	s.Group = "chat2k-test-" + time.Now().Format("150405.000000")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	topic := "chat2k.test." + s.Group
	require.NoError(t, EnsureGroupAtTail(ctx, s, topic))
	require.NoError(t, EnsureGroupAtTail(ctx, s, topic))

	pub, sub, err := Build(s)
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()
	defer func() { _ = sub.Close() }()

	got := make(chan chat.Message, 1)
	go func() {
		_ = chat.ConsumeMirror(ctx, sub, topic, func(m chat.Message) { got <- m })
	}()

	mirror, err := chat.NewWatermillMirror(pub, topic)
	require.NoError(t, err)
	require.NoError(t, mirror.Mirror(ctx, chat.Message{ID: "m1", Body: "hi", From: "alice", Timestamp: 1}))

	select {
	case m := <-got:
		require.Equal(t, "hi", m.Body)
	case <-ctx.Done():
		t.Fatal("mirrored message not received")
	}
}
