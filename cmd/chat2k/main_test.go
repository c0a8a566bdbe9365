package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chat2k/pkg/chat"
	"github.com/go-go-golems/chat2k/pkg/config"
	"github.com/go-go-golems/chat2k/pkg/persistence/chatstore"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error", "--log-format", "json"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

type noRecipients struct{}

func (noRecipients) Live() []chat.Recipient { return nil }

func TestRegisterUser(t *testing.T) {
	db := filepath.Join(t.TempDir(), "chat.db")

	out, err := runCLI(t, "register-user", "--store-dsn", db, "--username", "alice", "--mail", "alice@example.com", "--password", "pw")
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(out))

	_, err = runCLI(t, "register-user", "--store-dsn", db, "--username", "alice2", "--mail", "ALICE@example.com", "--password", "pw")
	require.ErrorContains(t, err, "already registered")

	_, err = runCLI(t, "register-user", "--store-dsn", db, "--username", "x", "--mail", "nope", "--password", "pw")
	require.Error(t, err)
}

func TestHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "chat.db")
	dsn, err := chatstore.SQLiteDSNForFile(db)
	require.NoError(t, err)
	backend, err := chatstore.NewSQLiteBackend(dsn)
	require.NoError(t, err)
	store, err := chatstore.NewAdapter(backend)
	require.NoError(t, err)
	b, err := chat.NewBroadcaster(store, noRecipients{})
	require.NoError(t, err)
	for _, body := range []string{"one", "two", "three"} {
		_, err := b.Publish(context.Background(), nil, body, "alice")
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	out, err := runCLI(t, "history", "--store-dsn", db, "--json", "--limit", "2")
	require.NoError(t, err)
	var msgs []chat.Message
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 2)
	require.Equal(t, "two", msgs[0].Body)
	require.Equal(t, "three", msgs[1].Body)

	out, err = runCLI(t, "history", "--store-dsn", db)
	require.NoError(t, err)
	require.Contains(t, out, "alice")
	require.Contains(t, out, "one")
}

func TestResolve_ConfigFileAndFlags(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "chat2k.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("store:\n  backend: memory\n"), 0o600))

	_, err := runCLI(t, "history", "--config", cfg)
	require.ErrorContains(t, err, "memory store")

	_, err = runCLI(t, "history", "--config", cfg, "--store-backend", "postgres")
	require.ErrorContains(t, err, "invalid settings")
}

func TestApplyServeFlags(t *testing.T) {
	cmd := newServeCommand(&app{settings: config.Default()})
	require.NoError(t, cmd.Flags().Parse([]string{"--addr", ":9999", "--presence-interval", "1s", "--rate-limit", "0", "--mirror"}))

	s := config.Default()
	require.NoError(t, applyServeFlags(cmd, &s))
	require.Equal(t, ":9999", s.Addr)
	require.Equal(t, "1s", s.Chat.PresenceInterval.String())
	require.Zero(t, s.Chat.RateLimit)
	require.True(t, s.Mirror.Enabled)
	require.Equal(t, 100, s.Chat.HistoryLimit)

	opts := sessionOptions(s)
	require.Equal(t, s.Chat.MaxMessageLength, opts.MaxMessageLength)
}
