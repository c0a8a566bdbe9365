package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/chat2k/pkg/config"
	"github.com/go-go-golems/chat2k/pkg/persistence/chatstore"
)

// openBackend opens the configured message store backend.
func openBackend(ctx context.Context, s config.Settings) (chatstore.Backend, error) {
	switch s.Store.Backend {
	case config.BackendSQLite:
		dsn, err := chatstore.SQLiteDSNForFile(s.Store.DSN)
		if err != nil {
			return nil, err
		}
		return chatstore.NewSQLiteBackend(dsn)
	case config.BackendRedis:
		return chatstore.NewRedisBackend(ctx, s.Redis.RedisOptions(), s.Store.RedisPrefix)
	case config.BackendMemory:
		return chatstore.NewInMemoryBackend(s.Store.MaxRecords), nil
	default:
		return nil, errors.Errorf("unknown store backend %q", s.Store.Backend)
	}
}

func usersDSN(s config.Settings) (string, error) {
	return chatstore.SQLiteDSNForFile(s.UsersDSN())
}
