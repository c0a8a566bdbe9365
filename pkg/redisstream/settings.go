// Package redisstream builds watermill publishers and subscribers on Redis
// Streams for mirroring chat messages across processes.
package redisstream

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Settings holds the Redis Streams mirror configuration.
type Settings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "chat2k",
		Consumer: "chat2k-1",
	}
}

func (s Settings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("redisstream: addr is required when enabled")
	}
	if strings.TrimSpace(s.Group) == "" || strings.TrimSpace(s.Consumer) == "" {
		return errors.New("redisstream: group and consumer are required when enabled")
	}
	return nil
}

func (s Settings) RedisOptions() *redis.Options {
	return &redis.Options{Addr: s.Addr, Password: s.Password, DB: s.DB}
}
