// Package config loads chat2k server settings from YAML.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chat2k/pkg/logging"
	"github.com/go-go-golems/chat2k/pkg/redisstream"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Settings struct {
	Addr   string               `yaml:"addr"`
	Log    logging.Settings     `yaml:"log"`
	Store  StoreSettings        `yaml:"store"`
	Chat   ChatSettings         `yaml:"chat"`
	Mirror MirrorSettings       `yaml:"mirror"`
	Redis  redisstream.Settings `yaml:"redis"`
}

type StoreSettings struct {
	Backend string `yaml:"backend"`
	// DSN is a sqlite file path or DSN for the message store.
	DSN string `yaml:"dsn"`
	// UsersDSN defaults to DSN.
	UsersDSN    string        `yaml:"users-dsn"`
	OpTimeout   time.Duration `yaml:"op-timeout"`
	RedisPrefix string        `yaml:"redis-prefix"`
	MaxRecords  int           `yaml:"max-records"`
}

type ChatSettings struct {
	HistoryLimit     int           `yaml:"history-limit"`
	PresenceInterval time.Duration `yaml:"presence-interval"`
	SendBuffer       int           `yaml:"send-buffer"`
	WriteTimeout     time.Duration `yaml:"write-timeout"`
	MaxMessageLength int           `yaml:"max-message-length"`
	RateLimit        float64       `yaml:"rate-limit"`
	RateBurst        int           `yaml:"rate-burst"`
}

// MirrorSettings control copying published messages to a watermill topic.
// The transport is Redis Streams when redis.enabled is set, in-process
// gochannel otherwise.
type MirrorSettings struct {
	Enabled bool   `yaml:"enabled"`
	Topic   string `yaml:"topic"`
	Log     bool   `yaml:"log"`
}

func Default() Settings {
	return Settings{
		Addr: ":8000",
		Log:  logging.Settings{Level: "info", Format: logging.FormatAuto},
		Store: StoreSettings{
			Backend:     BackendSQLite,
			DSN:         "chat2k.db",
			OpTimeout:   5 * time.Second,
			RedisPrefix: "chat2k",
			MaxRecords:  10000,
		},
		Chat: ChatSettings{
			HistoryLimit:     100,
			PresenceInterval: 3 * time.Second,
			SendBuffer:       64,
			WriteTimeout:     10 * time.Second,
			MaxMessageLength: 2000,
			RateLimit:        5,
			RateBurst:        10,
		},
		Mirror: MirrorSettings{Topic: "chat.messages", Log: true},
		Redis:  redisstream.DefaultSettings(),
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the defaults.
func Load(path string) (Settings, error) {
	s := Default()
	if strings.TrimSpace(path) == "" {
		return s, s.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "config: read %s", path)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, errors.Wrapf(err, "config: parse %s", path)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, errors.Wrapf(err, "config: %s", path)
	}
	return s, nil
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return errors.New("addr is required")
	}
	switch s.Store.Backend {
	case BackendSQLite:
		if strings.TrimSpace(s.Store.DSN) == "" {
			return errors.New("store.dsn is required for the sqlite backend")
		}
	case BackendRedis:
		if strings.TrimSpace(s.Redis.Addr) == "" {
			return errors.New("redis.addr is required for the redis backend")
		}
	case BackendMemory:
	default:
		return errors.Errorf("unknown store.backend %q", s.Store.Backend)
	}
	if s.Chat.HistoryLimit <= 0 {
		return errors.New("chat.history-limit must be positive")
	}
	if s.Chat.PresenceInterval <= 0 {
		return errors.New("chat.presence-interval must be positive")
	}
	if s.Chat.MaxMessageLength <= 0 {
		return errors.New("chat.max-message-length must be positive")
	}
	if s.Chat.RateLimit < 0 || s.Chat.RateBurst < 0 {
		return errors.New("chat.rate-limit and chat.rate-burst must not be negative")
	}
	return s.Redis.Validate()
}

// UsersDSN is where accounts live: store.users-dsn, else store.dsn, else
// a file next to the default message store.
func (s Settings) UsersDSN() string {
	if s.Store.UsersDSN != "" {
		return s.Store.UsersDSN
	}
	if s.Store.Backend == BackendSQLite && s.Store.DSN != "" {
		return s.Store.DSN
	}
	return "chat2k-users.db"
}
