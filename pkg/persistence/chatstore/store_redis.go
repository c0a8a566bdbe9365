package chatstore

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each table as a sorted set index scored by created_at_ms
// plus a hash of encoded records. Index members are "<seq>|<id>" with a
// zero-padded sequence so equal scores sort by insertion.
type RedisBackend struct {
	opts   *redis.Options
	prefix string

	mu     sync.RWMutex
	client *redis.Client
	hooks  []redis.Hook
}

// insertScript stores, sequences and indexes a record in one step.
// KEYS: record hash, sequence counter, index. ARGV: id, payload, score.
// Returns 1 when stored, 0 when the same payload is already stored, -1 when
// a different payload holds the id.
var insertScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], ARGV[1])
if stored then
  if stored == ARGV[2] then
    return 0
  end
  return -1
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
local seq = tostring(redis.call('INCR', KEYS[2]))
redis.call('ZADD', KEYS[3], ARGV[3], string.rep('0', 19 - #seq) .. seq .. '|' .. ARGV[1])
return 1
`)

var _ Backend = &RedisBackend{}

func NewRedisBackend(ctx context.Context, opts *redis.Options, prefix string) (*RedisBackend, error) {
	if opts == nil || opts.Addr == "" {
		return nil, errors.New("redis chat store: empty address")
	}
	if prefix == "" {
		prefix = "chat2k"
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis chat store: ping")
	}
	return &RedisBackend{opts: opts, prefix: prefix, client: client}, nil
}

// AddHook installs h on the current client and on every client Reconnect
// creates.
func (s *RedisBackend) AddHook(h redis.Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
	if s.client != nil {
		s.client.AddHook(h)
	}
}

func (s *RedisBackend) indexKey(table string) string { return s.prefix + ":" + table + ":idx" }
func (s *RedisBackend) recordKey(table string) string { return s.prefix + ":" + table + ":rec" }
func (s *RedisBackend) seqKey(table string) string    { return s.prefix + ":" + table + ":seq" }

func (s *RedisBackend) handle() (*redis.Client, error) {
	if s == nil {
		return nil, errors.New("redis chat store: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return nil, errors.Wrap(ErrConnectionLost, "redis chat store: client is closed")
	}
	return s.client, nil
}

func (s *RedisBackend) Insert(ctx context.Context, table string, rec Record) error {
	if err := validateTable("redis chat store", table); err != nil {
		return err
	}
	if err := validateRecord("redis chat store", rec); err != nil {
		return err
	}
	client, err := s.handle()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "redis chat store: encode record")
	}

	keys := []string{s.recordKey(table), s.seqKey(table), s.indexKey(table)}
	res, err := insertScript.Run(ctx, client, keys, rec.ID, payload, strconv.FormatInt(rec.CreatedAtMs, 10)).Int()
	if err != nil {
		return errors.Wrap(err, "redis chat store: insert")
	}
	if res < 0 {
		return errors.Errorf("redis chat store: duplicate id %q in %s", rec.ID, table)
	}
	return nil
}

func (s *RedisBackend) RecentByTime(ctx context.Context, table string, limit int) ([]Record, error) {
	if err := validateTable("redis chat store", table); err != nil {
		return nil, err
	}
	client, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Record{}, nil
	}

	members, err := client.ZRevRange(ctx, s.indexKey(table), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis chat store: recent by time")
	}
	if len(members) == 0 {
		return []Record{}, nil
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		_, id, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	vals, err := client.HMGet(ctx, s.recordKey(table), ids...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis chat store: load records")
	}

	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, errors.Wrap(err, "redis chat store: decode record")
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisBackend) Reconnect(ctx context.Context) error {
	if s == nil {
		return errors.New("redis chat store: nil store")
	}
	client := redis.NewClient(s.opts)
	s.mu.RLock()
	for _, h := range s.hooks {
		client.AddHook(h)
	}
	s.mu.RUnlock()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return errors.Wrap(err, "redis chat store: reconnect")
	}
	s.mu.Lock()
	old := s.client
	s.client = client
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (s *RedisBackend) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}
