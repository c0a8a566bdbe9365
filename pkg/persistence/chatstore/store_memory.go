package chatstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryBackend is a size-limited, in-memory Backend.
// It mirrors the ordering semantics of the SQLite backend and can simulate a
// dropped connection with Drop.
type InMemoryBackend struct {
	mu                 sync.Mutex
	maxRecordsPerTable int
	seq                uint64
	tables             map[string]map[string]inMemRecord
	dropped            bool
	dropAfterInsert    bool
	reconnects         int
	reconnectErr       error
}

type inMemRecord struct {
	rec Record
	seq uint64
}

var _ Backend = &InMemoryBackend{}

func NewInMemoryBackend(maxRecordsPerTable int) *InMemoryBackend {
	if maxRecordsPerTable <= 0 {
		maxRecordsPerTable = 10000
	}
	return &InMemoryBackend{
		maxRecordsPerTable: maxRecordsPerTable,
		tables:             map[string]map[string]inMemRecord{},
	}
}

// Drop simulates a lost connection: every call fails until Reconnect.
func (s *InMemoryBackend) Drop() {
	s.mu.Lock()
	s.dropped = true
	s.mu.Unlock()
}

// DropAfterNextInsert makes the next Insert store its record and then fail as
// if the connection dropped before the reply arrived.
func (s *InMemoryBackend) DropAfterNextInsert() {
	s.mu.Lock()
	s.dropAfterInsert = true
	s.mu.Unlock()
}

// Reconnects reports how many times Reconnect succeeded.
func (s *InMemoryBackend) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

// FailReconnect makes the next Reconnect return err (and stay dropped).
func (s *InMemoryBackend) FailReconnect(err error) {
	s.mu.Lock()
	s.reconnectErr = err
	s.mu.Unlock()
}

func (s *InMemoryBackend) Insert(_ context.Context, table string, rec Record) error {
	if s == nil {
		return errors.New("in-memory chat store: nil store")
	}
	if err := validateTable("in-memory chat store", table); err != nil {
		return err
	}
	if err := validateRecord("in-memory chat store", rec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return errors.Wrap(ErrConnectionLost, "in-memory chat store: insert")
	}
	t := s.tables[table]
	if t == nil {
		t = map[string]inMemRecord{}
		s.tables[table] = t
	}
	if stored, ok := t[rec.ID]; ok {
		if sameRecord(stored.rec, rec) {
			return nil
		}
		return errors.Errorf("in-memory chat store: duplicate id %q in %s", rec.ID, table)
	}
	s.seq++
	body := append([]byte(nil), rec.Body...)
	t[rec.ID] = inMemRecord{rec: Record{ID: rec.ID, CreatedAtMs: rec.CreatedAtMs, Body: body}, seq: s.seq}

	// Enforce the per-table size limit by evicting the oldest records.
	if len(t) > s.maxRecordsPerTable {
		ordered := sortedNewestFirst(t)
		for _, r := range ordered[s.maxRecordsPerTable:] {
			delete(t, r.rec.ID)
		}
	}
	if s.dropAfterInsert {
		s.dropAfterInsert = false
		s.dropped = true
		return errors.Wrap(ErrConnectionLost, "in-memory chat store: insert reply")
	}
	return nil
}

func (s *InMemoryBackend) RecentByTime(_ context.Context, table string, limit int) ([]Record, error) {
	if s == nil {
		return nil, errors.New("in-memory chat store: nil store")
	}
	if err := validateTable("in-memory chat store", table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dropped {
		return nil, errors.Wrap(ErrConnectionLost, "in-memory chat store: recent by time")
	}
	if limit <= 0 {
		return []Record{}, nil
	}
	ordered := sortedNewestFirst(s.tables[table])
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	out := make([]Record, 0, len(ordered))
	for _, r := range ordered {
		out = append(out, Record{ID: r.rec.ID, CreatedAtMs: r.rec.CreatedAtMs, Body: append([]byte(nil), r.rec.Body...)})
	}
	return out, nil
}

func (s *InMemoryBackend) Reconnect(_ context.Context) error {
	if s == nil {
		return errors.New("in-memory chat store: nil store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reconnectErr; err != nil {
		s.reconnectErr = nil
		return errors.Wrap(err, "in-memory chat store: reconnect")
	}
	s.dropped = false
	s.reconnects++
	return nil
}

func (s *InMemoryBackend) Close() error { return nil }

func sortedNewestFirst(t map[string]inMemRecord) []inMemRecord {
	out := make([]inMemRecord, 0, len(t))
	for _, r := range t {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rec.CreatedAtMs == out[j].rec.CreatedAtMs {
			return out[i].seq > out[j].seq
		}
		return out[i].rec.CreatedAtMs > out[j].rec.CreatedAtMs
	})
	return out
}
