package chatstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// RetryObserver is told about every reconnect-and-retry the Adapter performs.
type RetryObserver interface {
	ObserveStoreRetry(succeeded bool)
}

type AdapterOption func(*Adapter)

// WithOpTimeout bounds every backend call. Zero disables the bound.
func WithOpTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) { a.opTimeout = d }
}

func WithRetryObserver(o RetryObserver) AdapterOption {
	return func(a *Adapter) { a.observer = o }
}

// Adapter fronts a Backend and hides connection loss from callers: an insert
// that fails because the connection dropped triggers one reconnect and one
// retry of the same insert. Reads are never retried.
type Adapter struct {
	backend   Backend
	opTimeout time.Duration
	observer  RetryObserver

	reconnectMu sync.Mutex
	generation  atomic.Uint64
}

func NewAdapter(backend Backend, opts ...AdapterOption) (*Adapter, error) {
	if backend == nil {
		return nil, errors.New("chat store adapter: backend is nil")
	}
	a := &Adapter{backend: backend, opTimeout: 5 * time.Second}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

func (a *Adapter) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if a.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.opTimeout)
}

func (a *Adapter) insertOnce(ctx context.Context, table string, rec Record) error {
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	return a.backend.Insert(opCtx, table, rec)
}

func (a *Adapter) Insert(ctx context.Context, table string, rec Record) error {
	if a == nil {
		return errors.New("chat store adapter: nil adapter")
	}
	seen := a.generation.Load()
	err := a.insertOnce(ctx, table, rec)
	if err == nil {
		return nil
	}
	if !IsConnectionLost(err) {
		return err
	}

	log.Warn().Err(err).Str("component", "chatstore").Str("table", table).Str("record_id", rec.ID).
		Msg("store connection lost, reconnecting before retry")
	if rerr := a.reconnect(ctx, seen); rerr != nil {
		a.observe(false)
		return errors.Wrapf(rerr, "chat store adapter: insert into %s", table)
	}
	if err := a.insertOnce(ctx, table, rec); err != nil {
		a.observe(false)
		return errors.Wrapf(err, "chat store adapter: retry insert into %s", table)
	}
	a.observe(true)
	return nil
}

func (a *Adapter) RecentByTime(ctx context.Context, table string, limit int) ([]Record, error) {
	if a == nil {
		return nil, errors.New("chat store adapter: nil adapter")
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	return a.backend.RecentByTime(opCtx, table, limit)
}

// Reconnect forces a fresh backend connection.
func (a *Adapter) Reconnect(ctx context.Context) error {
	if a == nil {
		return errors.New("chat store adapter: nil adapter")
	}
	return a.reconnect(ctx, a.generation.Load())
}

// reconnect is a no-op when another caller already reconnected since seen.
func (a *Adapter) reconnect(ctx context.Context, seen uint64) error {
	a.reconnectMu.Lock()
	defer a.reconnectMu.Unlock()
	if a.generation.Load() != seen {
		return nil
	}
	opCtx, cancel := a.opContext(ctx)
	defer cancel()
	if err := a.backend.Reconnect(opCtx); err != nil {
		return err
	}
	a.generation.Add(1)
	log.Info().Str("component", "chatstore").Uint64("generation", a.generation.Load()).Msg("store reconnected")
	return nil
}

func (a *Adapter) observe(ok bool) {
	if a.observer != nil {
		a.observer.ObserveStoreRetry(ok)
	}
}

func (a *Adapter) Close() error {
	if a == nil || a.backend == nil {
		return nil
	}
	return a.backend.Close()
}
