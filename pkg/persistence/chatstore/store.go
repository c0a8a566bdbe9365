package chatstore

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// TableMessages holds chat messages. Accounts live in auth.SQLiteUserStore.
const TableMessages = "messages"

// ErrConnectionLost marks a backend failure caused by a dropped connection.
// Backends wrap it so the Adapter can tell a reconnect is worth trying.
var ErrConnectionLost = errors.New("chat store: connection lost")

// Record is one row of keyed record storage. Body is opaque (JSON) to the store.
type Record struct {
	ID          string `json:"id"`
	CreatedAtMs int64  `json:"created_at_ms"`
	Body        []byte `json:"body"`
}

// Backend is the durable record store the Adapter drives.
//
// Insert is idempotent: storing a record identical to one already present
// under the same id succeeds without a second copy, so an insert whose reply
// was lost can be retried. A different record under an existing id is an
// error.
//
// RecentByTime returns at most limit records of a table, newest first. Records
// with equal CreatedAtMs are ordered by insertion, the later insert first.
type Backend interface {
	Insert(ctx context.Context, table string, rec Record) error
	RecentByTime(ctx context.Context, table string, limit int) ([]Record, error)
	// Reconnect re-establishes the backend connection after a loss.
	Reconnect(ctx context.Context) error
	Close() error
}

// IsConnectionLost reports whether err means the backend connection went away.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	// an expired or cancelled operation says nothing about the connection
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, redis.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func validateTable(component, table string) error {
	if strings.TrimSpace(table) == "" {
		return errors.Errorf("%s: table is empty", component)
	}
	return nil
}

// sameRecord reports whether a retried insert matches what is already stored.
func sameRecord(a, b Record) bool {
	return a.ID == b.ID && a.CreatedAtMs == b.CreatedAtMs && bytes.Equal(a.Body, b.Body)
}

func validateRecord(component string, rec Record) error {
	if rec.ID == "" {
		return errors.Errorf("%s: record id is empty", component)
	}
	if rec.CreatedAtMs <= 0 {
		return errors.Errorf("%s: record created_at_ms must be positive", component)
	}
	return nil
}
