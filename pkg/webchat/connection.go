package webchat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Reasons an outbox closes its connection.
const (
	DropSlowConsumer = "slow_consumer"
	DropWriteFailed  = "write_failed"
	DropReadClosed   = "read_closed"
	DropContextDone  = "context_done"
	DropShutdown     = "shutdown"
)

// outbox serializes writes to one connection through a bounded buffer so a
// slow peer never blocks a publisher. A full buffer or a failed write closes
// the connection.
type outbox struct {
	conn         Conn
	log          zerolog.Logger
	writeTimeout time.Duration

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onDrop    func(reason string)
}

// newOutbox builds an outbox for conn. onDrop, when set, is called once with
// the reason the connection was closed.
func newOutbox(conn Conn, sendBuffer int, writeTimeout time.Duration, log zerolog.Logger, onDrop func(reason string)) *outbox {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	return &outbox{
		conn:         conn,
		log:          log,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, sendBuffer),
		done:         make(chan struct{}),
		onDrop:       onDrop,
	}
}

// enqueue never blocks. It reports whether data was queued.
func (o *outbox) enqueue(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.send <- data:
		return true
	case <-o.done:
		return false
	default:
		o.log.Warn().Int("buffer", cap(o.send)).Msg("ws send buffer full, dropping connection")
		o.drop(DropSlowConsumer)
		return false
	}
}

func (o *outbox) run() {
	for {
		select {
		case <-o.done:
			return
		case data := <-o.send:
			if o.writeTimeout > 0 {
				_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				o.log.Warn().Err(err).Msg("ws write failed, dropping connection")
				o.drop(DropWriteFailed)
				return
			}
		}
	}
}

func (o *outbox) drop(reason string) {
	o.closeOnce.Do(func() {
		close(o.done)
		_ = o.conn.Close()
		if o.onDrop != nil {
			o.onDrop(reason)
		}
	})
}

func (o *outbox) closed() <-chan struct{} { return o.done }
