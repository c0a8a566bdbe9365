// Package metrics exposes chat server counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements the observer hooks of the store adapter, the
// broadcaster and the session supervisor.
type Collector struct {
	sessionsOpen    prometheus.Gauge
	sessionsTotal   prometheus.Counter
	presenceSize    prometheus.Gauge
	framesRejected  *prometheus.CounterVec
	connsDropped    *prometheus.CounterVec
	messages        *prometheus.CounterVec
	deliveries      prometheus.Counter
	storeRetries    *prometheus.CounterVec
	mirroredMessage prometheus.Counter
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat2k_sessions_open",
			Help: "Websocket sessions currently attached",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat2k_sessions_total",
			Help: "Websocket sessions attached since start",
		}),
		presenceSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat2k_presence_users",
			Help: "Identified users in the presence registry",
		}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat2k_frames_rejected_total",
			Help: "Inbound frames answered with an error frame, by code",
		}, []string{"code"}),
		connsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat2k_connections_dropped_total",
			Help: "Websocket connections closed by the server side, by reason",
		}, []string{"reason"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat2k_messages_published_total",
			Help: "Published messages, by whether they were persisted",
		}, []string{"persisted"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat2k_message_deliveries_total",
			Help: "Message frames handed to live sessions",
		}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat2k_store_retries_total",
			Help: "Store reconnect-and-retry attempts, by outcome",
		}, []string{"outcome"}),
		mirroredMessage: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat2k_messages_mirrored_total",
			Help: "Messages read back from the mirror topic",
		}),
	}

	reg.MustRegister(
		c.sessionsOpen,
		c.sessionsTotal,
		c.presenceSize,
		c.framesRejected,
		c.connsDropped,
		c.messages,
		c.deliveries,
		c.storeRetries,
		c.mirroredMessage,
	)
	return c
}

func (c *Collector) SessionOpened() {
	c.sessionsOpen.Inc()
	c.sessionsTotal.Inc()
}

func (c *Collector) SessionClosed() { c.sessionsOpen.Dec() }

func (c *Collector) PresenceSize(n int) { c.presenceSize.Set(float64(n)) }

func (c *Collector) FrameRejected(code string) { c.framesRejected.WithLabelValues(code).Inc() }

func (c *Collector) ConnectionDropped(reason string) {
	c.connsDropped.WithLabelValues(reason).Inc()
}

func (c *Collector) ObservePublish(persisted bool, recipients int) {
	label := "true"
	if !persisted {
		label = "false"
	}
	c.messages.WithLabelValues(label).Inc()
	c.deliveries.Add(float64(recipients))
}

func (c *Collector) ObserveStoreRetry(succeeded bool) {
	outcome := "ok"
	if !succeeded {
		outcome = "failed"
	}
	c.storeRetries.WithLabelValues(outcome).Inc()
}

// MirrorConsumed counts a message read back from the mirror topic.
func (c *Collector) MirrorConsumed() { c.mirroredMessage.Inc() }

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
