// Package metrics collects and exposes prometheus metrics for the session
// and connection-resilience layer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the interface components use to record events. Services depend
// on this rather than on prometheus directly so tests can pass a Nop.
type Recorder interface {
	RecordSessionRefresh(outcome string)
	RecordForcedExpiry()
	RecordConnectionState(state string)
	RecordChannelReconnect(userID string)
	RecordHeartbeat()
}

// Collector is the prometheus-backed Recorder implementation.
type Collector struct {
	sessionRefresh    *prometheus.CounterVec
	forcedExpiries    prometheus.Counter
	connectionState   *prometheus.GaugeVec
	channelReconnects prometheus.Counter
	heartbeats        prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farm2go_session_refresh_total",
			Help: "Session token refresh attempts by outcome",
		}, []string{"outcome"}),
		forcedExpiries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farm2go_session_forced_expiry_total",
			Help: "Sessions force-cleared by the inactivity sweep",
		}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farm2go_connection_state",
			Help: "Current logical connection state (1 for the active state)",
		}, []string{"state"}),
		channelReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farm2go_channel_reconnect_total",
			Help: "Notification channel reconnect attempts",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farm2go_channel_heartbeat_total",
			Help: "Heartbeat broadcasts sent on the notification channel",
		}),
	}

	reg.MustRegister(c.sessionRefresh, c.forcedExpiries, c.connectionState, c.channelReconnects, c.heartbeats)
	return c
}

func (c *Collector) RecordSessionRefresh(outcome string) {
	c.sessionRefresh.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordForcedExpiry() {
	c.forcedExpiries.Inc()
}

func (c *Collector) RecordConnectionState(state string) {
	for _, s := range []string{"connected", "connecting", "disconnected"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		c.connectionState.WithLabelValues(s).Set(v)
	}
}

func (c *Collector) RecordChannelReconnect(string) {
	c.channelReconnects.Inc()
}

func (c *Collector) RecordHeartbeat() {
	c.heartbeats.Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) RecordSessionRefresh(string)   {}
func (Nop) RecordForcedExpiry()           {}
func (Nop) RecordConnectionState(string)  {}
func (Nop) RecordChannelReconnect(string) {}
func (Nop) RecordHeartbeat()              {}

var _ Recorder = (*Collector)(nil)
var _ Recorder = Nop{}
