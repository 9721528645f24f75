// Package metrics exposes Prometheus collectors for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "morviq"

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live viewer sessions",
		},
	)

	sessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Total number of sessions removed by the idle sweep",
		},
	)

	sessionMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_messages_total",
			Help:      "Total number of session messages handled, by type",
		},
		[]string{"type"},
	)

	broadcastsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcasts_total",
			Help:      "Total number of session broadcasts",
		},
	)

	controlCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_commands_total",
			Help:      "Total renderer control commands, by command and outcome",
		},
		[]string{"command", "status"}, // status: sent, dropped, failed
	)

	controlConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "control_connected",
			Help:      "1 when the renderer control channel is connected",
		},
	)

	framesIndexed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames_indexed",
			Help:      "Number of frames currently in the index",
		},
	)

	latestFrameID = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "latest_frame_id",
			Help:      "Highest frame id observed",
		},
	)

	streamClientsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients_active",
			Help:      "Number of open multipart stream responses",
		},
	)

	streamFramesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_frames_sent_total",
			Help:      "Total frames pushed to stream clients",
		},
	)

	websocketConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Number of attached real-time connections",
		},
	)
)

var allMetrics = []prometheus.Collector{
	sessionsActive,
	sessionsExpiredTotal,
	sessionMessagesTotal,
	broadcastsTotal,
	controlCommandsTotal,
	controlConnected,
	framesIndexed,
	latestFrameID,
	streamClientsActive,
	streamFramesSentTotal,
	websocketConnectionsActive,
}

// NewRegistry returns a registry holding the gateway collectors plus Go
// runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// SetSessionsActive records the live session count.
func SetSessionsActive(n int) { sessionsActive.Set(float64(n)) }

// RecordSessionExpired counts one idle-sweep removal.
func RecordSessionExpired() { sessionsExpiredTotal.Inc() }

// RecordSessionMessage counts one handled message of the given type.
func RecordSessionMessage(msgType string) { sessionMessagesTotal.WithLabelValues(msgType).Inc() }

// RecordBroadcast counts one broadcast.
func RecordBroadcast() { broadcastsTotal.Inc() }

// RecordControlCommand counts a renderer command with its outcome.
func RecordControlCommand(command, status string) {
	controlCommandsTotal.WithLabelValues(command, status).Inc()
}

// SetControlConnected records the control channel state.
func SetControlConnected(connected bool) {
	if connected {
		controlConnected.Set(1)
		return
	}
	controlConnected.Set(0)
}

// SetFrameIndex records the index size and the latest frame id.
func SetFrameIndex(count int, latest int64) {
	framesIndexed.Set(float64(count))
	latestFrameID.Set(float64(latest))
}

// StreamOpened increments the active stream gauge.
func StreamOpened() { streamClientsActive.Inc() }

// StreamClosed decrements the active stream gauge.
func StreamClosed() { streamClientsActive.Dec() }

// RecordStreamFrame counts one pushed frame.
func RecordStreamFrame() { streamFramesSentTotal.Inc() }

// WebSocketOpened increments the active websocket gauge.
func WebSocketOpened() { websocketConnectionsActive.Inc() }

// WebSocketClosed decrements the active websocket gauge.
func WebSocketClosed() { websocketConnectionsActive.Dec() }
