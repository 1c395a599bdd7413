// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics defines the Prometheus collectors shared by the server,
// the dispatcher, and the remote store. A nil *Metrics records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "marcalink"

// Metrics groups the collectors. Create one per registry.
type Metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	remoteRequests   *prometheus.CounterVec
	connectionState  prometheus.Gauge
	backupQueueSize  prometheus.Gauge
	resyncs          *prometheus.CounterVec
	serverClients    prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		dispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Inbound messages dispatched, by act and reply status",
		}, []string{"act", "status"}),
		dispatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Handler latency by act",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"act"}),
		remoteRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Requests issued by the remote store, by act and outcome",
		}, []string{"act", "status"}),
		connectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_connection_state",
			Help:      "Client connection state (0 disconnected, 1 connecting, 2 open, 3 closing)",
		}),
		backupQueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_queue_keys",
			Help:      "Settings keys waiting in the offline backup queue",
		}),
		resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resync_total",
			Help:      "Backup resync attempts by result",
		}, []string{"result"}),
		serverClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_clients",
			Help:      "Open WebSocket connections",
		}),
	}
}

// ObserveDispatch records one dispatched message.
func (m *Metrics) ObserveDispatch(act, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(act, status).Inc()
	m.dispatchDuration.WithLabelValues(act).Observe(d.Seconds())
}

// RemoteRequest records one remote store request.
func (m *Metrics) RemoteRequest(act, status string) {
	if m == nil {
		return
	}
	m.remoteRequests.WithLabelValues(act, status).Inc()
}

// ConnectionState records the client connection state.
func (m *Metrics) ConnectionState(state int) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(state))
}

// BackupQueueSize records the number of queued keys.
func (m *Metrics) BackupQueueSize(n int) {
	if m == nil {
		return
	}
	m.backupQueueSize.Set(float64(n))
}

// Resync records a resync attempt.
func (m *Metrics) Resync(result string) {
	if m == nil {
		return
	}
	m.resyncs.WithLabelValues(result).Inc()
}

// ClientConnected and ClientDisconnected track open server connections.
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.serverClients.Inc()
}

func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	m.serverClients.Dec()
}
