package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FTPMetrics provides observability for the FTP session engine.
//
// The interface is optional: pass nil (or a no-op instance) to the server
// and metric calls cost nothing.
type FTPMetrics interface {
	// RecordCommand records a dispatched control command and the numeric
	// reply code of its first response line.
	RecordCommand(verb string, code int)

	// RecordBytesTransferred records data-channel bytes moved.
	// direction is "send" or "receive".
	RecordBytesTransferred(direction string, bytes int64)

	// SetActiveSessions updates the current session count.
	SetActiveSessions(count int)

	// RecordSessionAccepted increments the total accepted sessions counter.
	RecordSessionAccepted()

	// RecordSessionClosed increments the total closed sessions counter.
	RecordSessionClosed()
}

// ftpMetrics is the Prometheus implementation of FTPMetrics.
type ftpMetrics struct {
	commandsTotal    *prometheus.CounterVec
	bytesTransferred *prometheus.CounterVec
	activeSessions   prometheus.Gauge
	sessionsAccepted prometheus.Counter
	sessionsClosed   prometheus.Counter
}

// NewFTPMetrics creates a Prometheus-backed FTPMetrics instance, or a no-op
// implementation if metrics are not enabled.
func NewFTPMetrics() FTPMetrics {
	if !IsEnabled() {
		return NewNoopFTPMetrics()
	}

	reg := GetRegistry()

	return &ftpMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpvita_commands_total",
				Help: "Total number of FTP commands by verb and reply code",
			},
			[]string{"verb", "code"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpvita_bytes_transferred_total",
				Help: "Total bytes moved over data connections",
			},
			[]string{"direction"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "ftpvita_active_sessions",
				Help: "Current number of active client sessions",
			},
		),
		sessionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ftpvita_sessions_accepted_total",
				Help: "Total number of client connections accepted",
			},
		),
		sessionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "ftpvita_sessions_closed_total",
				Help: "Total number of client sessions closed",
			},
		),
	}
}

func (m *ftpMetrics) RecordCommand(verb string, code int) {
	m.commandsTotal.WithLabelValues(verb, strconv.Itoa(code)).Inc()
}

func (m *ftpMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *ftpMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *ftpMetrics) RecordSessionAccepted() {
	m.sessionsAccepted.Inc()
}

func (m *ftpMetrics) RecordSessionClosed() {
	m.sessionsClosed.Inc()
}
