package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "alertcast_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

type collectors struct {
	alertSubmissions *prometheus.CounterVec
	loginAttempts    *prometheus.CounterVec
	realtimeClients  *prometheus.GaugeVec
	broadcastEvents  *prometheus.CounterVec
	droppedMessages  prometheus.Counter
}

var (
	registerOnce sync.Once
	// active is nil until Init; helpers called earlier are no-ops.
	active atomic.Pointer[collectors]
)

// Init registers the service collectors with reg. Calls after the first are no-ops.
// It is safe to call while the helpers are already in use.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		c := &collectors{
			alertSubmissions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: metricPrefix + "alert_submissions_total",
					Help: "Alert submissions by result",
				},
				[]string{"result"},
			),
			loginAttempts: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: metricPrefix + "login_attempts_total",
					Help: "Login attempts by result",
				},
				[]string{"result"},
			),
			realtimeClients: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: metricPrefix + "realtime_clients",
					Help: "Currently connected realtime clients by transport",
				},
				[]string{"transport"},
			),
			broadcastEvents: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: metricPrefix + "broadcast_events_total",
					Help: "Events fanned out to realtime clients by event type",
				},
				[]string{"event"},
			),
			droppedMessages: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: metricPrefix + "realtime_dropped_messages_total",
					Help: "Messages dropped because a client queue was full",
				},
			),
		}

		reg.MustRegister(
			c.alertSubmissions,
			c.loginAttempts,
			c.realtimeClients,
			c.broadcastEvents,
			c.droppedMessages,
		)
		active.Store(c)
	})
}

// IncAlertSubmission counts a /send_alert call.
func IncAlertSubmission(result string) {
	if c := active.Load(); c != nil {
		c.alertSubmissions.WithLabelValues(result).Inc()
	}
}

// IncLoginAttempt counts a login form submission.
func IncLoginAttempt(result string) {
	if c := active.Load(); c != nil {
		c.loginAttempts.WithLabelValues(result).Inc()
	}
}

// RealtimeConnected adjusts the connected client gauge for transport by delta.
func RealtimeConnected(transport string, delta float64) {
	if c := active.Load(); c != nil {
		c.realtimeClients.WithLabelValues(transport).Add(delta)
	}
}

// IncBroadcast counts one fan-out of event.
func IncBroadcast(event string) {
	if c := active.Load(); c != nil {
		c.broadcastEvents.WithLabelValues(event).Inc()
	}
}

// IncDropped counts a message that could not be queued for a client.
func IncDropped() {
	if c := active.Load(); c != nil {
		c.droppedMessages.Inc()
	}
}
