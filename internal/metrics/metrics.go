// Package metrics exposes gateway counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records pipeline events. The Noop implementation keeps tests and
// metric-disabled deployments free of a registry.
type Metrics interface {
	IncEventsReceived(eventType string)
	IncWebhookRejected(reason string)
	IncRouted(destination string)
	IncHighValue()
	IncForwardResult(mode, status string)
	ObserveForwardDuration(mode string, seconds float64)
	IncRepliesSent(source string)
	IncDuplicatesSuppressed()
	IncPushMessages(status string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncEventsReceived(string)            {}
func (Noop) IncWebhookRejected(string)           {}
func (Noop) IncRouted(string)                    {}
func (Noop) IncHighValue()                       {}
func (Noop) IncForwardResult(string, string)     {}
func (Noop) ObserveForwardDuration(string, float64) {}
func (Noop) IncRepliesSent(string)               {}
func (Noop) IncDuplicatesSuppressed()            {}
func (Noop) IncPushMessages(string)              {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	eventsReceived  *prometheus.CounterVec
	webhookRejected *prometheus.CounterVec
	routed          *prometheus.CounterVec
	highValue       prometheus.Counter
	forwardResults  *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
	repliesSent     *prometheus.CounterVec
	duplicates      prometheus.Counter
	pushMessages    *prometheus.CounterVec
	once            sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Verified webhook events by type",
		}, []string{"type"}),
		webhookRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_rejected_total",
			Help:      "Webhook calls rejected at ingress by reason",
		}, []string{"reason"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "Routing decisions by destination",
		}, []string{"destination"}),
		highValue: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_value_alerts_total",
			Help:      "High-value keyword alerts fired",
		}),
		forwardResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forward_results_total",
			Help:      "Forwarder outcomes by mode and status",
		}, []string{"mode", "status"}),
		forwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Backend forward latency by mode",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		repliesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Replies delivered by source",
		}, []string{"source"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_deliveries_suppressed_total",
			Help:      "Redelivered events dropped by the reply guard",
		}),
		pushMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_messages_total",
			Help:      "Out-of-band push messages by status",
		}, []string{"status"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(
			p.eventsReceived, p.webhookRejected, p.routed, p.highValue,
			p.forwardResults, p.forwardDuration, p.repliesSent,
			p.duplicates, p.pushMessages,
		)
	})
}

func (p *Prom) IncEventsReceived(eventType string) {
	p.eventsReceived.WithLabelValues(eventType).Inc()
}

func (p *Prom) IncWebhookRejected(reason string) {
	p.webhookRejected.WithLabelValues(reason).Inc()
}

func (p *Prom) IncRouted(destination string) {
	p.routed.WithLabelValues(destination).Inc()
}

func (p *Prom) IncHighValue() {
	p.highValue.Inc()
}

func (p *Prom) IncForwardResult(mode, status string) {
	p.forwardResults.WithLabelValues(mode, status).Inc()
}

func (p *Prom) ObserveForwardDuration(mode string, seconds float64) {
	p.forwardDuration.WithLabelValues(mode).Observe(seconds)
}

func (p *Prom) IncRepliesSent(source string) {
	p.repliesSent.WithLabelValues(source).Inc()
}

func (p *Prom) IncDuplicatesSuppressed() {
	p.duplicates.Inc()
}

func (p *Prom) IncPushMessages(status string) {
	p.pushMessages.WithLabelValues(status).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
