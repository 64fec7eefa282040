package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestProm_Counters(t *testing.T) {
	// One registration per process: the default registry rejects duplicates.
	p := NewProm("linegw_test")

	p.IncEventsReceived("message")
	p.IncEventsReceived("message")
	p.IncEventsReceived("follow")
	p.IncRouted("legacy")
	p.IncHighValue()
	p.IncForwardResult("unified", "ok")
	p.ObserveForwardDuration("unified", 0.25)
	p.IncRepliesSent("unified-backend")
	p.IncDuplicatesSuppressed()
	p.IncPushMessages("ok")
	p.IncWebhookRejected("signature")

	if got := testutil.ToFloat64(p.eventsReceived.WithLabelValues("message")); got != 2 {
		t.Errorf("events_received_total{type=message} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.eventsReceived.WithLabelValues("follow")); got != 1 {
		t.Errorf("events_received_total{type=follow} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.routed.WithLabelValues("legacy")); got != 1 {
		t.Errorf("events_routed_total{destination=legacy} = %v", got)
	}
	if got := testutil.ToFloat64(p.highValue); got != 1 {
		t.Errorf("high_value_alerts_total = %v", got)
	}
	if got := testutil.ToFloat64(p.forwardResults.WithLabelValues("unified", "ok")); got != 1 {
		t.Errorf("forward_results_total = %v", got)
	}
	if got := testutil.ToFloat64(p.repliesSent.WithLabelValues("unified-backend")); got != 1 {
		t.Errorf("replies_sent_total = %v", got)
	}
	if got := testutil.ToFloat64(p.duplicates); got != 1 {
		t.Errorf("duplicate_deliveries_suppressed_total = %v", got)
	}
	if got := testutil.ToFloat64(p.pushMessages.WithLabelValues("ok")); got != 1 {
		t.Errorf("push_messages_total = %v", got)
	}
	if got := testutil.ToFloat64(p.webhookRejected.WithLabelValues("signature")); got != 1 {
		t.Errorf("webhook_rejected_total = %v", got)
	}
}

func TestNoop_IsInert(t *testing.T) {
	var m Metrics = Noop{}
	m.IncEventsReceived("message")
	m.IncWebhookRejected("signature")
	m.IncRouted("modern")
	m.IncHighValue()
	m.IncForwardResult("unified", "ok")
	m.ObserveForwardDuration("unified", 1)
	m.IncRepliesSent("fallback-error")
	m.IncDuplicatesSuppressed()
	m.IncPushMessages("error")
}
