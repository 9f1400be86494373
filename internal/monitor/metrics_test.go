package monitor

import (
	"testing"
	"time"

	"github.com/digitalinkpact/cryptopiggy/internal/events"
)

func TestLatencyHistogramWindow(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{100, 1, 2, 3} {
		h.Record(v)
	}
	st := h.Stats()
	if st.Count != 3 || st.Max != 3 || st.Min != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	h.RecordDuration(5 * time.Millisecond)
	if got := h.Stats().Max; got != 5 {
		t.Fatalf("Max=%v after RecordDuration, expected 5", got)
	}
}

func TestObserveCountsEvents(t *testing.T) {
	m := NewSystemMetrics()
	m.Observe(events.Envelope{Topic: events.EventOrderFilled, Payload: events.Fill{Live: true}})
	m.Observe(events.Envelope{Topic: events.EventOrderFilled, Payload: events.Fill{}})
	m.Observe(events.Envelope{Topic: events.EventOrderRejected})
	m.Observe(events.Envelope{Topic: events.EventRiskAlert})
	m.IncrementCycles()

	s := m.GetSnapshot()
	if s.OrdersFilled != 2 || s.OrdersLive != 1 || s.OrdersRejected != 1 || s.RiskAlerts != 1 || s.Cycles != 1 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}
