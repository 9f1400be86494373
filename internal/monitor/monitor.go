package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/events"
)

// Monitor folds bus events into SystemMetrics.
type Monitor struct {
	Bus     *events.Bus
	Metrics *SystemMetrics
	Log     *zap.Logger
}

// Start consumes events until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Metrics == nil {
		if m.Log != nil {
			m.Log.Warn("monitor not fully configured; skipping")
		}
		return
	}
	stream, unsub := m.Bus.Subscribe(256)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				m.Metrics.Observe(env)
			}
		}
	}()
}

// Observe counts a single event.
func (m *SystemMetrics) Observe(env events.Envelope) {
	switch env.Topic {
	case events.EventOrderFilled:
		m.ordersFilled.Add(1)
		if f, ok := env.Payload.(events.Fill); ok && f.Live {
			m.ordersLive.Add(1)
		}
	case events.EventOrderRejected:
		m.ordersRejected.Add(1)
	case events.EventOrderFailed:
		m.ordersFailed.Add(1)
	case events.EventRiskAlert:
		m.riskAlerts.Add(1)
	case events.EventModeChange:
		m.modeChanges.Add(1)
	case events.EventStateDiverged:
		m.divergences.Add(1)
	case events.EventStrategySignal:
		m.signals.Add(1)
	}
}
