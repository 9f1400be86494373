package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/digitalinkpact/cryptopiggy/internal/events"
	"github.com/digitalinkpact/cryptopiggy/internal/risk"
	"github.com/digitalinkpact/cryptopiggy/pkg/i18n"
)

// Dispatcher renders bus events into messages and hands them to a Notifier.
// Strategy signals and backend health checks that succeed are not forwarded.
type Dispatcher struct {
	bus  *events.Bus
	out  Notifier
	msgs *i18n.Messages
	log  *zap.Logger

	// Timeout bounds a single delivery.
	Timeout time.Duration
}

func NewDispatcher(bus *events.Bus, out Notifier, lang i18n.Language, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		bus:     bus,
		out:     out,
		msgs:    i18n.For(lang),
		log:     logger.Named("notify"),
		Timeout: 10 * time.Second,
	}
}

// Start forwards events until ctx is done, then delivers what is already
// buffered. The returned channel is closed when the loop exits.
func (d *Dispatcher) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if d.bus == nil || d.out == nil {
		close(done)
		return done
	}
	stream, unsub := d.bus.Subscribe(128,
		events.EventOrderFilled,
		events.EventOrderRejected,
		events.EventOrderFailed,
		events.EventModeChange,
		events.EventRiskAlert,
		events.EventBackendHealth,
		events.EventStateDiverged,
	)
	go func() {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				d.drain(context.WithoutCancel(ctx), stream)
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				msg, ok := d.Render(env)
				if !ok {
					continue
				}
				d.deliver(ctx, msg)
			}
		}
	}()
	return done
}

func (d *Dispatcher) drain(ctx context.Context, stream <-chan events.Envelope) {
	for {
		select {
		case env, ok := <-stream:
			if !ok {
				return
			}
			if msg, ok := d.Render(env); ok {
				d.deliver(ctx, msg)
			}
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	if err := d.out.Notify(ctx, msg); err != nil {
		d.log.Warn("notification failed", zap.String("title", msg.Title), zap.Error(err))
	}
}

// Render turns an envelope into a message. ok is false for events that are
// not worth an alert.
func (d *Dispatcher) Render(env events.Envelope) (Message, bool) {
	m := d.msgs
	msg := Message{Level: LevelInfo, Title: string(env.Topic), Time: env.Time}
	switch p := env.Payload.(type) {
	case events.Fill:
		side := strings.ToUpper(p.Side)
		if p.Live {
			msg.Text = fmt.Sprintf(m.OrderFilled, side, p.Symbol, p.AmountUSD, p.Price, p.OrderID)
		} else {
			msg.Text = fmt.Sprintf(m.OrderFilledPaper, side, p.Symbol, p.AmountUSD, p.Price)
		}
	case events.Rejection:
		msg.Level = LevelWarn
		if p.Reason == "no_position" {
			msg.Text = fmt.Sprintf(m.NoPositionToSell, p.Symbol)
			break
		}
		reason := p.Reason
		if p.Detail != "" {
			reason += ": " + p.Detail
		}
		msg.Text = fmt.Sprintf(m.OrderRejected, reason)
	case events.Failure:
		msg.Level = LevelWarn
		msg.Text = fmt.Sprintf(m.OrderFailed, p.Path, p.Error)
	case events.ModeChange:
		switch {
		case p.Forced:
			msg.Level = LevelCritical
			msg.Text = fmt.Sprintf(m.ForcedPaper, p.Reason)
		case p.To != "live":
			msg.Level = LevelWarn
			msg.Text = fmt.Sprintf(m.LiveDisabled, p.Reason)
		default:
			msg.Level = LevelCritical
			msg.Text = m.LiveEnabled
		}
	case events.RiskAlert:
		msg.Level = LevelCritical
		switch p.Kind {
		case risk.ReasonDailyLossLimit:
			msg.Text = fmt.Sprintf(m.DailyLossLimitReached, p.LossPct*100)
		case events.AlertBackendUnhealthy:
			msg.Text = fmt.Sprintf(m.BackendDown, p.Message)
		case events.AlertPositionMismatch:
			msg.Text = fmt.Sprintf(m.PositionMismatch, p.Message)
		default:
			msg.Text = p.Message
		}
	case events.BackendHealth:
		if p.OK {
			return Message{}, false
		}
		msg.Level = LevelWarn
		msg.Text = fmt.Sprintf(m.BackendDown, p.Message)
	case events.Divergence:
		msg.Level = LevelCritical
		msg.Text = fmt.Sprintf(m.StateDiverged, p.Fill.OrderID, p.Error)
	default:
		return Message{}, false
	}
	return msg, true
}
