package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// EventChannel is the pub/sub channel protocol events are published on.
const EventChannel = "prime:events"

// EventStream is the durable stream protocol events are appended to.
const EventStream = "prime:events:stream"

// emitTimeout bounds each downstream delivery so a slow collaborator cannot
// stall the caller's goroutine.
const emitTimeout = 5 * time.Second

// EventFanout implements domain.EventSink by fanning each protocol event out
// to the signal bus (pub/sub plus durable stream), the audit log, and the
// operator notifier. Every leg is optional and best-effort: a delivery
// failure is logged, never surfaced to the engine.
type EventFanout struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier *Notifier
	logger   *slog.Logger
}

// NewEventFanout creates an EventFanout. Any of bus, audit, and notifier may
// be nil to skip that leg.
func NewEventFanout(bus domain.SignalBus, audit domain.AuditStore, notifier *Notifier, logger *slog.Logger) *EventFanout {
	return &EventFanout{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "event_fanout")),
	}
}

// Emit delivers the event to every configured leg.
func (f *EventFanout) Emit(ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("marshal event", slog.String("error", err.Error()))
		return
	}

	if f.bus != nil {
		if err := f.bus.Publish(ctx, EventChannel, payload); err != nil {
			f.logger.Warn("event publish failed", slog.String("error", err.Error()))
		}
		if err := f.bus.StreamAppend(ctx, EventStream, payload); err != nil {
			f.logger.Warn("event stream append failed", slog.String("error", err.Error()))
		}
	}

	if f.audit != nil {
		detail := map[string]any{
			"event_id": ev.ID,
			"token_id": ev.TokenID,
			"actor":    ev.Actor,
		}
		for k, v := range ev.Detail {
			detail[k] = v
		}
		if err := f.audit.Log(ctx, string(ev.Kind), detail); err != nil {
			f.logger.Warn("event audit log failed", slog.String("error", err.Error()))
		}
	}

	if f.notifier != nil {
		title, message := formatEvent(ev)
		if err := f.notifier.Notify(ctx, string(ev.Kind), title, message); err != nil {
			f.logger.Warn("event notify failed", slog.String("error", err.Error()))
		}
	}
}

// formatEvent renders an operator-readable notification for an event.
func formatEvent(ev domain.Event) (title, message string) {
	switch ev.Kind {
	case domain.EventMinted:
		title = fmt.Sprintf("Option #%d minted", ev.TokenID)
	case domain.EventExercised:
		title = fmt.Sprintf("Option #%d exercised", ev.TokenID)
	case domain.EventClosed:
		title = fmt.Sprintf("Option #%d closed", ev.TokenID)
	case domain.EventRedeemed:
		title = fmt.Sprintf("Claim on option #%d redeemed", ev.TokenID)
	case domain.EventDeposit:
		title = "Pool deposit"
	case domain.EventWithdraw:
		title = "Pool withdrawal"
	case domain.EventBuy:
		title = fmt.Sprintf("Pool sold option #%s", ev.Detail["token_id"])
	case domain.EventOrderPlaced:
		title = fmt.Sprintf("Order placed on option #%d", ev.TokenID)
	case domain.EventOrderFilled:
		title = fmt.Sprintf("Order filled on option #%d", ev.TokenID)
	default:
		title = string(ev.Kind)
	}

	message = fmt.Sprintf("actor=%s", ev.Actor)
	for k, v := range ev.Detail {
		message += fmt.Sprintf(" %s=%s", k, v)
	}
	return title, message
}

// Compile-time interface check.
var _ domain.EventSink = (*EventFanout)(nil)
