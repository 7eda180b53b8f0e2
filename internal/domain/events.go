package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a protocol notification consumed by UI and indexing
// collaborators.
type EventKind string

const (
	EventMinted      EventKind = "minted"
	EventExercised   EventKind = "exercised"
	EventClosed      EventKind = "closed"
	EventRedeemed    EventKind = "redeemed"
	EventDeposit     EventKind = "deposit"
	EventWithdraw    EventKind = "withdraw"
	EventBuy         EventKind = "buy"
	EventOrderPlaced EventKind = "order_placed"
	EventOrderFilled EventKind = "order_filled"
)

// Event is a single protocol notification. Payload fields are stringified
// big.Int amounts and hex addresses so the event is JSON-safe as emitted.
type Event struct {
	ID      string            `json:"id"`
	Kind    EventKind         `json:"kind"`
	TokenID uint64            `json:"token_id,omitempty"`
	Actor   string            `json:"actor,omitempty"`
	Detail  map[string]string `json:"detail,omitempty"`
	At      time.Time         `json:"at"`
}

// EventSink receives protocol events. Emission is fire-and-forget from the
// core's perspective: a sink failure never rolls back the operation that
// produced the event.
type EventSink interface {
	Emit(ev Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// AmountDetail formats a big.Int for an event payload, tolerating nil.
func AmountDetail(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// AddressDetail formats an address for an event payload.
func AddressDetail(a common.Address) string {
	return a.Hex()
}
