package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderSide indicates whether an order bids for or offers an option token.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus tracks the order-book lifecycle of a standing order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusReplaced  OrderStatus = "replaced"
)

// Order is a standing bid or ask on a specific option token. At most one live
// order exists per (TokenID, Side); relisting replaces the prior order.
type Order struct {
	TokenID uint64
	Side    OrderSide
	// Price is the bid or ask in the exchange's payment asset, 18-decimal
	// fixed point. A bid is escrowed at placement time.
	Price     *big.Int
	Owner     common.Address
	Status    OrderStatus
	CreatedAt time.Time
	FilledAt  *time.Time
}

// Live reports whether the order still occupies its (TokenID, Side) slot.
func (o Order) Live() bool {
	return o.Status == OrderStatusOpen
}

// OrderBookQuote aggregates standing bids and asks across a match set.
// Tokens without a live order on a side are omitted from that map.
type OrderBookQuote struct {
	Buy  map[uint64]*big.Int
	Sell map[uint64]*big.Int
}
