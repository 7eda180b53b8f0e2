// Package exchange implements the secondary market for option tokens: a
// per-token order book with bid escrow, immediate crossing, and a matcher
// that finds every token sharing an exact set of terms.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/ledger"
)

// TokenRegistry is the slice of the registry the exchange needs: reading
// token state and moving ownership on fills.
type TokenRegistry interface {
	GetPrime(id uint64) (domain.OptionToken, error)
	OwnerOf(id uint64) (common.Address, error)
	Transfer(ctx context.Context, caller, to common.Address, id uint64) error
	Nonce() uint64
	ScanTokens(fn func(domain.OptionToken) bool)
}

// Config fixes the exchange's escrow account and the asset orders are
// priced and settled in.
type Config struct {
	// Account holds escrowed bids on the asset ledger.
	Account      common.Address
	PaymentAsset common.Address
}

// Exchange is the order-book state machine. At most one live order exists
// per (token, side); relisting replaces and, for bids, refunds the prior
// order. Crossing orders fill immediately at the resting price.
type Exchange struct {
	mu sync.Mutex

	cfg      Config
	assets   ledger.AssetLedger
	clock    ledger.Clock
	registry TokenRegistry

	sells map[uint64]*domain.Order
	buys  map[uint64]*domain.Order

	index  domain.MatchIndexCache
	store  domain.OrderStore
	sink   domain.EventSink
	logger *slog.Logger
}

// New creates an Exchange. index and store are optional; a nil index
// disables match memoization and a nil store disables order journaling.
func New(cfg Config, assets ledger.AssetLedger, clock ledger.Clock, registry TokenRegistry, index domain.MatchIndexCache, store domain.OrderStore, sink domain.EventSink, logger *slog.Logger) *Exchange {
	if sink == nil {
		sink = domain.NopSink{}
	}
	return &Exchange{
		cfg:      cfg,
		assets:   assets,
		clock:    clock,
		registry: registry,
		sells:    make(map[uint64]*domain.Order),
		buys:     make(map[uint64]*domain.Order),
		index:    index,
		store:    store,
		sink:     sink,
		logger:   logger.With(slog.String("component", "exchange")),
	}
}

// FindMatches returns the ids of every minted token whose terms equal the
// given terms exactly, in ascending id order. Terms are immutable, so cached
// match sets stay valid; only the id range minted since the last scan is
// re-walked.
func (e *Exchange) FindMatches(ctx context.Context, terms domain.OptionTerms) []uint64 {
	nonce := e.registry.Nonce()
	hash := terms.Hash()

	var ids []uint64
	var from uint64 = 1
	if e.index != nil {
		cached, upTo, err := e.index.Get(ctx, hash)
		if err == nil && upTo > 0 {
			ids = cached
			from = upTo + 1
		}
	}

	if from <= nonce {
		e.registry.ScanTokens(func(t domain.OptionToken) bool {
			if t.ID < from {
				return true
			}
			if t.Terms.Equal(terms) {
				ids = append(ids, t.ID)
			}
			return true
		})
		if e.index != nil {
			if err := e.index.Put(ctx, hash, ids, nonce); err != nil {
				e.logger.Warn("match index put failed", slog.String("error", err.Error()))
			}
		}
	}
	return ids
}

// PlaceSellOrder lists a token for sale at askPrice. The caller must own the
// token, the token must be active, and the price must be positive. A prior
// live ask on the token is replaced. If a live bid at or above the ask is
// standing, the orders cross immediately at the bid price.
func (e *Exchange) PlaceSellOrder(ctx context.Context, caller common.Address, tokenID uint64, askPrice *big.Int) error {
	if askPrice == nil || askPrice.Sign() <= 0 {
		return domain.ErrZeroAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	token, err := e.registry.GetPrime(tokenID)
	if err != nil {
		return err
	}
	if !token.Active() {
		return domain.ErrTokenInactive
	}
	if token.CurrentOwner != caller {
		return domain.ErrNotOwner
	}

	e.replace(ctx, e.sells, tokenID)
	ask := &domain.Order{
		TokenID:   tokenID,
		Side:      domain.OrderSideSell,
		Price:     new(big.Int).Set(askPrice),
		Owner:     caller,
		Status:    domain.OrderStatusOpen,
		CreatedAt: e.clock.Now(),
	}
	e.sells[tokenID] = ask
	e.journalInsert(ctx, ask)
	e.emit(domain.EventOrderPlaced, tokenID, caller, map[string]string{
		"side":  string(domain.OrderSideSell),
		"price": askPrice.String(),
	})

	if bid, ok := e.buys[tokenID]; ok && bid.Live() && bid.Price.Cmp(askPrice) >= 0 {
		return e.fill(ctx, tokenID, ask, bid)
	}
	return nil
}

// PlaceBuyOrder escrows bidPrice of the payment asset and lists a bid on the
// token. A prior live bid is replaced and its escrow refunded. If a live ask
// at or below the bid is standing, the orders cross immediately at the ask
// price and the difference is refunded. The seller is always paid the resting
// ask, never the full bid amount.
func (e *Exchange) PlaceBuyOrder(ctx context.Context, caller common.Address, tokenID uint64, bidPrice *big.Int) error {
	if bidPrice == nil || bidPrice.Sign() <= 0 {
		return domain.ErrZeroAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	token, err := e.registry.GetPrime(tokenID)
	if err != nil {
		return err
	}
	if !token.Active() {
		return domain.ErrTokenInactive
	}

	if err := e.assets.TransferFrom(ctx, e.cfg.PaymentAsset, caller, e.cfg.Account, bidPrice); err != nil {
		return err
	}

	e.replace(ctx, e.buys, tokenID)
	bid := &domain.Order{
		TokenID:   tokenID,
		Side:      domain.OrderSideBuy,
		Price:     new(big.Int).Set(bidPrice),
		Owner:     caller,
		Status:    domain.OrderStatusOpen,
		CreatedAt: e.clock.Now(),
	}
	e.buys[tokenID] = bid
	e.journalInsert(ctx, bid)
	e.emit(domain.EventOrderPlaced, tokenID, caller, map[string]string{
		"side":  string(domain.OrderSideBuy),
		"price": bidPrice.String(),
	})

	if ask, ok := e.sells[tokenID]; ok && ask.Live() && ask.Price.Cmp(bidPrice) <= 0 {
		return e.fill(ctx, tokenID, ask, bid)
	}
	return nil
}

// CancelOrder withdraws the caller's live order on (tokenID, side). A
// cancelled bid has its escrow refunded.
func (e *Exchange) CancelOrder(ctx context.Context, caller common.Address, tokenID uint64, side domain.OrderSide) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	book := e.sells
	if side == domain.OrderSideBuy {
		book = e.buys
	}
	order, ok := book[tokenID]
	if !ok || !order.Live() {
		return domain.ErrNotFound
	}
	if order.Owner != caller {
		return domain.ErrNotOwner
	}

	if side == domain.OrderSideBuy {
		if err := e.assets.Transfer(ctx, e.cfg.PaymentAsset, e.cfg.Account, order.Owner, order.Price); err != nil {
			return fmt.Errorf("%w: bid refund: %w", domain.ErrExternalCall, err)
		}
	}
	order.Status = domain.OrderStatusCancelled
	e.journalStatus(ctx, order)
	return nil
}

// GetSellOrder returns the live ask on tokenID, if any.
func (e *Exchange) GetSellOrder(tokenID uint64) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return liveOrder(e.sells, tokenID)
}

// GetBuyOrder returns the live bid on tokenID, if any.
func (e *Exchange) GetBuyOrder(tokenID uint64) (domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return liveOrder(e.buys, tokenID)
}

// QuoteOrderBook aggregates live bids and asks across every token matching
// the given terms. Tokens without a live order on a side are omitted from
// that side's map.
func (e *Exchange) QuoteOrderBook(ctx context.Context, terms domain.OptionTerms) domain.OrderBookQuote {
	ids := e.FindMatches(ctx, terms)

	e.mu.Lock()
	defer e.mu.Unlock()

	quote := domain.OrderBookQuote{
		Buy:  make(map[uint64]*big.Int),
		Sell: make(map[uint64]*big.Int),
	}
	for _, id := range ids {
		if bid, ok := liveOrder(e.buys, id); ok {
			quote.Buy[id] = new(big.Int).Set(bid.Price)
		}
		if ask, ok := liveOrder(e.sells, id); ok {
			quote.Sell[id] = new(big.Int).Set(ask.Price)
		}
	}
	return quote
}

// --- internals, callers hold e.mu ---

// fill settles a crossed pair at the ask price: the seller is paid from
// escrow, any bid surplus is refunded, and the token moves to the bidder.
func (e *Exchange) fill(ctx context.Context, tokenID uint64, ask, bid *domain.Order) error {
	seller, err := e.registry.OwnerOf(tokenID)
	if err != nil {
		return err
	}
	if seller != ask.Owner {
		// The token changed hands outside the book; the ask is stale.
		ask.Status = domain.OrderStatusCancelled
		e.journalStatus(ctx, ask)
		return nil
	}

	if err := e.registry.Transfer(ctx, seller, bid.Owner, tokenID); err != nil {
		return err
	}
	if err := e.assets.Transfer(ctx, e.cfg.PaymentAsset, e.cfg.Account, seller, ask.Price); err != nil {
		return fmt.Errorf("%w: seller payout: %w", domain.ErrExternalCall, err)
	}
	surplus := new(big.Int).Sub(bid.Price, ask.Price)
	if surplus.Sign() > 0 {
		if err := e.assets.Transfer(ctx, e.cfg.PaymentAsset, e.cfg.Account, bid.Owner, surplus); err != nil {
			return fmt.Errorf("%w: surplus refund: %w", domain.ErrExternalCall, err)
		}
	}

	now := e.clock.Now()
	ask.Status = domain.OrderStatusFilled
	ask.FilledAt = &now
	bid.Status = domain.OrderStatusFilled
	bid.FilledAt = &now
	e.journalStatus(ctx, ask)
	e.journalStatus(ctx, bid)

	e.emit(domain.EventOrderFilled, tokenID, bid.Owner, map[string]string{
		"price":  ask.Price.String(),
		"seller": seller.Hex(),
		"buyer":  bid.Owner.Hex(),
	})
	return nil
}

// replace retires the live order in book[tokenID], refunding bid escrow.
func (e *Exchange) replace(ctx context.Context, book map[uint64]*domain.Order, tokenID uint64) {
	prior, ok := book[tokenID]
	if !ok || !prior.Live() {
		return
	}
	if prior.Side == domain.OrderSideBuy {
		if err := e.assets.Transfer(ctx, e.cfg.PaymentAsset, e.cfg.Account, prior.Owner, prior.Price); err != nil {
			e.logger.Error("replaced bid refund failed",
				slog.Uint64("token_id", tokenID),
				slog.String("error", err.Error()))
		}
	}
	prior.Status = domain.OrderStatusReplaced
	e.journalStatus(ctx, prior)
}

func liveOrder(book map[uint64]*domain.Order, tokenID uint64) (domain.Order, bool) {
	o, ok := book[tokenID]
	if !ok || !o.Live() {
		return domain.Order{}, false
	}
	return *o, true
}

func (e *Exchange) journalInsert(ctx context.Context, o *domain.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.Insert(ctx, *o); err != nil {
		e.logger.Error("order journal insert failed", slog.String("error", err.Error()))
	}
}

func (e *Exchange) journalStatus(ctx context.Context, o *domain.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.UpdateStatus(ctx, o.TokenID, o.Side, o.Status, o.FilledAt); err != nil {
		e.logger.Error("order journal update failed", slog.String("error", err.Error()))
	}
}

func (e *Exchange) emit(kind domain.EventKind, id uint64, actor common.Address, detail map[string]string) {
	e.sink.Emit(domain.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		TokenID: id,
		Actor:   actor.Hex(),
		Detail:  detail,
		At:      e.clock.Now(),
	})
}
