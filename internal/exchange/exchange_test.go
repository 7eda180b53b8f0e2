package exchange

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/ledger"
	"github.com/primitivefi/prime-engine/internal/registry"
)

var (
	collateralAsset = common.HexToAddress("0xc011")
	strikeAsset     = common.HexToAddress("0x5711")
	paymentAsset    = common.HexToAddress("0xda1")
	escrowAccount   = common.HexToAddress("0xe5c0")
	bookAccount     = common.HexToAddress("0xb00c")
	seller          = common.HexToAddress("0x0001")
	bidder          = common.HexToAddress("0x0002")
	stranger        = common.HexToAddress("0x0003")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	exchange *Exchange
	registry *registry.Registry
	assets   *ledger.Memory
	clock    *ledger.FixedClock
}

func newFixture() *fixture {
	clock := &ledger.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	assets := ledger.NewMemory()
	reg := registry.New(assets, clock, escrowAccount, nil, nil, testLogger())
	ex := New(Config{Account: bookAccount, PaymentAsset: paymentAsset}, assets, clock, reg, nil, nil, nil, testLogger())
	return &fixture{exchange: ex, registry: reg, assets: assets, clock: clock}
}

func (f *fixture) terms(strikeUnits int64) domain.OptionTerms {
	return domain.OptionTerms{
		CollateralAsset:  collateralAsset,
		CollateralAmount: domain.Units(1),
		StrikeAsset:      strikeAsset,
		StrikeAmount:     domain.Units(strikeUnits),
		Expiration:       f.clock.T.Add(30 * 24 * time.Hour).Unix(),
	}
}

// mint funds the writer and mints a token with the given terms to them.
func (f *fixture) mint(t require.TestingT, to common.Address, terms domain.OptionTerms) uint64 {
	ctx := context.Background()
	f.assets.Mint(collateralAsset, to, terms.CollateralAmount)
	if err := f.assets.Approve(ctx, collateralAsset, to, escrowAccount, terms.CollateralAmount); err != nil {
		t.Errorf("approve: %v", err)
		t.FailNow()
	}
	id, err := f.registry.Mint(ctx, to, terms, to)
	if err != nil {
		t.Errorf("mint: %v", err)
		t.FailNow()
	}
	return id
}

// fundBid credits the bidder with payment funds approved for book escrow.
func (f *fixture) fundBid(t require.TestingT, who common.Address, amount *big.Int) {
	f.assets.Mint(paymentAsset, who, amount)
	if err := f.assets.Approve(context.Background(), paymentAsset, who, bookAccount, amount); err != nil {
		t.Errorf("approve: %v", err)
		t.FailNow()
	}
}

func TestFindMatchesExactTermsAscending(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	terms := f.terms(10)
	id1 := f.mint(t, seller, terms)
	f.mint(t, seller, f.terms(20)) // different strike, no match
	id3 := f.mint(t, seller, terms)

	ids := f.exchange.FindMatches(ctx, terms)
	require.Equal(t, []uint64{id1, id3}, ids)

	// Later mints extend the match set in order.
	id4 := f.mint(t, bidder, terms)
	require.Equal(t, []uint64{id1, id3, id4}, f.exchange.FindMatches(ctx, terms))

	// Unknown terms match nothing.
	require.Empty(t, f.exchange.FindMatches(ctx, f.terms(99)))
}

func TestSellThenBuyFillsAtAsk(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.mint(t, seller, f.terms(10))

	ask := domain.Units(5)
	require.NoError(t, f.exchange.PlaceSellOrder(ctx, seller, id, ask))

	order, ok := f.exchange.GetSellOrder(id)
	require.True(t, ok)
	require.Equal(t, seller, order.Owner)
	require.Equal(t, ask.String(), order.Price.String())

	f.fundBid(t, bidder, domain.Units(5))
	require.NoError(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(5)))

	// The token changed hands and the seller was paid from escrow.
	owner, err := f.registry.OwnerOf(id)
	require.NoError(t, err)
	require.Equal(t, bidder, owner)

	sellerBal, _ := f.assets.BalanceOf(ctx, paymentAsset, seller)
	require.Equal(t, ask.String(), sellerBal.String())
	bookBal, _ := f.assets.BalanceOf(ctx, paymentAsset, bookAccount)
	require.Equal(t, int64(0), bookBal.Int64())

	// Both slots are free again.
	_, ok = f.exchange.GetSellOrder(id)
	require.False(t, ok)
	_, ok = f.exchange.GetBuyOrder(id)
	require.False(t, ok)
}

func TestBuyThenSellFillsAtAsk(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.mint(t, seller, f.terms(10))

	f.fundBid(t, bidder, domain.Units(6))
	require.NoError(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(6)))

	// The bid escrows into the book account while it stands.
	bookBal, _ := f.assets.BalanceOf(ctx, paymentAsset, bookAccount)
	require.Equal(t, domain.Units(6).String(), bookBal.String())

	// An ask below the bid crosses at the bid price.
	require.NoError(t, f.exchange.PlaceSellOrder(ctx, seller, id, domain.Units(6)))

	owner, _ := f.registry.OwnerOf(id)
	require.Equal(t, bidder, owner)
	sellerBal, _ := f.assets.BalanceOf(ctx, paymentAsset, seller)
	require.Equal(t, domain.Units(6).String(), sellerBal.String())
}

func TestBidSurplusRefundedOnFill(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.mint(t, seller, f.terms(10))

	require.NoError(t, f.exchange.PlaceSellOrder(ctx, seller, id, domain.Units(4)))
	f.fundBid(t, bidder, domain.Units(7))
	require.NoError(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(7)))

	// Filled at the ask; the 3-unit surplus comes back.
	sellerBal, _ := f.assets.BalanceOf(ctx, paymentAsset, seller)
	bidderBal, _ := f.assets.BalanceOf(ctx, paymentAsset, bidder)
	require.Equal(t, domain.Units(4).String(), sellerBal.String())
	require.Equal(t, domain.Units(3).String(), bidderBal.String())
}

func TestRelistReplacesAndRefundsBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.mint(t, seller, f.terms(10))

	f.fundBid(t, bidder, domain.Units(10))
	require.NoError(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(6)))
	require.NoError(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(2)))

	// Only the latest bid stays escrowed.
	bookBal, _ := f.assets.BalanceOf(ctx, paymentAsset, bookAccount)
	require.Equal(t, domain.Units(2).String(), bookBal.String())
	order, ok := f.exchange.GetBuyOrder(id)
	require.True(t, ok)
	require.Equal(t, domain.Units(2).String(), order.Price.String())

	// Asks replace without escrow.
	require.NoError(t, f.exchange.PlaceSellOrder(ctx, seller, id, domain.Units(9)))
	require.NoError(t, f.exchange.PlaceSellOrder(ctx, seller, id, domain.Units(8)))
	ask, ok := f.exchange.GetSellOrder(id)
	require.True(t, ok)
	require.Equal(t, domain.Units(8).String(), ask.Price.String())
}

func TestCancelRefundsBidEscrow(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.mint(t, seller, f.terms(10))

	f.fundBid(t, bidder, domain.Units(5))
	require.NoError(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(5)))

	require.ErrorIs(t, f.exchange.CancelOrder(ctx, stranger, id, domain.OrderSideBuy), domain.ErrNotOwner)
	require.NoError(t, f.exchange.CancelOrder(ctx, bidder, id, domain.OrderSideBuy))

	bidderBal, _ := f.assets.BalanceOf(ctx, paymentAsset, bidder)
	require.Equal(t, domain.Units(5).String(), bidderBal.String())
	_, ok := f.exchange.GetBuyOrder(id)
	require.False(t, ok)

	// Nothing left to cancel.
	require.ErrorIs(t, f.exchange.CancelOrder(ctx, bidder, id, domain.OrderSideBuy), domain.ErrNotFound)
}

func TestOrderValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.mint(t, seller, f.terms(10))

	require.ErrorIs(t, f.exchange.PlaceSellOrder(ctx, seller, id, big.NewInt(0)), domain.ErrZeroAmount)
	require.ErrorIs(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, nil), domain.ErrZeroAmount)
	require.ErrorIs(t, f.exchange.PlaceSellOrder(ctx, stranger, id, domain.Units(1)), domain.ErrNotOwner)
	require.ErrorIs(t, f.exchange.PlaceSellOrder(ctx, seller, 42, domain.Units(1)), domain.ErrNotFound)

	// Unfunded bids never reach the book.
	require.ErrorIs(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(1)), domain.ErrInsufficientBalance)

	// Funds without a book-escrow approval are rejected the same way.
	f.assets.Mint(paymentAsset, bidder, domain.Units(1))
	require.ErrorIs(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(1)), domain.ErrInsufficientAllowance)
	_, ok := f.exchange.GetBuyOrder(id)
	require.False(t, ok)
}

func TestInactiveTokenRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.mint(t, seller, f.terms(10))

	// Exercise by the owner deactivates the token.
	f.assets.Mint(strikeAsset, seller, domain.Units(10))
	require.NoError(t, f.assets.Approve(ctx, strikeAsset, seller, escrowAccount, domain.Units(10)))
	require.NoError(t, f.registry.Exercise(ctx, seller, id))

	require.ErrorIs(t, f.exchange.PlaceSellOrder(ctx, seller, id, domain.Units(1)), domain.ErrTokenInactive)
	f.fundBid(t, bidder, domain.Units(1))
	require.ErrorIs(t, f.exchange.PlaceBuyOrder(ctx, bidder, id, domain.Units(1)), domain.ErrTokenInactive)
}

func TestQuoteOrderBookOmitsEmptySides(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	terms := f.terms(10)
	id1 := f.mint(t, seller, terms)
	id2 := f.mint(t, seller, terms)
	id3 := f.mint(t, seller, terms)

	require.NoError(t, f.exchange.PlaceSellOrder(ctx, seller, id1, domain.Units(5)))
	f.fundBid(t, bidder, domain.Units(3))
	require.NoError(t, f.exchange.PlaceBuyOrder(ctx, bidder, id2, domain.Units(3)))

	quote := f.exchange.QuoteOrderBook(ctx, terms)
	require.Equal(t, domain.Units(5).String(), quote.Sell[id1].String())
	require.Equal(t, domain.Units(3).String(), quote.Buy[id2].String())
	require.NotContains(t, quote.Buy, id1)
	require.NotContains(t, quote.Sell, id2)
	require.NotContains(t, quote.Buy, id3)
	require.NotContains(t, quote.Sell, id3)
}

func TestCrossingRule(t *testing.T) {
	// A bid fills a standing ask exactly when bid >= ask; otherwise both
	// rest on the book.
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		f := newFixture()
		id := f.mint(t, seller, f.terms(10))

		askPrice := big.NewInt(rapid.Int64Range(1, 10_000).Draw(t, "ask"))
		bidPrice := big.NewInt(rapid.Int64Range(1, 10_000).Draw(t, "bid"))

		if err := f.exchange.PlaceSellOrder(ctx, seller, id, askPrice); err != nil {
			t.Fatalf("place ask: %v", err)
		}
		f.fundBid(t, bidder, bidPrice)
		if err := f.exchange.PlaceBuyOrder(ctx, bidder, id, bidPrice); err != nil {
			t.Fatalf("place bid: %v", err)
		}

		shouldFill := bidPrice.Cmp(askPrice) >= 0
		owner, err := f.registry.OwnerOf(id)
		if err != nil {
			t.Fatalf("owner: %v", err)
		}
		_, askLive := f.exchange.GetSellOrder(id)
		_, bidLive := f.exchange.GetBuyOrder(id)

		if shouldFill {
			if owner != bidder {
				t.Fatalf("expected fill at bid=%s >= ask=%s", bidPrice, askPrice)
			}
			if askLive || bidLive {
				t.Fatalf("filled orders still live")
			}
			// Settlement at the ask price, surplus refunded.
			sellerBal, _ := f.assets.BalanceOf(ctx, paymentAsset, seller)
			bidderBal, _ := f.assets.BalanceOf(ctx, paymentAsset, bidder)
			if sellerBal.Cmp(askPrice) != 0 {
				t.Fatalf("seller paid %s, want ask %s", sellerBal, askPrice)
			}
			want := new(big.Int).Sub(bidPrice, askPrice)
			if bidderBal.Cmp(want) != 0 {
				t.Fatalf("bidder refund %s, want %s", bidderBal, want)
			}
		} else {
			if owner != seller {
				t.Fatalf("unexpected fill at bid=%s < ask=%s", bidPrice, askPrice)
			}
			if !askLive || !bidLive {
				t.Fatalf("resting orders should stay live")
			}
		}
	})
}
