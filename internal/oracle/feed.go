package oracle

import (
	"context"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/ledger"
)

const secondsPerYear = 31_536_000

// Feed prices option premiums from a volatility input using a square-root-of
// -time extrinsic value model: for one unit of strike exposure the writer
// locks base/price collateral, and the premium charged is
//
//	premium = base * (volatility / 10000) * sqrt(T)
//
// with T the years remaining to expiry and volatility in basis points.
// The quote is denominated in the collateral asset at 18 decimals, matching
// what the pool collects.
type Feed struct {
	clock ledger.Clock
}

// NewFeed creates a Feed that measures time to expiry against clock.
func NewFeed(clock ledger.Clock) *Feed {
	return &Feed{clock: clock}
}

// CalculatePremium implements PriceOracle. It returns ErrInvalidTerms for a
// non-positive base or price and ErrExpired when expiry is not in the future.
func (f *Feed) CalculatePremium(ctx context.Context, asset common.Address, volatility uint64, base, price *big.Int, expiry int64) (*big.Int, error) {
	if base == nil || base.Sign() <= 0 || price == nil || price.Sign() <= 0 {
		return nil, domain.ErrInvalidTerms
	}
	now := f.clock.Now()
	secs := expiry - now.Unix()
	if secs <= 0 {
		return nil, domain.ErrExpired
	}

	years := float64(secs) / secondsPerYear
	timeFactor := decimal.NewFromFloat(math.Sqrt(years))
	vol := decimal.New(int64(volatility), -4) // basis points -> fraction

	notional := decimal.NewFromBigInt(base, -18)
	premium := notional.Mul(vol).Mul(timeFactor)

	// Back to 18-decimal fixed point, truncating toward zero.
	out := premium.Shift(18).Truncate(0).BigInt()
	if out.Sign() < 0 {
		out = big.NewInt(0)
	}
	return out, nil
}
