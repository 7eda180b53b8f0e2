// Package oracle defines the premium-quote boundary the engine consumes and
// two implementations: a volatility-scaled model for live operation and a
// static fixture for tests.
package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceOracle supplies a premium quote for one unit of strike exposure. The
// pool scales the quote by the strike amount it sells against. Premium is an
// unsigned 18-decimal fixed-point integer denominated in the option's
// collateral asset.
type PriceOracle interface {
	CalculatePremium(ctx context.Context, asset common.Address, volatility uint64, base, price *big.Int, expiry int64) (*big.Int, error)
}

// Static quotes a constant premium per unit of strike, regardless of input.
// Useful for tests and paper trading.
type Static struct {
	Premium *big.Int
}

func (s Static) CalculatePremium(ctx context.Context, asset common.Address, volatility uint64, base, price *big.Int, expiry int64) (*big.Int, error) {
	return new(big.Int).Set(s.Premium), nil
}
