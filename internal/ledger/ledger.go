// Package ledger defines the asset-ledger boundary the engine consumes and an
// in-memory implementation used for simulation and tests. The core never
// embeds a concrete ledger: every component takes the interface at
// construction time.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AssetLedger is the balance/allowance ledger for fungible assets. All
// amounts are unsigned 18-decimal fixed-point integers. A failed transfer
// leaves both accounts untouched.
//
// TransferFrom pulls funds on behalf of the recipient and spends the
// (owner -> recipient) allowance; Transfer moves the owner's own funds and
// needs no allowance. Components pull escrow with TransferFrom and pay out
// of their escrow with Transfer.
type AssetLedger interface {
	BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, asset, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, asset, owner, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, asset, from, to common.Address, amount *big.Int) error
}

// Clock supplies ledger time. Mint and exercise deadlines are judged against
// it rather than the host's wall clock so tests and replays stay
// deterministic.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the host wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock reports a settable instant.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
