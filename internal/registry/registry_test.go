package registry

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/ledger"
)

var (
	collateralAsset = common.HexToAddress("0xc011")
	strikeAsset     = common.HexToAddress("0x5711")
	escrowAccount   = common.HexToAddress("0xe5c0")
	writer          = common.HexToAddress("0x0001")
	buyer           = common.HexToAddress("0x0002")
	stranger        = common.HexToAddress("0x0003")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) (*Registry, *ledger.Memory, *ledger.FixedClock) {
	t.Helper()
	clock := &ledger.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	assets := ledger.NewMemory()
	return New(assets, clock, escrowAccount, nil, nil, testLogger()), assets, clock
}

func testTerms(clock *ledger.FixedClock) domain.OptionTerms {
	return domain.OptionTerms{
		CollateralAsset:  collateralAsset,
		CollateralAmount: domain.Units(1),
		StrikeAsset:      strikeAsset,
		StrikeAmount:     domain.Units(10),
		Expiration:       clock.T.Add(30 * 24 * time.Hour).Unix(),
	}
}

// mintOne funds and approves the writer, then mints one token to receiver.
func mintOne(t *testing.T, r *Registry, assets *ledger.Memory, clock *ledger.FixedClock, receiver common.Address) uint64 {
	t.Helper()
	ctx := context.Background()
	terms := testTerms(clock)
	assets.Mint(collateralAsset, writer, terms.CollateralAmount)
	require.NoError(t, assets.Approve(ctx, collateralAsset, writer, escrowAccount, terms.CollateralAmount))
	id, err := r.Mint(ctx, writer, terms, receiver)
	require.NoError(t, err)
	return id
}

func TestMintLocksCollateralAndIssuesToken(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)

	id := mintOne(t, r, assets, clock, buyer)
	require.Equal(t, uint64(1), id)
	require.Equal(t, uint64(1), r.Nonce())

	// Collateral moved into escrow.
	wb, _ := assets.BalanceOf(ctx, collateralAsset, writer)
	eb, _ := assets.BalanceOf(ctx, collateralAsset, escrowAccount)
	require.Equal(t, int64(0), wb.Int64())
	require.Equal(t, domain.Units(1).String(), eb.String())

	token, err := r.GetPrime(id)
	require.NoError(t, err)
	require.Equal(t, domain.TokenStateActive, token.State)
	require.Equal(t, writer, token.Writer)
	require.Equal(t, buyer, token.CurrentOwner)
	require.Equal(t, domain.Units(1).String(), token.EscrowCollateral.String())

	owner, err := r.OwnerOf(id)
	require.NoError(t, err)
	require.Equal(t, buyer, owner)

	// The writer holds the collateral claim and the minted index.
	claim, err := r.GetClaim(id)
	require.NoError(t, err)
	require.Equal(t, writer, claim.Holder)
	require.Equal(t, domain.Units(1).String(), claim.Amount.String())
	require.Equal(t, []uint64{id}, r.GetActor(writer).MintedTokens)
}

func TestMintRejectsInvalidTerms(t *testing.T) {
	ctx := context.Background()
	r, _, clock := newTestRegistry(t)

	past := testTerms(clock)
	past.Expiration = clock.T.Unix()
	_, err := r.Mint(ctx, writer, past, buyer)
	require.ErrorIs(t, err, domain.ErrInvalidTerms)

	zero := testTerms(clock)
	zero.StrikeAmount = big.NewInt(0)
	_, err = r.Mint(ctx, writer, zero, buyer)
	require.ErrorIs(t, err, domain.ErrInvalidTerms)
}

func TestMintRequiresEscrowApproval(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)

	terms := testTerms(clock)
	assets.Mint(collateralAsset, writer, terms.CollateralAmount)

	_, err := r.Mint(ctx, writer, terms, buyer)
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	require.Equal(t, uint64(0), r.Nonce())
}

func TestExerciseSwapsStrikeForCollateral(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)
	id := mintOne(t, r, assets, clock, buyer)

	assets.Mint(strikeAsset, buyer, domain.Units(10))
	require.NoError(t, assets.Approve(ctx, strikeAsset, buyer, escrowAccount, domain.Units(10)))
	require.NoError(t, r.Exercise(ctx, buyer, id))

	// The buyer paid the strike and took the collateral.
	bc, _ := assets.BalanceOf(ctx, collateralAsset, buyer)
	bs, _ := assets.BalanceOf(ctx, strikeAsset, buyer)
	require.Equal(t, domain.Units(1).String(), bc.String())
	require.Equal(t, int64(0), bs.Int64())

	token, _ := r.GetPrime(id)
	require.Equal(t, domain.TokenStateExercised, token.State)
	require.Equal(t, int64(0), token.EscrowCollateral.Int64())
	require.Equal(t, domain.Units(10).String(), token.EscrowStrike.String())
	require.NotNil(t, token.DeactivatedAt)

	// The writer's claim converted to strike proceeds; Redeem pays it out.
	claim, _ := r.GetClaim(id)
	require.Equal(t, domain.Units(10).String(), claim.Amount.String())

	paid, err := r.Redeem(ctx, writer, id)
	require.NoError(t, err)
	require.Equal(t, domain.Units(10).String(), paid.String())
	ws, _ := assets.BalanceOf(ctx, strikeAsset, writer)
	require.Equal(t, domain.Units(10).String(), ws.String())

	// Claims pay out once.
	_, err = r.Redeem(ctx, writer, id)
	require.ErrorIs(t, err, domain.ErrNotEntitled)
}

func TestExerciseErrors(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)
	id := mintOne(t, r, assets, clock, buyer)

	require.ErrorIs(t, r.Exercise(ctx, stranger, id), domain.ErrNotOwner)
	require.ErrorIs(t, r.Exercise(ctx, buyer, 99), domain.ErrNotFound)

	// Missing strike funds leave the token untouched.
	require.ErrorIs(t, r.Exercise(ctx, buyer, id), domain.ErrInsufficientBalance)
	token, _ := r.GetPrime(id)
	require.Equal(t, domain.TokenStateActive, token.State)

	// Funds without an escrow approval cannot be pulled either.
	assets.Mint(strikeAsset, buyer, domain.Units(10))
	require.ErrorIs(t, r.Exercise(ctx, buyer, id), domain.ErrInsufficientAllowance)

	// Expiry closes the exercise window.
	clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, assets.Approve(ctx, strikeAsset, buyer, escrowAccount, domain.Units(10)))
	require.ErrorIs(t, r.Exercise(ctx, buyer, id), domain.ErrExpired)
}

func TestExerciseTwiceRejected(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)
	id := mintOne(t, r, assets, clock, buyer)

	assets.Mint(strikeAsset, buyer, domain.Units(20))
	require.NoError(t, assets.Approve(ctx, strikeAsset, buyer, escrowAccount, domain.Units(20)))
	require.NoError(t, r.Exercise(ctx, buyer, id))
	require.ErrorIs(t, r.Exercise(ctx, buyer, id), domain.ErrTokenInactive)
}

func TestCloseAfterExpiryReturnsCollateral(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)
	id := mintOne(t, r, assets, clock, buyer)

	// Before expiry a writer who no longer holds the token cannot close.
	require.ErrorIs(t, r.Close(ctx, writer, id, id), domain.ErrNotExpired)

	clock.Advance(31 * 24 * time.Hour)
	require.NoError(t, r.Close(ctx, writer, id, id))

	wb, _ := assets.BalanceOf(ctx, collateralAsset, writer)
	require.Equal(t, domain.Units(1).String(), wb.String())

	token, _ := r.GetPrime(id)
	require.Equal(t, domain.TokenStateClosed, token.State)
	require.Equal(t, int64(0), token.EscrowCollateral.Int64())

	// Closed tokens stay closed.
	require.ErrorIs(t, r.Close(ctx, writer, id, id), domain.ErrTokenInactive)
	require.Equal(t, []uint64{id}, r.GetActor(writer).DeactivatedTokens)
}

func TestCloseEarlyWhenHoldingBothSides(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)

	// Minted to self: the writer holds the claim and the token.
	id := mintOne(t, r, assets, clock, writer)
	require.NoError(t, r.Close(ctx, writer, id, id))

	wb, _ := assets.BalanceOf(ctx, collateralAsset, writer)
	require.Equal(t, domain.Units(1).String(), wb.String())
}

func TestCloseRequiresClaim(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)
	id := mintOne(t, r, assets, clock, buyer)
	clock.Advance(31 * 24 * time.Hour)

	require.ErrorIs(t, r.Close(ctx, stranger, id, id), domain.ErrNotEntitled)
	// A mismatched claim id is not entitled either.
	other := mintOne(t, r, assets, clock, buyer)
	_ = other
	require.ErrorIs(t, r.Close(ctx, writer, id, other), domain.ErrNotEntitled)
}

func TestTransferMovesOwnership(t *testing.T) {
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)
	id := mintOne(t, r, assets, clock, buyer)

	require.ErrorIs(t, r.Transfer(ctx, stranger, writer, id), domain.ErrNotOwner)
	require.NoError(t, r.Transfer(ctx, buyer, stranger, id))

	owner, _ := r.OwnerOf(id)
	require.Equal(t, stranger, owner)
}

func TestIDsAreSequentialFromOne(t *testing.T) {
	r, assets, clock := newTestRegistry(t)
	for want := uint64(1); want <= 5; want++ {
		got := mintOne(t, r, assets, clock, buyer)
		require.Equal(t, want, got)
	}
	require.Equal(t, uint64(5), r.Nonce())

	// Scan sees them in mint order.
	var seen []uint64
	r.ScanTokens(func(tok domain.OptionToken) bool {
		seen = append(seen, tok.ID)
		return true
	})
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, seen)
}

func TestCollateralConservation(t *testing.T) {
	// Escrow always equals the sum of live escrow columns across tokens.
	ctx := context.Background()
	r, assets, clock := newTestRegistry(t)

	id1 := mintOne(t, r, assets, clock, buyer)
	id2 := mintOne(t, r, assets, clock, buyer)
	_ = id2

	assets.Mint(strikeAsset, buyer, domain.Units(10))
	require.NoError(t, assets.Approve(ctx, strikeAsset, buyer, escrowAccount, domain.Units(10)))
	require.NoError(t, r.Exercise(ctx, buyer, id1))

	var sumCollateral, sumStrike = big.NewInt(0), big.NewInt(0)
	r.ScanTokens(func(tok domain.OptionToken) bool {
		sumCollateral.Add(sumCollateral, tok.EscrowCollateral)
		sumStrike.Add(sumStrike, tok.EscrowStrike)
		return true
	})
	ec, _ := assets.BalanceOf(ctx, collateralAsset, escrowAccount)
	es, _ := assets.BalanceOf(ctx, strikeAsset, escrowAccount)
	require.Equal(t, ec.String(), sumCollateral.String())
	require.Equal(t, es.String(), sumStrike.String())
}
