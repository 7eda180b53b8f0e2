package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/primitivefi/prime-engine/internal/domain"
)

var (
	assetUSD = common.HexToAddress("0xaaaa")
	alice    = common.HexToAddress("0x0001")
	bob      = common.HexToAddress("0x0002")
)

func TestTransferMovesOwnFunds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Mint(assetUSD, alice, big.NewInt(100))

	require.NoError(t, m.Transfer(ctx, assetUSD, alice, bob, big.NewInt(40)))

	ba, _ := m.BalanceOf(ctx, assetUSD, alice)
	bb, _ := m.BalanceOf(ctx, assetUSD, bob)
	require.Equal(t, int64(60), ba.Int64())
	require.Equal(t, int64(40), bb.Int64())
}

func TestTransferInsufficientBalanceLeavesBothUntouched(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Mint(assetUSD, alice, big.NewInt(10))

	err := m.Transfer(ctx, assetUSD, alice, bob, big.NewInt(11))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	ba, _ := m.BalanceOf(ctx, assetUSD, alice)
	bb, _ := m.BalanceOf(ctx, assetUSD, bob)
	require.Equal(t, int64(10), ba.Int64())
	require.Equal(t, int64(0), bb.Int64())
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Mint(assetUSD, alice, big.NewInt(100))

	// No allowance yet.
	err := m.TransferFrom(ctx, assetUSD, alice, bob, big.NewInt(30))
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)

	require.NoError(t, m.Approve(ctx, assetUSD, alice, bob, big.NewInt(50)))
	require.NoError(t, m.TransferFrom(ctx, assetUSD, alice, bob, big.NewInt(30)))

	remaining, _ := m.Allowance(ctx, assetUSD, alice, bob)
	require.Equal(t, int64(20), remaining.Int64())

	// The rest of the allowance caps further pulls.
	err = m.TransferFrom(ctx, assetUSD, alice, bob, big.NewInt(21))
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
}

func TestTransferFromChecksBalanceBeforeAllowance(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Mint(assetUSD, alice, big.NewInt(5))
	require.NoError(t, m.Approve(ctx, assetUSD, alice, bob, big.NewInt(100)))

	err := m.TransferFrom(ctx, assetUSD, alice, bob, big.NewInt(50))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestZeroAmountRejected(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.ErrorIs(t, m.Transfer(ctx, assetUSD, alice, bob, big.NewInt(0)), domain.ErrZeroAmount)
	require.ErrorIs(t, m.TransferFrom(ctx, assetUSD, alice, bob, nil), domain.ErrZeroAmount)
}

func TestBurnClampsAtZero(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Mint(assetUSD, alice, big.NewInt(10))
	m.Burn(assetUSD, alice, big.NewInt(25))

	ba, _ := m.BalanceOf(ctx, assetUSD, alice)
	require.Equal(t, int64(0), ba.Int64())
}
