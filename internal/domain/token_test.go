package domain

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func validTerms() OptionTerms {
	return OptionTerms{
		CollateralAsset:  common.HexToAddress("0x01"),
		CollateralAmount: Units(1),
		StrikeAsset:      common.HexToAddress("0x02"),
		StrikeAmount:     Units(10),
		Expiration:       time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
	}
}

func TestTermsValidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, validTerms().Validate(now))

	zeroCollateral := validTerms()
	zeroCollateral.CollateralAmount = big.NewInt(0)
	require.ErrorIs(t, zeroCollateral.Validate(now), ErrInvalidTerms)

	negStrike := validTerms()
	negStrike.StrikeAmount = big.NewInt(-1)
	require.ErrorIs(t, negStrike.Validate(now), ErrInvalidTerms)

	// Expiration exactly at now is already too late.
	atNow := validTerms()
	atNow.Expiration = now.Unix()
	require.ErrorIs(t, atNow.Validate(now), ErrInvalidTerms)
}

func TestTermsEqualIsExact(t *testing.T) {
	a := validTerms()
	b := validTerms()
	require.True(t, a.Equal(b))

	b.StrikeAmount = new(big.Int).Add(a.StrikeAmount, big.NewInt(1))
	require.False(t, a.Equal(b))

	c := validTerms()
	c.Expiration++
	require.False(t, a.Equal(c))

	d := validTerms()
	d.CollateralAsset = common.HexToAddress("0x99")
	require.False(t, a.Equal(d))
}

func TestTermsHashDistinguishesTerms(t *testing.T) {
	a := validTerms()
	b := validTerms()
	require.Equal(t, a.Hash(), b.Hash())

	b.StrikeAmount = new(big.Int).Add(b.StrikeAmount, big.NewInt(1))
	require.NotEqual(t, a.Hash(), b.Hash())
}

func TestActorActiveTokens(t *testing.T) {
	a := Actor{
		MintedTokens:      []uint64{1, 2, 3, 4},
		DeactivatedTokens: []uint64{2, 4},
	}
	require.Equal(t, []uint64{1, 3}, a.ActiveTokens())

	require.Empty(t, Actor{}.ActiveTokens())
}

func TestMulDivTruncates(t *testing.T) {
	// 7 * 3 / 2 = 10 with truncation.
	require.Equal(t, int64(10), MulDiv(big.NewInt(7), big.NewInt(3), big.NewInt(2)).Int64())

	// Inputs are never mutated.
	a := big.NewInt(5)
	MulDiv(a, big.NewInt(2), big.NewInt(3))
	require.Equal(t, int64(5), a.Int64())
}
