package oracle

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/ledger"
)

func TestFeedPremiumScalesWithVolatilityAndTime(t *testing.T) {
	ctx := context.Background()
	clock := &ledger.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	feed := NewFeed(clock)

	asset := common.HexToAddress("0x01")
	base := domain.Units(1)
	price := domain.Units(10)
	expiry := clock.T.Add(365 * 24 * time.Hour).Unix()

	// One year out at 10000 bps the premium is the full base notional.
	full, err := feed.CalculatePremium(ctx, asset, 10_000, base, price, expiry)
	require.NoError(t, err)
	require.Equal(t, domain.Units(1).String(), full.String())

	// 500 bps is a twentieth of that.
	p, err := feed.CalculatePremium(ctx, asset, 500, base, price, expiry)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Div(domain.Units(1), big.NewInt(20)).String(), p.String())

	// Closer expiries quote lower premiums.
	nearer, err := feed.CalculatePremium(ctx, asset, 500, base, price, clock.T.Add(30*24*time.Hour).Unix())
	require.NoError(t, err)
	require.True(t, nearer.Cmp(p) < 0)

	// Zero volatility prices at zero.
	zero, err := feed.CalculatePremium(ctx, asset, 0, base, price, expiry)
	require.NoError(t, err)
	require.Equal(t, int64(0), zero.Int64())
}

func TestFeedRejectsBadInputs(t *testing.T) {
	ctx := context.Background()
	clock := &ledger.FixedClock{T: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	feed := NewFeed(clock)
	asset := common.HexToAddress("0x01")

	_, err := feed.CalculatePremium(ctx, asset, 500, big.NewInt(0), domain.Units(10), clock.T.Unix()+1000)
	require.ErrorIs(t, err, domain.ErrInvalidTerms)

	_, err = feed.CalculatePremium(ctx, asset, 500, domain.Units(1), nil, clock.T.Unix()+1000)
	require.ErrorIs(t, err, domain.ErrInvalidTerms)

	// Expiry at or before now.
	_, err = feed.CalculatePremium(ctx, asset, 500, domain.Units(1), domain.Units(10), clock.T.Unix())
	require.ErrorIs(t, err, domain.ErrExpired)
}
