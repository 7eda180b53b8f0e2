package domain

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TokenState tracks the option lifecycle. Transitions are monotonic:
// Active -> Exercised or Active -> Closed, never back.
type TokenState string

const (
	TokenStateActive    TokenState = "active"
	TokenStateExercised TokenState = "exercised"
	TokenStateClosed    TokenState = "closed"
)

// OptionTerms is the economic identity of an option: two tokens trade as the
// same instrument exactly when all five fields are equal. No tolerance, no
// rounding.
type OptionTerms struct {
	CollateralAsset  common.Address
	CollateralAmount *big.Int // 18-decimal fixed point
	StrikeAsset      common.Address
	StrikeAmount     *big.Int // 18-decimal fixed point
	Expiration       int64    // unix seconds
}

// Equal reports exact field-wise equality of the five terms.
func (t OptionTerms) Equal(o OptionTerms) bool {
	return t.CollateralAsset == o.CollateralAsset &&
		t.StrikeAsset == o.StrikeAsset &&
		t.Expiration == o.Expiration &&
		t.CollateralAmount != nil && o.CollateralAmount != nil &&
		t.CollateralAmount.Cmp(o.CollateralAmount) == 0 &&
		t.StrikeAmount != nil && o.StrikeAmount != nil &&
		t.StrikeAmount.Cmp(o.StrikeAmount) == 0
}

// Validate checks that both amounts are positive and the expiration is
// strictly after now.
func (t OptionTerms) Validate(now time.Time) error {
	if t.CollateralAmount == nil || t.CollateralAmount.Sign() <= 0 {
		return ErrInvalidTerms
	}
	if t.StrikeAmount == nil || t.StrikeAmount.Sign() <= 0 {
		return ErrInvalidTerms
	}
	if t.Expiration <= now.Unix() {
		return ErrInvalidTerms
	}
	return nil
}

// Hash returns the keccak256 digest of the five terms, hex encoded. Used as
// the secondary match-index key; the ascending-id sort stays authoritative.
func (t OptionTerms) Hash() string {
	buf := make([]byte, 0, 20+32+20+32+8)
	buf = append(buf, t.CollateralAsset.Bytes()...)
	buf = append(buf, common.LeftPadBytes(t.CollateralAmount.Bytes(), 32)...)
	buf = append(buf, t.StrikeAsset.Bytes()...)
	buf = append(buf, common.LeftPadBytes(t.StrikeAmount.Bytes(), 32)...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(t.Expiration))
	return hex.EncodeToString(crypto.Keccak256(buf))
}

// OptionToken is a minted option contract. The record is append-only: once
// deactivated it is retained for audit and matching history.
type OptionToken struct {
	ID    uint64
	Terms OptionTerms

	// Writer is the short side that escrowed the collateral at mint time and
	// holds the redeem claim.
	Writer common.Address

	// Receiver is the address the token was minted to.
	Receiver common.Address

	// CurrentOwner is the long side entitled to exercise. It changes on
	// exchange fills.
	CurrentOwner common.Address

	State TokenState

	// EscrowCollateral is the collateral still locked for this token.
	// collateralAmount while Active, zero after exercise or close.
	EscrowCollateral *big.Int

	// EscrowStrike is the strike payment waiting for the claim holder after
	// an exercise. Zero otherwise.
	EscrowStrike *big.Int

	MintedAt      time.Time
	DeactivatedAt *time.Time
}

// Active reports whether the token can still be exercised, closed, or listed.
func (t *OptionToken) Active() bool {
	return t.State == TokenStateActive
}

// Expired reports whether the token's expiration has passed at the given time.
func (t *OptionToken) Expired(now time.Time) bool {
	return t.Terms.Expiration <= now.Unix()
}

// RedeemClaim is the short side's residual claim on a token's escrow: the
// remaining locked collateral while the token is unexercised, or the strike
// proceeds after exercise. The summed claim amounts never exceed what the
// registry holds in escrow.
type RedeemClaim struct {
	TokenID uint64
	Holder  common.Address
	// Amount is denominated in the collateral asset while the token is
	// Active and in the strike asset once Exercised.
	Amount *big.Int
}

// Actor is the per-address index of minted and deactivated token ids.
// ActiveTokens is the derived difference of the two sets.
type Actor struct {
	Address           common.Address
	MintedTokens      []uint64
	DeactivatedTokens []uint64
}

// ActiveTokens returns minted ids not yet deactivated, in mint order.
func (a Actor) ActiveTokens() []uint64 {
	dead := make(map[uint64]bool, len(a.DeactivatedTokens))
	for _, id := range a.DeactivatedTokens {
		dead[id] = true
	}
	var active []uint64
	for _, id := range a.MintedTokens {
		if !dead[id] {
			active = append(active, id)
		}
	}
	return active
}
