package domain

import "math/big"

// OneUnit is 1.0 at the protocol's 18-decimal fixed-point scale, the same
// convention as EVM token amounts.
var OneUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Units scales a whole number into 18-decimal fixed point.
func Units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), OneUnit)
}

// MulDiv returns a*b/c with big.Int truncation, never mutating its inputs.
func MulDiv(a, b, c *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, c)
}
