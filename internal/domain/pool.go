package domain

import "math/big"

// PoolState is a snapshot of the liquidity pool's accounting. The invariant
// TotalPoolBalance == TotalUtilized + TotalUnutilized holds after every
// operation, within one unit of integer-division rounding.
type PoolState struct {
	TotalShareSupply *big.Int
	TotalPoolBalance *big.Int
	TotalUtilized    *big.Int
	TotalUnutilized  *big.Int
}

// Clone returns a deep copy so callers can hold the snapshot across later
// mutations.
func (s PoolState) Clone() PoolState {
	return PoolState{
		TotalShareSupply: new(big.Int).Set(s.TotalShareSupply),
		TotalPoolBalance: new(big.Int).Set(s.TotalPoolBalance),
		TotalUtilized:    new(big.Int).Set(s.TotalUtilized),
		TotalUnutilized:  new(big.Int).Set(s.TotalUnutilized),
	}
}
