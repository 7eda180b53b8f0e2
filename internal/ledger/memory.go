package ledger

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// Memory is an in-process AssetLedger with ERC-20-style transfer/approve
// semantics. It also carries mint/burn faucet helpers for simulation; those
// are not part of the consumed AssetLedger interface.
type Memory struct {
	mu sync.RWMutex
	// balances[asset][owner]
	balances map[common.Address]map[common.Address]*big.Int
	// allowances[asset][owner][spender]
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
}

func (m *Memory) balance(asset, owner common.Address) *big.Int {
	if b, ok := m.balances[asset][owner]; ok {
		return b
	}
	return big.NewInt(0)
}

func (m *Memory) allowance(asset, owner, spender common.Address) *big.Int {
	if a, ok := m.allowances[asset][owner][spender]; ok {
		return a
	}
	return big.NewInt(0)
}

func (m *Memory) setBalance(asset, owner common.Address, v *big.Int) {
	if m.balances[asset] == nil {
		m.balances[asset] = make(map[common.Address]*big.Int)
	}
	m.balances[asset][owner] = v
}

// BalanceOf returns the owner's balance of asset.
func (m *Memory) BalanceOf(ctx context.Context, asset, owner common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.balance(asset, owner)), nil
}

// Allowance returns what spender may pull from owner's asset balance.
func (m *Memory) Allowance(ctx context.Context, asset, owner, spender common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.allowance(asset, owner, spender)), nil
}

// Approve sets spender's allowance over owner's asset balance.
func (m *Memory) Approve(ctx context.Context, asset, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return domain.ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allowances[asset] == nil {
		m.allowances[asset] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if m.allowances[asset][owner] == nil {
		m.allowances[asset][owner] = make(map[common.Address]*big.Int)
	}
	m.allowances[asset][owner][spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves the owner's own funds. All-or-nothing: on failure neither
// balance changes.
func (m *Memory) Transfer(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(asset, from, to, amount)
}

// TransferFrom pulls funds on behalf of the recipient, spending the
// (from -> to) allowance. All-or-nothing.
func (m *Memory) TransferFrom(ctx context.Context, asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.balance(asset, from).Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	allow := m.allowance(asset, from, to)
	if allow.Cmp(amount) < 0 {
		return domain.ErrInsufficientAllowance
	}
	if err := m.move(asset, from, to, amount); err != nil {
		return err
	}
	m.allowances[asset][from][to] = new(big.Int).Sub(allow, amount)
	return nil
}

// move debits from and credits to. Caller holds the lock.
func (m *Memory) move(asset, from, to common.Address, amount *big.Int) error {
	bal := m.balance(asset, from)
	if bal.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	m.setBalance(asset, from, new(big.Int).Sub(bal, amount))
	m.setBalance(asset, to, new(big.Int).Add(m.balance(asset, to), amount))
	return nil
}

// Mint credits owner with amount of asset out of thin air. Faucet helper for
// tests and simulation setups.
func (m *Memory) Mint(asset, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBalance(asset, owner, new(big.Int).Add(m.balance(asset, owner), amount))
}

// Burn removes up to amount of asset from owner, clamping at zero.
func (m *Memory) Burn(asset, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := new(big.Int).Sub(m.balance(asset, owner), amount)
	if bal.Sign() < 0 {
		bal = big.NewInt(0)
	}
	m.setBalance(asset, owner, bal)
}
