// Package pool implements the liquidity pool that underwrites options: it
// pools collateral from depositors, issues proportional share tokens, and
// sells freshly minted option tokens at oracle-quoted premiums.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/ledger"
	"github.com/primitivefi/prime-engine/internal/oracle"
)

// OptionWriter is the slice of the registry the pool needs: minting new
// tokens against its collateral and redeeming exercised claims.
type OptionWriter interface {
	Mint(ctx context.Context, caller common.Address, terms domain.OptionTerms, receiver common.Address) (uint64, error)
	Redeem(ctx context.Context, caller common.Address, id uint64) (*big.Int, error)
	GetPrime(id uint64) (domain.OptionToken, error)
	EscrowAccount() common.Address
}

// Config fixes the option series a pool underwrites. Base and Price define
// the strike ratio: one unit of strike exposure locks Base/Price collateral.
type Config struct {
	// Account is the pool's own account on the asset ledger.
	Account         common.Address
	CollateralAsset common.Address
	StrikeAsset     common.Address
	Base            *big.Int
	Price           *big.Int
	Expiry          int64
	// Volatility in basis points, fed to the oracle on every quote.
	Volatility uint64
	// MinLiquidity is the deposit floor; dust deposits are rejected.
	MinLiquidity *big.Int
}

// Pool is the liquidity pool state machine. Mutations are serialized by an
// internal lock and atomic; State is a consistent read.
type Pool struct {
	mu sync.RWMutex

	cfg    Config
	assets ledger.AssetLedger
	clock  ledger.Clock
	writer OptionWriter
	quotes oracle.PriceOracle

	// shares is the liquidity-share token ledger.
	shares           map[common.Address]*big.Int
	totalShareSupply *big.Int

	// totalUtilized is collateral currently backing tokens the pool sold.
	totalUtilized *big.Int
	// written tracks ids the pool minted, in mint order, for claim
	// redemption during withdrawals.
	written []uint64

	sink   domain.EventSink
	logger *slog.Logger
}

// New creates a Pool for a single option series.
func New(cfg Config, assets ledger.AssetLedger, clock ledger.Clock, writer OptionWriter, quotes oracle.PriceOracle, sink domain.EventSink, logger *slog.Logger) *Pool {
	if sink == nil {
		sink = domain.NopSink{}
	}
	if cfg.MinLiquidity == nil {
		cfg.MinLiquidity = big.NewInt(10_000)
	}
	return &Pool{
		cfg:              cfg,
		assets:           assets,
		clock:            clock,
		writer:           writer,
		quotes:           quotes,
		shares:           make(map[common.Address]*big.Int),
		totalShareSupply: big.NewInt(0),
		totalUtilized:    big.NewInt(0),
		sink:             sink,
		logger:           logger.With(slog.String("component", "pool")),
	}
}

// Deposit pulls inAmount of collateral from the depositor and mints
// liquidity shares: inAmount when the pool is empty, otherwise
// inAmount * totalShareSupply / totalPoolBalance.
func (p *Pool) Deposit(ctx context.Context, from common.Address, inAmount *big.Int) (*big.Int, error) {
	if inAmount == nil || inAmount.Cmp(p.cfg.MinLiquidity) < 0 {
		return nil, domain.ErrInsufficientBalance
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	balance, err := p.totalPoolBalance(ctx)
	if err != nil {
		return nil, err
	}

	var outShares *big.Int
	if p.totalShareSupply.Sign() == 0 || balance.Sign() == 0 {
		outShares = new(big.Int).Set(inAmount)
	} else {
		outShares = domain.MulDiv(inAmount, p.totalShareSupply, balance)
	}

	if err := p.assets.TransferFrom(ctx, p.cfg.CollateralAsset, from, p.cfg.Account, inAmount); err != nil {
		return nil, err
	}

	p.creditShares(from, outShares)
	p.totalShareSupply = new(big.Int).Add(p.totalShareSupply, outShares)

	p.emit(domain.EventDeposit, from, map[string]string{
		"in_amount":  inAmount.String(),
		"out_shares": outShares.String(),
	})
	return outShares, nil
}

// Withdraw burns inShares and pays out the proportional slice of the pool.
// Unutilized collateral is paid first; when the slice reaches into utilized
// collateral, exercised claims are redeemed from the registry and their
// strike proceeds are paid alongside. Fails with ErrInsufficientShares when
// the caller holds fewer shares, and ErrInsufficientUnderlying when the
// slice cannot be covered by unutilized plus redeemable collateral.
func (p *Pool) Withdraw(ctx context.Context, from common.Address, inShares *big.Int) (*big.Int, error) {
	if inShares == nil || inShares.Sign() <= 0 {
		return nil, domain.ErrInsufficientShares
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.shareBalance(from)
	if held.Cmp(inShares) < 0 {
		return nil, domain.ErrInsufficientShares
	}

	balance, err := p.totalPoolBalance(ctx)
	if err != nil {
		return nil, err
	}
	outAmount := domain.MulDiv(inShares, balance, p.totalShareSupply)

	liquid, err := p.assets.BalanceOf(ctx, p.cfg.CollateralAsset, p.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: pool balance: %w", domain.ErrExternalCall, err)
	}
	strikeHeld, err := p.assets.BalanceOf(ctx, p.cfg.StrikeAsset, p.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: pool strike balance: %w", domain.ErrExternalCall, err)
	}

	// Redeem exercised claims until liquid collateral plus strike proceeds
	// (valued at the pool ratio) cover the slice.
	covered := new(big.Int).Add(liquid, p.collateralValue(strikeHeld))
	for _, id := range p.written {
		if covered.Cmp(outAmount) >= 0 {
			break
		}
		token, err := p.writer.GetPrime(id)
		if err != nil || token.State != domain.TokenStateExercised || token.EscrowStrike.Sign() == 0 {
			continue
		}
		proceeds, err := p.writer.Redeem(ctx, p.cfg.Account, id)
		if err != nil {
			return nil, fmt.Errorf("%w: redeem claim %d: %w", domain.ErrExternalCall, id, err)
		}
		strikeHeld = new(big.Int).Add(strikeHeld, proceeds)
		equivalent := p.collateralValue(proceeds)
		covered = new(big.Int).Add(covered, equivalent)
		p.totalUtilized = new(big.Int).Sub(p.totalUtilized, token.Terms.CollateralAmount)
		if p.totalUtilized.Sign() < 0 {
			p.totalUtilized = big.NewInt(0)
		}
	}
	if covered.Cmp(outAmount) < 0 {
		return nil, domain.ErrInsufficientUnderlying
	}

	// Pay collateral first, then the remainder in strike proceeds.
	payCollateral := new(big.Int).Set(outAmount)
	if payCollateral.Cmp(liquid) > 0 {
		payCollateral = new(big.Int).Set(liquid)
	}
	remainder := new(big.Int).Sub(outAmount, payCollateral)

	if payCollateral.Sign() > 0 {
		if err := p.assets.Transfer(ctx, p.cfg.CollateralAsset, p.cfg.Account, from, payCollateral); err != nil {
			return nil, fmt.Errorf("%w: collateral payout: %w", domain.ErrExternalCall, err)
		}
	}
	if remainder.Sign() > 0 {
		payStrike := p.strikeValue(remainder)
		if err := p.assets.Transfer(ctx, p.cfg.StrikeAsset, p.cfg.Account, from, payStrike); err != nil {
			// Roll the collateral leg back so the withdrawal never
			// half-applies.
			if refundErr := p.assets.Transfer(ctx, p.cfg.CollateralAsset, from, p.cfg.Account, payCollateral); refundErr != nil {
				p.logger.Error("collateral rollback failed", slog.String("error", refundErr.Error()))
			}
			return nil, fmt.Errorf("%w: strike payout: %w", domain.ErrExternalCall, err)
		}
	}

	p.debitShares(from, inShares)
	p.totalShareSupply = new(big.Int).Sub(p.totalShareSupply, inShares)

	p.emit(domain.EventWithdraw, from, map[string]string{
		"in_shares":  inShares.String(),
		"out_amount": outAmount.String(),
	})
	return outAmount, nil
}

// Buy sells a freshly minted option token against pooled collateral. The
// buyer pays the oracle-quoted premium (in the collateral asset) and
// receives a token locking inStrike * Base / Price collateral.
func (p *Pool) Buy(ctx context.Context, from common.Address, inStrike *big.Int) (uint64, error) {
	if inStrike == nil || inStrike.Sign() <= 0 {
		return 0, domain.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	outCollateral := domain.MulDiv(inStrike, p.cfg.Base, p.cfg.Price)
	liquid, err := p.assets.BalanceOf(ctx, p.cfg.CollateralAsset, p.cfg.Account)
	if err != nil {
		return 0, fmt.Errorf("%w: pool balance: %w", domain.ErrExternalCall, err)
	}
	if liquid.Cmp(outCollateral) < 0 {
		return 0, domain.ErrInsufficientUnderlying
	}

	unitPremium, err := p.quotes.CalculatePremium(ctx, p.cfg.CollateralAsset, p.cfg.Volatility, p.cfg.Base, p.cfg.Price, p.cfg.Expiry)
	if err != nil {
		return 0, fmt.Errorf("%w: premium quote: %w", domain.ErrExternalCall, err)
	}
	premium := domain.MulDiv(unitPremium, inStrike, domain.OneUnit)

	// Pull the premium first; refund it if the mint cannot complete.
	if premium.Sign() > 0 {
		if err := p.assets.TransferFrom(ctx, p.cfg.CollateralAsset, from, p.cfg.Account, premium); err != nil {
			return 0, err
		}
	}

	if err := p.assets.Approve(ctx, p.cfg.CollateralAsset, p.cfg.Account, p.writer.EscrowAccount(), outCollateral); err != nil {
		p.refundPremium(ctx, from, premium)
		return 0, fmt.Errorf("%w: escrow approve: %w", domain.ErrExternalCall, err)
	}
	terms := domain.OptionTerms{
		CollateralAsset:  p.cfg.CollateralAsset,
		CollateralAmount: outCollateral,
		StrikeAsset:      p.cfg.StrikeAsset,
		StrikeAmount:     new(big.Int).Set(inStrike),
		Expiration:       p.cfg.Expiry,
	}
	id, err := p.writer.Mint(ctx, p.cfg.Account, terms, from)
	if err != nil {
		p.refundPremium(ctx, from, premium)
		return 0, err
	}

	p.totalUtilized = new(big.Int).Add(p.totalUtilized, outCollateral)
	p.written = append(p.written, id)

	p.emit(domain.EventBuy, from, map[string]string{
		"token_id":       fmt.Sprintf("%d", id),
		"in_strike":      inStrike.String(),
		"out_collateral": outCollateral.String(),
		"premium":        premium.String(),
	})
	return id, nil
}

// State returns a snapshot of the pool's accounting. TotalPoolBalance is
// TotalUtilized + TotalUnutilized by construction; unutilized counts liquid
// collateral plus redeemed strike proceeds valued at the pool ratio.
func (p *Pool) State(ctx context.Context) (domain.PoolState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	unutilized, err := p.unutilized(ctx)
	if err != nil {
		return domain.PoolState{}, err
	}
	return domain.PoolState{
		TotalShareSupply: new(big.Int).Set(p.totalShareSupply),
		TotalPoolBalance: new(big.Int).Add(p.totalUtilized, unutilized),
		TotalUtilized:    new(big.Int).Set(p.totalUtilized),
		TotalUnutilized:  unutilized,
	}, nil
}

// ShareBalance returns the liquidity shares held by owner.
func (p *Pool) ShareBalance(owner common.Address) *big.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.shareBalance(owner))
}

// Account returns the pool's ledger account, the address buyers approve for
// premium pulls.
func (p *Pool) Account() common.Address {
	return p.cfg.Account
}

// --- internals ---

func (p *Pool) totalPoolBalance(ctx context.Context) (*big.Int, error) {
	unutilized, err := p.unutilized(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(p.totalUtilized, unutilized), nil
}

func (p *Pool) unutilized(ctx context.Context) (*big.Int, error) {
	liquid, err := p.assets.BalanceOf(ctx, p.cfg.CollateralAsset, p.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: pool balance: %w", domain.ErrExternalCall, err)
	}
	strikeHeld, err := p.assets.BalanceOf(ctx, p.cfg.StrikeAsset, p.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("%w: pool strike balance: %w", domain.ErrExternalCall, err)
	}
	return new(big.Int).Add(liquid, p.collateralValue(strikeHeld)), nil
}

// collateralValue converts a strike-asset amount to collateral terms at the
// pool ratio.
func (p *Pool) collateralValue(strikeAmount *big.Int) *big.Int {
	return domain.MulDiv(strikeAmount, p.cfg.Base, p.cfg.Price)
}

// strikeValue converts a collateral amount to strike-asset terms.
func (p *Pool) strikeValue(collateralAmount *big.Int) *big.Int {
	return domain.MulDiv(collateralAmount, p.cfg.Price, p.cfg.Base)
}

func (p *Pool) shareBalance(owner common.Address) *big.Int {
	if b, ok := p.shares[owner]; ok {
		return b
	}
	return big.NewInt(0)
}

func (p *Pool) creditShares(owner common.Address, amount *big.Int) {
	p.shares[owner] = new(big.Int).Add(p.shareBalance(owner), amount)
}

func (p *Pool) debitShares(owner common.Address, amount *big.Int) {
	p.shares[owner] = new(big.Int).Sub(p.shareBalance(owner), amount)
}

func (p *Pool) refundPremium(ctx context.Context, to common.Address, premium *big.Int) {
	if premium.Sign() == 0 {
		return
	}
	if err := p.assets.Transfer(ctx, p.cfg.CollateralAsset, p.cfg.Account, to, premium); err != nil {
		p.logger.Error("premium refund failed", slog.String("error", err.Error()))
	}
}

func (p *Pool) emit(kind domain.EventKind, actor common.Address, detail map[string]string) {
	p.sink.Emit(domain.Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Actor:  actor.Hex(),
		Detail: detail,
		At:     p.clock.Now(),
	})
}
