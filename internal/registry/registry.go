// Package registry owns the lifecycle of option tokens: minting against
// escrowed collateral, exercise, close, redeem-claim settlement, ownership,
// and the per-actor minted/deactivated index.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/ledger"
)

// Registry is the option token registry. All state-mutating operations are
// serialized by an internal lock and are atomic: they either fully apply or
// fail with no observable partial effect. Read-only queries take a shared
// lock and see a consistent snapshot of the last applied mutation.
type Registry struct {
	mu sync.RWMutex

	assets ledger.AssetLedger
	clock  ledger.Clock

	// escrowAccount holds all locked collateral and pending strike proceeds
	// on the asset ledger.
	escrowAccount common.Address

	// tokens is the append-only token table; tokens[i] has id i+1.
	tokens []*domain.OptionToken
	actors map[common.Address]*domain.Actor
	claims map[uint64]*domain.RedeemClaim

	store  domain.TokenStore // optional durability journal
	sink   domain.EventSink
	logger *slog.Logger
}

// New creates a Registry. store may be nil for purely in-memory operation;
// sink may be nil to drop events.
func New(assets ledger.AssetLedger, clock ledger.Clock, escrowAccount common.Address, store domain.TokenStore, sink domain.EventSink, logger *slog.Logger) *Registry {
	if sink == nil {
		sink = domain.NopSink{}
	}
	return &Registry{
		assets:        assets,
		clock:         clock,
		escrowAccount: escrowAccount,
		actors:        make(map[common.Address]*domain.Actor),
		claims:        make(map[uint64]*domain.RedeemClaim),
		store:         store,
		sink:          sink,
		logger:        logger.With(slog.String("component", "registry")),
	}
}

// EscrowAccount returns the ledger account that holds registry escrow.
func (r *Registry) EscrowAccount() common.Address {
	return r.escrowAccount
}

// Mint locks the caller's collateral and issues a new option token to
// receiver. The caller becomes the writer and holds the redeem claim on the
// escrowed collateral. The collateral pull requires a prior Approve of the
// registry escrow account on the asset ledger.
func (r *Registry) Mint(ctx context.Context, caller common.Address, terms domain.OptionTerms, receiver common.Address) (uint64, error) {
	now := r.clock.Now()
	if err := terms.Validate(now); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Pull collateral into escrow before any state is touched, so a failed
	// pull leaves the registry unchanged.
	if err := r.assets.TransferFrom(ctx, terms.CollateralAsset, caller, r.escrowAccount, terms.CollateralAmount); err != nil {
		return 0, err
	}

	id := uint64(len(r.tokens)) + 1
	token := &domain.OptionToken{
		ID: id,
		Terms: domain.OptionTerms{
			CollateralAsset:  terms.CollateralAsset,
			CollateralAmount: new(big.Int).Set(terms.CollateralAmount),
			StrikeAsset:      terms.StrikeAsset,
			StrikeAmount:     new(big.Int).Set(terms.StrikeAmount),
			Expiration:       terms.Expiration,
		},
		Writer:           caller,
		Receiver:         receiver,
		CurrentOwner:     receiver,
		State:            domain.TokenStateActive,
		EscrowCollateral: new(big.Int).Set(terms.CollateralAmount),
		EscrowStrike:     big.NewInt(0),
		MintedAt:         now,
	}
	r.tokens = append(r.tokens, token)
	r.actor(caller).MintedTokens = append(r.actor(caller).MintedTokens, id)
	r.claims[id] = &domain.RedeemClaim{
		TokenID: id,
		Holder:  caller,
		Amount:  new(big.Int).Set(terms.CollateralAmount),
	}

	r.journal(ctx, func(s domain.TokenStore) error { return s.Insert(ctx, *token) })
	r.emit(domain.EventMinted, id, caller, map[string]string{
		"collateral_asset":  token.Terms.CollateralAsset.Hex(),
		"collateral_amount": token.Terms.CollateralAmount.String(),
		"strike_asset":      token.Terms.StrikeAsset.Hex(),
		"strike_amount":     token.Terms.StrikeAmount.String(),
		"expiration":        fmt.Sprintf("%d", token.Terms.Expiration),
		"receiver":          receiver.Hex(),
	})
	return id, nil
}

// Exercise settles the long side before expiration: the caller pays the
// strike amount into escrow and receives the locked collateral. The strike
// payment becomes the writer's redeem claim.
func (r *Registry) Exercise(ctx context.Context, caller common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.token(id)
	if err != nil {
		return err
	}
	if !token.Active() {
		return domain.ErrTokenInactive
	}
	if token.CurrentOwner != caller {
		return domain.ErrNotOwner
	}
	now := r.clock.Now()
	if token.Expired(now) {
		return domain.ErrExpired
	}

	// Pull the strike payment first; refund it if the collateral payout
	// cannot complete, so the operation never half-applies.
	if err := r.assets.TransferFrom(ctx, token.Terms.StrikeAsset, caller, r.escrowAccount, token.Terms.StrikeAmount); err != nil {
		return err
	}
	if err := r.assets.Transfer(ctx, token.Terms.CollateralAsset, r.escrowAccount, caller, token.EscrowCollateral); err != nil {
		if refundErr := r.assets.Transfer(ctx, token.Terms.StrikeAsset, r.escrowAccount, caller, token.Terms.StrikeAmount); refundErr != nil {
			r.logger.Error("strike refund failed after payout error",
				slog.Uint64("token_id", id),
				slog.String("error", refundErr.Error()),
			)
		}
		return fmt.Errorf("%w: collateral payout: %w", domain.ErrExternalCall, err)
	}

	token.EscrowCollateral = big.NewInt(0)
	token.EscrowStrike = new(big.Int).Set(token.Terms.StrikeAmount)
	token.State = domain.TokenStateExercised
	token.DeactivatedAt = ptrTime(now)
	if claim := r.claims[id]; claim != nil {
		claim.Amount = new(big.Int).Set(token.Terms.StrikeAmount)
	}
	r.deactivate(token)

	r.journal(ctx, func(s domain.TokenStore) error { return s.UpdateState(ctx, *token) })
	r.emit(domain.EventExercised, id, caller, nil)
	return nil
}

// Close settles the short side: after expiration the claim holder recovers
// the remaining escrowed collateral of an unexercised token. Before
// expiration it succeeds only when the caller holds both the claim and the
// token itself, burning both sides at once. redeemID designates the claim
// and must mirror the token id.
func (r *Registry) Close(ctx context.Context, caller common.Address, id, redeemID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.token(id)
	if err != nil {
		return err
	}
	if !token.Active() {
		return domain.ErrTokenInactive
	}
	claim := r.claims[redeemID]
	if claim == nil || claim.TokenID != id || claim.Holder != caller || claim.Amount.Sign() == 0 {
		return domain.ErrNotEntitled
	}
	now := r.clock.Now()
	if !token.Expired(now) && token.CurrentOwner != caller {
		return domain.ErrNotExpired
	}

	if token.EscrowCollateral.Sign() > 0 {
		if err := r.assets.Transfer(ctx, token.Terms.CollateralAsset, r.escrowAccount, caller, token.EscrowCollateral); err != nil {
			return fmt.Errorf("%w: collateral release: %w", domain.ErrExternalCall, err)
		}
	}

	token.EscrowCollateral = big.NewInt(0)
	token.State = domain.TokenStateClosed
	token.DeactivatedAt = ptrTime(now)
	claim.Amount = big.NewInt(0)
	r.deactivate(token)

	r.journal(ctx, func(s domain.TokenStore) error { return s.UpdateState(ctx, *token) })
	r.emit(domain.EventClosed, id, caller, nil)
	return nil
}

// Redeem pays out an exercised token's strike proceeds to its claim holder
// and returns the amount paid. The pool uses this during withdrawals to
// unwind utilized collateral that was exercised against it.
func (r *Registry) Redeem(ctx context.Context, caller common.Address, id uint64) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.token(id)
	if err != nil {
		return nil, err
	}
	if token.State != domain.TokenStateExercised {
		return nil, domain.ErrTokenInactive
	}
	claim := r.claims[id]
	if claim == nil || claim.Holder != caller || claim.Amount.Sign() == 0 {
		return nil, domain.ErrNotEntitled
	}

	amount := new(big.Int).Set(token.EscrowStrike)
	if amount.Sign() == 0 {
		return nil, domain.ErrNotEntitled
	}
	if err := r.assets.Transfer(ctx, token.Terms.StrikeAsset, r.escrowAccount, caller, amount); err != nil {
		return nil, fmt.Errorf("%w: strike release: %w", domain.ErrExternalCall, err)
	}

	token.EscrowStrike = big.NewInt(0)
	claim.Amount = big.NewInt(0)

	r.journal(ctx, func(s domain.TokenStore) error { return s.UpdateState(ctx, *token) })
	r.emit(domain.EventRedeemed, id, caller, map[string]string{"amount": amount.String()})
	return amount, nil
}

// Transfer moves ownership of an active token. Used by the exchange when a
// bid fills against a standing ask.
func (r *Registry) Transfer(ctx context.Context, caller, to common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.token(id)
	if err != nil {
		return err
	}
	if !token.Active() {
		return domain.ErrTokenInactive
	}
	if token.CurrentOwner != caller {
		return domain.ErrNotOwner
	}

	token.CurrentOwner = to
	r.journal(ctx, func(s domain.TokenStore) error { return s.UpdateOwner(ctx, id, to.Hex()) })
	return nil
}

// GetPrime returns a copy of the token record. The name follows the
// protocol's historical term for a minted option.
func (r *Registry) GetPrime(id uint64) (domain.OptionToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, err := r.token(id)
	if err != nil {
		return domain.OptionToken{}, err
	}
	return copyToken(token), nil
}

// OwnerOf returns the current owner of a token.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, err := r.token(id)
	if err != nil {
		return common.Address{}, err
	}
	return token.CurrentOwner, nil
}

// Nonce returns the id of the most recently minted token; ids run 1..Nonce.
func (r *Registry) Nonce() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.tokens))
}

// GetActor returns the minted/deactivated index for an address.
func (r *Registry) GetActor(addr common.Address) domain.Actor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[addr]
	if !ok {
		return domain.Actor{Address: addr}
	}
	out := domain.Actor{Address: addr}
	out.MintedTokens = append(out.MintedTokens, a.MintedTokens...)
	out.DeactivatedTokens = append(out.DeactivatedTokens, a.DeactivatedTokens...)
	return out
}

// GetClaim returns the redeem claim attached to a token.
func (r *Registry) GetClaim(id uint64) (domain.RedeemClaim, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	claim, ok := r.claims[id]
	if !ok {
		return domain.RedeemClaim{}, domain.ErrNotFound
	}
	return domain.RedeemClaim{
		TokenID: claim.TokenID,
		Holder:  claim.Holder,
		Amount:  new(big.Int).Set(claim.Amount),
	}, nil
}

// ScanTokens calls fn for each minted token in ascending id order under a
// shared lock, so the whole scan observes one consistent snapshot. fn
// returning false stops the scan. This is the matcher's hot path.
func (r *Registry) ScanTokens(fn func(domain.OptionToken) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tokens {
		if !fn(copyToken(t)) {
			return
		}
	}
}

// --- internals ---

func (r *Registry) token(id uint64) (*domain.OptionToken, error) {
	if id == 0 || id > uint64(len(r.tokens)) {
		return nil, domain.ErrNotFound
	}
	return r.tokens[id-1], nil
}

func (r *Registry) actor(addr common.Address) *domain.Actor {
	a, ok := r.actors[addr]
	if !ok {
		a = &domain.Actor{Address: addr}
		r.actors[addr] = a
	}
	return a
}

// deactivate appends the id to the writer's deactivated index, keeping the
// minted-minus-deactivated derivation meaningful.
func (r *Registry) deactivate(token *domain.OptionToken) {
	writer := r.actor(token.Writer)
	writer.DeactivatedTokens = append(writer.DeactivatedTokens, token.ID)
}

// journal applies a store write after the in-memory commit. Journal failures
// degrade durability but never roll back an applied operation; they are
// logged and surfaced to the operator through the log stream.
func (r *Registry) journal(ctx context.Context, fn func(domain.TokenStore) error) {
	if r.store == nil {
		return
	}
	if err := fn(r.store); err != nil {
		r.logger.Error("token journal write failed", slog.String("error", err.Error()))
	}
}

func (r *Registry) emit(kind domain.EventKind, id uint64, actor common.Address, detail map[string]string) {
	r.sink.Emit(domain.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		TokenID: id,
		Actor:   actor.Hex(),
		Detail:  detail,
		At:      r.clock.Now(),
	})
}

func copyToken(t *domain.OptionToken) domain.OptionToken {
	out := *t
	out.Terms.CollateralAmount = new(big.Int).Set(t.Terms.CollateralAmount)
	out.Terms.StrikeAmount = new(big.Int).Set(t.Terms.StrikeAmount)
	out.EscrowCollateral = new(big.Int).Set(t.EscrowCollateral)
	out.EscrowStrike = new(big.Int).Set(t.EscrowStrike)
	if t.DeactivatedAt != nil {
		d := *t.DeactivatedAt
		out.DeactivatedAt = &d
	}
	return out
}

func ptrTime(t time.Time) *time.Time { return &t }
