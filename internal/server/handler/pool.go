package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// LiquidityPool is the subset of pool operations the HTTP surface needs.
type LiquidityPool interface {
	Deposit(ctx context.Context, from common.Address, inAmount *big.Int) (*big.Int, error)
	Withdraw(ctx context.Context, from common.Address, inShares *big.Int) (*big.Int, error)
	Buy(ctx context.Context, from common.Address, inStrike *big.Int) (uint64, error)
	State(ctx context.Context) (domain.PoolState, error)
	ShareBalance(owner common.Address) *big.Int
}

// PoolHandler serves liquidity pool endpoints.
type PoolHandler struct {
	pool   LiquidityPool
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler backed by the given pool.
func NewPoolHandler(pool LiquidityPool, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pool:   pool,
		logger: logHandler(logger, "pool"),
	}
}

type poolRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

// Deposit adds collateral to the pool in exchange for shares.
// POST /api/pool/deposit
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := h.decode(w, r)
	if !ok {
		return
	}

	shares, err := h.pool.Deposit(r.Context(), caller, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("pool deposit",
		slog.String("from", caller.Hex()),
		slog.String("shares", shares.String()),
	)
	writeJSON(w, http.StatusOK, map[string]any{"shares": shares.String()})
}

// Withdraw burns shares for a proportional payout.
// POST /api/pool/withdraw
func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := h.decode(w, r)
	if !ok {
		return
	}

	out, err := h.pool.Withdraw(r.Context(), caller, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"amount": out.String()})
}

// Buy purchases an option written by the pool. The amount is the strike
// quantity; the premium is quoted from the oracle and pulled up front.
// POST /api/pool/buy
func (h *PoolHandler) Buy(w http.ResponseWriter, r *http.Request) {
	caller, amount, ok := h.decode(w, r)
	if !ok {
		return
	}

	id, err := h.pool.Buy(r.Context(), caller, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("pool buy",
		slog.Uint64("token_id", id),
		slog.String("buyer", caller.Hex()),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"token_id": id})
}

// GetState returns the pool's accounting snapshot.
// GET /api/pool/state
func (h *PoolHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.pool.State(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_share_supply": state.TotalShareSupply.String(),
		"total_pool_balance": state.TotalPoolBalance.String(),
		"total_utilized":     state.TotalUtilized.String(),
		"total_unutilized":   state.TotalUnutilized.String(),
	})
}

// GetShares returns an address's share balance.
// GET /api/pool/shares/{address}
func (h *PoolHandler) GetShares(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr.Hex(),
		"shares":  h.pool.ShareBalance(addr).String(),
	})
}

func (h *PoolHandler) decode(w http.ResponseWriter, r *http.Request) (common.Address, *big.Int, bool) {
	var req poolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return common.Address{}, nil, false
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return common.Address{}, nil, false
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return common.Address{}, nil, false
	}
	return caller, amount, true
}
