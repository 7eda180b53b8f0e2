package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// OptionRegistry is the subset of registry operations the HTTP surface needs.
type OptionRegistry interface {
	Mint(ctx context.Context, caller common.Address, terms domain.OptionTerms, receiver common.Address) (uint64, error)
	Exercise(ctx context.Context, caller common.Address, id uint64) error
	Close(ctx context.Context, caller common.Address, id, redeemID uint64) error
	Redeem(ctx context.Context, caller common.Address, id uint64) (*big.Int, error)
	Transfer(ctx context.Context, caller, to common.Address, id uint64) error
	GetPrime(id uint64) (domain.OptionToken, error)
	OwnerOf(id uint64) (common.Address, error)
	Nonce() uint64
	GetActor(addr common.Address) domain.Actor
	GetClaim(id uint64) (domain.RedeemClaim, error)
}

// OptionHandler serves option token lifecycle endpoints.
type OptionHandler struct {
	registry OptionRegistry
	logger   *slog.Logger
}

// NewOptionHandler creates an OptionHandler backed by the given registry.
func NewOptionHandler(registry OptionRegistry, logger *slog.Logger) *OptionHandler {
	return &OptionHandler{
		registry: registry,
		logger:   logHandler(logger, "option"),
	}
}

type mintRequest struct {
	Caller           string `json:"caller"`
	Receiver         string `json:"receiver"`
	CollateralAsset  string `json:"collateral_asset"`
	CollateralAmount string `json:"collateral_amount"`
	StrikeAsset      string `json:"strike_asset"`
	StrikeAmount     string `json:"strike_amount"`
	Expiration       int64  `json:"expiration"`
}

// Mint writes a new option, pulling collateral from the caller.
// POST /api/options
func (h *OptionHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	receiver := caller
	if req.Receiver != "" {
		if receiver, err = parseAddress(req.Receiver); err != nil {
			writeError(w, http.StatusBadRequest, "receiver: "+err.Error())
			return
		}
	}
	collateralAsset, err := parseAddress(req.CollateralAsset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "collateral_asset: "+err.Error())
		return
	}
	strikeAsset, err := parseAddress(req.StrikeAsset)
	if err != nil {
		writeError(w, http.StatusBadRequest, "strike_asset: "+err.Error())
		return
	}
	collateralAmount, err := parseAmount(req.CollateralAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "collateral_amount: "+err.Error())
		return
	}
	strikeAmount, err := parseAmount(req.StrikeAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "strike_amount: "+err.Error())
		return
	}

	terms := domain.OptionTerms{
		CollateralAsset:  collateralAsset,
		CollateralAmount: collateralAmount,
		StrikeAsset:      strikeAsset,
		StrikeAmount:     strikeAmount,
		Expiration:       req.Expiration,
	}

	id, err := h.registry.Mint(r.Context(), caller, terms, receiver)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("option minted",
		slog.Uint64("token_id", id),
		slog.String("writer", caller.Hex()),
	)
	writeJSON(w, http.StatusCreated, map[string]any{"token_id": id})
}

type actionRequest struct {
	Caller string `json:"caller"`
}

// Exercise swaps the caller's strike payment for the escrowed collateral.
// POST /api/options/{id}/exercise
func (h *OptionHandler) Exercise(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	if err := h.registry.Exercise(r.Context(), caller, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "state": string(domain.TokenStateExercised)})
}

type closeRequest struct {
	Caller   string `json:"caller"`
	RedeemID uint64 `json:"redeem_id"`
}

// Close retires an option and returns the locked collateral to the claim
// holder. Before expiry the caller must also surrender the long side.
// POST /api/options/{id}/close
func (h *OptionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req closeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	redeemID := req.RedeemID
	if redeemID == 0 {
		redeemID = id
	}

	if err := h.registry.Close(r.Context(), caller, id, redeemID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "state": string(domain.TokenStateClosed)})
}

// Redeem pays out the claim holder's strike proceeds after an exercise.
// POST /api/options/{id}/redeem
func (h *OptionHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	amount, err := h.registry.Redeem(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "amount": amount.String()})
}

type transferRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

// Transfer moves ownership of an active option to another address.
// POST /api/options/{id}/transfer
func (h *OptionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to: "+err.Error())
		return
	}

	if err := h.registry.Transfer(r.Context(), caller, to, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "owner": to.Hex()})
}

// GetOption returns the full token record.
// GET /api/options/{id}
func (h *OptionHandler) GetOption(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, err := h.registry.GetPrime(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewToken(token))
}

// GetOwner returns the current owner of a token.
// GET /api/options/{id}/owner
func (h *OptionHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := h.registry.OwnerOf(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "owner": owner.Hex()})
}

// GetClaim returns the redeem claim attached to a token.
// GET /api/options/{id}/claim
func (h *OptionHandler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	claim, err := h.registry.GetClaim(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token_id": claim.TokenID,
		"holder":   claim.Holder.Hex(),
		"amount":   claim.Amount.String(),
	})
}

// GetNonce returns the id of the most recently minted token.
// GET /api/options/nonce
func (h *OptionHandler) GetNonce(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nonce": h.registry.Nonce()})
}

// GetActor returns an address's minted, deactivated, and active token ids.
// GET /api/actors/{address}
func (h *OptionHandler) GetActor(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(pathParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor := h.registry.GetActor(addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"address":            actor.Address.Hex(),
		"minted_tokens":      idsOrEmpty(actor.MintedTokens),
		"deactivated_tokens": idsOrEmpty(actor.DeactivatedTokens),
		"active_tokens":      idsOrEmpty(actor.ActiveTokens()),
	})
}

func (h *OptionHandler) caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return common.Address{}, false
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return common.Address{}, false
	}
	return caller, true
}

// idsOrEmpty keeps empty id sets rendering as [] instead of null.
func idsOrEmpty(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}
