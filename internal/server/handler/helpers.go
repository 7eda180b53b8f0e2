package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// writeDomainError maps a domain error to an HTTP status and writes it.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTerms),
		errors.Is(err, domain.ErrZeroAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrNotEntitled):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrInsufficientUnderlying),
		errors.Is(err, domain.ErrInsufficientShares),
		errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrNotExpired),
		errors.Is(err, domain.ErrTokenInactive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseID parses a numeric path parameter as an unsigned token id.
func parseID(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(pathParam(r, name), 10, 64)
	if err != nil {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// parseAddress validates a 0x-prefixed hex address from user input.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("invalid address")
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a non-negative base-10 integer amount in 18-decimal
// fixed point. Rejects empty strings and negatives.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, errors.New("invalid amount")
	}
	return n, nil
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// tokenView is the JSON representation of an option token. Amounts are
// rendered as decimal strings to avoid float truncation in clients.
type tokenView struct {
	ID               uint64  `json:"id"`
	CollateralAsset  string  `json:"collateral_asset"`
	CollateralAmount string  `json:"collateral_amount"`
	StrikeAsset      string  `json:"strike_asset"`
	StrikeAmount     string  `json:"strike_amount"`
	Expiration       int64   `json:"expiration"`
	Writer           string  `json:"writer"`
	Receiver         string  `json:"receiver"`
	CurrentOwner     string  `json:"current_owner"`
	State            string  `json:"state"`
	EscrowCollateral string  `json:"escrow_collateral"`
	EscrowStrike     string  `json:"escrow_strike"`
	MintedAt         string  `json:"minted_at"`
	DeactivatedAt    *string `json:"deactivated_at,omitempty"`
}

func viewToken(t domain.OptionToken) tokenView {
	v := tokenView{
		ID:               t.ID,
		CollateralAsset:  t.Terms.CollateralAsset.Hex(),
		CollateralAmount: t.Terms.CollateralAmount.String(),
		StrikeAsset:      t.Terms.StrikeAsset.Hex(),
		StrikeAmount:     t.Terms.StrikeAmount.String(),
		Expiration:       t.Terms.Expiration,
		Writer:           t.Writer.Hex(),
		Receiver:         t.Receiver.Hex(),
		CurrentOwner:     t.CurrentOwner.Hex(),
		State:            string(t.State),
		EscrowCollateral: t.EscrowCollateral.String(),
		EscrowStrike:     t.EscrowStrike.String(),
		MintedAt:         t.MintedAt.UTC().Format(time.RFC3339),
	}
	if t.DeactivatedAt != nil {
		s := t.DeactivatedAt.UTC().Format(time.RFC3339)
		v.DeactivatedAt = &s
	}
	return v
}

// orderView is the JSON representation of a standing order.
type orderView struct {
	TokenID   uint64  `json:"token_id"`
	Side      string  `json:"side"`
	Price     string  `json:"price"`
	Owner     string  `json:"owner"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	FilledAt  *string `json:"filled_at,omitempty"`
}

func viewOrder(o domain.Order) orderView {
	v := orderView{
		TokenID:   o.TokenID,
		Side:      string(o.Side),
		Price:     o.Price.String(),
		Owner:     o.Owner.Hex(),
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339),
	}
	if o.FilledAt != nil {
		s := o.FilledAt.UTC().Format(time.RFC3339)
		v.FilledAt = &s
	}
	return v
}
