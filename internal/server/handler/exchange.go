package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// OrderBook is the subset of exchange operations the HTTP surface needs.
type OrderBook interface {
	FindMatches(ctx context.Context, terms domain.OptionTerms) []uint64
	PlaceSellOrder(ctx context.Context, caller common.Address, tokenID uint64, askPrice *big.Int) error
	PlaceBuyOrder(ctx context.Context, caller common.Address, tokenID uint64, bidPrice *big.Int) error
	CancelOrder(ctx context.Context, caller common.Address, tokenID uint64, side domain.OrderSide) error
	GetSellOrder(tokenID uint64) (domain.Order, bool)
	GetBuyOrder(tokenID uint64) (domain.Order, bool)
	QuoteOrderBook(ctx context.Context, terms domain.OptionTerms) domain.OrderBookQuote
}

// ExchangeHandler serves order book endpoints.
type ExchangeHandler struct {
	exchange OrderBook
	logger   *slog.Logger
}

// NewExchangeHandler creates an ExchangeHandler backed by the given exchange.
func NewExchangeHandler(exchange OrderBook, logger *slog.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		exchange: exchange,
		logger:   logHandler(logger, "exchange"),
	}
}

type placeOrderRequest struct {
	Caller  string `json:"caller"`
	TokenID uint64 `json:"token_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
}

// PlaceOrder lists a bid or ask on a token. A crossing counter-order fills
// immediately at the ask price; otherwise the order rests on the book.
// POST /api/orders
func (h *ExchangeHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}
	price, err := parseAmount(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "price: "+err.Error())
		return
	}

	switch domain.OrderSide(req.Side) {
	case domain.OrderSideSell:
		err = h.exchange.PlaceSellOrder(r.Context(), caller, req.TokenID, price)
	case domain.OrderSideBuy:
		err = h.exchange.PlaceBuyOrder(r.Context(), caller, req.TokenID, price)
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.Info("order placed",
		slog.Uint64("token_id", req.TokenID),
		slog.String("side", req.Side),
		slog.String("price", price.String()),
	)
	writeJSON(w, http.StatusCreated, map[string]any{
		"token_id": req.TokenID,
		"side":     req.Side,
	})
}

// CancelOrder withdraws the caller's standing order, refunding any bid escrow.
// DELETE /api/orders/{id}?side=buy|sell&caller=0x...
func (h *ExchangeHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	side := domain.OrderSide(r.URL.Query().Get("side"))
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	caller, err := parseAddress(r.URL.Query().Get("caller"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "caller: "+err.Error())
		return
	}

	if err := h.exchange.CancelOrder(r.Context(), caller, id, side); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": id, "side": string(side)})
}

// GetOrders returns the live bid and ask for a token, if any.
// GET /api/orders/{id}
func (h *ExchangeHandler) GetOrders(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := map[string]any{"token_id": id}
	if ask, ok := h.exchange.GetSellOrder(id); ok {
		resp["sell"] = viewOrder(ask)
	}
	if bid, ok := h.exchange.GetBuyOrder(id); ok {
		resp["buy"] = viewOrder(bid)
	}
	writeJSON(w, http.StatusOK, resp)
}

// FindMatches returns the ids of all tokens whose terms equal the queried
// terms exactly, ascending.
// GET /api/matches?collateral_asset=...&collateral_amount=...&strike_asset=...&strike_amount=...&expiration=...
func (h *ExchangeHandler) FindMatches(w http.ResponseWriter, r *http.Request) {
	terms, err := parseTermsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids := h.exchange.FindMatches(r.Context(), terms)
	writeJSON(w, http.StatusOK, map[string]any{"token_ids": idsOrEmpty(ids)})
}

// QuoteBook returns standing bids and asks across every token matching the
// queried terms.
// GET /api/book?collateral_asset=...&collateral_amount=...&strike_asset=...&strike_amount=...&expiration=...
func (h *ExchangeHandler) QuoteBook(w http.ResponseWriter, r *http.Request) {
	terms, err := parseTermsQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quote := h.exchange.QuoteOrderBook(r.Context(), terms)

	buy := make(map[string]string, len(quote.Buy))
	for id, price := range quote.Buy {
		buy[strconv.FormatUint(id, 10)] = price.String()
	}
	sell := make(map[string]string, len(quote.Sell))
	for id, price := range quote.Sell {
		sell[strconv.FormatUint(id, 10)] = price.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"buy": buy, "sell": sell})
}

// parseTermsQuery reads the five option terms from the query string.
func parseTermsQuery(r *http.Request) (domain.OptionTerms, error) {
	q := r.URL.Query()

	collateralAsset, err := parseAddress(q.Get("collateral_asset"))
	if err != nil {
		return domain.OptionTerms{}, err
	}
	strikeAsset, err := parseAddress(q.Get("strike_asset"))
	if err != nil {
		return domain.OptionTerms{}, err
	}
	collateralAmount, err := parseAmount(q.Get("collateral_amount"))
	if err != nil {
		return domain.OptionTerms{}, err
	}
	strikeAmount, err := parseAmount(q.Get("strike_amount"))
	if err != nil {
		return domain.OptionTerms{}, err
	}
	expiration, err := strconv.ParseInt(q.Get("expiration"), 10, 64)
	if err != nil {
		return domain.OptionTerms{}, err
	}

	return domain.OptionTerms{
		CollateralAsset:  collateralAsset,
		CollateralAmount: collateralAmount,
		StrikeAsset:      strikeAsset,
		StrikeAmount:     strikeAmount,
		Expiration:       expiration,
	}, nil
}
