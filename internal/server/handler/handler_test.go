package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/primitivefi/prime-engine/internal/domain"
	"github.com/primitivefi/prime-engine/internal/ledger"
	"github.com/primitivefi/prime-engine/internal/registry"
)

var (
	collateralAsset = common.HexToAddress("0x0000000000000000000000000000000000000C01")
	strikeAsset     = common.HexToAddress("0x0000000000000000000000000000000000000D01")
	writerAddr      = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	holderAddr      = common.HexToAddress("0x00000000000000000000000000000000000000B2")
)

type apiFixture struct {
	mux    *http.ServeMux
	assets *ledger.Memory
	reg    *registry.Registry
}

func newAPIFixture() *apiFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	assets := ledger.NewMemory()
	escrow := common.HexToAddress("0x00000000000000000000000000000000000000EE")
	reg := registry.New(assets, ledger.SystemClock{}, escrow, nil, domain.NopSink{}, logger)

	h := NewOptionHandler(reg, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/options", h.Mint)
	mux.HandleFunc("GET /api/options/nonce", h.GetNonce)
	mux.HandleFunc("GET /api/options/{id}", h.GetOption)
	mux.HandleFunc("GET /api/options/{id}/owner", h.GetOwner)
	mux.HandleFunc("POST /api/options/{id}/exercise", h.Exercise)
	mux.HandleFunc("POST /api/options/{id}/transfer", h.Transfer)
	mux.HandleFunc("GET /api/actors/{address}", h.GetActor)

	return &apiFixture{mux: mux, assets: assets, reg: reg}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func mintBody(expiration int64) string {
	return fmt.Sprintf(`{
		"caller": %q,
		"collateral_asset": %q,
		"collateral_amount": "1000000000000000000",
		"strike_asset": %q,
		"strike_amount": "10000000000000000000",
		"expiration": %d
	}`, writerAddr.Hex(), collateralAsset.Hex(), strikeAsset.Hex(), expiration)
}

func fundWriter(t *testing.T, f *apiFixture) {
	t.Helper()
	f.assets.Mint(collateralAsset, writerAddr, big.NewInt(1e18))
	require.NoError(t, f.assets.Approve(context.Background(),
		collateralAsset, writerAddr, f.reg.EscrowAccount(), big.NewInt(1e18)))
}

func TestMintAndGetOption(t *testing.T) {
	f := newAPIFixture()
	fundWriter(t, f)
	exp := time.Now().Add(30 * 24 * time.Hour).Unix()

	rec, resp := f.do(t, http.MethodPost, "/api/options", mintBody(exp))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, float64(1), resp["token_id"])

	rec, resp = f.do(t, http.MethodGet, "/api/options/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "active", resp["state"])
	require.Equal(t, writerAddr.Hex(), resp["writer"])
	require.Equal(t, "1000000000000000000", resp["escrow_collateral"])

	rec, resp = f.do(t, http.MethodGet, "/api/options/nonce", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), resp["nonce"])
}

func TestMintValidation(t *testing.T) {
	f := newAPIFixture()
	exp := time.Now().Add(24 * time.Hour).Unix()

	// Bad caller address.
	rec, _ := f.do(t, http.MethodPost, "/api/options",
		`{"caller":"nope","collateral_asset":"0x01","collateral_amount":"1","strike_asset":"0x02","strike_amount":"1","expiration":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// No collateral approved: the pull fails.
	rec, _ = f.do(t, http.MethodPost, "/api/options", mintBody(exp))
	require.Equal(t, http.StatusConflict, rec.Code)

	// Nonce unchanged after failures.
	_, resp := f.do(t, http.MethodGet, "/api/options/nonce", "")
	require.Equal(t, float64(0), resp["nonce"])
}

func TestExerciseAndOwnerViaAPI(t *testing.T) {
	f := newAPIFixture()
	fundWriter(t, f)
	exp := time.Now().Add(30 * 24 * time.Hour).Unix()
	rec, _ := f.do(t, http.MethodPost, "/api/options", mintBody(exp))
	require.Equal(t, http.StatusCreated, rec.Code)

	// Transfer the token to the holder, then exercise with the holder's
	// strike payment.
	rec, _ = f.do(t, http.MethodPost, "/api/options/1/transfer",
		fmt.Sprintf(`{"caller":%q,"to":%q}`, writerAddr.Hex(), holderAddr.Hex()))
	require.Equal(t, http.StatusOK, rec.Code)

	f.assets.Mint(strikeAsset, holderAddr, big.NewInt(10).Mul(big.NewInt(10), big.NewInt(1e18)))
	require.NoError(t, f.assets.Approve(context.Background(),
		strikeAsset, holderAddr, f.reg.EscrowAccount(), new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))))

	rec, resp := f.do(t, http.MethodPost, "/api/options/1/exercise",
		fmt.Sprintf(`{"caller":%q}`, holderAddr.Hex()))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "exercised", resp["state"])

	// A stranger exercising someone else's token is forbidden.
	rec, _ = f.do(t, http.MethodPost, "/api/options/1/exercise",
		fmt.Sprintf(`{"caller":%q}`, writerAddr.Hex()))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, resp = f.do(t, http.MethodGet, "/api/options/99/owner", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, resp["error"], "not found")
}

func TestGetActorRendersEmptySlices(t *testing.T) {
	f := newAPIFixture()

	rec, resp := f.do(t, http.MethodGet, "/api/actors/"+holderAddr.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []any{}, resp["minted_tokens"])
	require.Equal(t, []any{}, resp["active_tokens"])
}

func TestParseAmountRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "-5", "1.5", "0x10", "lots"} {
		_, err := parseAmount(bad)
		require.Error(t, err, "input %q", bad)
	}
	n, err := parseAmount("0")
	require.NoError(t, err)
	require.Zero(t, n.Sign())
}
