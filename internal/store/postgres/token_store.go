package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// TokenStore implements domain.TokenStore using PostgreSQL. The registry
// stays authoritative in memory; rows here are the durability journal and
// the archiver's source.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore creates a TokenStore backed by the given connection pool.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Insert journals a freshly minted token.
func (s *TokenStore) Insert(ctx context.Context, t domain.OptionToken) error {
	const query = `
		INSERT INTO option_tokens (
			id, collateral_asset, collateral_amount, strike_asset, strike_amount,
			expiration, writer, receiver, current_owner, state,
			escrow_collateral, escrow_strike, minted_at, deactivated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)`

	_, err := s.pool.Exec(ctx, query,
		int64(t.ID),
		t.Terms.CollateralAsset.Hex(), t.Terms.CollateralAmount.String(),
		t.Terms.StrikeAsset.Hex(), t.Terms.StrikeAmount.String(),
		t.Terms.Expiration,
		t.Writer.Hex(), t.Receiver.Hex(), t.CurrentOwner.Hex(),
		string(t.State),
		t.EscrowCollateral.String(), t.EscrowStrike.String(),
		t.MintedAt, t.DeactivatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert token %d: %w", t.ID, err)
	}
	return nil
}

// UpdateState journals a state transition together with the escrow columns
// it moved.
func (s *TokenStore) UpdateState(ctx context.Context, t domain.OptionToken) error {
	const query = `
		UPDATE option_tokens
		SET state = $2, escrow_collateral = $3, escrow_strike = $4,
		    deactivated_at = $5, updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		int64(t.ID), string(t.State),
		t.EscrowCollateral.String(), t.EscrowStrike.String(),
		t.DeactivatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update token state %d: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateOwner journals an ownership change from an exchange fill.
func (s *TokenStore) UpdateOwner(ctx context.Context, id uint64, owner string) error {
	const query = `UPDATE option_tokens SET current_owner = $2, updated_at = NOW() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, int64(id), owner)
	if err != nil {
		return fmt.Errorf("postgres: update token owner %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const tokenSelectCols = `id, collateral_asset, collateral_amount::text,
	strike_asset, strike_amount::text, expiration,
	writer, receiver, current_owner, state,
	escrow_collateral::text, escrow_strike::text, minted_at, deactivated_at`

// GetByID returns the journaled row for a token id.
func (s *TokenStore) GetByID(ctx context.Context, id uint64) (domain.OptionToken, error) {
	query := `SELECT ` + tokenSelectCols + ` FROM option_tokens WHERE id = $1`

	t, err := scanToken(s.pool.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.OptionToken{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OptionToken{}, fmt.Errorf("postgres: get token %d: %w", id, err)
	}
	return t, nil
}

// ListDeactivatedBefore returns deactivated tokens older than cutoff, in id
// order. Used by the archiver.
func (s *TokenStore) ListDeactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.OptionToken, error) {
	query := `SELECT ` + tokenSelectCols + `
		FROM option_tokens
		WHERE deactivated_at IS NOT NULL AND deactivated_at < $1
		ORDER BY id
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deactivated tokens: %w", err)
	}
	defer rows.Close()

	var tokens []domain.OptionToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list deactivated tokens rows: %w", err)
	}
	return tokens, nil
}

// Count returns the number of journaled tokens.
func (s *TokenStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM option_tokens`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count tokens: %w", err)
	}
	return n, nil
}

func scanToken(scanner interface{ Scan(dest ...any) error }) (domain.OptionToken, error) {
	var t domain.OptionToken
	var id int64
	var collateralAsset, strikeAsset, writer, receiver, owner, state string
	var collateralAmount, strikeAmount, escrowCollateral, escrowStrike string

	err := scanner.Scan(
		&id, &collateralAsset, &collateralAmount,
		&strikeAsset, &strikeAmount, &t.Terms.Expiration,
		&writer, &receiver, &owner, &state,
		&escrowCollateral, &escrowStrike, &t.MintedAt, &t.DeactivatedAt,
	)
	if err != nil {
		return domain.OptionToken{}, err
	}

	t.ID = uint64(id)
	t.Terms.CollateralAsset = common.HexToAddress(collateralAsset)
	t.Terms.StrikeAsset = common.HexToAddress(strikeAsset)
	t.Writer = common.HexToAddress(writer)
	t.Receiver = common.HexToAddress(receiver)
	t.CurrentOwner = common.HexToAddress(owner)
	t.State = domain.TokenState(state)

	for _, col := range []struct {
		raw string
		dst **big.Int
	}{
		{collateralAmount, &t.Terms.CollateralAmount},
		{strikeAmount, &t.Terms.StrikeAmount},
		{escrowCollateral, &t.EscrowCollateral},
		{escrowStrike, &t.EscrowStrike},
	} {
		v, ok := new(big.Int).SetString(col.raw, 10)
		if !ok {
			return domain.OptionToken{}, fmt.Errorf("bad numeric %q", col.raw)
		}
		*col.dst = v
	}
	return t, nil
}
