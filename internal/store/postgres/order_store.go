package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Each placement
// inserts a fresh row; replaced and filled generations stay queryable.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Insert journals a newly placed order.
func (s *OrderStore) Insert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (token_id, side, price, owner_addr, status, created_at, filled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		int64(o.TokenID), string(o.Side), o.Price.String(),
		o.Owner.Hex(), string(o.Status), o.CreatedAt, o.FilledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %d/%s: %w", o.TokenID, o.Side, err)
	}
	return nil
}

// UpdateStatus retires the live row for (token, side). Only the open
// generation is mutable; older generations are history.
func (s *OrderStore) UpdateStatus(ctx context.Context, tokenID uint64, side domain.OrderSide, status domain.OrderStatus, filledAt *time.Time) error {
	const query = `
		UPDATE orders
		SET status = $3, filled_at = $4, updated_at = NOW()
		WHERE token_id = $1 AND side = $2 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, int64(tokenID), string(side), string(status), filledAt)
	if err != nil {
		return fmt.Errorf("postgres: update order status %d/%s: %w", tokenID, side, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const orderSelectCols = `token_id, side, price::text, owner_addr, status, created_at, filled_at`

// ListLive returns all open orders. Used to rebuild the book on startup.
func (s *OrderStore) ListLive(ctx context.Context) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + ` FROM orders WHERE status = 'open' ORDER BY token_id, side`
	return s.list(ctx, query)
}

// ListFilledBefore returns orders filled earlier than cutoff, oldest first.
// Used by the archiver.
func (s *OrderStore) ListFilledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	query := `SELECT ` + orderSelectCols + `
		FROM orders
		WHERE status = 'filled' AND filled_at < $1
		ORDER BY filled_at
		LIMIT $2`
	return s.list(ctx, query, cutoff, limit)
}

func (s *OrderStore) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var tokenID int64
		var side, price, owner, status string

		if err := rows.Scan(&tokenID, &side, &price, &owner, &status, &o.CreatedAt, &o.FilledAt); err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}

		o.TokenID = uint64(tokenID)
		o.Side = domain.OrderSide(side)
		o.Owner = common.HexToAddress(owner)
		o.Status = domain.OrderStatus(status)
		p, ok := new(big.Int).SetString(price, 10)
		if !ok {
			return nil, fmt.Errorf("postgres: bad order price %q", price)
		}
		o.Price = p

		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list orders rows: %w", err)
	}
	return orders, nil
}
