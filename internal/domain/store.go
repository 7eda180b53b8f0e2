package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TokenStore journals the append-only option token table. Inserts are keyed
// by the monotonically increasing id; rows are updated in place on state
// transitions but never deleted.
type TokenStore interface {
	Insert(ctx context.Context, token OptionToken) error
	UpdateState(ctx context.Context, token OptionToken) error
	UpdateOwner(ctx context.Context, id uint64, owner string) error
	GetByID(ctx context.Context, id uint64) (OptionToken, error)
	ListDeactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]OptionToken, error)
	Count(ctx context.Context) (int64, error)
}

// OrderStore journals exchange orders keyed by (token id, side) plus a
// replacement generation, so replaced and filled orders stay queryable.
type OrderStore interface {
	Insert(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, tokenID uint64, side OrderSide, status OrderStatus, filledAt *time.Time) error
	ListLive(ctx context.Context) ([]Order, error)
	ListFilledBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of every mutating operation.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]AuditEntry, error)
}
