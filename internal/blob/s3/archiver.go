package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// archiveBatchLimit caps how many rows a single archive pass pulls from the
// store. Larger backlogs drain over successive runs.
const archiveBatchLimit = 10_000

// Narrow store interfaces for the archiver: only the time-ranged query each
// pass actually issues, not the full domain store surface. The Postgres
// stores satisfy these implicitly.

// TokenArchiveStore reads deactivated tokens for archival.
type TokenArchiveStore interface {
	ListDeactivatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.OptionToken, error)
}

// OrderArchiveStore reads filled orders for archival.
type OrderArchiveStore interface {
	ListFilledBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Order, error)
}

// AuditArchiveStore reads aged audit entries for archival.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEntry, error)
	Log(ctx context.Context, event string, detail map[string]any) error
}

// ArchiveImpl implements domain.Archiver: it queries settled records from the
// stores, serializes them to JSONL, and uploads the result to S3. Archived
// rows are not deleted here; pruning is a separate explicit step taken after
// the archive has been verified.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	tokens TokenArchiveStore
	orders OrderArchiveStore
	audit  AuditArchiveStore
}

// NewArchiver creates an ArchiveImpl. A nil reader skips read-back
// verification of uploaded archives.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, tokens TokenArchiveStore, orders OrderArchiveStore, audit AuditArchiveStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		tokens: tokens,
		orders: orders,
		audit:  audit,
	}
}

// ArchiveTokens uploads tokens deactivated before the cutoff to
// archive/tokens/YYYY-MM.jsonl and records the pass in the audit log.
func (a *ArchiveImpl) ArchiveTokens(ctx context.Context, before time.Time) (int64, error) {
	tokens, err := a.tokens.ListDeactivatedBefore(ctx, before, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive tokens query: %w", err)
	}
	return a.upload(ctx, "tokens", before, tokens, len(tokens))
}

// ArchiveOrders uploads orders filled before the cutoff to
// archive/orders/YYYY-MM.jsonl and records the pass in the audit log.
func (a *ArchiveImpl) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListFilledBefore(ctx, before, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return a.upload(ctx, "orders", before, orders, len(orders))
}

// ArchiveAudit uploads audit entries older than the cutoff to
// archive/audit/YYYY-MM.jsonl and records the pass in the audit log.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before, archiveBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return a.upload(ctx, "audit", before, entries, len(entries))
}

// upload serializes records to JSONL, writes the archive object, and logs
// the pass.
func (a *ArchiveImpl) upload(ctx context.Context, kind string, before time.Time, records any, count int) (int64, error) {
	if count == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	if a.reader != nil {
		if err := a.verify(ctx, path, buf); err != nil {
			return 0, err
		}
	}

	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return int64(count), fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return int64(count), nil
}

// verify reads the uploaded object back and compares it to the bytes sent.
// Pruning trusts the archive, so a short or corrupted upload must fail the
// pass before it is recorded in the audit log.
func (a *ArchiveImpl) verify(ctx context.Context, path string, want []byte) error {
	rc, err := a.reader.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive verify %s: %w", path, err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("s3blob: archive verify %s: %w", path, err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("s3blob: archive verify %s: stored object differs from upload", path)
	}
	return nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL(records any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	switch rs := records.(type) {
	case []domain.OptionToken:
		for _, r := range rs {
			if err := enc.Encode(archivedToken(r)); err != nil {
				return nil, err
			}
		}
	case []domain.Order:
		for _, r := range rs {
			if err := enc.Encode(archivedOrder(r)); err != nil {
				return nil, err
			}
		}
	case []domain.AuditEntry:
		for _, r := range rs {
			if err := enc.Encode(r); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unsupported record type %T", records)
	}
	return buf.Bytes(), nil
}

// archivedToken flattens a token into a JSON-stable row: big.Int amounts as
// decimal strings, addresses as hex.
func archivedToken(t domain.OptionToken) map[string]any {
	row := map[string]any{
		"id":                t.ID,
		"collateral_asset":  t.Terms.CollateralAsset.Hex(),
		"collateral_amount": t.Terms.CollateralAmount.String(),
		"strike_asset":      t.Terms.StrikeAsset.Hex(),
		"strike_amount":     t.Terms.StrikeAmount.String(),
		"expiration":        t.Terms.Expiration,
		"writer":            t.Writer.Hex(),
		"receiver":          t.Receiver.Hex(),
		"current_owner":     t.CurrentOwner.Hex(),
		"state":             string(t.State),
		"escrow_collateral": t.EscrowCollateral.String(),
		"escrow_strike":     t.EscrowStrike.String(),
		"minted_at":         t.MintedAt.Format(time.RFC3339),
	}
	if t.DeactivatedAt != nil {
		row["deactivated_at"] = t.DeactivatedAt.Format(time.RFC3339)
	}
	return row
}

func archivedOrder(o domain.Order) map[string]any {
	row := map[string]any{
		"token_id":   o.TokenID,
		"side":       string(o.Side),
		"price":      o.Price.String(),
		"owner":      o.Owner.Hex(),
		"status":     string(o.Status),
		"created_at": o.CreatedAt.Format(time.RFC3339),
	}
	if o.FilledAt != nil {
		row["filled_at"] = o.FilledAt.Format(time.RFC3339)
	}
	return row
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
