package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/primitivefi/prime-engine/internal/domain"
)

// memBlob is an in-memory object store implementing both the writer and
// reader sides.
type memBlob struct {
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlob) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			infos = append(infos, domain.BlobInfo{Path: k, Size: int64(len(v))})
		}
	}
	return infos, nil
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

// truncatingBlob drops the final byte of every stored object.
type truncatingBlob struct {
	*memBlob
}

func (t *truncatingBlob) Put(ctx context.Context, path string, data io.Reader, ct string) error {
	if err := t.memBlob.Put(ctx, path, data, ct); err != nil {
		return err
	}
	b := t.objects[path]
	t.objects[path] = b[:len(b)-1]
	return nil
}

type tokenRows struct {
	rows []domain.OptionToken
}

func (s tokenRows) ListDeactivatedBefore(context.Context, time.Time, int) ([]domain.OptionToken, error) {
	return s.rows, nil
}

type orderRows struct {
	rows []domain.Order
}

func (s orderRows) ListFilledBefore(context.Context, time.Time, int) ([]domain.Order, error) {
	return s.rows, nil
}

type auditRecorder struct {
	rows   []domain.AuditEntry
	logged []string
}

func (a *auditRecorder) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return a.rows, nil
}

func (a *auditRecorder) Log(_ context.Context, event string, _ map[string]any) error {
	a.logged = append(a.logged, event)
	return nil
}

func exercisedToken(id uint64, at time.Time) domain.OptionToken {
	minted := at.Add(-24 * time.Hour)
	return domain.OptionToken{
		ID: id,
		Terms: domain.OptionTerms{
			CollateralAsset:  common.HexToAddress("0xc011"),
			CollateralAmount: domain.Units(1),
			StrikeAsset:      common.HexToAddress("0x5711"),
			StrikeAmount:     domain.Units(10),
			Expiration:       at.Add(30 * 24 * time.Hour).Unix(),
		},
		Writer:           common.HexToAddress("0x0001"),
		Receiver:         common.HexToAddress("0x0001"),
		CurrentOwner:     common.HexToAddress("0x0002"),
		State:            domain.TokenStateExercised,
		EscrowCollateral: domain.Units(0),
		EscrowStrike:     domain.Units(10),
		MintedAt:         minted,
		DeactivatedAt:    &at,
	}
}

func TestArchiveTokensRoundTrip(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	audit := &auditRecorder{}
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	arch := NewArchiver(blob, blob,
		tokenRows{rows: []domain.OptionToken{exercisedToken(7, cutoff.AddDate(0, 0, -10))}},
		orderRows{}, audit)

	n, err := arch.ArchiveTokens(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	rc, err := blob.Get(ctx, "archive/tokens/2026-02.jsonl")
	require.NoError(t, err)
	defer rc.Close()

	var row map[string]any
	require.NoError(t, json.NewDecoder(rc).Decode(&row))
	require.Equal(t, float64(7), row["id"])
	require.Equal(t, "exercised", row["state"])
	require.Equal(t, domain.Units(10).String(), row["escrow_strike"])

	require.Equal(t, []string{"archive.tokens"}, audit.logged)
}

func TestArchiveVerifyRejectsCorruptedUpload(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	audit := &auditRecorder{}
	cutoff := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	arch := NewArchiver(&truncatingBlob{memBlob: blob}, blob,
		tokenRows{rows: []domain.OptionToken{exercisedToken(7, cutoff.AddDate(0, 0, -10))}},
		orderRows{}, audit)

	_, err := arch.ArchiveTokens(ctx, cutoff)
	require.ErrorContains(t, err, "verify")
	// A failed pass never reaches the audit log.
	require.Empty(t, audit.logged)
}

func TestArchiveSkipsEmptyBatches(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	audit := &auditRecorder{}

	arch := NewArchiver(blob, blob, tokenRows{}, orderRows{}, audit)

	n, err := arch.ArchiveTokens(ctx, time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, blob.objects)
	require.Empty(t, audit.logged)
}

func TestArchiveAuditEntries(t *testing.T) {
	ctx := context.Background()
	blob := newMemBlob()
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	audit := &auditRecorder{rows: []domain.AuditEntry{
		{ID: 1, Event: "minted", CreatedAt: cutoff.AddDate(0, -2, 0)},
	}}

	arch := NewArchiver(blob, blob, tokenRows{}, orderRows{}, audit)

	n, err := arch.ArchiveAudit(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	ok, err := blob.Exists(ctx, "archive/audit/2026-03.jsonl")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"archive.audit"}, audit.logged)
}
