package s3blob

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mevflow/auctiond/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
}

func (m *memWriter) Put(_ context.Context, path string, data []byte, _ string) error {
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[path] = append([]byte(nil), data...)
	return nil
}

type stubArchiveStore struct {
	auctions []domain.Auction
	bids     map[string][]domain.BidRecord
}

func (s *stubArchiveStore) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Auction, error) {
	var out []domain.Auction
	for _, a := range s.auctions {
		if a.SettledAt != nil && a.SettledAt.Before(before) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubArchiveStore) ListByAuction(_ context.Context, id string) ([]domain.BidRecord, error) {
	return s.bids[id], nil
}

type stubAudit struct {
	events []string
}

func (s *stubAudit) Log(_ context.Context, event string, _ map[string]any) error {
	s.events = append(s.events, event)
	return nil
}

func (s *stubAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func settledAuction(id string, settledAt time.Time) domain.Auction {
	return domain.Auction{
		ID:            id,
		State:         domain.AuctionSettled,
		ExpectedValue: big.NewInt(1e15),
		MinBid:        big.NewInt(1e14),
		HighestBid:    big.NewInt(2e14),
		CreatedAt:     settledAt.Add(-time.Hour),
		SettledAt:     &settledAt,
	}
}

func TestArchiveSettled(t *testing.T) {
	settled := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	store := &stubArchiveStore{
		auctions: []domain.Auction{settledAuction("a1", settled)},
		bids: map[string][]domain.BidRecord{
			"a1": {{AuctionID: "a1", Amount: big.NewInt(2e14), Epoch: 4}},
		},
	}
	writer := &memWriter{}
	audit := &stubAudit{}

	arch := NewArchiver(writer, store, store, audit)
	count, err := arch.ArchiveSettled(context.Background(), settled.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	data, ok := writer.objects["auctions/2026/08/30/a1.json"]
	require.True(t, ok, "object keyed by settlement date")

	var rec archiveRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "a1", rec.Auction.ID)
	require.Len(t, rec.Bids, 1)
	assert.Equal(t, "200000000000000", rec.Bids[0].Amount.String())

	assert.Equal(t, []string{"archive.auctions"}, audit.events)
}

func TestArchiveSettledNothingToDo(t *testing.T) {
	writer := &memWriter{}
	audit := &stubAudit{}
	store := &stubArchiveStore{}

	arch := NewArchiver(writer, store, store, audit)
	count, err := arch.ArchiveSettled(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects)
	assert.Empty(t, audit.events, "no audit entry for an empty run")
}
