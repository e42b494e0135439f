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

	"github.com/mevflow/auctiond/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionSelectCols = `id, pool_key, asset0, asset1, fee_rate_ppm, tick_granularity,
	mode, state, expected_value::text, min_bid::text, highest_bid::text, highest_bidder,
	created_epoch, deadline_epoch,
	encrypted_bid, encrypted_bidder, reveal_requested, reveal_epoch,
	requires_stake, slash_amount::text, is_slashed,
	created_at, settled_at`

// Insert stores a newly opened auction.
func (s *AuctionStore) Insert(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, pool_key, asset0, asset1, fee_rate_ppm, tick_granularity,
			mode, state, expected_value, min_bid, highest_bid, highest_bidder,
			created_epoch, deadline_epoch,
			encrypted_bid, encrypted_bidder, reveal_requested, reveal_epoch,
			requires_stake, slash_amount, is_slashed,
			created_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14,
			$15, $16, $17, $18,
			$19, $20, $21,
			$22, $23
		)`

	_, err := s.pool.Exec(ctx, query, auctionArgs(a)...)
	if err != nil {
		return fmt.Errorf("postgres: insert auction %s: %w", a.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of an auction record.
func (s *AuctionStore) Update(ctx context.Context, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			state            = $2,
			highest_bid      = $3,
			highest_bidder   = $4,
			encrypted_bid    = $5,
			encrypted_bidder = $6,
			reveal_requested = $7,
			reveal_epoch     = $8,
			is_slashed       = $9,
			settled_at       = $10
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		a.ID, string(a.State), numericText(a.HighestBid), addrText(a.HighestBidder),
		string(a.EncryptedBid), string(a.EncryptedBidder), a.RevealRequested, a.RevealEpoch,
		a.IsSlashed, a.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID returns a single auction by its ID.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE id = $1`

	a, err := scanAuction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// ListRecent returns the most recent auctions ordered by creation time.
func (s *AuctionStore) ListRecent(ctx context.Context, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions ORDER BY created_at DESC`
	args := []any{}

	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	return s.queryAuctions(ctx, query, args...)
}

// ListByPool returns a pool's auctions with pagination and time filtering.
func (s *AuctionStore) ListByPool(ctx context.Context, poolKey string, opts domain.ListOpts) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + ` FROM auctions WHERE pool_key = $1`
	args := []any{poolKey}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryAuctions(ctx, query, args...)
}

// ListSettledBefore returns settled auctions older than the cutoff, oldest
// first, for archival.
func (s *AuctionStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Auction, error) {
	query := `SELECT ` + auctionSelectCols + `
		FROM auctions
		WHERE state = 'settled' AND settled_at < $1
		ORDER BY settled_at ASC`

	return s.queryAuctions(ctx, query, before)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (s *AuctionStore) queryAuctions(ctx context.Context, query string, args ...any) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query auctions: %w", err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query auctions rows: %w", err)
	}
	return auctions, nil
}

func auctionArgs(a domain.Auction) []any {
	return []any{
		a.ID, a.PoolKey, a.Pool.Asset0.Hex(), a.Pool.Asset1.Hex(), a.Pool.FeeRatePPM, a.Pool.TickGranularity,
		string(a.Mode), string(a.State), numericText(a.ExpectedValue), numericText(a.MinBid),
		numericText(a.HighestBid), addrText(a.HighestBidder),
		a.CreatedEpoch, a.DeadlineEpoch,
		string(a.EncryptedBid), string(a.EncryptedBidder), a.RevealRequested, a.RevealEpoch,
		a.RequiresStake, numericPtrText(a.SlashAmount), a.IsSlashed,
		a.CreatedAt, a.SettledAt,
	}
}

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var (
		a                                 domain.Auction
		asset0, asset1                    string
		mode, state                       string
		expectedValue, minBid, highestBid string
		highestBidder, slashAmount        *string
	)

	err := row.Scan(
		&a.ID, &a.PoolKey, &asset0, &asset1, &a.Pool.FeeRatePPM, &a.Pool.TickGranularity,
		&mode, &state, &expectedValue, &minBid, &highestBid, &highestBidder,
		&a.CreatedEpoch, &a.DeadlineEpoch,
		&a.EncryptedBid, &a.EncryptedBidder, &a.RevealRequested, &a.RevealEpoch,
		&a.RequiresStake, &slashAmount, &a.IsSlashed,
		&a.CreatedAt, &a.SettledAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}

	a.Pool.Asset0 = common.HexToAddress(asset0)
	a.Pool.Asset1 = common.HexToAddress(asset1)
	a.Mode = domain.AuctionMode(mode)
	a.State = domain.AuctionState(state)

	if a.ExpectedValue, err = parseNumeric(expectedValue); err != nil {
		return domain.Auction{}, err
	}
	if a.MinBid, err = parseNumeric(minBid); err != nil {
		return domain.Auction{}, err
	}
	if a.HighestBid, err = parseNumeric(highestBid); err != nil {
		return domain.Auction{}, err
	}
	if highestBidder != nil {
		addr := common.HexToAddress(*highestBidder)
		a.HighestBidder = &addr
	}
	if slashAmount != nil {
		if a.SlashAmount, err = parseNumeric(*slashAmount); err != nil {
			return domain.Auction{}, err
		}
	}
	return a, nil
}

// numericText renders a wei amount for a NUMERIC column; nil maps to zero.
func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// numericPtrText renders an optional wei amount; nil maps to SQL NULL.
func numericPtrText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func addrText(a *common.Address) *string {
	if a == nil {
		return nil
	}
	s := a.Hex()
	return &s
}

func parseNumeric(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad numeric value %q", s)
	}
	return v, nil
}
