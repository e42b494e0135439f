package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RewardStore implements domain.RewardStore using PostgreSQL. It snapshots the
// per-pool pending-reward ledger; the in-memory ledger is authoritative during
// operation and restored from here on startup.
type RewardStore struct {
	pool *pgxpool.Pool
}

// NewRewardStore creates a new RewardStore backed by the given connection pool.
func NewRewardStore(pool *pgxpool.Pool) *RewardStore {
	return &RewardStore{pool: pool}
}

// Set upserts a pool's pending reward balance.
func (s *RewardStore) Set(ctx context.Context, poolKey string, pending *big.Int) error {
	const query = `
		INSERT INTO reward_ledger (pool_key, pending, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (pool_key) DO UPDATE SET
			pending    = EXCLUDED.pending,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, poolKey, numericText(pending))
	if err != nil {
		return fmt.Errorf("postgres: set reward ledger %s: %w", poolKey, err)
	}
	return nil
}

// Get returns a pool's pending reward balance; zero when the pool is unknown.
func (s *RewardStore) Get(ctx context.Context, poolKey string) (*big.Int, error) {
	const query = `SELECT pending::text FROM reward_ledger WHERE pool_key = $1`

	var pending string
	err := s.pool.QueryRow(ctx, query, poolKey).Scan(&pending)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("postgres: get reward ledger %s: %w", poolKey, err)
	}
	return parseNumeric(pending)
}

// All returns the full ledger snapshot for startup restoration.
func (s *RewardStore) All(ctx context.Context) (map[string]*big.Int, error) {
	const query = `SELECT pool_key, pending::text FROM reward_ledger`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reward ledger: %w", err)
	}
	defer rows.Close()

	balances := make(map[string]*big.Int)
	for rows.Next() {
		var poolKey, pending string
		if err := rows.Scan(&poolKey, &pending); err != nil {
			return nil, fmt.Errorf("postgres: scan reward ledger: %w", err)
		}
		v, err := parseNumeric(pending)
		if err != nil {
			return nil, err
		}
		balances[poolKey] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list reward ledger rows: %w", err)
	}
	return balances, nil
}
