package postgres

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

var _ domain.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Insert records a sample. Re-inserting the same pool and timestamp is a
// no-op since snapshots are immutable.
func (s *SnapshotStore) Insert(ctx context.Context, snap domain.PriceSnapshot) error {
	const query = `
		INSERT INTO price_snapshots (pool, ts, virtual_price)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (pool, ts) DO NOTHING`
	_, err := s.pool.Exec(ctx, query, snap.Pool.Hex(), snap.Timestamp.UTC(), numericString(snap.VirtualPrice))
	if err != nil {
		return fmt.Errorf("postgres: insert snapshot for %s: %w", snap.Pool.Hex(), err)
	}
	return nil
}

// ListRecent returns the newest limit samples for pool, oldest first.
func (s *SnapshotStore) ListRecent(ctx context.Context, pool common.Address, limit int) ([]domain.PriceSnapshot, error) {
	if limit <= 0 {
		return nil, nil
	}
	const query = `
		SELECT pool, ts, virtual_price::text FROM price_snapshots
		WHERE pool = $1 ORDER BY ts DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, pool.Hex(), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots for %s: %w", pool.Hex(), err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, err
	}
	slices.Reverse(snaps)
	return snaps, nil
}

// ListBefore returns every sample older than the cutoff, oldest first.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PriceSnapshot, error) {
	const query = `
		SELECT pool, ts, virtual_price::text FROM price_snapshots
		WHERE ts < $1 ORDER BY ts ASC, pool ASC`
	rows, err := s.pool.Query(ctx, query, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()
	return scanSnapshotRows(rows)
}

// DeleteBefore removes samples older than the cutoff.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_snapshots WHERE ts < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSnapshotRows(rows pgx.Rows) ([]domain.PriceSnapshot, error) {
	var snaps []domain.PriceSnapshot
	for rows.Next() {
		var (
			pool, vp string
			ts       time.Time
		)
		if err := rows.Scan(&pool, &ts, &vp); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot: %w", err)
		}
		price, err := parseNumeric(vp)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, domain.PriceSnapshot{
			Pool:         common.HexToAddress(pool),
			Timestamp:    ts,
			VirtualPrice: price,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list snapshots rows: %w", err)
	}
	return snaps, nil
}

// numericString renders x for a ::numeric parameter. nil is zero.
func numericString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func parseNumeric(s string) (*big.Int, error) {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: parse numeric %q", s)
	}
	return x, nil
}
