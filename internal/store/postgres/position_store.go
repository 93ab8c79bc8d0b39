package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/levfarm/internal/domain"
)

var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Upsert stores st as the latest state of its position. Older states never
// overwrite newer ones.
func (s *PositionStore) Upsert(ctx context.Context, st domain.PositionState) error {
	const query = `
		INSERT INTO position_state (
			position_id, collateral_amount, debt_amount, pool_share_amount,
			ltv, max_ltv, state, updated_at
		) VALUES (
			$1, $2::numeric, $3::numeric, $4::numeric,
			$5::numeric, $6::numeric, $7, $8
		)
		ON CONFLICT (position_id) DO UPDATE SET
			collateral_amount = EXCLUDED.collateral_amount,
			debt_amount       = EXCLUDED.debt_amount,
			pool_share_amount = EXCLUDED.pool_share_amount,
			ltv               = EXCLUDED.ltv,
			max_ltv           = EXCLUDED.max_ltv,
			state             = EXCLUDED.state,
			updated_at        = EXCLUDED.updated_at
		WHERE position_state.updated_at <= EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, query,
		st.PositionID,
		numericString(st.CollateralAmount),
		numericString(st.DebtAmount),
		numericString(st.PoolShareAmount),
		numericString(st.LTV),
		numericString(st.MaxLTV),
		string(st.State),
		st.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", st.PositionID, err)
	}
	return nil
}

// Get returns the latest stored state of a position.
func (s *PositionStore) Get(ctx context.Context, positionID string) (domain.PositionState, error) {
	const query = `
		SELECT position_id, collateral_amount::text, debt_amount::text,
			pool_share_amount::text, ltv::text, max_ltv::text, state, updated_at
		FROM position_state WHERE position_id = $1`

	var (
		st                                    domain.PositionState
		collateral, debt, shares, ltv, maxLTV string
		state                                 string
	)
	err := s.pool.QueryRow(ctx, query, positionID).Scan(
		&st.PositionID, &collateral, &debt, &shares, &ltv, &maxLTV, &state, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionState{}, fmt.Errorf("postgres: position %s: %w", positionID, domain.ErrNotFound)
		}
		return domain.PositionState{}, fmt.Errorf("postgres: get position %s: %w", positionID, err)
	}

	for _, f := range []struct {
		dst **big.Int
		src string
	}{
		{&st.CollateralAmount, collateral},
		{&st.DebtAmount, debt},
		{&st.PoolShareAmount, shares},
		{&st.LTV, ltv},
		{&st.MaxLTV, maxLTV},
	} {
		v, err := parseNumeric(f.src)
		if err != nil {
			return domain.PositionState{}, err
		}
		*f.dst = v
	}
	st.State = domain.LeverageState(state)
	return st, nil
}
