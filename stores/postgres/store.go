// Package postgres persists the funding ledger and oracle observations.
// Wide integers are stored as numeric columns and travel as decimal strings.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helixpool/clmm-core-go/oracle"
)

// Store provides Postgres persistence for the pricing service.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// BufferBalance returns the market's funding buffer, zero when the market
// has no row yet.
func (s *Store) BufferBalance(ctx context.Context, market string) (*uint256.Int, error) {
	var raw string
	row := s.pool.QueryRow(ctx, `SELECT balance::text FROM jit_funding WHERE market = $1`, market)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return new(uint256.Int), nil
		}
		return nil, err
	}
	balance, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("jit_funding balance for %s: %w", market, err)
	}
	return balance, nil
}

// LastHeavyUsage returns the slot of the market's last heavy-usage marker,
// zero when unset.
func (s *Store) LastHeavyUsage(ctx context.Context, market string) (uint64, error) {
	var slot int64
	row := s.pool.QueryRow(ctx, `SELECT last_heavy_slot FROM jit_funding WHERE market = $1`, market)
	if err := row.Scan(&slot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(slot), nil
}

// RecordConsumption debits the buffer, flooring at zero, and advances the
// heavy-usage marker when heavy is set.
func (s *Store) RecordConsumption(ctx context.Context, market string, consumed *uint256.Int, slot uint64, heavy bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jit_funding (market, balance, last_heavy_slot, updated_at)
		VALUES ($1, 0, CASE WHEN $3 THEN $4 ELSE 0 END, now())
		ON CONFLICT (market) DO UPDATE SET
			balance = GREATEST(jit_funding.balance - $2::numeric, 0),
			last_heavy_slot = CASE WHEN $3 THEN GREATEST(jit_funding.last_heavy_slot, $4) ELSE jit_funding.last_heavy_slot END,
			updated_at = now()
	`, market, consumed.Dec(), heavy, int64(slot))
	return err
}

// Fund credits the market's buffer.
func (s *Store) Fund(ctx context.Context, market string, amount *uint256.Int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jit_funding (market, balance, last_heavy_slot, updated_at)
		VALUES ($1, $2::numeric, 0, now())
		ON CONFLICT (market) DO UPDATE SET
			balance = jit_funding.balance + $2::numeric,
			updated_at = now()
	`, market, amount.Dec())
	return err
}

// SaveObservations upserts oracle observations keyed by market and
// timestamp.
func (s *Store) SaveObservations(ctx context.Context, market string, observations []oracle.PriceObservation) error {
	if len(observations) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, obs := range observations {
		batch.Queue(`
			INSERT INTO price_observations (market, observed_at, sqrt_price, cum_vol0, cum_vol1, created_at)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, now())
			ON CONFLICT (market, observed_at) DO UPDATE SET
				sqrt_price = EXCLUDED.sqrt_price,
				cum_vol0 = EXCLUDED.cum_vol0,
				cum_vol1 = EXCLUDED.cum_vol1
		`,
			market,
			int64(obs.Timestamp),
			obs.SqrtPrice.Dec(),
			obs.CumVol0.Dec(),
			obs.CumVol1.Dec(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range observations {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadObservations returns up to limit most recent observations for a
// market, oldest first, so they can be replayed into a fresh oracle.
func (s *Store) LoadObservations(ctx context.Context, market string, limit int) ([]oracle.PriceObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT observed_at, sqrt_price::text, cum_vol0::text, cum_vol1::text
		FROM (
			SELECT observed_at, sqrt_price, cum_vol0, cum_vol1
			FROM price_observations
			WHERE market = $1
			ORDER BY observed_at DESC
			LIMIT $2
		) recent
		ORDER BY observed_at ASC
	`, market, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []oracle.PriceObservation
	for rows.Next() {
		var (
			ts                int64
			price, vol0, vol1 string
		)
		if err := rows.Scan(&ts, &price, &vol0, &vol1); err != nil {
			return nil, err
		}
		obs := oracle.PriceObservation{Timestamp: uint64(ts)}
		if obs.SqrtPrice, err = uint256.FromDecimal(price); err != nil {
			return nil, fmt.Errorf("observation sqrt_price: %w", err)
		}
		if obs.CumVol0, err = uint256.FromDecimal(vol0); err != nil {
			return nil, fmt.Errorf("observation cum_vol0: %w", err)
		}
		if obs.CumVol1, err = uint256.FromDecimal(vol1); err != nil {
			return nil, fmt.Errorf("observation cum_vol1: %w", err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// SaveState upserts a named progress marker, matching the slot the service
// last processed.
func (s *Store) SaveState(ctx context.Context, name string, slot uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO service_state (name, last_processed_slot, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_slot = EXCLUDED.last_processed_slot, updated_at = now()
	`, name, int64(slot))
	return err
}

// LoadState returns the progress marker for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var slot int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_slot FROM service_state WHERE name = $1`, name)
	if err := row.Scan(&slot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(slot), true, nil
}
