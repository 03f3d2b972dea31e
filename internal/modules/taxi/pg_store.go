// README: Taxi store backed by PostgreSQL using version-checked conditional updates.
package taxi

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"sharetaxi/internal/types"
)

// maxCASAttempts bounds retries when another writer bumps the version between read and update.
// Running out of attempts returns ErrContended.
const maxCASAttempts = 8

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGStore struct {
	db db
}

// NewPGStore accepts a *pgxpool.Pool in production or a pgx.Tx in tests.
func NewPGStore(db db) *PGStore {
	return &PGStore{db: db}
}

const selectTaxi = `
	SELECT id, driver_id, COALESCE(route_id, ''), COALESCE(current_stop, ''), status,
	       load, capacity, assigned, accepting_rides, accepting_pickups, active, version, updated_at
	FROM taxis`

func (s *PGStore) Create(ctx context.Context, t *Taxi) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO taxis (
			id, driver_id, route_id, current_stop, status,
			load, capacity, assigned, accepting_rides, accepting_pickups, active, version, updated_at
		) VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		string(t.ID), string(t.DriverID), string(t.RouteID), string(t.CurrentStop), string(t.Status),
		t.Load, t.Capacity, t.Assigned, t.AcceptingRides, t.AcceptingPickups, t.Active, t.Version, t.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Taxi, error) {
	t, err := scanTaxi(s.db.QueryRow(ctx, selectTaxi+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get taxi: %w", err)
	}
	return t, nil
}

func (s *PGStore) List(ctx context.Context) ([]Taxi, error) {
	rows, err := s.db.Query(ctx, selectTaxi+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list taxis: %w", err)
	}
	defer rows.Close()
	var out []Taxi
	for rows.Next() {
		t, err := scanTaxi(rows)
		if err != nil {
			return nil, fmt.Errorf("scan taxi: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CompareAndMutate reads, evaluates and writes back with version = read version.
// A lost write re-reads and re-evaluates the predicate.
func (s *PGStore) CompareAndMutate(ctx context.Context, id types.ID, pred Predicate, mut Mutation) (*Taxi, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !pred(*cur) {
			return nil, ErrPredicateFailed
		}
		next := *cur
		mut(&next)
		next.ID = cur.ID

		row := s.db.QueryRow(ctx, `
			UPDATE taxis
			SET route_id = NULLIF($1, ''),
			    current_stop = NULLIF($2, ''),
			    status = $3,
			    load = $4,
			    capacity = $5,
			    assigned = $6,
			    accepting_rides = $7,
			    accepting_pickups = $8,
			    active = $9,
			    version = version + 1,
			    updated_at = NOW()
			WHERE id = $10 AND version = $11
			RETURNING version, updated_at`,
			string(next.RouteID), string(next.CurrentStop), string(next.Status),
			next.Load, next.Capacity, next.Assigned, next.AcceptingRides, next.AcceptingPickups, next.Active,
			string(cur.ID), cur.Version,
		)
		err = row.Scan(&next.Version, &next.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update taxi: %w", err)
		}
		return &next, nil
	}
	return nil, ErrContended
}

func scanTaxi(row pgx.Row) (*Taxi, error) {
	var t Taxi
	var id, driverID, routeID, stop, status string
	err := row.Scan(
		&id, &driverID, &routeID, &stop, &status,
		&t.Load, &t.Capacity, &t.Assigned, &t.AcceptingRides, &t.AcceptingPickups, &t.Active, &t.Version, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ID = types.ID(id)
	t.DriverID = types.ID(driverID)
	t.RouteID = types.ID(routeID)
	t.CurrentStop = types.ID(stop)
	t.Status = Status(status)
	return &t, nil
}
