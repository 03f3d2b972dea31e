// README: Request store backed by PostgreSQL; every transition is a single conditional UPDATE.
package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"sharetaxi/internal/types"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGStore struct {
	db db
}

func NewPGStore(db db) *PGStore {
	return &PGStore{db: db}
}

const selectRequest = `
	SELECT id, passenger_id, type, route_id, start_stop, COALESCE(dest_stop, ''), status,
	       COALESCE(accepting_taxi, ''), held, estimated_fare, currency, version,
	       created_at, accepted_at, closed_at
	FROM ride_requests`

func (s *PGStore) Create(ctx context.Context, r *Request) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ride_requests (
			id, passenger_id, type, route_id, start_stop, dest_stop, status,
			estimated_fare, currency, version, created_at
		) VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10, $11)`,
		string(r.ID), string(r.PassengerID), string(r.Type), string(r.RouteID),
		string(r.StartStop), string(r.DestStop), string(r.Status),
		r.EstimatedFare.Amount, r.EstimatedFare.Currency, r.Version, r.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == "ride_requests_one_active_idx" {
			return ErrActiveRequest
		}
		return ErrConflict
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, selectRequest+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

func (s *PGStore) TransitionPendingToAccepted(ctx context.Context, id, taxiID types.ID, at time.Time) (*Request, error) {
	r, err := scanRequest(s.db.QueryRow(ctx, `
		UPDATE ride_requests
		SET status = 'accepted',
		    accepting_taxi = $1,
		    accepted_at = $2,
		    version = version + 1
		WHERE id = $3 AND status = 'pending'
		RETURNING id, passenger_id, type, route_id, start_stop, COALESCE(dest_stop, ''), status,
		          COALESCE(accepting_taxi, ''), held, estimated_fare, currency, version,
		          created_at, accepted_at, closed_at`,
		string(taxiID), at, string(id),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrAlreadyResolved
	}
	if err != nil {
		return nil, fmt.Errorf("accept request: %w", err)
	}
	return r, nil
}

func (s *PGStore) RevertAccepted(ctx context.Context, id, taxiID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = 'pending',
		    accepting_taxi = NULL,
		    accepted_at = NULL,
		    version = version + 1
		WHERE id = $1 AND status = 'accepted' AND accepting_taxi = $2 AND NOT held`,
		string(id), string(taxiID),
	)
	if err != nil {
		return false, fmt.Errorf("revert request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkHeld and ReleaseHold leave version alone so a concurrent close keeps its CAS.
func (s *PGStore) MarkHeld(ctx context.Context, id, taxiID types.ID) (bool, error) {
	return s.setHeld(ctx, `
		UPDATE ride_requests SET held = TRUE
		WHERE id = $1 AND status = 'accepted' AND accepting_taxi = $2 AND NOT held`, id, taxiID)
}

func (s *PGStore) ReleaseHold(ctx context.Context, id, taxiID types.ID) (bool, error) {
	return s.setHeld(ctx, `
		UPDATE ride_requests SET held = FALSE
		WHERE id = $1 AND accepting_taxi = $2 AND held`, id, taxiID)
}

func (s *PGStore) setHeld(ctx context.Context, sql string, id, taxiID types.ID) (bool, error) {
	tag, err := s.db.Exec(ctx, sql, string(id), string(taxiID))
	if err != nil {
		return false, fmt.Errorf("update request hold: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, id types.ID, from, to Status, version int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE ride_requests
		SET status = $1,
		    version = version + 1,
		    closed_at = CASE WHEN $1 IN ('completed', 'cancelled') THEN $2 ELSE closed_at END
		WHERE id = $3 AND status = $4 AND version = $5`,
		string(to), at, string(id), string(from), version,
	)
	if err != nil {
		return false, fmt.Errorf("update request status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) ListPending(ctx context.Context, routeID types.ID) ([]Request, error) {
	rows, err := s.db.Query(ctx, selectRequest+`
		WHERE status = 'pending' AND ($1 = '' OR route_id = $1)
		ORDER BY created_at`, string(routeID))
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendEvent(ctx context.Context, e *StateEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO request_state_events (
			request_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		string(e.RequestID), string(e.FromStatus), string(e.ToStatus),
		e.ActorType, string(e.ActorID), e.CreatedAt,
	)
	return err
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var id, passengerID, typ, routeID, start, dest, status, taxiID string
	err := row.Scan(
		&id, &passengerID, &typ, &routeID, &start, &dest, &status,
		&taxiID, &r.Held, &r.EstimatedFare.Amount, &r.EstimatedFare.Currency, &r.Version,
		&r.CreatedAt, &r.AcceptedAt, &r.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ID = types.ID(id)
	r.PassengerID = types.ID(passengerID)
	r.Type = Type(typ)
	r.RouteID = types.ID(routeID)
	r.StartStop = types.ID(start)
	r.DestStop = types.ID(dest)
	r.Status = Status(status)
	r.AcceptingTaxi = types.ID(taxiID)
	return &r, nil
}
