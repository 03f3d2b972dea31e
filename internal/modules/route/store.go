// README: Route store backed by PostgreSQL (routes + route_stops).
package route

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sharetaxi/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// LoadAll returns every route with its stops in sequence order.
func (s *Store) LoadAll(ctx context.Context) ([]Route, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.name, st.stop_id, st.name, st.lat, st.lng
		FROM routes r
		JOIN route_stops st ON st.route_id = r.id
		ORDER BY r.id, st.seq`)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var out []Route
	for rows.Next() {
		var routeID, routeName, stopID, stopName string
		var p types.Point
		if err := rows.Scan(&routeID, &routeName, &stopID, &stopName, &p.Lat, &p.Lng); err != nil {
			return nil, fmt.Errorf("scan route stop: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != types.ID(routeID) {
			out = append(out, Route{ID: types.ID(routeID), Name: routeName})
		}
		last := &out[len(out)-1]
		last.Stops = append(last.Stops, Stop{ID: types.ID(stopID), Name: stopName, Seq: len(last.Stops), Location: p})
	}
	return out, rows.Err()
}

// Save replaces a route and its stop sequence in one transaction.
func (s *Store) Save(ctx context.Context, r Route) error {
	n, err := normalize(r)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO routes (id, name) VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
			string(n.ID), n.Name,
		); err != nil {
			return fmt.Errorf("upsert route: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM route_stops WHERE route_id = $1`, string(n.ID)); err != nil {
			return fmt.Errorf("clear route stops: %w", err)
		}
		for _, st := range n.Stops {
			if _, err := tx.Exec(ctx, `
				INSERT INTO route_stops (route_id, stop_id, seq, name, lat, lng)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				string(n.ID), string(st.ID), st.Seq, st.Name, st.Location.Lat, st.Location.Lng,
			); err != nil {
				return fmt.Errorf("insert route stop: %w", err)
			}
		}
		return nil
	})
}
