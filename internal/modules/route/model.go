// README: Route and stop value objects; stop order is fixed once a route is published.
package route

import (
	"errors"

	"sharetaxi/internal/types"
)

var (
	ErrRouteNotFound = errors.New("route not found")
	ErrStopNotFound  = errors.New("stop not found on route")
	ErrInvalidRoute  = errors.New("invalid route")
)

type Stop struct {
	ID       types.ID    `json:"id"`
	Name     string      `json:"name"`
	Seq      int         `json:"seq"`
	Location types.Point `json:"location"`
}

type Route struct {
	ID    types.ID `json:"id"`
	Name  string   `json:"name"`
	Stops []Stop   `json:"stops"`
}

// Position returns the zero-based index of stopID within the route.
func (r Route) Position(stopID types.ID) (int, bool) {
	for _, s := range r.Stops {
		if s.ID == stopID {
			return s.Seq, true
		}
	}
	return 0, false
}

func (r Route) Stop(stopID types.ID) (Stop, bool) {
	pos, ok := r.Position(stopID)
	if !ok {
		return Stop{}, false
	}
	return r.Stops[pos], true
}

// normalize assigns Seq from slice order and rejects duplicate or empty stop ids.
func normalize(r Route) (Route, error) {
	if r.ID == "" || len(r.Stops) == 0 {
		return Route{}, ErrInvalidRoute
	}
	out := Route{ID: r.ID, Name: r.Name, Stops: make([]Stop, len(r.Stops))}
	seen := make(map[types.ID]struct{}, len(r.Stops))
	for i, s := range r.Stops {
		if s.ID == "" {
			return Route{}, ErrInvalidRoute
		}
		if _, dup := seen[s.ID]; dup {
			return Route{}, ErrInvalidRoute
		}
		seen[s.ID] = struct{}{}
		s.Seq = i
		out.Stops[i] = s
	}
	return out, nil
}
