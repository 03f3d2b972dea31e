// README: Read-only route catalog answering stop position and ordering queries.
package route

import (
	"fmt"
	"sort"
	"sync/atomic"

	"sharetaxi/internal/types"
)

type Catalog struct {
	routes atomic.Pointer[map[types.ID]Route]
}

func NewCatalog(routes []Route) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Replace(routes); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps the whole route set at once. Readers never observe a partial set.
func (c *Catalog) Replace(routes []Route) error {
	next := make(map[types.ID]Route, len(routes))
	for _, r := range routes {
		n, err := normalize(r)
		if err != nil {
			return fmt.Errorf("route %q: %w", r.ID, err)
		}
		if _, dup := next[n.ID]; dup {
			return fmt.Errorf("route %q: duplicate id: %w", r.ID, ErrInvalidRoute)
		}
		next[n.ID] = n
	}
	c.routes.Store(&next)
	return nil
}

func (c *Catalog) Get(routeID types.ID) (Route, error) {
	m := c.routes.Load()
	if m == nil {
		return Route{}, ErrRouteNotFound
	}
	r, ok := (*m)[routeID]
	if !ok {
		return Route{}, ErrRouteNotFound
	}
	return r, nil
}

func (c *Catalog) List() []Route {
	m := c.routes.Load()
	if m == nil {
		return nil
	}
	out := make([]Route, 0, len(*m))
	for _, r := range *m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) StopPosition(routeID, stopID types.ID) (int, error) {
	r, err := c.Get(routeID)
	if err != nil {
		return 0, err
	}
	pos, ok := r.Position(stopID)
	if !ok {
		return 0, ErrStopNotFound
	}
	return pos, nil
}

// IsAtOrAfter reports whether current sits at or beyond target on the route.
func (c *Catalog) IsAtOrAfter(routeID, current, target types.ID) (bool, error) {
	cur, err := c.StopPosition(routeID, current)
	if err != nil {
		return false, err
	}
	tgt, err := c.StopPosition(routeID, target)
	if err != nil {
		return false, err
	}
	return cur >= tgt, nil
}

func (c *Catalog) Stop(routeID, stopID types.ID) (Stop, error) {
	r, err := c.Get(routeID)
	if err != nil {
		return Stop{}, err
	}
	s, ok := r.Stop(stopID)
	if !ok {
		return Stop{}, ErrStopNotFound
	}
	return s, nil
}
