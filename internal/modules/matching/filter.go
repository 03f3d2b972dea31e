// README: Pluggable filter and ranking strategies for driver browsing.
package matching

import (
	"cmp"
	"fmt"

	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/types"
)

// Candidate is a pending request as seen from one taxi.
type Candidate struct {
	Request       request.Request `json:"request"`
	StartLocation types.Point     `json:"startLocation"`
	StopsAway     int             `json:"stopsAway"`
	// DistanceKm is -1 when the taxi position is unknown.
	DistanceKm float64 `json:"distanceKm"`
}

type Filter func(t taxi.Taxi, c Candidate) bool

// Ranker orders candidates like cmp.Compare.
type Ranker func(a, b Candidate) int

// WithinRadius keeps candidates whose starting stop is within km of the taxi.
// Candidates with an unknown distance are kept.
func WithinRadius(km float64) Filter {
	return func(_ taxi.Taxi, c Candidate) bool {
		return c.DistanceKm < 0 || c.DistanceKm <= km
	}
}

// WithinStops keeps candidates at most n stops ahead.
func WithinStops(n int) Filter {
	return func(_ taxi.Taxi, c Candidate) bool {
		return c.StopsAway <= n
	}
}

// AllOf combines filters; every one must pass.
func AllOf(filters ...Filter) Filter {
	return func(t taxi.Taxi, c Candidate) bool {
		for _, f := range filters {
			if f != nil && !f(t, c) {
				return false
			}
		}
		return true
	}
}

// ByStopsAway ranks nearer stops first, then older requests.
func ByStopsAway(a, b Candidate) int {
	if n := cmp.Compare(a.StopsAway, b.StopsAway); n != 0 {
		return n
	}
	return a.Request.CreatedAt.Compare(b.Request.CreatedAt)
}

// ByDistance ranks by straight-line distance, falling back to ByStopsAway.
func ByDistance(a, b Candidate) int {
	if a.DistanceKm >= 0 && b.DistanceKm >= 0 {
		if n := cmp.Compare(a.DistanceKm, b.DistanceKm); n != 0 {
			return n
		}
	}
	return ByStopsAway(a, b)
}

// ByAge ranks the longest-waiting requests first.
func ByAge(a, b Candidate) int {
	return a.Request.CreatedAt.Compare(b.Request.CreatedAt)
}

// RankerByName resolves a configured ranker: stops, distance or age.
func RankerByName(name string) (Ranker, error) {
	switch name {
	case "", "stops":
		return ByStopsAway, nil
	case "distance":
		return ByDistance, nil
	case "age":
		return ByAge, nil
	}
	return nil, fmt.Errorf("unknown ranker %q", name)
}

// BrowseFilter keeps candidates inside radiusKm and, when maxStops > 0,
// at most maxStops stops ahead.
func BrowseFilter(radiusKm float64, maxStops int) Filter {
	if maxStops <= 0 {
		return WithinRadius(radiusKm)
	}
	return AllOf(WithinRadius(radiusKm), WithinStops(maxStops))
}
