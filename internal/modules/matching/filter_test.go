// README: Browse filter and ranker tests, including the configured combinations.
package matching

import (
	"context"
	"slices"
	"testing"
	"time"

	"sharetaxi/internal/config"
	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/types"
)

func candidate(id types.ID, stops int, km float64, created time.Time) Candidate {
	return Candidate{
		Request:    request.Request{ID: id, CreatedAt: created},
		StopsAway:  stops,
		DistanceKm: km,
	}
}

func ids(cs []Candidate) []types.ID {
	out := make([]types.ID, len(cs))
	for i, c := range cs {
		out[i] = c.Request.ID
	}
	return out
}

func TestFilters(t *testing.T) {
	var cab taxi.Taxi
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		filter Filter
		c      Candidate
		want   bool
	}{
		{"stops inside limit", WithinStops(2), candidate("Q", 2, 1, base), true},
		{"stops beyond limit", WithinStops(2), candidate("Q", 3, 1, base), false},
		{"radius unknown distance", WithinRadius(1), candidate("Q", 9, -1, base), true},
		{"all of passes", AllOf(WithinRadius(5), WithinStops(2)), candidate("Q", 1, 4, base), true},
		{"all of fails on one", AllOf(WithinRadius(5), WithinStops(2)), candidate("Q", 1, 6, base), false},
		{"all of skips nil", AllOf(nil, WithinStops(2)), candidate("Q", 1, 6, base), true},
		{"empty all of", AllOf(), candidate("Q", 99, 99, base), true},
		{"browse without stop limit", BrowseFilter(5, 0), candidate("Q", 40, 4, base), true},
		{"browse with stop limit", BrowseFilter(5, 2), candidate("Q", 3, 4, base), false},
		{"browse radius still applies", BrowseFilter(5, 2), candidate("Q", 1, 7, base), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter(cab, tt.c); got != tt.want {
				t.Errorf("filter = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRankers(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	cs := []Candidate{
		candidate("near-new", 0, 2.0, base.Add(2*time.Minute)),
		candidate("far-old", 3, 0.5, base),
		candidate("mid", 1, 1.0, base.Add(time.Minute)),
	}
	tests := []struct {
		name string
		want []types.ID
	}{
		{"stops", []types.ID{"near-new", "mid", "far-old"}},
		{"distance", []types.ID{"far-old", "mid", "near-new"}},
		{"age", []types.ID{"far-old", "mid", "near-new"}},
		{"", []types.ID{"near-new", "mid", "far-old"}},
	}
	for _, tt := range tests {
		t.Run("ranker "+tt.name, func(t *testing.T) {
			rank, err := RankerByName(tt.name)
			if err != nil {
				t.Fatalf("ranker: %v", err)
			}
			got := slices.Clone(cs)
			slices.SortStableFunc(got, rank)
			if !slices.Equal(ids(got), tt.want) {
				t.Errorf("order = %v, want %v", ids(got), tt.want)
			}
		})
	}

	if _, err := RankerByName("random"); err == nil {
		t.Fatal("expected an error for an unknown ranker")
	}
}

func TestByAge_TiesKeepOrder(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	cs := []Candidate{candidate("first", 3, 1, base), candidate("second", 0, 1, base)}
	slices.SortStableFunc(cs, ByAge)
	if !slices.Equal(ids(cs), []types.ID{"first", "second"}) {
		t.Fatalf("equal ages should keep their order, got %v", ids(cs))
	}
}

func TestListForTaxi_ConfiguredBrowsing(t *testing.T) {
	f := newFixture(t, config.PickupPolicyCapacity)
	rank, err := RankerByName("age")
	if err != nil {
		t.Fatalf("ranker: %v", err)
	}
	f.engine.opts.Filter = BrowseFilter(100, 1)
	f.engine.opts.Ranker = rank
	f.addTaxi(t, "T1", "R1", "B", 4)

	ahead := f.addRequest(t, "P1", request.TypePickup, "R1", "C", "")
	time.Sleep(time.Millisecond)
	atStop := f.addRequest(t, "P2", request.TypeRide, "R1", "B", "D")
	time.Sleep(time.Millisecond)
	f.addRequest(t, "P3", request.TypePickup, "R1", "D", "")

	got, err := f.engine.ListForTaxi(context.Background(), "T1", ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []types.ID{ahead.ID, atStop.ID}
	if !slices.Equal(ids(got), want) {
		t.Fatalf("expected %v oldest first within one stop, got %v", want, ids(got))
	}
}
