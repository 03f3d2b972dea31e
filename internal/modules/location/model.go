// README: Live GPS fix reported by a driver app, and nearby-taxi results.
package location

import (
	"time"

	"sharetaxi/internal/types"
)

type Update struct {
	TaxiID   types.ID
	DriverID types.ID
	// Seq is a per-device counter; fixes with a Seq not above the last stored one are dropped.
	Seq        int64
	Position   types.Point
	RecordedAt time.Time
}

type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type Nearby struct {
	TaxiID     types.ID    `json:"taxiId"`
	Position   types.Point `json:"position"`
	DistanceKm float64     `json:"distanceKm"`
	Status     string      `json:"status"`
	RouteID    types.ID    `json:"routeId,omitempty"`
	Load       int         `json:"load"`
	Capacity   int         `json:"capacity"`
}
