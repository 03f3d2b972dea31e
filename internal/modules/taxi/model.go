// README: Taxi aggregate, operational statuses and the driver status flow.
package taxi

import (
	"time"

	"sharetaxi/internal/events"
	"sharetaxi/internal/types"
)

type Status string

const (
	StatusAvailable    Status = "available"
	StatusFull         Status = "full"
	StatusNotAvailable Status = "not-available"
	StatusOffDuty      Status = "off-duty"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusFull, StatusNotAvailable, StatusOffDuty:
		return true
	}
	return false
}

type Taxi struct {
	ID               types.ID  `json:"id"`
	DriverID         types.ID  `json:"driverId"`
	RouteID          types.ID  `json:"routeId,omitempty"`
	CurrentStop      types.ID  `json:"currentStop,omitempty"`
	Status           Status    `json:"status"`
	Load             int       `json:"load"`
	Capacity         int       `json:"capacity"`
	Assigned         int       `json:"assigned"` // open accepted requests bound to this taxi
	AcceptingRides   bool      `json:"acceptingRides"`
	AcceptingPickups bool      `json:"acceptingPickups"`
	Active           bool      `json:"-"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// HasSeat reports whether one more passenger fits.
func (t Taxi) HasSeat() bool {
	return t.Load < t.Capacity
}

// Predicate is evaluated against the current state inside CompareAndMutate.
type Predicate func(t Taxi) bool

// Mutation edits the taxi in place once the predicate holds.
type Mutation func(t *Taxi)

// Always is a predicate that admits every taxi.
func Always(Taxi) bool { return true }

// AllowedTransitions covers driver-initiated status changes.
var AllowedTransitions = map[Status][]Status{
	StatusAvailable:    {StatusFull, StatusNotAvailable, StatusOffDuty},
	StatusFull:         {StatusAvailable, StatusNotAvailable, StatusOffDuty},
	StatusNotAvailable: {StatusAvailable, StatusOffDuty},
	StatusOffDuty:      {StatusAvailable, StatusNotAvailable},
}

func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ClaimSeat boards one passenger.
func ClaimSeat(t *Taxi) {
	t.Load++
	settleLoadStatus(t)
}

// ReleaseSeat frees one seat; load never drops below zero.
func ReleaseSeat(t *Taxi) {
	if t.Load > 0 {
		t.Load--
	}
	settleLoadStatus(t)
}

// Assign binds one more accepted request to the taxi. seat boards the passenger too.
func Assign(seat bool) Mutation {
	return func(t *Taxi) {
		t.Assigned++
		if seat {
			ClaimSeat(t)
		}
	}
}

// Unassign undoes Assign once the request is closed or abandoned.
func Unassign(seat bool) Mutation {
	return func(t *Taxi) {
		if t.Assigned > 0 {
			t.Assigned--
		}
		if seat {
			ReleaseSeat(t)
		}
	}
}

// Idle reports whether nobody is on board and no accepted request is still open.
func (t Taxi) Idle() bool {
	return t.Load == 0 && t.Assigned == 0
}

// settleLoadStatus keeps status consistent with load after a load change.
func settleLoadStatus(t *Taxi) {
	switch {
	case t.Status == StatusAvailable && !t.HasSeat():
		t.Status = StatusFull
	case t.Status == StatusFull && t.HasSeat():
		t.Status = StatusAvailable
	}
}

// StateChanged builds the tracking event for the given taxi state.
func StateChanged(t Taxi) events.TaxiStateChanged {
	return events.TaxiStateChanged{
		TaxiID:      t.ID,
		RouteID:     t.RouteID,
		Status:      string(t.Status),
		Load:        t.Load,
		Capacity:    t.Capacity,
		CurrentStop: t.CurrentStop,
		Version:     t.Version,
		At:          t.UpdatedAt,
	}
}
