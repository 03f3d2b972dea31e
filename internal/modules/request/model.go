// README: Ride/pickup request aggregate and its lifecycle.
package request

import (
	"time"

	"sharetaxi/internal/types"
)

type Type string

const (
	TypeRide   Type = "ride"
	TypePickup Type = "pickup"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Active reports whether the request still occupies the passenger.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusAccepted
}

type Request struct {
	ID            types.ID    `json:"id"`
	PassengerID   types.ID    `json:"passengerId"`
	Type          Type        `json:"type"`
	RouteID       types.ID    `json:"routeId"`
	StartStop     types.ID    `json:"startStop"`
	DestStop      types.ID    `json:"destStop,omitempty"` // empty for pickups
	Status        Status      `json:"status"`
	AcceptingTaxi types.ID    `json:"acceptingTaxi,omitempty"` // set once, on acceptance
	Held          bool        `json:"-"`                       // accepting taxi has recorded the assignment
	EstimatedFare types.Money `json:"estimatedFare"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"createdAt"`
	AcceptedAt    *time.Time  `json:"acceptedAt,omitempty"`
	ClosedAt      *time.Time  `json:"closedAt,omitempty"`
}

// StateEvent is one row of the request audit trail.
type StateEvent struct {
	ID         int64
	RequestID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the request state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
