// README: Domain event taxonomy emitted by matching and taxi updates, consumed by tracking and notifications.
package events

import (
	"time"

	"sharetaxi/internal/types"
)

type Type string

const (
	TypeTaxiStateChanged Type = "taxi_state_changed"
	TypeRequestAccepted  Type = "request_accepted"
	TypeRequestClosed    Type = "request_closed"
)

// TaxiStateChanged carries the latest known state of one taxi. Version is the
// taxi's mutation counter; consumers keep the highest version per taxi.
type TaxiStateChanged struct {
	TaxiID      types.ID     `json:"taxiId"`
	RouteID     types.ID     `json:"routeId,omitempty"`
	Status      string       `json:"status"`
	Load        int          `json:"load"`
	Capacity    int          `json:"capacity"`
	CurrentStop types.ID     `json:"currentStop,omitempty"`
	Position    *types.Point `json:"position,omitempty"`
	Version     int64        `json:"version"`
	At          time.Time    `json:"at"`
}

// RequestAccepted carries the taxi state right after the accept so new
// watchers start from it.
type RequestAccepted struct {
	RequestID   types.ID          `json:"requestId"`
	TaxiID      types.ID          `json:"taxiId"`
	PassengerID types.ID          `json:"passengerId"`
	Taxi        *TaxiStateChanged `json:"taxi,omitempty"`
	At          time.Time         `json:"at"`
}

// RequestClosed is emitted when a request completes or is cancelled.
type RequestClosed struct {
	RequestID   types.ID  `json:"requestId"`
	PassengerID types.ID  `json:"passengerId"`
	TaxiID      types.ID  `json:"taxiId,omitempty"`
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
}

// Publisher is the fire-and-forget side used by services. Implementations must not block.
type Publisher interface {
	PublishTaxiStateChanged(ev TaxiStateChanged)
	PublishRequestAccepted(ev RequestAccepted)
	PublishRequestClosed(ev RequestClosed)
}

// Handler is implemented by event consumers registered on a Bus.
type Handler interface {
	HandleTaxiStateChanged(ev TaxiStateChanged)
	HandleRequestAccepted(ev RequestAccepted)
	HandleRequestClosed(ev RequestClosed)
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) PublishTaxiStateChanged(TaxiStateChanged) {}
func (discard) PublishRequestAccepted(RequestAccepted)   {}
func (discard) PublishRequestClosed(RequestClosed)       {}
