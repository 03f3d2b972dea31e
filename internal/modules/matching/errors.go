// README: Named accept outcomes and their categories; callers never inspect error text.
package matching

import (
	"errors"

	"sharetaxi/internal/modules/route"
)

var (
	ErrRequestNotFound           = errors.New("request not found")
	ErrTaxiNotFound              = errors.New("taxi not found")
	ErrNotTaxiDriver             = errors.New("caller does not drive this taxi")
	ErrRouteMismatch             = errors.New("taxi is not on the request's route")
	ErrTaxiNotAvailable          = errors.New("taxi not available for rides")
	ErrTaxiNotAvailableForPickup = errors.New("taxi not available for pickups")
	ErrStopAlreadyPassed         = errors.New("taxi already passed the starting stop")
	ErrUnsupportedRequestType    = errors.New("unsupported request type")
	ErrRequestUnavailable        = errors.New("request already taken")
	ErrTaxiContended             = errors.New("taxi busy with concurrent updates, retry")
)

type Category string

const (
	CategoryNone         Category = ""
	CategoryNotFound     Category = "not_found"
	CategoryForbidden    Category = "forbidden"
	CategoryPrecondition Category = "precondition"
	CategoryRaceLost     Category = "race_lost"
	CategoryInternal     Category = "internal"
)

var outcomes = []struct {
	err      error
	code     string
	category Category
}{
	{ErrRequestNotFound, "request_not_found", CategoryNotFound},
	{ErrTaxiNotFound, "taxi_not_found", CategoryNotFound},
	{route.ErrRouteNotFound, "route_not_found", CategoryNotFound},
	{route.ErrStopNotFound, "stop_not_found", CategoryNotFound},
	{ErrNotTaxiDriver, "forbidden", CategoryForbidden},
	{ErrRouteMismatch, "route_mismatch", CategoryPrecondition},
	{ErrTaxiNotAvailable, "taxi_not_available", CategoryPrecondition},
	{ErrTaxiNotAvailableForPickup, "taxi_not_available_for_pickup", CategoryPrecondition},
	{ErrStopAlreadyPassed, "stop_already_passed", CategoryPrecondition},
	{ErrUnsupportedRequestType, "unsupported_request_type", CategoryPrecondition},
	{ErrRequestUnavailable, "request_unavailable", CategoryRaceLost},
	{ErrTaxiContended, "taxi_contended", CategoryRaceLost},
}

// Categorize maps an accept error to its category. nil maps to CategoryNone.
func Categorize(err error) Category {
	if err == nil {
		return CategoryNone
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.category
		}
	}
	return CategoryInternal
}

// Code is the stable machine-readable name of an accept outcome.
func Code(err error) string {
	if err == nil {
		return "accepted"
	}
	for _, o := range outcomes {
		if errors.Is(err, o.err) {
			return o.code
		}
	}
	return "internal"
}
