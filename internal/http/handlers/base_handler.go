// README: Base handler utilities (JSON helpers, ID checks, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/modules/location"
	"sharetaxi/internal/modules/matching"
	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/modules/route"
	"sharetaxi/internal/modules/taxi"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// isValidID accepts the ids this service issues: letters, digits, dash and underscore.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code})
}

func writeInternal(c *gin.Context, err error) {
	_ = c.Error(err)
	writeError(c, http.StatusInternalServerError, "internal", "internal error")
}

// writeAcceptError maps a named accept outcome to its HTTP status. Losing the
// race has its own code so clients can tell it apart from a bad precondition.
func writeAcceptError(c *gin.Context, err error) {
	code := matching.Code(err)
	switch matching.Categorize(err) {
	case matching.CategoryNotFound:
		writeError(c, http.StatusNotFound, code, err.Error())
	case matching.CategoryForbidden:
		writeError(c, http.StatusForbidden, code, err.Error())
	case matching.CategoryPrecondition:
		status := http.StatusConflict
		if errors.Is(err, matching.ErrUnsupportedRequestType) {
			status = http.StatusUnprocessableEntity
		}
		writeError(c, status, code, err.Error())
	case matching.CategoryRaceLost:
		writeError(c, http.StatusConflict, code, err.Error())
	default:
		writeInternal(c, err)
	}
}

func writeRequestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, request.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, request.ErrNotFound):
		writeError(c, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, request.ErrForbidden):
		writeError(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, request.ErrActiveRequest):
		writeError(c, http.StatusConflict, "active_request", err.Error())
	case errors.Is(err, request.ErrAlreadyResolved), errors.Is(err, request.ErrInvalidState):
		writeError(c, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, request.ErrConflict):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, route.ErrRouteNotFound), errors.Is(err, route.ErrStopNotFound):
		writeError(c, http.StatusUnprocessableEntity, matching.Code(err), err.Error())
	case matching.Categorize(err) != matching.CategoryInternal:
		writeAcceptError(c, err)
	default:
		writeInternal(c, err)
	}
}

func writeTaxiError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, taxi.ErrBadRequest):
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, taxi.ErrNotFound):
		writeError(c, http.StatusNotFound, "taxi_not_found", err.Error())
	case errors.Is(err, taxi.ErrForbidden), errors.Is(err, location.ErrForbidden):
		writeError(c, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, taxi.ErrBusy):
		writeError(c, http.StatusConflict, "taxi_busy", err.Error())
	case errors.Is(err, taxi.ErrInvalidState), errors.Is(err, taxi.ErrPredicateFailed):
		writeError(c, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, taxi.ErrConflict):
		writeError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, taxi.ErrContended):
		writeError(c, http.StatusConflict, "taxi_contended", err.Error())
	case errors.Is(err, route.ErrRouteNotFound), errors.Is(err, route.ErrStopNotFound):
		writeError(c, http.StatusUnprocessableEntity, matching.Code(err), err.Error())
	case errors.Is(err, location.ErrBadPosition):
		writeError(c, http.StatusBadRequest, "bad_position", err.Error())
	default:
		writeInternal(c, err)
	}
}
