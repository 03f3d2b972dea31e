// README: Passenger handlers for creating, reading and cancelling ride requests.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/http/middleware"
	"sharetaxi/internal/modules/matching"
	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/types"
)

type PassengerHandler struct {
	requests *request.Service
	engine   *matching.Engine
}

func NewPassengerHandler(requests *request.Service, engine *matching.Engine) *PassengerHandler {
	return &PassengerHandler{requests: requests, engine: engine}
}

type createRequestReq struct {
	Type      string `json:"type" binding:"required,oneof=ride pickup"`
	RouteID   string `json:"routeId" binding:"required"`
	StartStop string `json:"startStop" binding:"required"`
	DestStop  string `json:"destStop"`
}

func (h *PassengerHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	r, err := h.requests.Create(c.Request.Context(), request.CreateCommand{
		PassengerID: types.ID(middleware.CallerUID(c)),
		Type:        request.Type(req.Type),
		RouteID:     types.ID(req.RouteID),
		StartStop:   types.ID(req.StartStop),
		DestStop:    types.ID(req.DestStop),
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, r)
}

// Get lets the passenger read their own request. Drivers may read any request.
func (h *PassengerHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request id")
		return
	}
	r, err := h.requests.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRequestError(c, err)
		return
	}
	if middleware.CallerRole(c) != middleware.RoleDriver && string(r.PassengerID) != middleware.CallerUID(c) {
		writeError(c, http.StatusForbidden, "forbidden", "request belongs to someone else")
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *PassengerHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request id")
		return
	}
	r, err := h.engine.CancelRequest(c.Request.Context(), types.ID(id), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}
