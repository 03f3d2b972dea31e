// README: Driver handlers for taxi lifecycle, browsing pending requests, accept and complete.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/http/middleware"
	"sharetaxi/internal/modules/location"
	"sharetaxi/internal/modules/matching"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/types"
)

type DriverHandler struct {
	taxis    *taxi.Service
	engine   *matching.Engine
	location *location.Service
	logger   *slog.Logger
}

// NewDriverHandler accepts a nil location service when live GPS is disabled.
func NewDriverHandler(taxis *taxi.Service, engine *matching.Engine, loc *location.Service, logger *slog.Logger) *DriverHandler {
	return &DriverHandler{taxis: taxis, engine: engine, location: loc, logger: logger.With("component", "driver_handler")}
}

type registerTaxiReq struct {
	TaxiID      string `json:"taxiId"`
	Capacity    int    `json:"capacity" binding:"required,min=1,max=64"`
	RouteID     string `json:"routeId"`
	CurrentStop string `json:"currentStop"`
}

func (h *DriverHandler) Register(c *gin.Context) {
	var req registerTaxiReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	t, err := h.taxis.Register(c.Request.Context(), taxi.RegisterCommand{
		TaxiID:      types.ID(req.TaxiID),
		DriverID:    driverID(c),
		Capacity:    req.Capacity,
		RouteID:     types.ID(req.RouteID),
		CurrentStop: types.ID(req.CurrentStop),
	})
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, t)
}

type setStatusReq struct {
	Status string `json:"status" binding:"required"`
}

func (h *DriverHandler) SetStatus(c *gin.Context) {
	id, ok := taxiParam(c)
	if !ok {
		return
	}
	var req setStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	t, err := h.taxis.SetStatus(c.Request.Context(), taxi.SetStatusCommand{TaxiID: id, DriverID: driverID(c), Status: taxi.Status(req.Status)})
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

type advanceStopReq struct {
	StopID string `json:"stopId" binding:"required"`
}

func (h *DriverHandler) AdvanceStop(c *gin.Context) {
	id, ok := taxiParam(c)
	if !ok {
		return
	}
	var req advanceStopReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	t, err := h.taxis.AdvanceStop(c.Request.Context(), taxi.AdvanceStopCommand{TaxiID: id, DriverID: driverID(c), StopID: types.ID(req.StopID)})
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

type setLoadReq struct {
	Load *int `json:"load" binding:"required,min=0"`
}

func (h *DriverHandler) SetLoad(c *gin.Context) {
	id, ok := taxiParam(c)
	if !ok {
		return
	}
	var req setLoadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	t, err := h.taxis.SetLoad(c.Request.Context(), taxi.SetLoadCommand{TaxiID: id, DriverID: driverID(c), Load: *req.Load})
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

type setAcceptingReq struct {
	Rides   *bool `json:"rides"`
	Pickups *bool `json:"pickups"`
}

func (h *DriverHandler) SetAccepting(c *gin.Context) {
	id, ok := taxiParam(c)
	if !ok {
		return
	}
	var req setAcceptingReq
	if err := c.ShouldBindJSON(&req); err != nil || (req.Rides == nil && req.Pickups == nil) {
		writeError(c, http.StatusBadRequest, "bad_request", "rides or pickups required")
		return
	}
	t, err := h.taxis.SetAccepting(c.Request.Context(), taxi.SetAcceptingCommand{TaxiID: id, DriverID: driverID(c), Rides: req.Rides, Pickups: req.Pickups})
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

type assignRouteReq struct {
	RouteID   string `json:"routeId" binding:"required"`
	StartStop string `json:"startStop" binding:"required"`
}

func (h *DriverHandler) AssignRoute(c *gin.Context) {
	id, ok := taxiParam(c)
	if !ok {
		return
	}
	var req assignRouteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	t, err := h.taxis.AssignRoute(c.Request.Context(), taxi.AssignRouteCommand{
		TaxiID:    id,
		DriverID:  driverID(c),
		RouteID:   types.ID(req.RouteID),
		StartStop: types.ID(req.StartStop),
	})
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *DriverHandler) Deactivate(c *gin.Context) {
	id, ok := taxiParam(c)
	if !ok {
		return
	}
	if err := h.taxis.Deactivate(c.Request.Context(), id, driverID(c)); err != nil {
		writeTaxiError(c, err)
		return
	}
	if h.location != nil {
		h.location.Forget(c.Request.Context(), id)
	}
	c.Status(http.StatusNoContent)
}

// ListRequests shows the pending requests the caller's taxi could accept.
func (h *DriverHandler) ListRequests(c *gin.Context) {
	taxiID := c.Query("taxi_id")
	if !isValidID(taxiID) {
		writeError(c, http.StatusBadRequest, "bad_request", "missing taxi_id")
		return
	}
	if !h.ownsTaxi(c, types.ID(taxiID)) {
		return
	}
	opts := matching.ListOptions{}
	if v := c.Query("radius_km"); v != "" {
		km, err := strconv.ParseFloat(v, 64)
		if err != nil || km <= 0 {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid radius_km")
			return
		}
		opts.RadiusKm = km
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		opts.Limit = n
	}
	candidates, err := h.engine.ListForTaxi(c.Request.Context(), types.ID(taxiID), opts)
	if err != nil {
		writeAcceptError(c, err)
		return
	}
	if candidates == nil {
		candidates = []matching.Candidate{}
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": candidates})
}

type acceptResponse struct {
	Outcome string `json:"outcome"`
	Request any    `json:"request"`
	Taxi    any    `json:"taxi"`
}

// Accept is safe to retry: a repeat for an already won request reports request_unavailable.
func (h *DriverHandler) Accept(c *gin.Context) {
	id := c.Param("id")
	taxiID := c.Query("taxi_id")
	if !isValidID(id) || !isValidID(taxiID) {
		writeError(c, http.StatusBadRequest, "bad_request", "request id and taxi_id required")
		return
	}
	res, err := h.engine.Accept(c.Request.Context(), matching.AcceptCommand{
		RequestID: types.ID(id),
		TaxiID:    types.ID(taxiID),
		DriverID:  driverID(c),
	})
	if err != nil {
		h.logger.Debug("accept rejected", "request_id", id, "taxi_id", taxiID, "code", matching.Code(err))
		writeAcceptError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, acceptResponse{Outcome: matching.Code(nil), Request: res.Request, Taxi: res.Taxi})
}

func (h *DriverHandler) Complete(c *gin.Context) {
	id := c.Param("id")
	taxiID := c.Query("taxi_id")
	if !isValidID(id) || !isValidID(taxiID) {
		writeError(c, http.StatusBadRequest, "bad_request", "request id and taxi_id required")
		return
	}
	r, err := h.engine.CompleteRequest(c.Request.Context(), matching.CompleteCommand{
		RequestID: types.ID(id),
		TaxiID:    types.ID(taxiID),
		DriverID:  driverID(c),
	})
	if err != nil {
		writeRequestError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

func (h *DriverHandler) ownsTaxi(c *gin.Context, taxiID types.ID) bool {
	t, err := h.taxis.Get(c.Request.Context(), taxiID)
	if err != nil {
		writeTaxiError(c, err)
		return false
	}
	if t.DriverID != driverID(c) {
		writeError(c, http.StatusForbidden, "forbidden", "taxi belongs to another driver")
		return false
	}
	return true
}

func driverID(c *gin.Context) types.ID {
	return types.ID(middleware.CallerUID(c))
}

func taxiParam(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid taxi id")
		return "", false
	}
	return types.ID(id), true
}
