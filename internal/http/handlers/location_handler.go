// README: Location handlers for driver GPS updates and nearby taxi search.
package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/modules/location"
	"sharetaxi/internal/types"
)

const maxNearbyRadiusKm = 20

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationUpdateReq struct {
	Lat        *float64  `json:"lat" binding:"required"`
	Lng        *float64  `json:"lng" binding:"required"`
	Seq        int64     `json:"seq"`
	RecordedAt time.Time `json:"recordedAt"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id, ok := taxiParam(c)
	if !ok {
		return
	}
	var req locationUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "lat and lng required")
		return
	}
	seq := req.Seq
	if seq == 0 {
		seq = time.Now().UnixMilli()
	}
	res, err := h.location.Update(c.Request.Context(), location.Update{
		TaxiID:     id,
		DriverID:   driverID(c),
		Seq:        seq,
		Position:   types.Point{Lat: *req.Lat, Lng: *req.Lng},
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "lat and lng required")
		return
	}
	radius := 2.0
	if v := c.Query("radius_km"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r <= 0 || r > maxNearbyRadiusKm {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid radius_km")
			return
		}
		radius = r
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid limit")
			return
		}
		limit = n
	}
	found, err := h.location.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius, limit)
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	if found == nil {
		found = []location.Nearby{}
	}
	writeJSON(c, http.StatusOK, gin.H{"taxis": found})
}
