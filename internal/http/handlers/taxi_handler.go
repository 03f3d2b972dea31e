// README: Passenger-facing taxi snapshot handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/tracking"
)

type TaxiHandler struct {
	monitor *tracking.Monitor
}

func NewTaxiHandler(monitor *tracking.Monitor) *TaxiHandler {
	return &TaxiHandler{monitor: monitor}
}

// Get returns the current state of a taxi, the same payload the taxi_state stream carries.
func (h *TaxiHandler) Get(c *gin.Context) {
	id, ok := taxiParam(c)
	if !ok {
		return
	}
	snap, err := h.monitor.Snapshot(c.Request.Context(), id)
	if err != nil {
		writeTaxiError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}
