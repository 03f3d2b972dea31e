// README: Read-only route catalog handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/modules/route"
	"sharetaxi/internal/types"
)

type RouteHandler struct {
	catalog *route.Catalog
}

func NewRouteHandler(catalog *route.Catalog) *RouteHandler {
	return &RouteHandler{catalog: catalog}
}

func (h *RouteHandler) List(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"routes": h.catalog.List()})
}

func (h *RouteHandler) Get(c *gin.Context) {
	r, err := h.catalog.Get(types.ID(c.Param("id")))
	if err != nil {
		writeError(c, http.StatusNotFound, "route_not_found", err.Error())
		return
	}
	writeJSON(c, http.StatusOK, r)
}
