// README: HTTP route registration.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/http/handlers"
	"sharetaxi/internal/http/middleware"
)

// Routes builds the gin engine. ctx bounds background work such as the rate limiter cleanup.
func (s *Server) Routes(ctx context.Context) *gin.Engine {
	d := s.deps
	r := gin.New()
	r.Use(middleware.Recovery(d.Logger), middleware.Logging(d.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	auth := s.authenticate()

	ws := handlers.NewWSHandler(d.Hub, d.Monitor, d.WSSendBuffer, d.WSPingInterval, d.Logger)
	r.GET("/ws", auth, ws.Serve)

	api := r.Group("/api", auth)

	routeHandler := handlers.NewRouteHandler(d.Routes)
	api.GET("/routes", routeHandler.List)
	api.GET("/routes/:id", routeHandler.Get)

	taxiHandler := handlers.NewTaxiHandler(d.Monitor)
	api.GET("/taxis/:id", taxiHandler.Get)

	var locationHandler *handlers.LocationHandler
	if d.Location != nil {
		locationHandler = handlers.NewLocationHandler(d.Location)
		api.GET("/taxis", locationHandler.Nearby)
	}

	passengerHandler := handlers.NewPassengerHandler(d.Requests, d.Matching)
	api.POST("/requests", passengerHandler.Create)
	api.GET("/requests/:id", passengerHandler.Get)
	api.POST("/requests/:id/cancel", passengerHandler.Cancel)

	driverHandler := handlers.NewDriverHandler(d.Taxis, d.Matching, d.Location, d.Logger)
	driver := api.Group("/driver", middleware.RequireRole(middleware.RoleDriver))
	driver.POST("/taxis", driverHandler.Register)
	driver.PUT("/taxis/:id/status", driverHandler.SetStatus)
	driver.PUT("/taxis/:id/stop", driverHandler.AdvanceStop)
	driver.PUT("/taxis/:id/load", driverHandler.SetLoad)
	driver.PUT("/taxis/:id/accepting", driverHandler.SetAccepting)
	driver.PUT("/taxis/:id/route", driverHandler.AssignRoute)
	driver.DELETE("/taxis/:id", driverHandler.Deactivate)
	if locationHandler != nil {
		driver.PUT("/taxis/:id/location", locationHandler.Update)
	}
	driver.GET("/requests", driverHandler.ListRequests)
	driver.POST("/requests/:id/complete", driverHandler.Complete)

	accept := []gin.HandlerFunc{driverHandler.Accept}
	if d.RateLimitPerMin > 0 {
		limiter := middleware.NewRateLimiter(ctx, d.RateLimitPerMin, time.Minute, d.Logger)
		accept = append([]gin.HandlerFunc{limiter.Middleware()}, accept...)
	}
	driver.POST("/requests/:id/accept", accept...)

	return r
}
