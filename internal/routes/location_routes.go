package routes

import (
	"github.com/gin-gonic/gin"

	"logitrack/internal/controllers"
	"logitrack/internal/middleware"
	"logitrack/internal/models"
)

func LocationRoutes(r *gin.Engine, lc *controllers.LocationController) {
	locations := r.Group("/locations")
	locations.Use(middleware.RequireAuth())
	{
		driverOnly := middleware.RequireRole(models.RoleDriver)

		locations.POST("/deliveries/:id/location", driverOnly, lc.SubmitPing)
		locations.POST("/deliveries/:id/locations/batch", driverOnly, lc.SubmitBatch)
		locations.POST("/deliveries/:id/checkpoint", driverOnly, lc.Checkpoint)

		locations.GET("/deliveries/:id/current", lc.Current)
		locations.GET("/deliveries/:id/history", lc.History)

		locations.GET("/driver/current", driverOnly, lc.DriverCurrent)
		locations.GET("/driver/nearby-deliveries", driverOnly, lc.DriverNearby)
	}
}
