package routes

import (
	"github.com/gin-gonic/gin"

	"logitrack/internal/controllers"
	"logitrack/internal/middleware"
	"logitrack/internal/models"
)

func DeliveryRoutes(r *gin.Engine, dc *controllers.DeliveryController, lc *controllers.LocationController) {
	deliveries := r.Group("/deliveries")
	deliveries.Use(middleware.RequireAuth())
	{
		deliveries.POST("/", middleware.RequireRole(models.RoleClient, models.RoleAdmin), dc.Create)
		deliveries.GET("/", dc.List)
		deliveries.GET("/stats", dc.Stats)
		deliveries.GET("/tracking/:code", dc.GetByTrackingCode)
		deliveries.GET("/search/nearby", lc.Nearby)
		deliveries.GET("/:id", dc.Get)
		deliveries.PUT("/:id", dc.Update)
		deliveries.DELETE("/:id/cancel", dc.Cancel)
		deliveries.PUT("/:id/assign-driver", middleware.RequireRole(models.RoleAdmin), dc.AssignDriver)
	}
}
