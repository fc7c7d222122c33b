package routes

import (
	"net/http"

	ginlog "github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"logitrack/internal/controllers"
)

// SetupRouter wires all route groups onto a fresh engine.
func SetupRouter(
	db *gorm.DB,
	dc *controllers.DeliveryController,
	lc *controllers.LocationController,
	wc *controllers.WebSocketController,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginlog.SetLogger())

	r.GET("/health", healthHandler(db))

	DeliveryRoutes(r, dc, lc)
	LocationRoutes(r, lc)
	WebSocketRoutes(r, wc)

	return r
}

// healthHandler reports liveness plus database reachability.
func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "up"
		status := http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.Ping() != nil {
			dbStatus = "down"
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "database": dbStatus})
	}
}
