package routes

import (
	"github.com/gin-gonic/gin"

	"logitrack/internal/controllers"
	"logitrack/internal/middleware"
)

func WebSocketRoutes(r *gin.Engine, wc *controllers.WebSocketController) {
	ws := r.Group("/ws")
	ws.Use(middleware.RequireAuth())
	{
		ws.GET("/track", wc.Track)
	}
}
