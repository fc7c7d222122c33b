package main

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"logitrack/internal/config"
	"logitrack/internal/controllers"
	"logitrack/internal/logger"
	"logitrack/internal/middleware"
	"logitrack/internal/realtime"
	"logitrack/internal/repository"
	"logitrack/internal/routes"
	"logitrack/internal/services"
)

func main() {
	logger.Setup()

	db, err := config.InitDB()
	if err != nil {
		logrus.WithError(err).Fatal("Database initialization failed.")
	}

	deliveries := repository.NewDeliveries(db)
	pings := repository.NewPings(db)

	// The hub always serves local WebSocket subscribers. With REDIS_ADDR set,
	// events take the Redis round trip so every instance sees them.
	hub := realtime.NewHub()
	var broadcaster realtime.Broadcaster = hub
	if addr := config.RedisAddr(); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		bridge := realtime.NewRedisBridge(context.Background(), client, hub)
		defer bridge.Close()
		broadcaster = bridge
		logrus.WithField("addr", addr).Info("Redis fan-out enabled.")
	}

	deliverySvc := services.NewDeliveryService(deliveries, pings, broadcaster)
	locationSvc := services.NewLocationService(deliveries, pings, broadcaster)

	dc := controllers.NewDeliveryController(deliverySvc)
	lc := controllers.NewLocationController(locationSvc)
	wc := controllers.NewWebSocketController(hub, deliveries)

	r := routes.SetupRouter(db, dc, lc, wc)
	handler := middleware.EnableCORS(r)

	addr := config.ServerAddr()
	logrus.WithField("addr", addr).Info("Server starting.")
	if err := http.ListenAndServe(addr, handler); err != nil {
		logrus.WithError(err).Fatal("Server stopped.")
	}
}
