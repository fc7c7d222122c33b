package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"logitrack/internal/apperr"
	"logitrack/internal/middleware"
	"logitrack/internal/repository"
	"logitrack/internal/services"
)

// LocationController binds ping ingestion and the geospatial queries to HTTP.
type LocationController struct {
	svc *services.LocationService
}

func NewLocationController(svc *services.LocationService) *LocationController {
	return &LocationController{svc: svc}
}

// SubmitPing records a single location sample for the assigned driver.
func (lc *LocationController) SubmitPing(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	var input services.PingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	actor := middleware.ActorFrom(c)
	ping, err := lc.svc.SubmitPing(c.Request.Context(), id, actor.ID, input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, ping)
}

type batchInput struct {
	Locations []services.PingInput `json:"locations"`
}

func (lc *LocationController) SubmitBatch(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	var input batchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	actor := middleware.ActorFrom(c)
	pings, err := lc.svc.SubmitBatch(c.Request.Context(), id, actor.ID, input.Locations)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"created": len(pings)})
}

type checkpointInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Notes     string  `json:"notes"`
}

func (lc *LocationController) Checkpoint(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	var input checkpointInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	actor := middleware.ActorFrom(c)
	ping, err := lc.svc.MarkCheckpoint(c.Request.Context(), id, actor.ID, input.Latitude, input.Longitude, input.Notes)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, ping)
}

func (lc *LocationController) Current(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	cur, err := lc.svc.Current(c.Request.Context(), id, middleware.ActorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, cur)
}

func historyOptions(c *gin.Context) (repository.HistoryOptions, error) {
	opts := repository.HistoryOptions{
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", 50),
	}
	for _, q := range []struct {
		name string
		dst  **time.Time
	}{
		{"start", &opts.Start},
		{"end", &opts.End},
	} {
		raw := c.Query(q.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, apperr.Validation("invalid " + q.name + " date, expected RFC 3339")
		}
		*q.dst = &t
	}
	return opts, nil
}

func (lc *LocationController) History(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	opts, err := historyOptions(c)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := lc.svc.History(c.Request.Context(), id, middleware.ActorFrom(c), opts)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// DriverCurrent returns the calling driver's own latest ping.
func (lc *LocationController) DriverCurrent(c *gin.Context) {
	actor := middleware.ActorFrom(c)
	loc, err := lc.svc.DriverCurrent(c.Request.Context(), actor.ID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, loc)
}

// Nearby searches trackable deliveries around an arbitrary origin.
func (lc *LocationController) Nearby(c *gin.Context) {
	lat, err := queryFloat(c, "lat")
	if err != nil {
		fail(c, err)
		return
	}
	lng, err := queryFloat(c, "lng")
	if err != nil {
		fail(c, err)
		return
	}
	var radius float64
	if c.Query("radius") != "" {
		if radius, err = queryFloat(c, "radius"); err != nil {
			fail(c, err)
			return
		}
	}

	results, err := lc.svc.FindNearby(c.Request.Context(), lat, lng, radius)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"deliveries": results, "count": len(results)})
}

// DriverNearby searches around the calling driver's latest ping.
func (lc *LocationController) DriverNearby(c *gin.Context) {
	var radius float64
	var err error
	if c.Query("radius") != "" {
		if radius, err = queryFloat(c, "radius"); err != nil {
			fail(c, err)
			return
		}
	}

	actor := middleware.ActorFrom(c)
	origin, results, err := lc.svc.DriverNearby(c.Request.Context(), actor.ID, radius)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"origin":     origin,
		"deliveries": results,
		"count":      len(results),
	})
}
