package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"logitrack/internal/apperr"
	"logitrack/internal/middleware"
	"logitrack/internal/services"
)

// DeliveryController binds the delivery lifecycle operations to HTTP.
type DeliveryController struct {
	svc *services.DeliveryService
}

func NewDeliveryController(svc *services.DeliveryService) *DeliveryController {
	return &DeliveryController{svc: svc}
}

// Create registers a delivery request for the calling client.
func (dc *DeliveryController) Create(c *gin.Context) {
	var input services.CreateDeliveryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}

	actor := middleware.ActorFrom(c)
	delivery, err := dc.svc.Create(c.Request.Context(), actor.ID, input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{
		"delivery":      delivery,
		"tracking_code": delivery.TrackingCode,
	})
}

// List returns the caller's deliveries, paginated and optionally filtered by
// status. Admins see every client's deliveries.
func (dc *DeliveryController) List(c *gin.Context) {
	opts := listOptions(c)
	deliveries, total, err := dc.svc.List(c.Request.Context(), middleware.ActorFrom(c), opts)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"deliveries": deliveries,
		"pagination": pagination(opts, total),
	})
}

func (dc *DeliveryController) Stats(c *gin.Context) {
	stats, err := dc.svc.Stats(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}

func (dc *DeliveryController) Get(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	detail, err := dc.svc.Get(c.Request.Context(), id, middleware.ActorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

func (dc *DeliveryController) GetByTrackingCode(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		fail(c, apperr.Validation("tracking code is required"))
		return
	}
	detail, err := dc.svc.GetByTrackingCode(c.Request.Context(), code, middleware.ActorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, detail)
}

func (dc *DeliveryController) Update(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	var input services.UpdateDeliveryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}
	delivery, err := dc.svc.Update(c.Request.Context(), id, middleware.ActorFrom(c), input)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, delivery)
}

type cancelInput struct {
	Notes string `json:"notes"`
}

func (dc *DeliveryController) Cancel(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	var input cancelInput
	_ = c.ShouldBindJSON(&input) // body is optional

	delivery, err := dc.svc.Cancel(c.Request.Context(), id, middleware.ActorFrom(c), input.Notes)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, delivery)
}

type assignDriverInput struct {
	DriverID uint `json:"driver_id"`
}

func (dc *DeliveryController) AssignDriver(c *gin.Context) {
	id, okID := paramID(c, "id")
	if !okID {
		return
	}
	var input assignDriverInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, apperr.Validation("invalid request body: "+err.Error()))
		return
	}
	delivery, err := dc.svc.AssignDriver(c.Request.Context(), id, input.DriverID, middleware.ActorFrom(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, http.StatusOK, delivery)
}
