package models

import (
	"time"

	"gorm.io/gorm"
)

// Delivery represents a shipment request and its lifecycle. client_id and
// driver_id reference principals owned by the external identity provider.
type Delivery struct {
	gorm.Model
	TrackingCode string `json:"tracking_code" gorm:"size:50;uniqueIndex;not null"`

	ClientID uint  `json:"client_id" gorm:"index;not null"`
	DriverID *uint `json:"driver_id" gorm:"index"`

	Status string `json:"status" gorm:"size:20;index;not null;default:pending"`

	Description string   `json:"description"`
	Weight      *float64 `json:"weight"`
	Notes       string   `json:"notes"`

	PickupAddress   string   `json:"pickup_address" gorm:"not null"`
	PickupLatitude  *float64 `json:"pickup_latitude"`
	PickupLongitude *float64 `json:"pickup_longitude"`

	DeliveryAddress   string   `json:"delivery_address" gorm:"not null"`
	DeliveryLatitude  *float64 `json:"delivery_latitude"`
	DeliveryLongitude *float64 `json:"delivery_longitude"`

	ScheduledPickupAt   *time.Time `json:"scheduled_pickup_time"`
	ScheduledDeliveryAt *time.Time `json:"scheduled_delivery_time"`
	ActualPickupAt      *time.Time `json:"actual_pickup_time"`
	ActualDeliveryAt    *time.Time `json:"actual_delivery_time"`

	EstimatedDistanceKm  *float64 `json:"estimated_distance_km"`
	EstimatedDurationMin *int     `json:"estimated_duration_minutes"`

	IsActive bool `json:"is_active" gorm:"default:true"`
}

// CanBeTracked reports whether the delivery accepts location pings: it must
// be in a trackable status and have a driver assigned.
func (d *Delivery) CanBeTracked() bool {
	return TrackableStatus(d.Status) && d.DriverID != nil
}

// IsTerminal reports whether the delivery reached a final status.
func (d *Delivery) IsTerminal() bool {
	return TerminalStatus(d.Status)
}

// HasRouteCoordinates reports whether both the pickup and dropoff coordinate
// pairs are present, which is the precondition for distance estimation.
func (d *Delivery) HasRouteCoordinates() bool {
	return d.PickupLatitude != nil && d.PickupLongitude != nil &&
		d.DeliveryLatitude != nil && d.DeliveryLongitude != nil
}
