package models

import (
	"time"

	"gorm.io/gorm"
)

// LocationPing is one immutable geolocation sample tied to a delivery and
// its driver. Pings are never updated or deleted; bad samples are flagged
// with is_valid=false and kept for audit.
type LocationPing struct {
	gorm.Model
	DeliveryID uint `json:"delivery_id" gorm:"not null;index:idx_pings_delivery_ts,priority:1"`
	DriverID   uint `json:"driver_id" gorm:"not null;index:idx_pings_driver_ts,priority:1"`

	Latitude  float64 `json:"latitude" gorm:"not null"`
	Longitude float64 `json:"longitude" gorm:"not null"`

	// Device-reported, all optional.
	Accuracy *float64 `json:"accuracy"` // meters
	Altitude *float64 `json:"altitude"` // meters
	Speed    *float64 `json:"speed"`    // km/h
	Heading  *float64 `json:"heading"`  // degrees, 0-360

	// Client-supplied event time; may precede server receipt time. The
	// per-delivery time series is ordered by this field, not by id.
	LocationTimestamp time.Time `json:"location_timestamp" gorm:"not null;index:idx_pings_delivery_ts,priority:2;index:idx_pings_driver_ts,priority:2"`

	UpdateType string `json:"update_type" gorm:"size:20;index;default:automatic"`

	Address    string `json:"address"`
	Notes      string `json:"notes"`
	DeviceInfo string `json:"device_info"`

	IsValid bool `json:"is_valid" gorm:"default:true"`
}

// IsRecent reports whether the ping is at most maxAge old.
func (p *LocationPing) IsRecent(maxAge time.Duration) bool {
	return time.Since(p.LocationTimestamp) <= maxAge
}
