package realtime

import (
	"fmt"
	"time"

	"logitrack/internal/models"
)

// Topic names. Every delivery has one topic; drivers additionally get their
// own for location pushes.
func DeliveryTopic(deliveryID uint) string { return fmt.Sprintf("delivery:%d", deliveryID) }
func DriverTopic(driverID uint) string     { return fmt.Sprintf("driver:%d", driverID) }

// Event names on the wire.
const (
	EventStatusUpdate   = "status-update"
	EventLocationUpdate = "location-update"
)

// Envelope is the frame written to subscribers.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type StatusUpdate struct {
	DeliveryID uint      `json:"delivery_id"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

type LocationUpdate struct {
	DeliveryID uint                 `json:"delivery_id"`
	Location   *models.LocationPing `json:"location"`
	Timestamp  time.Time            `json:"timestamp"`
}

// Broadcaster pushes lifecycle and location events to interested
// subscribers. The lifecycle engine and the ingestion path receive one by
// injection; nothing publishes through ambient globals.
type Broadcaster interface {
	// PublishStatus emits a status-update on the delivery topic.
	PublishStatus(deliveryID uint, status string)
	// PublishLocation emits a location-update on the delivery topic and the
	// driver topic.
	PublishLocation(ping *models.LocationPing)
}

func statusEnvelope(deliveryID uint, status string) Envelope {
	return Envelope{
		Event: EventStatusUpdate,
		Data: StatusUpdate{
			DeliveryID: deliveryID,
			Status:     status,
			Timestamp:  time.Now().UTC(),
		},
	}
}

func locationEnvelope(ping *models.LocationPing) Envelope {
	return Envelope{
		Event: EventLocationUpdate,
		Data: LocationUpdate{
			DeliveryID: ping.DeliveryID,
			Location:   ping,
			Timestamp:  time.Now().UTC(),
		},
	}
}
