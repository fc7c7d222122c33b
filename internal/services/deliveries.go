package services

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"logitrack/internal/access"
	"logitrack/internal/apperr"
	"logitrack/internal/geo"
	"logitrack/internal/models"
	"logitrack/internal/realtime"
	"logitrack/internal/repository"
)

// Assumed average speed for duration estimates, in km/h. A deliberate
// simplification, not a routing engine.
const estimateSpeedKmh = 40

// One internal retry on a tracking-code collision before giving up.
const trackingCodeAttempts = 2

// DeliveryService owns the delivery entity and its lifecycle state machine.
type DeliveryService struct {
	deliveries repository.Deliveries
	pings      repository.Pings
	bc         realtime.Broadcaster
	now        func() time.Time
}

func NewDeliveryService(deliveries repository.Deliveries, pings repository.Pings, bc realtime.Broadcaster) *DeliveryService {
	return &DeliveryService{
		deliveries: deliveries,
		pings:      pings,
		bc:         bc,
		now:        time.Now,
	}
}

type CreateDeliveryInput struct {
	PickupAddress   string   `json:"pickup_address"`
	PickupLatitude  *float64 `json:"pickup_latitude"`
	PickupLongitude *float64 `json:"pickup_longitude"`

	DeliveryAddress   string   `json:"delivery_address"`
	DeliveryLatitude  *float64 `json:"delivery_latitude"`
	DeliveryLongitude *float64 `json:"delivery_longitude"`

	Description string   `json:"description"`
	Weight      *float64 `json:"weight"`

	ScheduledPickupAt   *time.Time `json:"scheduled_pickup_time"`
	ScheduledDeliveryAt *time.Time `json:"scheduled_delivery_time"`
}

func checkCoordinatePair(lat, lng *float64, label string) error {
	if (lat == nil) != (lng == nil) {
		return apperr.Validation(label + " latitude and longitude must be provided together")
	}
	if lat != nil && !geo.ValidCoordinates(*lat, *lng) {
		return apperr.Validation(label + " coordinates are out of range")
	}
	return nil
}

func (in CreateDeliveryInput) validate() error {
	if strings.TrimSpace(in.PickupAddress) == "" {
		return apperr.Validation("pickup address is required")
	}
	if strings.TrimSpace(in.DeliveryAddress) == "" {
		return apperr.Validation("delivery address is required")
	}
	if err := checkCoordinatePair(in.PickupLatitude, in.PickupLongitude, "pickup"); err != nil {
		return err
	}
	if err := checkCoordinatePair(in.DeliveryLatitude, in.DeliveryLongitude, "dropoff"); err != nil {
		return err
	}
	if in.Weight != nil && *in.Weight < 0 {
		return apperr.Validation("weight must not be negative")
	}
	if in.ScheduledPickupAt != nil && in.ScheduledDeliveryAt != nil &&
		!in.ScheduledDeliveryAt.After(*in.ScheduledPickupAt) {
		return apperr.Validation("scheduled delivery time must be after scheduled pickup time")
	}
	return nil
}

// newTrackingCode builds a human-shareable code: LT prefix, base36 creation
// time, random suffix.
func newTrackingCode() string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 36)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:5]
	return strings.ToUpper("LT" + ts + suffix)
}

// applyEstimates recomputes the distance/duration estimates from the current
// coordinate pairs, clearing them when a pair is missing.
func applyEstimates(d *models.Delivery) {
	if !d.HasRouteCoordinates() {
		d.EstimatedDistanceKm = nil
		d.EstimatedDurationMin = nil
		return
	}
	meters := geo.Distance(*d.PickupLatitude, *d.PickupLongitude, *d.DeliveryLatitude, *d.DeliveryLongitude)
	km := meters / 1000
	minutes := int(math.Round(km / estimateSpeedKmh * 60))
	d.EstimatedDistanceKm = &km
	d.EstimatedDurationMin = &minutes
}

// Create registers a new delivery for the client. Tracking-code collisions
// are retried internally with a fresh code rather than surfaced.
func (s *DeliveryService) Create(ctx context.Context, clientID uint, in CreateDeliveryInput) (*models.Delivery, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	d := &models.Delivery{
		ClientID:            clientID,
		Status:              models.StatusPending,
		PickupAddress:       in.PickupAddress,
		PickupLatitude:      in.PickupLatitude,
		PickupLongitude:     in.PickupLongitude,
		DeliveryAddress:     in.DeliveryAddress,
		DeliveryLatitude:    in.DeliveryLatitude,
		DeliveryLongitude:   in.DeliveryLongitude,
		Description:         in.Description,
		Weight:              in.Weight,
		ScheduledPickupAt:   in.ScheduledPickupAt,
		ScheduledDeliveryAt: in.ScheduledDeliveryAt,
		IsActive:            true,
	}
	applyEstimates(d)

	var err error
	for attempt := 0; attempt < trackingCodeAttempts; attempt++ {
		d.TrackingCode = newTrackingCode()
		err = s.deliveries.Create(ctx, d)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"delivery_id":   d.ID,
				"tracking_code": d.TrackingCode,
				"client_id":     clientID,
			}).Info("Delivery created.")
			return d, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return nil, err
		}
		logrus.WithField("tracking_code", d.TrackingCode).
			Warn("Tracking code collision, regenerating.")
	}
	return nil, apperr.Internal("could not allocate a unique tracking code", err)
}

// DeliveryDetail is a delivery plus its latest position when trackable.
type DeliveryDetail struct {
	Delivery        *models.Delivery     `json:"delivery"`
	CurrentLocation *models.LocationPing `json:"current_location"`
}

// load fetches an active delivery and runs the access gate. Lookup happens
// first, so unknown ids surface as not-found rather than forbidden.
func (s *DeliveryService) load(ctx context.Context, deliveryID uint, actor access.Actor) (*models.Delivery, error) {
	d, err := s.deliveries.ByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, d); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DeliveryService) Get(ctx context.Context, deliveryID uint, actor access.Actor) (*DeliveryDetail, error) {
	d, err := s.load(ctx, deliveryID, actor)
	if err != nil {
		return nil, err
	}
	detail := &DeliveryDetail{Delivery: d}
	if d.CanBeTracked() {
		if ping, err := s.pings.LatestForDelivery(ctx, d.ID); err == nil {
			detail.CurrentLocation = ping
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
	}
	return detail, nil
}

// TrackingDetail adds the recent history tail returned by the tracking-code
// lookup.
type TrackingDetail struct {
	DeliveryDetail
	LocationHistory []models.LocationPing `json:"location_history"`
}

func (s *DeliveryService) GetByTrackingCode(ctx context.Context, code string, actor access.Actor) (*TrackingDetail, error) {
	d, err := s.deliveries.ByTrackingCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, d); err != nil {
		return nil, err
	}

	detail := &TrackingDetail{DeliveryDetail: DeliveryDetail{Delivery: d}}
	if d.CanBeTracked() {
		if ping, err := s.pings.LatestForDelivery(ctx, d.ID); err == nil {
			detail.CurrentLocation = ping
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
	}
	history, _, err := s.pings.History(ctx, d.ID, repository.HistoryOptions{Limit: 10})
	if err != nil {
		return nil, err
	}
	detail.LocationHistory = history
	return detail, nil
}

// List returns deliveries scoped to the caller: clients see their own,
// drivers see their assignments, admins see everything.
func (s *DeliveryService) List(ctx context.Context, actor access.Actor, opts repository.ListOptions) ([]models.Delivery, int64, error) {
	if opts.Status != "" && !models.KnownStatus(opts.Status) {
		return nil, 0, apperr.Validation("unknown status filter")
	}
	switch actor.Role {
	case models.RoleClient:
		return s.deliveries.ListByClient(ctx, actor.ID, opts)
	case models.RoleDriver:
		return s.deliveries.ListByDriver(ctx, actor.ID, opts)
	case models.RoleAdmin:
		return s.deliveries.ListAll(ctx, opts)
	default:
		return nil, 0, apperr.Forbidden("unauthorized role")
	}
}

// DeliveryStats aggregates per-status counts for the caller's scope.
type DeliveryStats struct {
	Total          int64            `json:"total_deliveries"`
	ByStatus       map[string]int64 `json:"by_status"`
	CompletionRate int              `json:"completion_rate"`
}

func (s *DeliveryService) Stats(ctx context.Context, actor access.Actor) (*DeliveryStats, error) {
	var scope repository.DeliveryScope
	switch actor.Role {
	case models.RoleClient:
		scope.ClientID = actor.ID
	case models.RoleDriver:
		scope.DriverID = actor.ID
	case models.RoleAdmin:
	default:
		return nil, apperr.Forbidden("unauthorized role")
	}

	counts, err := s.deliveries.CountByStatus(ctx, scope)
	if err != nil {
		return nil, err
	}

	stats := &DeliveryStats{ByStatus: map[string]int64{}}
	for _, st := range []string{
		models.StatusPending, models.StatusAssigned, models.StatusPickedUp,
		models.StatusInTransit, models.StatusDelivered, models.StatusCancelled,
	} {
		stats.ByStatus[st] = counts[st]
		stats.Total += counts[st]
	}
	if stats.Total > 0 {
		stats.CompletionRate = int(math.Round(float64(stats.ByStatus[models.StatusDelivered]) / float64(stats.Total) * 100))
	}
	return stats, nil
}

// applyStatus moves the delivery onto newStatus and stamps the actual
// pickup/delivery times on the corresponding edges.
func (s *DeliveryService) applyStatus(d *models.Delivery, newStatus string) {
	now := s.now()
	d.Status = newStatus
	switch newStatus {
	case models.StatusPickedUp:
		d.ActualPickupAt = &now
	case models.StatusDelivered:
		d.ActualDeliveryAt = &now
	}
}

// AssignDriver moves a pending delivery to assigned. Operator/admin only.
func (s *DeliveryService) AssignDriver(ctx context.Context, deliveryID, driverID uint, actor access.Actor) (*models.Delivery, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("only administrators can assign drivers")
	}
	if driverID == 0 {
		return nil, apperr.Validation("driver_id is required")
	}
	d, err := s.deliveries.ByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.StatusPending {
		return nil, apperr.InvalidState("delivery must be pending to assign a driver")
	}

	d.DriverID = &driverID
	s.applyStatus(d, models.StatusAssigned)
	if err := s.deliveries.Save(ctx, d); err != nil {
		return nil, err
	}
	s.bc.PublishStatus(d.ID, d.Status)
	logrus.WithFields(logrus.Fields{
		"delivery_id": d.ID,
		"driver_id":   driverID,
	}).Info("Driver assigned to delivery.")
	return d, nil
}

// Cancel moves a delivery to cancelled. Clients may cancel only while
// pending or assigned; admins from any non-terminal state.
func (s *DeliveryService) Cancel(ctx context.Context, deliveryID uint, actor access.Actor, notes string) (*models.Delivery, error) {
	d, err := s.load(ctx, deliveryID, actor)
	if err != nil {
		return nil, err
	}
	if d.IsTerminal() {
		return nil, apperr.InvalidState("delivery cannot be cancelled in its current status")
	}
	if actor.IsClient() && d.Status != models.StatusPending && d.Status != models.StatusAssigned {
		return nil, apperr.InvalidState("delivery can no longer be cancelled by the client")
	}
	if actor.IsDriver() {
		return nil, apperr.Forbidden("drivers cannot cancel deliveries")
	}

	if notes != "" {
		d.Notes = notes
	}
	s.applyStatus(d, models.StatusCancelled)
	if err := s.deliveries.Save(ctx, d); err != nil {
		return nil, err
	}
	s.bc.PublishStatus(d.ID, d.Status)
	logrus.WithField("delivery_id", d.ID).Info("Delivery cancelled.")
	return d, nil
}

// UpdateDeliveryInput carries optional field writes. Which fields a role may
// touch is enforced by explicit allow-lists; a disallowed field present in
// the payload is rejected, not dropped.
type UpdateDeliveryInput struct {
	PickupAddress   *string  `json:"pickup_address"`
	PickupLatitude  *float64 `json:"pickup_latitude"`
	PickupLongitude *float64 `json:"pickup_longitude"`

	DeliveryAddress   *string  `json:"delivery_address"`
	DeliveryLatitude  *float64 `json:"delivery_latitude"`
	DeliveryLongitude *float64 `json:"delivery_longitude"`

	Description *string  `json:"description"`
	Weight      *float64 `json:"weight"`

	ScheduledPickupAt   *time.Time `json:"scheduled_pickup_time"`
	ScheduledDeliveryAt *time.Time `json:"scheduled_delivery_time"`

	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

func (in UpdateDeliveryInput) hasLogisticsFields() bool {
	return in.PickupAddress != nil || in.PickupLatitude != nil || in.PickupLongitude != nil ||
		in.DeliveryAddress != nil || in.DeliveryLatitude != nil || in.DeliveryLongitude != nil ||
		in.Description != nil || in.Weight != nil ||
		in.ScheduledPickupAt != nil || in.ScheduledDeliveryAt != nil
}

// Update applies role-scoped field writes. Clients edit logistics fields
// while the delivery is still pending; drivers edit status and notes; admins
// edit anything.
func (s *DeliveryService) Update(ctx context.Context, deliveryID uint, actor access.Actor, in UpdateDeliveryInput) (*models.Delivery, error) {
	d, err := s.load(ctx, deliveryID, actor)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case models.RoleClient:
		if in.Status != nil || in.Notes != nil {
			return nil, apperr.Validation("field not permitted for this role")
		}
		if d.Status != models.StatusPending {
			return nil, apperr.InvalidState("delivery cannot be modified in its current status")
		}
	case models.RoleDriver:
		if in.hasLogisticsFields() {
			return nil, apperr.Validation("field not permitted for this role")
		}
	case models.RoleAdmin:
	}

	if in.PickupAddress != nil {
		if strings.TrimSpace(*in.PickupAddress) == "" {
			return nil, apperr.Validation("pickup address must not be empty")
		}
		d.PickupAddress = *in.PickupAddress
	}
	if in.DeliveryAddress != nil {
		if strings.TrimSpace(*in.DeliveryAddress) == "" {
			return nil, apperr.Validation("delivery address must not be empty")
		}
		d.DeliveryAddress = *in.DeliveryAddress
	}

	coordsChanged := false
	if in.PickupLatitude != nil || in.PickupLongitude != nil {
		if in.PickupLatitude != nil {
			d.PickupLatitude = in.PickupLatitude
		}
		if in.PickupLongitude != nil {
			d.PickupLongitude = in.PickupLongitude
		}
		if err := checkCoordinatePair(d.PickupLatitude, d.PickupLongitude, "pickup"); err != nil {
			return nil, err
		}
		coordsChanged = true
	}
	if in.DeliveryLatitude != nil || in.DeliveryLongitude != nil {
		if in.DeliveryLatitude != nil {
			d.DeliveryLatitude = in.DeliveryLatitude
		}
		if in.DeliveryLongitude != nil {
			d.DeliveryLongitude = in.DeliveryLongitude
		}
		if err := checkCoordinatePair(d.DeliveryLatitude, d.DeliveryLongitude, "dropoff"); err != nil {
			return nil, err
		}
		coordsChanged = true
	}

	if in.Description != nil {
		d.Description = *in.Description
	}
	if in.Weight != nil {
		if *in.Weight < 0 {
			return nil, apperr.Validation("weight must not be negative")
		}
		d.Weight = in.Weight
	}
	if in.ScheduledPickupAt != nil {
		d.ScheduledPickupAt = in.ScheduledPickupAt
	}
	if in.ScheduledDeliveryAt != nil {
		d.ScheduledDeliveryAt = in.ScheduledDeliveryAt
	}
	if in.Notes != nil {
		d.Notes = *in.Notes
	}

	statusChanged := false
	if in.Status != nil && *in.Status != d.Status {
		if err := s.checkStatusEdge(d, *in.Status, actor); err != nil {
			return nil, err
		}
		s.applyStatus(d, *in.Status)
		statusChanged = true
	}

	if coordsChanged {
		applyEstimates(d)
	}

	if err := s.deliveries.Save(ctx, d); err != nil {
		return nil, err
	}
	if statusChanged {
		s.bc.PublishStatus(d.ID, d.Status)
	}
	return d, nil
}

// checkStatusEdge validates both the lifecycle graph edge and the actor's
// right to trigger it. Assignment goes through AssignDriver, cancellation
// through Cancel.
func (s *DeliveryService) checkStatusEdge(d *models.Delivery, newStatus string, actor access.Actor) error {
	if !models.KnownStatus(newStatus) {
		return apperr.Validation("unknown status")
	}
	if d.IsTerminal() {
		return apperr.InvalidState("delivery reached a terminal status")
	}
	if !models.ValidTransition(d.Status, newStatus) {
		return apperr.InvalidState("illegal status transition")
	}
	switch newStatus {
	case models.StatusAssigned:
		return apperr.InvalidState("driver assignment must go through the assign-driver operation")
	case models.StatusCancelled:
		if actor.IsDriver() {
			return apperr.Forbidden("drivers cannot cancel deliveries")
		}
	case models.StatusPickedUp, models.StatusInTransit, models.StatusDelivered:
		if actor.IsClient() {
			return apperr.Forbidden("clients cannot advance delivery progress")
		}
	}
	return nil
}
