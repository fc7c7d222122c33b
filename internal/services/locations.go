package services

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"logitrack/internal/access"
	"logitrack/internal/apperr"
	"logitrack/internal/geo"
	"logitrack/internal/models"
	"logitrack/internal/realtime"
	"logitrack/internal/repository"
)

const (
	// Hard cap on batch ingestion.
	maxBatchSize = 100

	// Proximity search only considers pings from this recent window.
	nearbyWindow = 2 * time.Hour

	// Freshness convention for the is_recent flag.
	recentAge = 30 * time.Minute

	defaultNearbyRadiusKm = 10
	minNearbyRadiusKm     = 0.1
	maxNearbyRadiusKm     = 100
)

// LocationService validates and persists location pings, derives lifecycle
// transitions from them, and answers the geospatial queries.
type LocationService struct {
	deliveries repository.Deliveries
	pings      repository.Pings
	bc         realtime.Broadcaster
	locks      *keyMutex
	now        func() time.Time
}

func NewLocationService(deliveries repository.Deliveries, pings repository.Pings, bc realtime.Broadcaster) *LocationService {
	return &LocationService{
		deliveries: deliveries,
		pings:      pings,
		bc:         bc,
		locks:      newKeyMutex(),
		now:        time.Now,
	}
}

// PingInput is one device-reported location sample.
type PingInput struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	Altitude  *float64 `json:"altitude"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`

	LocationTimestamp *time.Time `json:"location_timestamp"`
	UpdateType        string     `json:"update_type"`

	Address    string `json:"address"`
	Notes      string `json:"notes"`
	DeviceInfo string `json:"device_info"`
}

func (in PingInput) validate() error {
	if !geo.ValidCoordinates(in.Latitude, in.Longitude) {
		return apperr.Validation("coordinates are out of range")
	}
	if in.Accuracy != nil && *in.Accuracy < 0 {
		return apperr.Validation("accuracy must not be negative")
	}
	if in.Speed != nil && (*in.Speed < 0 || *in.Speed > 300) {
		return apperr.Validation("speed must be between 0 and 300 km/h")
	}
	if in.Heading != nil && (*in.Heading < 0 || *in.Heading > 360) {
		return apperr.Validation("heading must be between 0 and 360 degrees")
	}
	if in.UpdateType != "" && !models.KnownUpdateType(in.UpdateType) {
		return apperr.Validation("unknown update type")
	}
	return nil
}

func (s *LocationService) buildPing(deliveryID, driverID uint, in PingInput) *models.LocationPing {
	ts := s.now()
	if in.LocationTimestamp != nil {
		ts = *in.LocationTimestamp
	}
	updateType := in.UpdateType
	if updateType == "" {
		updateType = models.UpdateAutomatic
	}
	return &models.LocationPing{
		DeliveryID:        deliveryID,
		DriverID:          driverID,
		Latitude:          in.Latitude,
		Longitude:         in.Longitude,
		Accuracy:          in.Accuracy,
		Altitude:          in.Altitude,
		Speed:             in.Speed,
		Heading:           in.Heading,
		LocationTimestamp: ts,
		UpdateType:        updateType,
		Address:           in.Address,
		Notes:             in.Notes,
		DeviceInfo:        in.DeviceInfo,
		IsValid:           true,
	}
}

// trackedDelivery loads the delivery and enforces the ingestion
// preconditions: the caller must be the assigned driver and the delivery
// must be in a trackable state.
func (s *LocationService) trackedDelivery(ctx context.Context, deliveryID, driverID uint) (*models.Delivery, error) {
	d, err := s.deliveries.ByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.DriverID == nil || *d.DriverID != driverID {
		return nil, apperr.Forbidden("delivery is not assigned to you")
	}
	if !d.CanBeTracked() {
		return nil, apperr.InvalidState("delivery cannot be tracked in its current status")
	}
	return d, nil
}

// deriveTransition picks the single status change implied by the ingested
// markers: a pickup marker collects an assigned delivery, a delivery marker
// completes an in-transit one, and any other movement promotes assigned or
// picked-up deliveries to in transit.
func deriveTransition(status string, hasPickup, hasDelivery bool) (string, bool) {
	switch {
	case hasPickup && status == models.StatusAssigned:
		return models.StatusPickedUp, true
	case hasDelivery && status == models.StatusInTransit:
		return models.StatusDelivered, true
	case status == models.StatusAssigned || status == models.StatusPickedUp:
		return models.StatusInTransit, true
	}
	return "", false
}

func (s *LocationService) applyDerived(ctx context.Context, d *models.Delivery, hasPickup, hasDelivery bool) error {
	newStatus, ok := deriveTransition(d.Status, hasPickup, hasDelivery)
	if !ok {
		return nil
	}
	now := s.now()
	d.Status = newStatus
	switch newStatus {
	case models.StatusPickedUp:
		d.ActualPickupAt = &now
	case models.StatusDelivered:
		d.ActualDeliveryAt = &now
	}
	if err := s.deliveries.Save(ctx, d); err != nil {
		return err
	}
	s.bc.PublishStatus(d.ID, d.Status)
	logrus.WithFields(logrus.Fields{
		"delivery_id": d.ID,
		"status":      newStatus,
	}).Info("Delivery status derived from location update.")
	return nil
}

// SubmitPing persists one ping and derives at most one lifecycle
// transition. The per-delivery lock covers the whole read-persist-derive
// sequence.
func (s *LocationService) SubmitPing(ctx context.Context, deliveryID, driverID uint, in PingInput) (*models.LocationPing, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(deliveryID)
	defer unlock()

	d, err := s.trackedDelivery(ctx, deliveryID, driverID)
	if err != nil {
		return nil, err
	}

	ping := s.buildPing(deliveryID, driverID, in)
	if err := s.pings.Create(ctx, ping); err != nil {
		return nil, err
	}

	if err := s.applyDerived(ctx, d,
		ping.UpdateType == models.UpdatePickup,
		ping.UpdateType == models.UpdateDelivery); err != nil {
		return nil, err
	}

	s.bc.PublishLocation(ping)
	return ping, nil
}

// SubmitBatch persists up to 100 pings as one set and derives at most one
// transition for the whole batch, decided by marker presence rather than
// intra-batch order.
func (s *LocationService) SubmitBatch(ctx context.Context, deliveryID, driverID uint, inputs []PingInput) ([]*models.LocationPing, error) {
	if len(inputs) == 0 {
		return nil, apperr.Validation("locations array is required")
	}
	if len(inputs) > maxBatchSize {
		return nil, apperr.Validation("at most 100 locations per batch")
	}
	for _, in := range inputs {
		if err := in.validate(); err != nil {
			return nil, err
		}
	}

	unlock := s.locks.Lock(deliveryID)
	defer unlock()

	d, err := s.trackedDelivery(ctx, deliveryID, driverID)
	if err != nil {
		return nil, err
	}

	pings := make([]*models.LocationPing, 0, len(inputs))
	hasPickup, hasDelivery := false, false
	for _, in := range inputs {
		p := s.buildPing(deliveryID, driverID, in)
		pings = append(pings, p)
		hasPickup = hasPickup || p.UpdateType == models.UpdatePickup
		hasDelivery = hasDelivery || p.UpdateType == models.UpdateDelivery
	}

	if err := s.pings.CreateBatch(ctx, pings); err != nil {
		return nil, err
	}
	if err := s.applyDerived(ctx, d, hasPickup, hasDelivery); err != nil {
		return nil, err
	}
	for _, p := range pings {
		s.bc.PublishLocation(p)
	}
	return pings, nil
}

// MarkCheckpoint records a checkpoint ping. Checkpoints never derive a
// transition on their own.
func (s *LocationService) MarkCheckpoint(ctx context.Context, deliveryID, driverID uint, lat, lng float64, notes string) (*models.LocationPing, error) {
	if !geo.ValidCoordinates(lat, lng) {
		return nil, apperr.Validation("coordinates are out of range")
	}

	unlock := s.locks.Lock(deliveryID)
	defer unlock()

	if _, err := s.trackedDelivery(ctx, deliveryID, driverID); err != nil {
		return nil, err
	}

	ping := s.buildPing(deliveryID, driverID, PingInput{
		Latitude:   lat,
		Longitude:  lng,
		UpdateType: models.UpdateCheckpoint,
		Notes:      notes,
	})
	if err := s.pings.Create(ctx, ping); err != nil {
		return nil, err
	}
	s.bc.PublishLocation(ping)
	return ping, nil
}

// CurrentLocation is the latest ping with context for the viewer.
type CurrentLocation struct {
	Location           *models.LocationPing `json:"location"`
	DeliveryID         uint                 `json:"delivery_id"`
	TrackingCode       string               `json:"tracking_code"`
	Status             string               `json:"status"`
	DistanceToPickupM  *float64             `json:"distance_to_pickup_meters"`
	DistanceToDropoffM *float64             `json:"distance_to_delivery_meters"`
	IsRecent           bool                 `json:"is_recent"`
}

// Current returns the most recent valid ping for the delivery.
func (s *LocationService) Current(ctx context.Context, deliveryID uint, actor access.Actor) (*CurrentLocation, error) {
	d, err := s.deliveries.ByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, d); err != nil {
		return nil, err
	}
	if !d.CanBeTracked() {
		return nil, apperr.InvalidState("delivery cannot be tracked in its current status")
	}

	ping, err := s.pings.LatestForDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}

	cur := &CurrentLocation{
		Location:     ping,
		DeliveryID:   d.ID,
		TrackingCode: d.TrackingCode,
		Status:       d.Status,
		IsRecent:     ping.IsRecent(recentAge),
	}
	if d.PickupLatitude != nil && d.PickupLongitude != nil {
		m := geo.Distance(ping.Latitude, ping.Longitude, *d.PickupLatitude, *d.PickupLongitude)
		cur.DistanceToPickupM = &m
	}
	if d.DeliveryLatitude != nil && d.DeliveryLongitude != nil {
		m := geo.Distance(ping.Latitude, ping.Longitude, *d.DeliveryLatitude, *d.DeliveryLongitude)
		cur.DistanceToDropoffM = &m
	}
	return cur, nil
}

// HistoryResult pairs a history page with route statistics and the route
// geometry over the whole series. Route is a GeoJSON LineString, present
// once two or more points exist.
type HistoryResult struct {
	Locations  []models.LocationPing `json:"locations"`
	Total      int64                 `json:"total"`
	RouteStats *RouteStats           `json:"route_stats"`
	Route      json.RawMessage       `json:"route,omitempty"`
}

// History returns valid pings ordered descending by event time.
func (s *LocationService) History(ctx context.Context, deliveryID uint, actor access.Actor, opts repository.HistoryOptions) (*HistoryResult, error) {
	d, err := s.deliveries.ByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(actor, d); err != nil {
		return nil, err
	}
	if (opts.Start == nil) != (opts.End == nil) {
		return nil, apperr.Validation("start and end dates must be provided together")
	}

	locations, total, err := s.pings.History(ctx, deliveryID, opts)
	if err != nil {
		return nil, err
	}

	result := &HistoryResult{Locations: locations, Total: total}
	if len(locations) > 0 {
		points, err := s.pings.AllForDelivery(ctx, deliveryID)
		if err != nil {
			return nil, err
		}
		result.RouteStats = buildRouteStats(points)
		if result.Route, err = routeGeometry(points); err != nil {
			return nil, apperr.Internal("could not encode route geometry", err)
		}
	}
	return result, nil
}

// routeGeometry encodes the ping series as a GeoJSON LineString in
// longitude/latitude order. Fewer than two points make no line.
func routeGeometry(points []models.LocationPing) (json.RawMessage, error) {
	if len(points) < 2 {
		return nil, nil
	}
	coords := make([]geom.Coord, 0, len(points))
	for _, p := range points {
		coords = append(coords, geom.Coord{p.Longitude, p.Latitude})
	}
	line := geom.NewLineString(geom.XY).MustSetCoords(coords)
	return geojson.Marshal(line)
}

// DriverLocation is a driver's latest ping plus its delivery context.
type DriverLocation struct {
	Location *models.LocationPing `json:"location"`
	Delivery *models.Delivery     `json:"delivery"`
	IsRecent bool                 `json:"is_recent"`
}

// DriverCurrent returns the caller's own latest ping across deliveries.
func (s *LocationService) DriverCurrent(ctx context.Context, driverID uint) (*DriverLocation, error) {
	ping, err := s.pings.LatestForDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	loc := &DriverLocation{Location: ping, IsRecent: ping.IsRecent(recentAge)}
	if d, err := s.deliveries.ByID(ctx, ping.DeliveryID); err == nil {
		loc.Delivery = d
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	return loc, nil
}

// RouteStats aggregates a delivery's ping series. max_speed reports the
// device-supplied speed field, not a value derived from positions.
type RouteStats struct {
	TotalDistance float64 `json:"total_distance"` // meters
	TotalDuration float64 `json:"total_duration"` // seconds
	AverageSpeed  float64 `json:"average_speed"`  // km/h
	MaxSpeed      float64 `json:"max_speed"`      // km/h
	PointsCount   int     `json:"points_count"`
}

func (s *LocationService) RouteStats(ctx context.Context, deliveryID uint) (*RouteStats, error) {
	points, err := s.pings.AllForDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	return buildRouteStats(points), nil
}

func buildRouteStats(points []models.LocationPing) *RouteStats {
	stats := &RouteStats{PointsCount: len(points)}
	if len(points) < 2 {
		return stats
	}

	var totalDistance, maxSpeed float64
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]
		totalDistance += geo.Distance(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)
	}
	for _, p := range points {
		if p.Speed != nil && *p.Speed > maxSpeed {
			maxSpeed = *p.Speed
		}
	}

	duration := points[len(points)-1].LocationTimestamp.Sub(points[0].LocationTimestamp).Seconds()
	var avgSpeed float64
	if duration > 0 {
		avgSpeed = (totalDistance / 1000) / (duration / 3600)
	}

	stats.TotalDistance = math.Round(totalDistance)
	stats.TotalDuration = math.Round(duration)
	stats.AverageSpeed = math.Round(avgSpeed*100) / 100
	stats.MaxSpeed = math.Round(maxSpeed*100) / 100
	return stats
}

// NearbyDelivery is one proximity-search hit.
type NearbyDelivery struct {
	Delivery       models.Delivery      `json:"delivery"`
	Location       *models.LocationPing `json:"location"`
	DistanceMeters float64              `json:"distance_meters"`
	DistanceKm     float64              `json:"distance_km"`
}

// FindNearby scans valid pings from the recent window, keeps those within
// radiusKm of the origin, deduplicates to the freshest ping per delivery,
// restricts to deliveries in a trackable status and returns hits sorted
// ascending by distance.
func (s *LocationService) FindNearby(ctx context.Context, lat, lng, radiusKm float64) ([]NearbyDelivery, error) {
	if !geo.ValidCoordinates(lat, lng) {
		return nil, apperr.Validation("coordinates are out of range")
	}
	if radiusKm == 0 {
		radiusKm = defaultNearbyRadiusKm
	}
	if radiusKm < minNearbyRadiusKm || radiusKm > maxNearbyRadiusKm {
		return nil, apperr.Validation("radius must be between 0.1 and 100 km")
	}

	recent, err := s.pings.RecentSince(ctx, s.now().Add(-nearbyWindow))
	if err != nil {
		return nil, err
	}

	// Keep the freshest in-radius ping per delivery. This is a linear scan
	// over a bounded window; a spatial index would replace it at fleet
	// scale without changing the contract.
	type hit struct {
		ping     models.LocationPing
		distance float64
	}
	latest := make(map[uint]hit)
	for _, p := range recent {
		dist := geo.Distance(lat, lng, p.Latitude, p.Longitude)
		if dist > radiusKm*1000 {
			continue
		}
		if prev, ok := latest[p.DeliveryID]; ok && !p.LocationTimestamp.After(prev.ping.LocationTimestamp) {
			continue
		}
		latest[p.DeliveryID] = hit{ping: p, distance: dist}
	}
	if len(latest) == 0 {
		return []NearbyDelivery{}, nil
	}

	ids := make([]uint, 0, len(latest))
	for id := range latest {
		ids = append(ids, id)
	}
	trackable := []string{models.StatusAssigned, models.StatusPickedUp, models.StatusInTransit}
	deliveries, err := s.deliveries.ByIDs(ctx, ids, trackable)
	if err != nil {
		return nil, err
	}

	results := make([]NearbyDelivery, 0, len(deliveries))
	for _, d := range deliveries {
		h := latest[d.ID]
		ping := h.ping
		results = append(results, NearbyDelivery{
			Delivery:       d,
			Location:       &ping,
			DistanceMeters: h.distance,
			DistanceKm:     math.Round(h.distance/100) / 10,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].DistanceMeters < results[j].DistanceMeters
	})
	return results, nil
}

// DriverNearby runs the proximity search around the driver's own latest
// ping.
func (s *LocationService) DriverNearby(ctx context.Context, driverID uint, radiusKm float64) (*models.LocationPing, []NearbyDelivery, error) {
	ping, err := s.pings.LatestForDriver(ctx, driverID)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.FindNearby(ctx, ping.Latitude, ping.Longitude, radiusKm)
	if err != nil {
		return nil, nil, err
	}
	return ping, results, nil
}
