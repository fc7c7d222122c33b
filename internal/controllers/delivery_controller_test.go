package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logitrack/internal/apperr"
	"logitrack/internal/middleware"
	"logitrack/internal/models"
	"logitrack/internal/realtime"
	"logitrack/internal/repository"
	"logitrack/internal/services"
)

// stubDeliveries serves one canned delivery owned by client 7.
type stubDeliveries struct {
	delivery models.Delivery
}

func (s *stubDeliveries) Create(_ context.Context, d *models.Delivery) error {
	d.ID = 1
	return nil
}

func (s *stubDeliveries) ByID(_ context.Context, id uint) (*models.Delivery, error) {
	if id != s.delivery.ID {
		return nil, apperr.NotFound("delivery not found")
	}
	out := s.delivery
	return &out, nil
}

func (s *stubDeliveries) ByTrackingCode(context.Context, string) (*models.Delivery, error) {
	return nil, apperr.NotFound("delivery not found")
}

func (s *stubDeliveries) ByIDs(context.Context, []uint, []string) ([]models.Delivery, error) {
	return nil, nil
}

func (s *stubDeliveries) ListByClient(context.Context, uint, repository.ListOptions) ([]models.Delivery, int64, error) {
	return []models.Delivery{s.delivery}, 1, nil
}

func (s *stubDeliveries) ListByDriver(context.Context, uint, repository.ListOptions) ([]models.Delivery, int64, error) {
	return nil, 0, nil
}

func (s *stubDeliveries) ListAll(context.Context, repository.ListOptions) ([]models.Delivery, int64, error) {
	return []models.Delivery{s.delivery}, 1, nil
}

func (s *stubDeliveries) Save(_ context.Context, d *models.Delivery) error {
	s.delivery = *d
	return nil
}

func (s *stubDeliveries) CountByStatus(context.Context, repository.DeliveryScope) (map[string]int64, error) {
	return map[string]int64{models.StatusPending: 1}, nil
}

type stubPings struct{}

func (stubPings) Create(context.Context, *models.LocationPing) error        { return nil }
func (stubPings) CreateBatch(context.Context, []*models.LocationPing) error { return nil }
func (stubPings) LatestForDelivery(context.Context, uint) (*models.LocationPing, error) {
	return nil, apperr.NotFound("no location found")
}
func (stubPings) LatestForDriver(context.Context, uint) (*models.LocationPing, error) {
	return nil, apperr.NotFound("no location found")
}
func (stubPings) History(context.Context, uint, repository.HistoryOptions) ([]models.LocationPing, int64, error) {
	return nil, 0, nil
}
func (stubPings) AllForDelivery(context.Context, uint) ([]models.LocationPing, error) {
	return nil, nil
}
func (stubPings) RecentSince(context.Context, time.Time) ([]models.LocationPing, error) {
	return nil, nil
}

func testServer(t *testing.T) (*gin.Engine, *stubDeliveries) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deliveries := &stubDeliveries{delivery: models.Delivery{
		ClientID:      7,
		Status:        models.StatusPending,
		TrackingCode:  "LTSTUB1",
		PickupAddress: "A", DeliveryAddress: "B",
		IsActive: true,
	}}
	deliveries.delivery.ID = 1

	hub := realtime.NewHub()
	deliverySvc := services.NewDeliveryService(deliveries, stubPings{}, hub)
	locationSvc := services.NewLocationService(deliveries, stubPings{}, hub)

	r := gin.New()
	dc := NewDeliveryController(deliverySvc)
	lc := NewLocationController(locationSvc)

	auth := r.Group("/deliveries", middleware.RequireAuth())
	auth.POST("/", middleware.RequireRole(models.RoleClient, models.RoleAdmin), dc.Create)
	auth.GET("/", dc.List)
	auth.GET("/:id", dc.Get)
	auth.GET("/search/nearby", lc.Nearby)
	return r, deliveries
}

func do(t *testing.T, r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateDeliveryEndpoint(t *testing.T) {
	r, _ := testServer(t)
	token, err := middleware.GenerateToken(7, models.RoleClient)
	require.NoError(t, err)

	body := `{"pickup_address":"Av. Paulista 1000","delivery_address":"Av. Atlântica 500"}`
	w := do(t, r, http.MethodPost, "/deliveries/", token, body)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"tracking_code"`)
	assert.Contains(t, w.Body.String(), `"success":true`)

	// Missing address maps to 400 with the machine-readable kind.
	w = do(t, r, http.MethodPost, "/deliveries/", token, `{"pickup_address":"A"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(apperr.KindValidation))

	// Drivers cannot create deliveries at all; the handler must not run, so
	// no tracking code may appear anywhere in the response.
	driverToken, err := middleware.GenerateToken(3, models.RoleDriver)
	require.NoError(t, err)
	w = do(t, r, http.MethodPost, "/deliveries/", driverToken, body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "tracking_code")
	assert.NotContains(t, w.Body.String(), `"success":true`)

	w = do(t, r, http.MethodPost, "/deliveries/", "", body)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetDeliveryEndpointStatusMapping(t *testing.T) {
	r, _ := testServer(t)

	ownerToken, err := middleware.GenerateToken(7, models.RoleClient)
	require.NoError(t, err)
	strangerToken, err := middleware.GenerateToken(42, models.RoleClient)
	require.NoError(t, err)

	w := do(t, r, http.MethodGet, "/deliveries/1", ownerToken, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"LTSTUB1"`)

	w = do(t, r, http.MethodGet, "/deliveries/999", ownerToken, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/deliveries/1", strangerToken, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), string(apperr.KindForbidden))

	w = do(t, r, http.MethodGet, "/deliveries/banana", ownerToken, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDeliveryEndpointPagination(t *testing.T) {
	r, _ := testServer(t)
	token, err := middleware.GenerateToken(7, models.RoleClient)
	require.NoError(t, err)

	w := do(t, r, http.MethodGet, "/deliveries/?page=1&limit=5", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_page":1`)
	assert.Contains(t, w.Body.String(), `"per_page":5`)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestNearbyEndpointValidation(t *testing.T) {
	r, _ := testServer(t)
	token, err := middleware.GenerateToken(7, models.RoleClient)
	require.NoError(t, err)

	w := do(t, r, http.MethodGet, "/deliveries/search/nearby?lng=0", token, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/deliveries/search/nearby?lat=0&lng=0&radius=500", token, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/deliveries/search/nearby?lat=0&lng=0", token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}
