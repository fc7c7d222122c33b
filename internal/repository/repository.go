package repository

import (
	"context"
	"time"

	"logitrack/internal/models"
)

// ListOptions paginates delivery listings, optionally filtered by status.
type ListOptions struct {
	Page   int
	Limit  int
	Status string
}

func (o ListOptions) Normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	return o
}

func (o ListOptions) Offset() int { return (o.Page - 1) * o.Limit }

// HistoryOptions paginates a ping history query over an optional time window.
type HistoryOptions struct {
	Page  int
	Limit int
	Start *time.Time
	End   *time.Time
}

func (o HistoryOptions) Normalize() HistoryOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	return o
}

func (o HistoryOptions) Offset() int { return (o.Page - 1) * o.Limit }

// DeliveryScope restricts count queries to one side of the ownership
// relation. Zero values mean unrestricted (admin view).
type DeliveryScope struct {
	ClientID uint
	DriverID uint
}

// Deliveries is the persistent store for Delivery rows. Soft-deleted rows
// (is_active=false) never come back from any method.
type Deliveries interface {
	Create(ctx context.Context, d *models.Delivery) error
	ByID(ctx context.Context, id uint) (*models.Delivery, error)
	ByTrackingCode(ctx context.Context, code string) (*models.Delivery, error)
	ByIDs(ctx context.Context, ids []uint, statuses []string) ([]models.Delivery, error)
	ListByClient(ctx context.Context, clientID uint, opts ListOptions) ([]models.Delivery, int64, error)
	ListByDriver(ctx context.Context, driverID uint, opts ListOptions) ([]models.Delivery, int64, error)
	ListAll(ctx context.Context, opts ListOptions) ([]models.Delivery, int64, error)
	Save(ctx context.Context, d *models.Delivery) error
	CountByStatus(ctx context.Context, scope DeliveryScope) (map[string]int64, error)
}

// Pings is the append-only store for location samples. Reads only consider
// valid pings; writes never mutate existing rows.
type Pings interface {
	Create(ctx context.Context, p *models.LocationPing) error
	CreateBatch(ctx context.Context, ps []*models.LocationPing) error
	LatestForDelivery(ctx context.Context, deliveryID uint) (*models.LocationPing, error)
	LatestForDriver(ctx context.Context, driverID uint) (*models.LocationPing, error)
	History(ctx context.Context, deliveryID uint, opts HistoryOptions) ([]models.LocationPing, int64, error)
	AllForDelivery(ctx context.Context, deliveryID uint) ([]models.LocationPing, error)
	RecentSince(ctx context.Context, since time.Time) ([]models.LocationPing, error)
}
