package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"logitrack/internal/models"
)

type pingRepo struct {
	db *gorm.DB
}

// NewPings returns the gorm-backed location ping store.
func NewPings(db *gorm.DB) Pings {
	return &pingRepo{db: db}
}

func (r *pingRepo) Create(ctx context.Context, p *models.LocationPing) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return errors.Wrap(translate(err, "location not found"), "creating location ping")
	}
	return nil
}

// CreateBatch persists the whole set in one transaction: either every ping
// lands or none do, so a derived transition never follows a partial write.
func (r *pingRepo) CreateBatch(ctx context.Context, ps []*models.LocationPing) error {
	if len(ps) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(ps).Error
	})
	if err != nil {
		return errors.Wrap(translate(err, "location not found"), "creating location batch")
	}
	return nil
}

func (r *pingRepo) LatestForDelivery(ctx context.Context, deliveryID uint) (*models.LocationPing, error) {
	var p models.LocationPing
	err := r.db.WithContext(ctx).
		Where("delivery_id = ? AND is_valid = ?", deliveryID, true).
		Order("location_timestamp DESC").
		First(&p).Error
	if err != nil {
		return nil, translate(err, "no location found for this delivery")
	}
	return &p, nil
}

func (r *pingRepo) LatestForDriver(ctx context.Context, driverID uint) (*models.LocationPing, error) {
	var p models.LocationPing
	err := r.db.WithContext(ctx).
		Where("driver_id = ? AND is_valid = ?", driverID, true).
		Order("location_timestamp DESC").
		First(&p).Error
	if err != nil {
		return nil, translate(err, "no location found")
	}
	return &p, nil
}

func (r *pingRepo) History(ctx context.Context, deliveryID uint, opts HistoryOptions) ([]models.LocationPing, int64, error) {
	opts = opts.Normalize()
	q := r.db.WithContext(ctx).
		Where("delivery_id = ? AND is_valid = ?", deliveryID, true)
	if opts.Start != nil && opts.End != nil {
		q = q.Where("location_timestamp BETWEEN ? AND ?", *opts.Start, *opts.End)
	}

	var total int64
	if err := q.Model(&models.LocationPing{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err, "no location found for this delivery")
	}

	var ps []models.LocationPing
	err := q.
		Order("location_timestamp DESC").
		Limit(opts.Limit).
		Offset(opts.Offset()).
		Find(&ps).Error
	if err != nil {
		return nil, 0, translate(err, "no location found for this delivery")
	}
	return ps, total, nil
}

// AllForDelivery returns every valid ping ordered ascending by event time,
// the shape route statistics want.
func (r *pingRepo) AllForDelivery(ctx context.Context, deliveryID uint) ([]models.LocationPing, error) {
	var ps []models.LocationPing
	err := r.db.WithContext(ctx).
		Where("delivery_id = ? AND is_valid = ?", deliveryID, true).
		Order("location_timestamp ASC").
		Find(&ps).Error
	if err != nil {
		return nil, translate(err, "no location found for this delivery")
	}
	return ps, nil
}

func (r *pingRepo) RecentSince(ctx context.Context, since time.Time) ([]models.LocationPing, error) {
	var ps []models.LocationPing
	err := r.db.WithContext(ctx).
		Where("location_timestamp >= ? AND is_valid = ?", since, true).
		Order("location_timestamp DESC").
		Find(&ps).Error
	if err != nil {
		return nil, translate(err, "no recent locations")
	}
	return ps, nil
}
