package repository

import (
	"context"

	goerrors "errors"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"logitrack/internal/apperr"
	"logitrack/internal/models"
)

type deliveryRepo struct {
	db *gorm.DB
}

// NewDeliveries returns the gorm-backed delivery store.
func NewDeliveries(db *gorm.DB) Deliveries {
	return &deliveryRepo{db: db}
}

// translate maps driver-level errors onto the taxonomy. Missing rows become
// not-found, unique violations become conflicts, anything else is treated as
// the store being unavailable.
func translate(err error, notFoundMsg string) error {
	switch {
	case err == nil:
		return nil
	case goerrors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound(notFoundMsg)
	case goerrors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict("duplicate value for a unique field")
	default:
		return apperr.Unavailable("persistence layer error", err)
	}
}

func (r *deliveryRepo) Create(ctx context.Context, d *models.Delivery) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return errors.Wrap(translate(err, "delivery not found"), "creating delivery")
	}
	return nil
}

func (r *deliveryRepo) ByID(ctx context.Context, id uint) (*models.Delivery, error) {
	var d models.Delivery
	err := r.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&d).Error
	if err != nil {
		return nil, translate(err, "delivery not found")
	}
	return &d, nil
}

func (r *deliveryRepo) ByTrackingCode(ctx context.Context, code string) (*models.Delivery, error) {
	var d models.Delivery
	err := r.db.WithContext(ctx).
		Where("tracking_code = ? AND is_active = ?", code, true).
		First(&d).Error
	if err != nil {
		return nil, translate(err, "delivery not found")
	}
	return &d, nil
}

func (r *deliveryRepo) ByIDs(ctx context.Context, ids []uint, statuses []string) ([]models.Delivery, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := r.db.WithContext(ctx).Where("id IN ? AND is_active = ?", ids, true)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	var ds []models.Delivery
	if err := q.Find(&ds).Error; err != nil {
		return nil, translate(err, "delivery not found")
	}
	return ds, nil
}

func (r *deliveryRepo) list(ctx context.Context, where *gorm.DB, opts ListOptions) ([]models.Delivery, int64, error) {
	opts = opts.Normalize()
	if opts.Status != "" {
		where = where.Where("status = ?", opts.Status)
	}

	var total int64
	if err := where.Model(&models.Delivery{}).Count(&total).Error; err != nil {
		return nil, 0, translate(err, "delivery not found")
	}

	var ds []models.Delivery
	err := where.
		Order("created_at DESC").
		Limit(opts.Limit).
		Offset(opts.Offset()).
		Find(&ds).Error
	if err != nil {
		return nil, 0, translate(err, "delivery not found")
	}
	return ds, total, nil
}

func (r *deliveryRepo) ListByClient(ctx context.Context, clientID uint, opts ListOptions) ([]models.Delivery, int64, error) {
	where := r.db.WithContext(ctx).Where("client_id = ? AND is_active = ?", clientID, true)
	return r.list(ctx, where, opts)
}

func (r *deliveryRepo) ListByDriver(ctx context.Context, driverID uint, opts ListOptions) ([]models.Delivery, int64, error) {
	where := r.db.WithContext(ctx).Where("driver_id = ? AND is_active = ?", driverID, true)
	return r.list(ctx, where, opts)
}

func (r *deliveryRepo) ListAll(ctx context.Context, opts ListOptions) ([]models.Delivery, int64, error) {
	where := r.db.WithContext(ctx).Where("is_active = ?", true)
	return r.list(ctx, where, opts)
}

func (r *deliveryRepo) Save(ctx context.Context, d *models.Delivery) error {
	if err := r.db.WithContext(ctx).Save(d).Error; err != nil {
		return errors.Wrapf(translate(err, "delivery not found"), "saving delivery %d", d.ID)
	}
	return nil
}

func (r *deliveryRepo) CountByStatus(ctx context.Context, scope DeliveryScope) (map[string]int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Delivery{}).Where("is_active = ?", true)
	if scope.ClientID != 0 {
		q = q.Where("client_id = ?", scope.ClientID)
	}
	if scope.DriverID != 0 {
		q = q.Where("driver_id = ?", scope.DriverID)
	}

	var rows []struct {
		Status string
		N      int64
	}
	if err := q.Select("status, count(*) as n").Group("status").Scan(&rows).Error; err != nil {
		return nil, translate(err, "delivery not found")
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}
