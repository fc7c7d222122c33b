package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"logitrack/internal/apperr"
	"logitrack/internal/models"
	"logitrack/internal/realtime"
	"logitrack/internal/repository"
)

// fakeDeliveries is an in-memory repository.Deliveries.
type fakeDeliveries struct {
	mu    sync.Mutex
	seq   uint
	items map[uint]models.Delivery

	// conflictsLeft makes the next N creates fail with a tracking-code
	// conflict.
	conflictsLeft int
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{items: make(map[uint]models.Delivery)}
}

func (f *fakeDeliveries) Create(_ context.Context, d *models.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictsLeft > 0 {
		f.conflictsLeft--
		return apperr.Conflict("duplicate value for a unique field")
	}
	for _, existing := range f.items {
		if existing.TrackingCode == d.TrackingCode {
			return apperr.Conflict("duplicate value for a unique field")
		}
	}
	f.seq++
	d.ID = f.seq
	d.CreatedAt = time.Now()
	f.items[d.ID] = *d
	return nil
}

func (f *fakeDeliveries) ByID(_ context.Context, id uint) (*models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.items[id]
	if !ok || !d.IsActive {
		return nil, apperr.NotFound("delivery not found")
	}
	out := d
	return &out, nil
}

func (f *fakeDeliveries) ByTrackingCode(_ context.Context, code string) (*models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.items {
		if d.TrackingCode == code && d.IsActive {
			out := d
			return &out, nil
		}
	}
	return nil, apperr.NotFound("delivery not found")
}

func (f *fakeDeliveries) ByIDs(_ context.Context, ids []uint, statuses []string) ([]models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wantStatus := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		wantStatus[s] = true
	}
	var out []models.Delivery
	for _, id := range ids {
		d, ok := f.items[id]
		if !ok || !d.IsActive {
			continue
		}
		if len(statuses) > 0 && !wantStatus[d.Status] {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDeliveries) selectAll(match func(models.Delivery) bool, opts repository.ListOptions) ([]models.Delivery, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts = opts.Normalize()
	var all []models.Delivery
	for _, d := range f.items {
		if !d.IsActive || !match(d) {
			continue
		}
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := opts.Offset()
	if start > len(all) {
		return nil, total, nil
	}
	end := start + opts.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (f *fakeDeliveries) ListByClient(_ context.Context, clientID uint, opts repository.ListOptions) ([]models.Delivery, int64, error) {
	return f.selectAll(func(d models.Delivery) bool { return d.ClientID == clientID }, opts)
}

func (f *fakeDeliveries) ListByDriver(_ context.Context, driverID uint, opts repository.ListOptions) ([]models.Delivery, int64, error) {
	return f.selectAll(func(d models.Delivery) bool { return d.DriverID != nil && *d.DriverID == driverID }, opts)
}

func (f *fakeDeliveries) ListAll(_ context.Context, opts repository.ListOptions) ([]models.Delivery, int64, error) {
	return f.selectAll(func(models.Delivery) bool { return true }, opts)
}

func (f *fakeDeliveries) Save(_ context.Context, d *models.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[d.ID] = *d
	return nil
}

func (f *fakeDeliveries) CountByStatus(_ context.Context, scope repository.DeliveryScope) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	for _, d := range f.items {
		if !d.IsActive {
			continue
		}
		if scope.ClientID != 0 && d.ClientID != scope.ClientID {
			continue
		}
		if scope.DriverID != 0 && (d.DriverID == nil || *d.DriverID != scope.DriverID) {
			continue
		}
		counts[d.Status]++
	}
	return counts, nil
}

// put seeds a delivery directly, bypassing Create.
func (f *fakeDeliveries) put(d models.Delivery) models.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == 0 {
		f.seq++
		d.ID = f.seq
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.IsActive = true
	f.items[d.ID] = d
	return d
}

func (f *fakeDeliveries) get(id uint) models.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

// fakePings is an in-memory repository.Pings.
type fakePings struct {
	mu    sync.Mutex
	seq   uint
	items []models.LocationPing
}

func newFakePings() *fakePings {
	return &fakePings{}
}

func (f *fakePings) Create(_ context.Context, p *models.LocationPing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	p.ID = f.seq
	f.items = append(f.items, *p)
	return nil
}

func (f *fakePings) CreateBatch(ctx context.Context, ps []*models.LocationPing) error {
	for _, p := range ps {
		if err := f.Create(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakePings) valid(match func(models.LocationPing) bool) []models.LocationPing {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LocationPing
	for _, p := range f.items {
		if p.IsValid && match(p) {
			out = append(out, p)
		}
	}
	return out
}

func latestOf(ps []models.LocationPing) (*models.LocationPing, error) {
	if len(ps) == 0 {
		return nil, apperr.NotFound("no location found")
	}
	best := ps[0]
	for _, p := range ps[1:] {
		if p.LocationTimestamp.After(best.LocationTimestamp) {
			best = p
		}
	}
	return &best, nil
}

func (f *fakePings) LatestForDelivery(_ context.Context, deliveryID uint) (*models.LocationPing, error) {
	return latestOf(f.valid(func(p models.LocationPing) bool { return p.DeliveryID == deliveryID }))
}

func (f *fakePings) LatestForDriver(_ context.Context, driverID uint) (*models.LocationPing, error) {
	return latestOf(f.valid(func(p models.LocationPing) bool { return p.DriverID == driverID }))
}

func (f *fakePings) History(_ context.Context, deliveryID uint, opts repository.HistoryOptions) ([]models.LocationPing, int64, error) {
	opts = opts.Normalize()
	ps := f.valid(func(p models.LocationPing) bool {
		if p.DeliveryID != deliveryID {
			return false
		}
		if opts.Start != nil && opts.End != nil {
			return !p.LocationTimestamp.Before(*opts.Start) && !p.LocationTimestamp.After(*opts.End)
		}
		return true
	})
	sort.Slice(ps, func(i, j int) bool { return ps[i].LocationTimestamp.After(ps[j].LocationTimestamp) })
	total := int64(len(ps))
	start := opts.Offset()
	if start > len(ps) {
		return nil, total, nil
	}
	end := start + opts.Limit
	if end > len(ps) {
		end = len(ps)
	}
	return ps[start:end], total, nil
}

func (f *fakePings) AllForDelivery(_ context.Context, deliveryID uint) ([]models.LocationPing, error) {
	ps := f.valid(func(p models.LocationPing) bool { return p.DeliveryID == deliveryID })
	sort.Slice(ps, func(i, j int) bool { return ps[i].LocationTimestamp.Before(ps[j].LocationTimestamp) })
	return ps, nil
}

func (f *fakePings) RecentSince(_ context.Context, since time.Time) ([]models.LocationPing, error) {
	return f.valid(func(p models.LocationPing) bool { return !p.LocationTimestamp.Before(since) }), nil
}

func (f *fakePings) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// fakeBroadcaster records published events.
type fakeBroadcaster struct {
	mu        sync.Mutex
	statuses  []realtime.StatusUpdate
	locations []*models.LocationPing
}

func (b *fakeBroadcaster) PublishStatus(deliveryID uint, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses = append(b.statuses, realtime.StatusUpdate{DeliveryID: deliveryID, Status: status})
}

func (b *fakeBroadcaster) PublishLocation(ping *models.LocationPing) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.locations = append(b.locations, ping)
}

func (b *fakeBroadcaster) statusEvents() []realtime.StatusUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]realtime.StatusUpdate, len(b.statuses))
	copy(out, b.statuses)
	return out
}

func (b *fakeBroadcaster) locationEvents() []*models.LocationPing {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.LocationPing, len(b.locations))
	copy(out, b.locations)
	return out
}

func newTestServices() (*DeliveryService, *LocationService, *fakeDeliveries, *fakePings, *fakeBroadcaster) {
	deliveries := newFakeDeliveries()
	pings := newFakePings()
	bc := &fakeBroadcaster{}
	return NewDeliveryService(deliveries, pings, bc),
		NewLocationService(deliveries, pings, bc),
		deliveries, pings, bc
}

func ptr[T any](v T) *T { return &v }
