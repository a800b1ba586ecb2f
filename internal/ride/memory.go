package ride

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/observability"
)

// MemoryRepository is a full in-process implementation of Repository with
// real push semantics. It backs tests and the no-Redis local mode of the
// gateway; the driver simulator uses it too.
type MemoryRepository struct {
	mu         sync.Mutex
	rides      map[string]models.Ride
	order      []string // creation order, the store's default ordering
	drivers    map[string]models.DriverPresence
	rideSubs   map[string]map[*RideSubscription]struct{}
	driverSubs map[string]map[*DriverSubscription]struct{}
	logger     *slog.Logger
	now        func() time.Time
}

func NewMemoryRepository(logger *slog.Logger) *MemoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryRepository{
		rides:      make(map[string]models.Ride),
		drivers:    make(map[string]models.DriverPresence),
		rideSubs:   make(map[string]map[*RideSubscription]struct{}),
		driverSubs: make(map[string]map[*DriverSubscription]struct{}),
		logger:     logger,
		now:        time.Now,
	}
}

func (m *MemoryRepository) CreateRide(ctx context.Context, in CreateRideInput) (string, error) {
	if err := in.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	r := models.Ride{
		ID:              uuid.NewString(),
		RiderID:         in.RiderID,
		Pickup:          in.Pickup,
		Dropoff:         in.Dropoff,
		VehicleClass:    in.VehicleClass,
		Status:          models.StatusBooked,
		Fare:            in.Fare,
		DistanceMeters:  in.DistanceMeters,
		DurationSeconds: in.DurationSeconds,
		PaymentMethod:   in.PaymentMethod,
		CustomerName:    in.CustomerName,
		CustomerPhone:   in.CustomerPhone,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.rides[r.ID] = r
	m.order = append(m.order, r.ID)
	m.publishRideLocked(r)
	observability.BookingsCreatedTotal.Inc()
	return r.ID, nil
}

func (m *MemoryRepository) UpdateRide(ctx context.Context, rideID string, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return &WriteError{Op: "update", Err: ErrNotFound}
	}
	next, err := applyPatch(r, patch)
	if err != nil {
		return &WriteError{Op: "update", Err: err}
	}
	next.UpdatedAt = m.now().UTC()
	m.rides[rideID] = next
	m.publishRideLocked(next)
	return nil
}

func (m *MemoryRepository) AcceptRide(ctx context.Context, rideID, driverID string) error {
	if driverID == "" {
		return &WriteError{Op: "accept", Err: &ValidationError{Field: "driverId", Reason: "missing auth identity"}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return &WriteError{Op: "accept", Err: ErrNotFound}
	}
	if r.Status != models.StatusBooked || r.DriverID != "" {
		return &WriteError{Op: "accept", Err: &ValidationError{Field: "status", Reason: "ride is no longer open"}}
	}
	st := models.StatusDriverEnRoute
	next, err := applyPatch(r, Patch{Status: &st, DriverID: &driverID})
	if err != nil {
		return &WriteError{Op: "accept", Err: err}
	}
	next.UpdatedAt = m.now().UTC()
	m.rides[rideID] = next
	m.publishRideLocked(next)
	return nil
}

func (m *MemoryRepository) SubscribeRide(ctx context.Context, rideID string) (*RideSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	sub := &RideSubscription{
		updates: make(chan models.Ride, 16),
		errs:    make(chan error, 1),
	}
	set, ok := m.rideSubs[rideID]
	if !ok {
		set = make(map[*RideSubscription]struct{})
		m.rideSubs[rideID] = set
	}
	set[sub] = struct{}{}
	observability.ActiveSubscriptions.Inc()
	var once sync.Once
	sub.stop = func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.rideSubs[rideID], sub)
			close(sub.updates)
			m.mu.Unlock()
			observability.ActiveSubscriptions.Dec()
		})
	}
	// current snapshot first, no stale-until-first-write gap
	sub.updates <- r
	return sub, nil
}

func (m *MemoryRepository) SubscribeDriver(ctx context.Context, driverID string) (*DriverSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &DriverSubscription{
		updates: make(chan models.DriverPresence, 16),
		errs:    make(chan error, 1),
	}
	set, ok := m.driverSubs[driverID]
	if !ok {
		set = make(map[*DriverSubscription]struct{})
		m.driverSubs[driverID] = set
	}
	set[sub] = struct{}{}
	observability.ActiveSubscriptions.Inc()
	var once sync.Once
	sub.stop = func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.driverSubs[driverID], sub)
			close(sub.updates)
			m.mu.Unlock()
			observability.ActiveSubscriptions.Dec()
		})
	}
	if d, ok := m.drivers[driverID]; ok {
		sub.updates <- d
	}
	return sub, nil
}

func (m *MemoryRepository) GetDriverPresence(ctx context.Context, driverID string) (*models.DriverPresence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

// UpsertDriverPresence stands in for the driver client's location writes.
func (m *MemoryRepository) UpsertDriverPresence(d models.DriverPresence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.Updated = m.now().UTC()
	m.drivers[d.DriverID] = d
	for sub := range m.driverSubs[d.DriverID] {
		pushDriver(sub, d)
	}
}

func (m *MemoryRepository) FindActiveRide(ctx context.Context, userID string) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []models.Ride
	for _, id := range m.order {
		r := m.rides[id]
		if r.RiderID == userID && r.Status.Active() {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}
	if len(active) > 1 {
		m.logger.Warn("multiple active rides for user, picking first",
			"user_id", userID, "count", len(active))
	}
	r := active[0]
	return &r, nil
}

func (m *MemoryRepository) ListOpenRides(ctx context.Context) ([]models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []models.Ride
	for _, id := range m.order {
		r := m.rides[id]
		if r.Status == models.StatusBooked && r.DriverID == "" {
			open = append(open, r)
		}
	}
	return open, nil
}

// GetRide is a test convenience not part of the Repository contract.
func (m *MemoryRepository) GetRide(rideID string) (models.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	return r, ok
}

// RideSubscriberCount reports live subscriptions for a ride.
func (m *MemoryRepository) RideSubscriberCount(rideID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rideSubs[rideID])
}

func (m *MemoryRepository) publishRideLocked(r models.Ride) {
	for sub := range m.rideSubs[r.ID] {
		pushRide(sub, r)
	}
}

// pushRide delivers without blocking the store: when a slow consumer's
// buffer fills, the oldest snapshot is dropped in favour of the latest.
func pushRide(sub *RideSubscription, r models.Ride) {
	select {
	case sub.updates <- r:
	default:
		select {
		case <-sub.updates:
		default:
		}
		select {
		case sub.updates <- r:
		default:
		}
	}
}

func pushDriver(sub *DriverSubscription, d models.DriverPresence) {
	select {
	case sub.updates <- d:
	default:
		select {
		case <-sub.updates:
		default:
		}
		select {
		case sub.updates <- d:
		default:
		}
	}
}
