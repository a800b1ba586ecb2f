// Package ride abstracts the remote ride-document store: creation, field
// patches, point-in-time queries, and push subscriptions that deliver the
// current snapshot immediately and every change afterwards.
package ride

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/codebylalit/skooty/internal/models"
)

// ErrNotFound is returned when the referenced document does not exist.
var ErrNotFound = errors.New("ride: not found")

// CreateRideInput is the payload for a new ride record. The store assigns
// the id and stamps status=booked.
type CreateRideInput struct {
	RiderID         string
	Pickup          models.Coordinate
	Dropoff         models.Coordinate
	VehicleClass    models.VehicleClass
	Fare            int
	DistanceMeters  int
	DurationSeconds int
	PaymentMethod   models.PaymentMethod
	CustomerName    string
	CustomerPhone   string
}

// Validate applies the creation preconditions: an authenticated rider,
// finite coordinates, and a resolved route.
func (in *CreateRideInput) Validate() error {
	if in.RiderID == "" {
		return &ValidationError{Field: "riderId", Reason: "missing auth identity"}
	}
	if !in.Pickup.Valid() {
		return &ValidationError{Field: "pickup", Reason: "no coordinate"}
	}
	if !in.Dropoff.Valid() {
		return &ValidationError{Field: "dropoff", Reason: "no coordinate"}
	}
	if in.DistanceMeters <= 0 || in.DurationSeconds <= 0 {
		return &ValidationError{Field: "route", Reason: "missing distance or duration"}
	}
	if in.PaymentMethod != models.PaymentCash && in.PaymentMethod != models.PaymentOnline {
		return &ValidationError{Field: "paymentMethod", Reason: "must be cash or online"}
	}
	return nil
}

// Patch is a partial update to a ride document. Nil fields are untouched.
type Patch struct {
	Status           *models.RideStatus
	DriverID         *string
	PaymentCollected *bool
}

// StatusPatch builds the common single-field patch.
func StatusPatch(s models.RideStatus) Patch { return Patch{Status: &s} }

// Repository is the contract the booking controller is written against. A
// controller holds at most one live subscription of each kind; establishing
// a new one first releases the previous.
type Repository interface {
	// CreateRide persists a new ride (status=booked, no driver) and returns
	// its id. Fails with *ValidationError or *WriteError.
	CreateRide(ctx context.Context, in CreateRideInput) (string, error)
	// UpdateRide applies a patch. Callers must not assume success without
	// confirmation; failures are *WriteError.
	UpdateRide(ctx context.Context, rideID string, patch Patch) error
	// SubscribeRide streams the ride document, current snapshot first.
	SubscribeRide(ctx context.Context, rideID string) (*RideSubscription, error)
	// SubscribeDriver streams a driver's presence, current snapshot first.
	SubscribeDriver(ctx context.Context, driverID string) (*DriverSubscription, error)
	// GetDriverPresence reads the presence document once.
	GetDriverPresence(ctx context.Context, driverID string) (*models.DriverPresence, error)
	// FindActiveRide is a point-in-time scan for the rider's live trip, used
	// only at controller initialization. Returns nil when there is none.
	FindActiveRide(ctx context.Context, userID string) (*models.Ride, error)
	// ListOpenRides returns unassigned booked rides for driver self-select.
	ListOpenRides(ctx context.Context) ([]models.Ride, error)
	// AcceptRide assigns a driver to an open ride, moving it to
	// "Driver on the way" atomically.
	AcceptRide(ctx context.Context, rideID, driverID string) error
}

// RideSubscription is a cancellable stream of ride snapshots. A broken
// stream emits one *SubscriptionError on Errs and closes Updates; it is not
// retried automatically.
type RideSubscription struct {
	updates chan models.Ride
	errs    chan error
	stop    func()
}

func (s *RideSubscription) Updates() <-chan models.Ride { return s.updates }
func (s *RideSubscription) Errs() <-chan error          { return s.errs }
func (s *RideSubscription) Close() {
	if s.stop != nil {
		s.stop()
	}
}

// DriverSubscription streams presence snapshots, location fields included.
type DriverSubscription struct {
	updates chan models.DriverPresence
	errs    chan error
	stop    func()
}

func (s *DriverSubscription) Updates() <-chan models.DriverPresence { return s.updates }
func (s *DriverSubscription) Errs() <-chan error                    { return s.errs }
func (s *DriverSubscription) Close() {
	if s.stop != nil {
		s.stop()
	}
}

// decodeRide unmarshals a stored document and runs the status string through
// its single normalization boundary.
func decodeRide(data []byte) (models.Ride, error) {
	var r models.Ride
	if err := json.Unmarshal(data, &r); err != nil {
		return models.Ride{}, err
	}
	st, err := models.ParseRideStatus(string(r.Status))
	if err != nil {
		return models.Ride{}, err
	}
	r.Status = st
	return r, nil
}

// applyPatch mutates a copy of the ride, enforcing terminal-state and
// lifecycle rules, and reports whether anything changed.
func applyPatch(r models.Ride, p Patch) (models.Ride, error) {
	if r.Status.Terminal() && (p.Status != nil || p.DriverID != nil || p.PaymentCollected != nil) {
		return r, &ValidationError{Field: "status", Reason: "ride is already " + string(r.Status)}
	}
	if p.Status != nil {
		if !r.Status.CanTransitionTo(*p.Status) {
			return r, &ValidationError{Field: "status", Reason: "cannot move from " + string(r.Status) + " to " + string(*p.Status)}
		}
		r.Status = *p.Status
	}
	if p.DriverID != nil {
		r.DriverID = *p.DriverID
	}
	if p.PaymentCollected != nil {
		r.PaymentCollected = *p.PaymentCollected
	}
	if err := r.CheckInvariant(); err != nil {
		return r, &ValidationError{Field: "ride", Reason: err.Error()}
	}
	return r, nil
}
