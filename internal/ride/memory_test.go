package ride

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/codebylalit/skooty/internal/models"
)

func validInput() CreateRideInput {
	return CreateRideInput{
		RiderID:         "user-1",
		Pickup:          models.Coordinate{Latitude: 17.385, Longitude: 78.4867},
		Dropoff:         models.Coordinate{Latitude: 17.4399, Longitude: 78.4983},
		VehicleClass:    models.VehicleBike,
		Fare:            20,
		DistanceMeters:  5000,
		DurationSeconds: 900,
		PaymentMethod:   models.PaymentCash,
	}
}

func recvRide(t *testing.T, sub *RideSubscription) models.Ride {
	t.Helper()
	select {
	case r, ok := <-sub.Updates():
		if !ok {
			t.Fatal("subscription closed")
		}
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ride push")
	}
	return models.Ride{}
}

func TestCreateRideValidation(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	in := validInput()
	in.RiderID = ""
	_, err := repo.CreateRide(ctx, in)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "riderId" {
		t.Fatalf("missing rider error = %v", err)
	}

	in = validInput()
	in.DistanceMeters = 0
	if _, err := repo.CreateRide(ctx, in); !errors.As(err, &ve) {
		t.Fatalf("missing route error = %v", err)
	}
}

func TestCreateRideInitialDocument(t *testing.T) {
	repo := NewMemoryRepository(nil)
	id, err := repo.CreateRide(context.Background(), validInput())
	if err != nil {
		t.Fatal(err)
	}
	r, ok := repo.GetRide(id)
	if !ok {
		t.Fatal("ride not stored")
	}
	if r.Status != models.StatusBooked {
		t.Errorf("initial status = %q, want booked", r.Status)
	}
	if r.DriverID != "" {
		t.Errorf("initial driver = %q, want empty", r.DriverID)
	}
	if r.Fare != 20 || r.DistanceMeters != 5000 {
		t.Errorf("fare/distance = %d/%d", r.Fare, r.DistanceMeters)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestSubscribeDeliversSnapshotFirst(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()
	id, err := repo.CreateRide(ctx, validInput())
	if err != nil {
		t.Fatal(err)
	}
	sub, err := repo.SubscribeRide(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	first := recvRide(t, sub)
	if first.ID != id || first.Status != models.StatusBooked {
		t.Fatalf("snapshot = %+v", first)
	}

	if err := repo.AcceptRide(ctx, id, "driver-9"); err != nil {
		t.Fatal(err)
	}
	next := recvRide(t, sub)
	if next.Status != models.StatusDriverEnRoute || next.DriverID != "driver-9" {
		t.Fatalf("after accept = %+v", next)
	}
}

func TestSubscribeUnknownRide(t *testing.T) {
	repo := NewMemoryRepository(nil)
	if _, err := repo.SubscribeRide(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()
	id, _ := repo.CreateRide(ctx, validInput())
	sub, err := repo.SubscribeRide(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n := repo.RideSubscriberCount(id); n != 1 {
		t.Fatalf("subscriber count = %d", n)
	}
	sub.Close()
	sub.Close()
	if n := repo.RideSubscriberCount(id); n != 0 {
		t.Fatalf("subscriber count after close = %d", n)
	}
}

func TestAcceptRideClaimRace(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()
	id, _ := repo.CreateRide(ctx, validInput())

	if err := repo.AcceptRide(ctx, id, "driver-1"); err != nil {
		t.Fatal(err)
	}
	err := repo.AcceptRide(ctx, id, "driver-2")
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("second accept = %v, want WriteError", err)
	}
	r, _ := repo.GetRide(id)
	if r.DriverID != "driver-1" {
		t.Fatalf("driver = %q, want driver-1", r.DriverID)
	}
}

func TestUpdateRideRejectsTerminalAndBackwardMoves(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()
	id, _ := repo.CreateRide(ctx, validInput())
	repo.AcceptRide(ctx, id, "driver-1")

	if err := repo.UpdateRide(ctx, id, StatusPatch(models.StatusBooked)); err == nil {
		t.Fatal("backward transition accepted")
	}
	if err := repo.UpdateRide(ctx, id, StatusPatch(models.StatusCompleted)); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateRide(ctx, id, StatusPatch(models.StatusCancelled)); err == nil {
		t.Fatal("mutation after terminal state accepted")
	}
}

func TestFindActiveRide(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	if r, err := repo.FindActiveRide(ctx, "user-1"); err != nil || r != nil {
		t.Fatalf("empty store active ride = %v, %v", r, err)
	}

	id, _ := repo.CreateRide(ctx, validInput())
	repo.UpdateRide(ctx, id, StatusPatch(models.StatusCancelled))
	if r, _ := repo.FindActiveRide(ctx, "user-1"); r != nil {
		t.Fatalf("cancelled ride reported active: %+v", r)
	}

	id2, _ := repo.CreateRide(ctx, validInput())
	r, err := repo.FindActiveRide(ctx, "user-1")
	if err != nil || r == nil || r.ID != id2 {
		t.Fatalf("active ride = %v, %v; want %s", r, err, id2)
	}
}

func TestListOpenRides(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()
	id1, _ := repo.CreateRide(ctx, validInput())
	id2, _ := repo.CreateRide(ctx, validInput())
	repo.AcceptRide(ctx, id1, "driver-1")

	open, err := repo.ListOpenRides(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 1 || open[0].ID != id2 {
		t.Fatalf("open rides = %+v, want just %s", open, id2)
	}
}

func TestDriverPresencePush(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()

	repo.UpsertDriverPresence(models.DriverPresence{
		DriverID: "driver-1",
		Location: models.Coordinate{Latitude: 17.39, Longitude: 78.49},
		Name:     "Ravi",
	})

	sub, err := repo.SubscribeDriver(ctx, "driver-1")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	select {
	case d := <-sub.Updates():
		if d.Name != "Ravi" {
			t.Fatalf("snapshot = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial presence snapshot")
	}

	repo.UpsertDriverPresence(models.DriverPresence{
		DriverID: "driver-1",
		Location: models.Coordinate{Latitude: 17.40, Longitude: 78.50},
		Name:     "Ravi",
	})
	select {
	case d := <-sub.Updates():
		if d.Location.Latitude != 17.40 {
			t.Fatalf("update = %+v", d)
		}
	case <-time.After(time.Second):
		t.Fatal("no presence update")
	}
}

// A consumer that stops draining must not block the store; it just loses the
// oldest snapshots.
func TestSlowSubscriberDropsOldest(t *testing.T) {
	repo := NewMemoryRepository(nil)
	ctx := context.Background()
	id, _ := repo.CreateRide(ctx, validInput())
	sub, err := repo.SubscribeRide(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	repo.AcceptRide(ctx, id, "driver-1")
	// push far more than the buffer holds, then the terminal write
	for i := 0; i < 64; i++ {
		collected := i%2 == 0
		if err := repo.UpdateRide(ctx, id, Patch{PaymentCollected: &collected}); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.UpdateRide(ctx, id, StatusPatch(models.StatusCompleted)); err != nil {
		t.Fatal(err)
	}

	var last models.Ride
	deadline := time.After(time.Second)
drain:
	for {
		select {
		case r := <-sub.Updates():
			last = r
		case <-deadline:
			break drain
		default:
			break drain
		}
	}
	if last.Status != models.StatusCompleted {
		t.Fatalf("latest drained status = %q, want Completed", last.Status)
	}
}
