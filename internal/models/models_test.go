package models

import (
	"encoding/json"
	"math"
	"testing"
)

func TestNormalizeCoordinateShapes(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Coordinate
		ok   bool
	}{
		{"long form", `{"latitude":17.385,"longitude":78.4867}`, Coordinate{17.385, 78.4867}, true},
		{"short form", `{"lat":17.385,"lng":78.4867}`, Coordinate{17.385, 78.4867}, true},
		{"zero island is valid", `{"lat":0,"lng":0}`, Coordinate{0, 0}, true},
		{"missing longitude", `{"latitude":17.385}`, Coordinate{}, false},
		{"lon spelling rejected", `{"lat":17.385,"lon":78.4867}`, Coordinate{}, false},
		{"empty object", `{}`, Coordinate{}, false},
		{"not an object", `"17.385,78.4867"`, Coordinate{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := NormalizeCoordinate(json.RawMessage(tc.raw))
			if ok != tc.ok || got != tc.want {
				t.Fatalf("NormalizeCoordinate(%s) = %v, %v; want %v, %v", tc.raw, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestNormalizeCoordinateEmpty(t *testing.T) {
	if _, ok := NormalizeCoordinate(nil); ok {
		t.Fatal("nil raw message normalized")
	}
}

func TestCoordinateValid(t *testing.T) {
	if (Coordinate{math.NaN(), 0}).Valid() {
		t.Error("NaN latitude accepted")
	}
	if (Coordinate{0, math.Inf(1)}).Valid() {
		t.Error("infinite longitude accepted")
	}
	if !(Coordinate{-90, 180}).Valid() {
		t.Error("finite coordinate rejected")
	}
}

func TestParseRideStatusCaseInsensitive(t *testing.T) {
	cases := map[string]RideStatus{
		"booked":            StatusBooked,
		"BOOKED":            StatusBooked,
		"driver on the way": StatusDriverEnRoute,
		"Driver on the way": StatusDriverEnRoute,
		"ARRIVED AT PICKUP": StatusArrivedPickup,
		"ride in progress":  StatusRideInProgress,
		"completed":         StatusCompleted,
		"Cancelled":         StatusCancelled,
	}
	for in, want := range cases {
		got, err := ParseRideStatus(in)
		if err != nil || got != want {
			t.Errorf("ParseRideStatus(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseRideStatus("en route"); err == nil {
		t.Error("unknown status accepted")
	}
}

func TestStatusTransitions(t *testing.T) {
	// forward moves allowed, including skips (the driver app can jump
	// straight to Ride in progress)
	if !StatusBooked.CanTransitionTo(StatusDriverEnRoute) {
		t.Error("booked -> driver on the way rejected")
	}
	if !StatusBooked.CanTransitionTo(StatusRideInProgress) {
		t.Error("booked -> ride in progress rejected")
	}
	if StatusRideInProgress.CanTransitionTo(StatusArrivedPickup) {
		t.Error("backward transition accepted")
	}
	// cancel from any non-terminal state
	for _, s := range []RideStatus{StatusBooked, StatusDriverEnRoute, StatusArrivedPickup, StatusRideInProgress} {
		if !s.CanTransitionTo(StatusCancelled) {
			t.Errorf("%s -> cancelled rejected", s)
		}
	}
	// terminal states admit nothing
	for _, s := range []RideStatus{StatusCompleted, StatusCancelled} {
		for _, next := range []RideStatus{StatusBooked, StatusDriverEnRoute, StatusCompleted, StatusCancelled} {
			if s.CanTransitionTo(next) {
				t.Errorf("terminal %s -> %s accepted", s, next)
			}
		}
	}
}

func TestParseVehicleClassAndPaymentMethod(t *testing.T) {
	if c, err := ParseVehicleClass(" Bike "); err != nil || c != VehicleBike {
		t.Errorf("ParseVehicleClass(Bike) = %v, %v", c, err)
	}
	if _, err := ParseVehicleClass("car"); err == nil {
		t.Error("unknown vehicle class accepted")
	}
	if m, err := ParsePaymentMethod("QR"); err != nil || m != PaymentOnline {
		t.Errorf("ParsePaymentMethod(QR) = %v, %v", m, err)
	}
	if m, err := ParsePaymentMethod("cash"); err != nil || m != PaymentCash {
		t.Errorf("ParsePaymentMethod(cash) = %v, %v", m, err)
	}
}

func TestRideCheckInvariant(t *testing.T) {
	r := Ride{ID: "r1", RiderID: "u1", Status: StatusBooked}
	if err := r.CheckInvariant(); err != nil {
		t.Fatalf("booked without driver: %v", err)
	}
	r.DriverID = "d1"
	if err := r.CheckInvariant(); err == nil {
		t.Fatal("booked with driver accepted")
	}
	r.Status = StatusDriverEnRoute
	if err := r.CheckInvariant(); err != nil {
		t.Fatalf("en route with driver: %v", err)
	}
	r.DriverID = ""
	if err := r.CheckInvariant(); err == nil {
		t.Fatal("en route without driver accepted")
	}
	// a ride cancelled before assignment never had a driver
	r.Status = StatusCancelled
	if err := r.CheckInvariant(); err != nil {
		t.Fatalf("cancelled without driver: %v", err)
	}
}
