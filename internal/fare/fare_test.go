package fare

import (
	"testing"

	"github.com/codebylalit/skooty/internal/models"
)

func TestFareRates(t *testing.T) {
	c := NewCalculator()
	cases := []struct {
		class  models.VehicleClass
		meters int
		want   int
	}{
		{models.VehicleBike, 5000, 20},
		{models.VehicleAuto, 5000, 30},
		{models.VehicleBike, 0, 0},
		{models.VehicleAuto, 0, 0},
		{models.VehicleBike, 1000, 4},
		{models.VehicleAuto, 1000, 6},
		// half-up at the boundary: 2.125 km * 4 = 8.5 -> 9
		{models.VehicleBike, 2125, 9},
		// 1.4166... km * 6 = 8.4999 -> 8
		{models.VehicleAuto, 1416, 8},
	}
	for _, tc := range cases {
		if got := c.Fare(tc.class, tc.meters); got != tc.want {
			t.Errorf("Fare(%s, %dm) = %d, want %d", tc.class, tc.meters, got, tc.want)
		}
	}
}

func TestFareUnknownClassAndNegativeDistance(t *testing.T) {
	c := NewCalculator()
	if got := c.Fare(models.VehicleClass("rickshaw"), 5000); got != 0 {
		t.Errorf("unknown class fare = %d, want 0", got)
	}
	if got := c.Fare(models.VehicleBike, -100); got != 0 {
		t.Errorf("negative distance fare = %d, want 0", got)
	}
}

func TestFareMonotonicInDistance(t *testing.T) {
	c := NewCalculator()
	prev := -1
	for meters := 0; meters <= 20000; meters += 250 {
		got := c.Fare(models.VehicleAuto, meters)
		if got < prev {
			t.Fatalf("fare decreased: %dm -> %d, previous %d", meters, got, prev)
		}
		prev = got
	}
}

func TestQuoteCoversEveryClass(t *testing.T) {
	q := NewCalculator().Quote(5000)
	if q[models.VehicleBike] != 20 || q[models.VehicleAuto] != 30 {
		t.Fatalf("Quote(5000m) = %v", q)
	}
	if len(q) != 2 {
		t.Fatalf("Quote has %d classes, want 2", len(q))
	}
}
