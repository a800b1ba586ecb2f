package eta

import (
	"math"
	"testing"
	"time"

	"github.com/codebylalit/skooty/internal/models"
)

func TestHaversineKnownDistance(t *testing.T) {
	// Hyderabad to Secunderabad, roughly 6.2 km
	a := models.Coordinate{Latitude: 17.385, Longitude: 78.4867}
	b := models.Coordinate{Latitude: 17.4399, Longitude: 78.4983}
	d := HaversineMeters(a, b)
	if d < 6000 || d > 6500 {
		t.Fatalf("distance = %.0fm, want ~6200m", d)
	}
	if HaversineMeters(a, a) != 0 {
		t.Fatal("zero distance expected for identical points")
	}
}

func TestEstimateSecondsUsesDefaultSpeed(t *testing.T) {
	a := models.Coordinate{Latitude: 17.385, Longitude: 78.4867}
	b := models.Coordinate{Latitude: 17.4399, Longitude: 78.4983}
	d := HaversineMeters(a, b)
	got := EstimateSeconds(a, b, 0)
	if math.Abs(got-d/DefaultCitySpeedMps) > 1e-9 {
		t.Fatalf("estimate = %.1fs, want %.1fs", got, d/DefaultCitySpeedMps)
	}
}

func TestCacheExpiry(t *testing.T) {
	a := models.Coordinate{Latitude: 1, Longitude: 1}
	b := models.Coordinate{Latitude: 2, Longitude: 2}
	c := NewCache(10 * time.Millisecond)

	if _, ok := c.Get(a, b); ok {
		t.Fatal("empty cache hit")
	}
	c.Set(a, b, 42)
	if v, ok := c.Get(a, b); !ok || v != 42 {
		t.Fatalf("cache get = %v, %v", v, ok)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expired entry served")
	}
}
