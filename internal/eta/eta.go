// Package eta provides straight-line arrival estimates for surfaces that do
// not warrant a routing round-trip: the nearby-drivers listing and the
// tracking view's fallback when the route service is unavailable.
package eta

import (
	"math"
	"sync"
	"time"

	"github.com/codebylalit/skooty/internal/models"
)

// DefaultCitySpeedMps is the assumed average speed (~28.8 km/h).
const DefaultCitySpeedMps = 8.0

// EstimateSeconds is distance over speed on the haversine arc. A routing
// engine answer always wins when one is available.
func EstimateSeconds(from, to models.Coordinate, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = DefaultCitySpeedMps
	}
	return HaversineMeters(from, to) / speedMps
}

// HaversineMeters is the great-circle distance between two coordinates.
func HaversineMeters(a, b models.Coordinate) float64 {
	const earthRadius = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(b.Latitude - a.Latitude)
	dLng := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Cache is a small TTL cache for estimates keyed by coordinate pair, used by
// the nearby-drivers endpoint to avoid recomputing per poll.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coordinate) string { return a.String() + "->" + b.String() }

func (c *Cache) Get(a, b models.Coordinate) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

func (c *Cache) Set(a, b models.Coordinate, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}
