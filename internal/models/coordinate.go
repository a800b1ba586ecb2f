package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both components are finite numbers.
func (c Coordinate) Valid() bool {
	return !math.IsNaN(c.Latitude) && !math.IsInf(c.Latitude, 0) &&
		!math.IsNaN(c.Longitude) && !math.IsInf(c.Longitude, 0)
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.5f,%.5f", c.Latitude, c.Longitude)
}

// NormalizeCoordinate accepts JSON shaped either {latitude,longitude} or
// {lat,lng} and returns the coordinate. Any other shape, or a non-finite
// component, reports ok=false ("no coordinate"); inputs are never coerced
// beyond these two spellings.
func NormalizeCoordinate(raw json.RawMessage) (Coordinate, bool) {
	if len(raw) == 0 {
		return Coordinate{}, false
	}
	var shape struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Lat       *float64 `json:"lat"`
		Lng       *float64 `json:"lng"`
	}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return Coordinate{}, false
	}
	var c Coordinate
	switch {
	case shape.Latitude != nil && shape.Longitude != nil:
		c = Coordinate{Latitude: *shape.Latitude, Longitude: *shape.Longitude}
	case shape.Lat != nil && shape.Lng != nil:
		c = Coordinate{Latitude: *shape.Lat, Longitude: *shape.Lng}
	default:
		return Coordinate{}, false
	}
	if !c.Valid() {
		return Coordinate{}, false
	}
	return c, true
}
