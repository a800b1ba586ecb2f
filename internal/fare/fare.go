// Package fare computes trip prices. There is exactly one rate table; every
// surface that shows or records a fare goes through Calculator so display
// and booking can never disagree.
package fare

import (
	"math"

	"github.com/codebylalit/skooty/internal/models"
)

// Per-kilometre rates in rupees.
const (
	BikeRatePerKm = 4
	AutoRatePerKm = 6
)

// Calculator maps (vehicle class, distance) to a whole-rupee price.
type Calculator struct {
	rates map[models.VehicleClass]float64
}

func NewCalculator() *Calculator {
	return &Calculator{rates: map[models.VehicleClass]float64{
		models.VehicleBike: BikeRatePerKm,
		models.VehicleAuto: AutoRatePerKm,
	}}
}

// Fare returns round(km * rate). Rounding is math.Round, i.e. half away from
// zero; with non-negative distances that is round-half-up everywhere.
// A fare is computed once at ride creation and never recomputed afterward.
func (c *Calculator) Fare(class models.VehicleClass, distanceMeters int) int {
	rate, ok := c.rates[class]
	if !ok || distanceMeters < 0 {
		return 0
	}
	km := float64(distanceMeters) / 1000
	return int(math.Round(km * rate))
}

// Quote lists the fare for every vehicle class at the given distance, for
// the selection screen.
func (c *Calculator) Quote(distanceMeters int) map[models.VehicleClass]int {
	out := make(map[models.VehicleClass]int, len(c.rates))
	for class := range c.rates {
		out[class] = c.Fare(class, distanceMeters)
	}
	return out
}
