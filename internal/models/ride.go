package models

import (
	"fmt"
	"strings"
	"time"
)

// VehicleClass selects the fare table and the driver pool.
type VehicleClass string

const (
	VehicleBike VehicleClass = "bike"
	VehicleAuto VehicleClass = "auto"
)

func ParseVehicleClass(s string) (VehicleClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bike":
		return VehicleBike, nil
	case "auto":
		return VehicleAuto, nil
	}
	return "", fmt.Errorf("unknown vehicle class %q", s)
}

// PaymentMethod is chosen by the rider before the ride is created. The
// driver app flips PaymentCollected once money changes hands.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentOnline PaymentMethod = "online"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cash":
		return PaymentCash, nil
	case "online", "qr":
		// the rider UI offers "QR" which settles online
		return PaymentOnline, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// Ride is the authoritative trip record. It is owned by the remote store and
// mutated collaboratively: the rider client creates and cancels, the driver
// client assigns itself and advances the status.
type Ride struct {
	ID               string        `json:"id"`
	RiderID          string        `json:"userId"`
	DriverID         string        `json:"driverId,omitempty"`
	Pickup           Coordinate    `json:"pickup"`
	Dropoff          Coordinate    `json:"dropoff"`
	VehicleClass     VehicleClass  `json:"vehicleType"`
	Status           RideStatus    `json:"status"`
	Fare             int           `json:"fare"`
	DistanceMeters   int           `json:"distance"`
	DurationSeconds  int           `json:"duration"`
	PaymentMethod    PaymentMethod `json:"paymentMethod"`
	PaymentCollected bool          `json:"paymentCollected"`
	CustomerName     string        `json:"customerName,omitempty"`
	CustomerPhone    string        `json:"customerPhone,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// CheckInvariant verifies the driver/status coupling: a ride never carries a
// driver while still booked, and never loses its driver once matched.
func (r *Ride) CheckInvariant() error {
	if r.Status == StatusBooked && r.DriverID != "" {
		return fmt.Errorf("ride %s: driver %s assigned while status is booked", r.ID, r.DriverID)
	}
	if r.Status != StatusBooked && r.Status != StatusCancelled && r.DriverID == "" {
		return fmt.Errorf("ride %s: status %q with no driver assigned", r.ID, r.Status)
	}
	return nil
}

// DriverPresence is the ephemeral location record a driver client keeps
// updated at its own cadence. The rider side only reads it.
type DriverPresence struct {
	DriverID        string     `json:"id"`
	Location        Coordinate `json:"location"`
	Name            string     `json:"name"`
	VehicleType     string     `json:"vehicleType"`
	VehicleNumber   string     `json:"vehicleNumber"`
	LicenseNumber   string     `json:"licenseNumber"`
	ProfilePhotoURL string     `json:"profilePhotoUrl"`
	Mobile          string     `json:"mobile"`
	Updated         time.Time  `json:"updated"`
}
