package models

import (
	"fmt"
	"strings"
)

// RideStatus is the closed set of ride lifecycle states. The underlying
// string values are the exact labels stored in the ride document; several
// consumers (including the driver app) display them verbatim, so the mixed
// casing is part of the wire contract and must not be rewritten.
type RideStatus string

const (
	StatusBooked         RideStatus = "booked"
	StatusDriverEnRoute  RideStatus = "Driver on the way"
	StatusArrivedPickup  RideStatus = "Arrived at pickup"
	StatusRideInProgress RideStatus = "Ride in progress"
	StatusCompleted      RideStatus = "Completed"
	StatusCancelled      RideStatus = "cancelled"
)

// statusOrder gives the monotonic progression Booked -> ... -> Completed.
// Cancelled sits outside the ordering and is reachable from any
// non-terminal state.
var statusOrder = map[RideStatus]int{
	StatusBooked:         0,
	StatusDriverEnRoute:  1,
	StatusArrivedPickup:  2,
	StatusRideInProgress: 3,
	StatusCompleted:      4,
}

var allStatuses = []RideStatus{
	StatusBooked,
	StatusDriverEnRoute,
	StatusArrivedPickup,
	StatusRideInProgress,
	StatusCompleted,
	StatusCancelled,
}

// ParseRideStatus is the single normalization boundary for status strings
// read back from the store: it matches case-insensitively and returns the
// canonical constant. Writes always emit the canonical label.
func ParseRideStatus(s string) (RideStatus, error) {
	for _, st := range allStatuses {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown ride status %q", s)
}

func (s RideStatus) String() string { return string(s) }

// Terminal reports whether no further field mutation is valid.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether the ride still needs the rider's attention. Used by
// the active-ride recovery query at controller startup.
func (s RideStatus) Active() bool {
	switch s {
	case StatusBooked, StatusDriverEnRoute, StatusArrivedPickup, StatusRideInProgress:
		return true
	}
	return false
}

// CanTransitionTo enforces the lifecycle: forward moves only, plus
// cancellation from any non-terminal state.
func (s RideStatus) CanTransitionTo(next RideStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	from, okFrom := statusOrder[s]
	to, okTo := statusOrder[next]
	return okFrom && okTo && to > from
}
