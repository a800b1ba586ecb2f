package booking

import (
	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/routes"
)

// Phase names the arm of the booking state union the rider is in.
type Phase string

const (
	PhaseSelecting       Phase = "selecting"
	PhaseAwaitingPayment Phase = "awaiting_payment"
	PhaseSearching       Phase = "searching"
	PhaseTracking        Phase = "tracking"
)

// State is the controller's presentation state. It is always derivable from
// (local selections) x (latest ride snapshot) x (latest presence snapshot);
// the remote ride document stays the single source of truth for status,
// driver, and payment fields.
type State struct {
	Phase      Phase
	FareChoice models.VehicleClass

	RideID string
	Ride   *models.Ride
	Driver *models.DriverPresence
	// DriverLocated reports whether Driver carries a real position. A
	// resolved driver whose presence doc is missing has none; the marker
	// and the driver->pickup route wait for the first located push.
	DriverLocated bool

	// Route geometry currently displayed. RouteOK distinguishes "resolved"
	// from "unavailable"; in Selecting an unavailable route disables Confirm.
	Route   routes.Result
	RouteOK bool

	// Err is the inline error message (the Error arm of the union).
	Err string
	// Banner is a transient notification: driver arrival, payment received,
	// cancellation.
	Banner string

	Booking    bool // ride creation in flight
	Cancelling bool // cancel write in flight
	Exiting    bool // auto-exit timer armed
	Done       bool // session left the booking context
}

// CurrentStatus reports the live ride status, if any. The navigation guard
// keys off this.
func (s State) CurrentStatus() (models.RideStatus, bool) {
	if s.Ride == nil {
		return "", false
	}
	return s.Ride.Status, true
}

// event is the closed set of inputs the reducer understands: user commands,
// store pushes, route results, and timer expiries.
type event interface{ isEvent() }

type evVehicleSelected struct{ Class models.VehicleClass }
type evConfirmFare struct{}
type evPaymentChosen struct{ Method models.PaymentMethod }
type evRideCreated struct{ RideID string }
type evCreateFailed struct{ Message string }
type evRidePush struct {
	RideID string
	Ride   models.Ride
}
type evDriverResolved struct {
	RideID  string
	Driver  models.DriverPresence
	Located bool
}
type evDriverPush struct {
	DriverID string
	Driver   models.DriverPresence
}
type evCancelRequested struct{}
type evCancelConfirmed struct{}
type evCancelFailed struct{ Message string }
type evSelectionRoute struct {
	Result routes.Result
	OK     bool
}
type evTrackingRoute struct {
	Seq    uint64
	Result routes.Result
	OK     bool
}
type evBannerExpired struct{}
type evAutoExit struct{}
type evSubscriptionBroken struct{ Message string }
type evRecovered struct{ Ride models.Ride }

func (evVehicleSelected) isEvent()    {}
func (evConfirmFare) isEvent()        {}
func (evPaymentChosen) isEvent()      {}
func (evRideCreated) isEvent()        {}
func (evCreateFailed) isEvent()       {}
func (evRidePush) isEvent()           {}
func (evDriverResolved) isEvent()     {}
func (evDriverPush) isEvent()         {}
func (evCancelRequested) isEvent()    {}
func (evCancelConfirmed) isEvent()    {}
func (evCancelFailed) isEvent()       {}
func (evSelectionRoute) isEvent()     {}
func (evTrackingRoute) isEvent()      {}
func (evBannerExpired) isEvent()      {}
func (evAutoExit) isEvent()           {}
func (evSubscriptionBroken) isEvent() {}
func (evRecovered) isEvent()          {}

// reduce is the pure transition function. It performs no I/O; the
// controller's loop reads the before/after states to decide which effects
// (writes, subscriptions, route fetches, timers) to run.
func reduce(s State, ev event) State {
	switch ev := ev.(type) {

	case evVehicleSelected:
		if s.Phase == PhaseSelecting {
			s.FareChoice = ev.Class
		}

	case evSelectionRoute:
		if s.Phase == PhaseSelecting || s.Phase == PhaseAwaitingPayment {
			s.Route = ev.Result
			s.RouteOK = ev.OK
			if !ev.OK {
				s.Err = "No route found between selected locations."
			} else {
				s.Err = ""
			}
		}

	case evConfirmFare:
		// guard: confirm is disabled until the route has resolved
		if s.Phase == PhaseSelecting && s.RouteOK {
			s.Phase = PhaseAwaitingPayment
			s.Err = ""
		}

	case evPaymentChosen:
		if s.Phase == PhaseAwaitingPayment && !s.Booking {
			s.Booking = true
			s.Err = ""
		}

	case evRideCreated:
		if s.Phase == PhaseAwaitingPayment {
			s.Booking = false
			s.Phase = PhaseSearching
			s.RideID = ev.RideID
		}

	case evCreateFailed:
		// stay in AwaitingPayment and surface the error
		if s.Phase == PhaseAwaitingPayment {
			s.Booking = false
			s.Err = ev.Message
		}

	case evRidePush:
		if ev.RideID != s.RideID {
			break // stale push from a ride we already left
		}
		r := ev.Ride
		s.Ride = &r
		switch s.Phase {
		case PhaseSearching:
			if r.Status == models.StatusCancelled {
				return resetToSelecting(s, "Ride cancelled.")
			}
		case PhaseTracking:
			switch {
			case r.Status == models.StatusArrivedPickup:
				s.Banner = "Your captain has arrived."
			case r.Status == models.StatusCompleted && r.PaymentCollected:
				s.Banner = "Payment received. Thank you for riding with us!"
				s.Exiting = true
			case r.Status == models.StatusCompleted:
				s.Exiting = true
			case r.Status == models.StatusCancelled:
				s.Banner = "Ride cancelled."
				s.Exiting = true
			}
		}

	case evDriverResolved:
		inSearch := s.Phase == PhaseSearching
		recovering := s.Phase == PhaseTracking && s.Driver == nil
		if ev.RideID == s.RideID && (inSearch || recovering) {
			d := ev.Driver
			s.Driver = &d
			s.DriverLocated = ev.Located
			s.Phase = PhaseTracking
		}

	case evDriverPush:
		if s.Phase == PhaseTracking && s.Driver != nil && s.Driver.DriverID == ev.DriverID {
			d := ev.Driver
			s.Driver = &d
			s.DriverLocated = d.Location.Valid()
		}

	case evCancelRequested:
		if (s.Phase == PhaseSearching || s.Phase == PhaseTracking) && !s.Cancelling {
			s.Cancelling = true
			s.Err = ""
		}

	case evCancelConfirmed:
		if s.Cancelling {
			return resetToSelecting(s, "")
		}

	case evCancelFailed:
		// the write did not land: local state must not run ahead of the store
		if s.Cancelling {
			s.Cancelling = false
			s.Err = ev.Message
		}

	case evTrackingRoute:
		if s.Phase == PhaseTracking {
			s.Route = ev.Result
			s.RouteOK = ev.OK
		}

	case evBannerExpired:
		s.Banner = ""

	case evAutoExit:
		// only honored while the exit is still pending: a cancel that reset
		// the session to Selecting invalidates an already-armed expiry
		if s.Exiting {
			s.Done = true
		}

	case evSubscriptionBroken:
		// stream is torn down and not retried; the view stalls with a note
		s.Err = ev.Message

	case evRecovered:
		r := ev.Ride
		s.Ride = &r
		s.RideID = r.ID
		if r.DriverID == "" {
			s.Phase = PhaseSearching
		} else {
			s.Phase = PhaseTracking
		}
	}
	return s
}

func resetToSelecting(s State, errMsg string) State {
	return State{
		Phase:      PhaseSelecting,
		FareChoice: s.FareChoice,
		Route:      s.Route,
		RouteOK:    s.RouteOK,
		Err:        errMsg,
	}
}
