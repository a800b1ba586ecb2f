// Package booking owns the rider-side ride lifecycle: fare selection,
// payment choice, driver search, live trip tracking, and completion or
// cancellation. One Controller runs one rider's session as a single
// event-loop goroutine; every input (user commands, store pushes, route
// results, timers) arrives as an event on its inbox, and a pure reducer
// decides the transition before the loop runs the matching effects.
package booking

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codebylalit/skooty/internal/fare"
	"github.com/codebylalit/skooty/internal/marker"
	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/observability"
	"github.com/codebylalit/skooty/internal/polyline"
	"github.com/codebylalit/skooty/internal/ride"
	"github.com/codebylalit/skooty/internal/routes"
)

const (
	defaultAutoExitDelay      = 2 * time.Second
	defaultArrivalBannerDelay = 4 * time.Second
)

// Archiver receives terminal rides for the rider's trip history.
type Archiver interface {
	SaveRide(ctx context.Context, r models.Ride) error
}

// Config wires a controller. Repo and Routes are injected explicitly so
// tests can substitute fakes; there is no ambient store handle anywhere.
type Config struct {
	RiderID       string
	Pickup        models.Coordinate
	Dropoff       models.Coordinate
	CustomerName  string
	CustomerPhone string

	Repo    ride.Repository
	Routes  routes.Client
	Fares   *fare.Calculator
	Archive Archiver // optional
	Logger  *slog.Logger

	AutoExitDelay      time.Duration
	ArrivalBannerDelay time.Duration
}

// Snapshot is the renderable view of the session, streamed to the rider UI
// after every processed event.
type Snapshot struct {
	Phase           Phase                       `json:"phase"`
	FareChoice      models.VehicleClass         `json:"fareChoice"`
	Quotes          map[models.VehicleClass]int `json:"quotes,omitempty"`
	RouteAvailable  bool                        `json:"routeAvailable"`
	RoutePolyline   string                      `json:"routePolyline,omitempty"`
	DistanceMeters  int                         `json:"distanceMeters,omitempty"`
	DurationSeconds int                         `json:"durationSeconds,omitempty"`
	Ride            *models.Ride                `json:"ride,omitempty"`
	Driver          *models.DriverPresence      `json:"driver,omitempty"`
	MarkerPosition  *models.Coordinate          `json:"markerPosition,omitempty"`
	Banner          string                      `json:"banner,omitempty"`
	Error           string                      `json:"error,omitempty"`
	Done            bool                        `json:"done,omitempty"`
}

// Controller drives one booking session.
type Controller struct {
	cfg      Config
	log      *slog.Logger
	inbox    chan event
	updates  chan Snapshot
	animator *marker.Animator

	mu   sync.Mutex
	snap Snapshot

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned; never touched off the loop goroutine
	state           State
	rideSub         *ride.RideSubscription
	driverSub       *ride.DriverSubscription
	timers          []*time.Timer
	routeSeq        uint64
	lastRouteKey    string
	resolvingDriver bool
}

func New(cfg Config) (*Controller, error) {
	if cfg.RiderID == "" {
		return nil, &ride.ValidationError{Field: "riderId", Reason: "missing auth identity"}
	}
	if !cfg.Pickup.Valid() || !cfg.Dropoff.Valid() {
		return nil, &ride.ValidationError{Field: "coordinates", Reason: "no coordinate"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Fares == nil {
		cfg.Fares = fare.NewCalculator()
	}
	if cfg.AutoExitDelay <= 0 {
		cfg.AutoExitDelay = defaultAutoExitDelay
	}
	if cfg.ArrivalBannerDelay <= 0 {
		cfg.ArrivalBannerDelay = defaultArrivalBannerDelay
	}
	return &Controller{
		cfg:      cfg,
		log:      cfg.Logger.With("rider_id", cfg.RiderID),
		inbox:    make(chan event, 64),
		updates:  make(chan Snapshot, 16),
		animator: marker.NewAnimator(),
		done:     make(chan struct{}),
		state:    State{Phase: PhaseSelecting, FareChoice: models.VehicleBike},
	}, nil
}

// Start recovers any active ride for the rider, then launches the loop. It
// lands directly in Searching or Tracking when a live trip exists.
func (c *Controller) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	observability.ActiveSessions.Inc()

	if active, err := c.cfg.Repo.FindActiveRide(ctx, c.cfg.RiderID); err != nil {
		c.log.Error("active ride lookup failed", "error", err)
	} else if active != nil {
		c.state = reduce(c.state, evRecovered{Ride: *active})
		// recovered trips keep their original endpoints
		c.cfg.Pickup = active.Pickup
		c.cfg.Dropoff = active.Dropoff
		c.subscribeRide(ctx, active.ID)
		if active.DriverID != "" {
			c.resolveDriver(ctx, active.ID, active.DriverID)
		}
	}
	if c.state.Phase == PhaseSelecting {
		c.fetchSelectionRoute(ctx)
	}
	c.publish()

	go c.run(ctx)
	return nil
}

// Updates streams a snapshot after every processed event. The channel closes
// when the session ends.
func (c *Controller) Updates() <-chan Snapshot { return c.updates }

// Snapshot returns the latest published view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// MarkerPosition is the interpolated driver marker for rendering.
func (c *Controller) MarkerPosition() models.Coordinate { return c.animator.Position() }

func (c *Controller) SelectVehicle(class models.VehicleClass) { c.post(evVehicleSelected{Class: class}) }
func (c *Controller) ConfirmFare()                            { c.post(evConfirmFare{}) }
func (c *Controller) ChoosePayment(m models.PaymentMethod)    { c.post(evPaymentChosen{Method: m}) }
func (c *Controller) CancelRide()                             { c.post(evCancelRequested{}) }

// Close tears the session down: subscriptions released, timers stopped.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
	})
	<-c.done
}

func (c *Controller) post(ev event) {
	select {
	case c.inbox <- ev:
	case <-c.done:
	default:
		c.log.Warn("inbox full, dropping event", "event", ev)
	}
}

func (c *Controller) run(ctx context.Context) {
	defer func() {
		c.teardown()
		close(c.updates)
		close(c.done)
		observability.ActiveSessions.Dec()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.inbox:
			if tr, ok := ev.(evTrackingRoute); ok && tr.Seq != c.routeSeq {
				continue // a newer fetch superseded this result
			}
			prev := c.state
			c.state = reduce(c.state, ev)
			c.applyEffects(ctx, prev, ev)
			c.publish()
			if c.state.Done {
				return
			}
		}
	}
}

// applyEffects runs the side effects a transition calls for. All I/O happens
// on short-lived goroutines that report back through the inbox, so the loop
// itself never blocks on the network.
func (c *Controller) applyEffects(ctx context.Context, prev State, ev event) {
	switch ev := ev.(type) {

	case evPaymentChosen:
		if c.state.Booking && !prev.Booking {
			c.createRide(ctx, ev.Method)
		}

	case evRideCreated:
		c.subscribeRide(ctx, ev.RideID)

	case evCreateFailed:
		c.log.Warn("ride creation failed", "error", ev.Message)

	case evRidePush:
		c.onRidePush(ctx, prev, ev.Ride)

	case evDriverResolved:
		if c.state.Phase == PhaseTracking && c.state.Driver != nil {
			c.subscribeDriver(ctx, c.state.Driver.DriverID)
			if c.state.DriverLocated {
				c.animator.SetTarget(c.state.Driver.Location)
			}
			c.refreshTrackingRoute(ctx)
		}

	case evDriverPush:
		if c.state.Phase == PhaseTracking && c.state.Driver != nil {
			if c.state.DriverLocated {
				c.animator.SetTarget(c.state.Driver.Location)
			}
			c.refreshTrackingRoute(ctx)
		}

	case evCancelRequested:
		if c.state.Cancelling && !prev.Cancelling {
			c.writeCancel(ctx)
		}

	case evCancelConfirmed:
		observability.BookingsCancelled.Inc()
		c.releaseSubscriptions()
		c.fetchSelectionRoute(ctx)

	case evCancelFailed:
		c.log.Warn("cancel write failed, state unchanged", "ride_id", c.state.RideID)

	case evSubscriptionBroken:
		c.log.Error("subscription broken", "detail", ev.Message)

	case evRecovered:
		// handled synchronously in Start
	}
}

func (c *Controller) onRidePush(ctx context.Context, prev State, r models.Ride) {
	if err := r.CheckInvariant(); err != nil {
		c.log.Warn("ride document violates driver/status invariant", "error", err)
	}

	// rider left Searching because the push said cancelled
	if prev.Phase == PhaseSearching && c.state.Phase == PhaseSelecting {
		c.releaseSubscriptions()
		c.fetchSelectionRoute(ctx)
		return
	}

	if c.state.Phase == PhaseSearching && r.DriverID != "" && !c.resolvingDriver {
		c.resolvingDriver = true
		c.resolveDriver(ctx, r.ID, r.DriverID)
	}

	if c.state.Phase == PhaseTracking {
		if c.state.Banner != "" && c.state.Banner != prev.Banner && !c.state.Exiting {
			c.afterFunc(c.cfg.ArrivalBannerDelay, evBannerExpired{})
		}
		if c.state.Exiting && !prev.Exiting {
			c.afterFunc(c.cfg.AutoExitDelay, evAutoExit{})
		}
		c.refreshTrackingRoute(ctx)
	}

	if r.Status == models.StatusCompleted && (prev.Ride == nil || prev.Ride.Status != models.StatusCompleted) {
		observability.RidesCompletedTotal.Inc()
	}
	if r.Status.Terminal() && c.cfg.Archive != nil {
		go func(doc models.Ride) {
			if err := c.cfg.Archive.SaveRide(context.WithoutCancel(ctx), doc); err != nil {
				c.log.Error("ride archive failed", "ride_id", doc.ID, "error", err)
			}
		}(r)
	}
}

func (c *Controller) createRide(ctx context.Context, method models.PaymentMethod) {
	in := ride.CreateRideInput{
		RiderID:         c.cfg.RiderID,
		Pickup:          c.cfg.Pickup,
		Dropoff:         c.cfg.Dropoff,
		VehicleClass:    c.state.FareChoice,
		Fare:            c.cfg.Fares.Fare(c.state.FareChoice, c.state.Route.DistanceMeters),
		DistanceMeters:  c.state.Route.DistanceMeters,
		DurationSeconds: c.state.Route.DurationSeconds,
		PaymentMethod:   method,
		CustomerName:    c.cfg.CustomerName,
		CustomerPhone:   c.cfg.CustomerPhone,
	}
	go func() {
		id, err := c.cfg.Repo.CreateRide(ctx, in)
		if err != nil {
			c.post(evCreateFailed{Message: err.Error()})
			return
		}
		c.post(evRideCreated{RideID: id})
	}()
}

func (c *Controller) writeCancel(ctx context.Context) {
	rideID := c.state.RideID
	go func() {
		err := c.cfg.Repo.UpdateRide(ctx, rideID, ride.StatusPatch(models.StatusCancelled))
		if err != nil {
			c.post(evCancelFailed{Message: "Failed to cancel ride. Please try again."})
			return
		}
		c.post(evCancelConfirmed{})
	}()
}

func (c *Controller) resolveDriver(ctx context.Context, rideID, driverID string) {
	go func() {
		d, err := c.cfg.Repo.GetDriverPresence(ctx, driverID)
		if err != nil {
			// presence document may lag the assignment; the live
			// subscription fills profile and position in once tracking.
			// The placeholder carries no usable location.
			c.log.Warn("driver presence fetch failed", "driver_id", driverID, "error", err)
			d = &models.DriverPresence{DriverID: driverID}
		}
		c.post(evDriverResolved{
			RideID:  rideID,
			Driver:  *d,
			Located: err == nil && d.Location.Valid(),
		})
	}()
}

// subscribeRide swaps the single ride subscription onto the given ride. The
// previous one, if any, is released first; there is never more than one.
func (c *Controller) subscribeRide(ctx context.Context, rideID string) {
	if c.rideSub != nil {
		c.rideSub.Close()
		c.rideSub = nil
	}
	sub, err := c.cfg.Repo.SubscribeRide(ctx, rideID)
	if err != nil {
		c.post(evSubscriptionBroken{Message: err.Error()})
		return
	}
	c.rideSub = sub
	go forwardRide(sub, c)
}

func (c *Controller) subscribeDriver(ctx context.Context, driverID string) {
	if c.driverSub != nil {
		c.driverSub.Close()
		c.driverSub = nil
	}
	sub, err := c.cfg.Repo.SubscribeDriver(ctx, driverID)
	if err != nil {
		c.post(evSubscriptionBroken{Message: err.Error()})
		return
	}
	c.driverSub = sub
	go forwardDriver(driverID, sub, c)
}

func forwardRide(sub *ride.RideSubscription, c *Controller) {
	for {
		select {
		case r, ok := <-sub.Updates():
			if !ok {
				select {
				case err := <-sub.Errs():
					c.post(evSubscriptionBroken{Message: err.Error()})
				default:
				}
				return
			}
			c.post(evRidePush{RideID: r.ID, Ride: r})
		case err := <-sub.Errs():
			c.post(evSubscriptionBroken{Message: err.Error()})
		}
	}
}

func forwardDriver(driverID string, sub *ride.DriverSubscription, c *Controller) {
	for {
		select {
		case d, ok := <-sub.Updates():
			if !ok {
				select {
				case err := <-sub.Errs():
					c.post(evSubscriptionBroken{Message: err.Error()})
				default:
				}
				return
			}
			c.post(evDriverPush{DriverID: driverID, Driver: d})
		case err := <-sub.Errs():
			c.post(evSubscriptionBroken{Message: err.Error()})
		}
	}
}

func (c *Controller) fetchSelectionRoute(ctx context.Context) {
	origin, dest := c.cfg.Pickup, c.cfg.Dropoff
	go func() {
		res, ok := c.cfg.Routes.ComputeRoute(ctx, origin, dest)
		c.post(evSelectionRoute{Result: res, OK: ok})
	}()
}

// refreshTrackingRoute recomputes displayed geometry per the status policy:
// driver->pickup while the driver is en route, pickup->dropoff during the
// trip, cleared otherwise. Triggered by any change to status, driver
// position, pickup, or dropoff, never polled. Stale results are dropped by
// sequence number.
func (c *Controller) refreshTrackingRoute(ctx context.Context) {
	if c.state.Phase != PhaseTracking || c.state.Ride == nil {
		return
	}
	var origin, dest models.Coordinate
	switch c.state.Ride.Status {
	case models.StatusDriverEnRoute:
		if c.state.Driver == nil || !c.state.DriverLocated {
			return
		}
		origin, dest = c.state.Driver.Location, c.state.Ride.Pickup
	case models.StatusRideInProgress:
		origin, dest = c.state.Ride.Pickup, c.state.Ride.Dropoff
	default:
		if c.lastRouteKey != "" {
			c.lastRouteKey = ""
			c.routeSeq++
			c.post(evTrackingRoute{Seq: c.routeSeq})
		}
		return
	}
	key := string(c.state.Ride.Status) + "|" + origin.String() + "|" + dest.String()
	if key == c.lastRouteKey {
		return
	}
	c.lastRouteKey = key
	c.routeSeq++
	seq := c.routeSeq
	go func() {
		res, ok := c.cfg.Routes.ComputeRoute(ctx, origin, dest)
		c.post(evTrackingRoute{Seq: seq, Result: res, OK: ok})
	}()
}

func (c *Controller) afterFunc(d time.Duration, ev event) {
	c.timers = append(c.timers, time.AfterFunc(d, func() { c.post(ev) }))
}

// releaseSubscriptions resets the loop's per-ride resources: subscriptions,
// pending timers, route dedupe. Runs on every reset to Selecting and at
// teardown; a timer armed for the previous ride must never outlive it.
func (c *Controller) releaseSubscriptions() {
	if c.rideSub != nil {
		c.rideSub.Close()
		c.rideSub = nil
	}
	if c.driverSub != nil {
		c.driverSub.Close()
		c.driverSub = nil
	}
	c.stopTimers()
	c.resolvingDriver = false
	c.lastRouteKey = ""
}

func (c *Controller) stopTimers() {
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
}

func (c *Controller) teardown() {
	c.releaseSubscriptions()
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	select {
	case c.updates <- snap:
	default:
		select {
		case <-c.updates:
		default:
		}
		select {
		case c.updates <- snap:
		default:
		}
	}
}

func (c *Controller) buildSnapshot() Snapshot {
	s := c.state
	snap := Snapshot{
		Phase:          s.Phase,
		FareChoice:     s.FareChoice,
		RouteAvailable: s.RouteOK,
		Ride:           s.Ride,
		Driver:         s.Driver,
		Banner:         s.Banner,
		Error:          s.Err,
		Done:           s.Done,
	}
	if s.RouteOK {
		snap.RoutePolyline = polyline.Encode(s.Route.Points)
		snap.DistanceMeters = s.Route.DistanceMeters
		snap.DurationSeconds = s.Route.DurationSeconds
	}
	if (s.Phase == PhaseSelecting || s.Phase == PhaseAwaitingPayment) && s.RouteOK {
		snap.Quotes = c.cfg.Fares.Quote(s.Route.DistanceMeters)
	}
	if s.Phase == PhaseTracking && s.Driver != nil && s.DriverLocated {
		pos := c.animator.Position()
		snap.MarkerPosition = &pos
	}
	return snap
}
