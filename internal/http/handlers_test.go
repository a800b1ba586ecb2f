package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/codebylalit/skooty/internal/booking"
	"github.com/codebylalit/skooty/internal/dispatch"
	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/ride"
	"github.com/codebylalit/skooty/internal/routes"
	"github.com/codebylalit/skooty/internal/storage"
)

type stubRoutes struct {
	mu  sync.Mutex
	res routes.Result
	ok  bool
}

func (s *stubRoutes) ComputeRoute(_ context.Context, _, _ models.Coordinate) (routes.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res, s.ok
}

func goodRoute() routes.Result {
	return routes.Result{
		Points:          []models.Coordinate{{Latitude: 17.385, Longitude: 78.4867}, {Latitude: 17.4399, Longitude: 78.4983}},
		DistanceMeters:  5000,
		DurationSeconds: 900,
	}
}

type fixture struct {
	srv  *Server
	repo *ride.MemoryRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := ride.NewMemoryRepository(logger)
	archive := storage.NewMemoryArchive()
	stream := dispatch.NewWSRegistry(logger)
	sessions := NewSessionManager(repo, &stubRoutes{res: goodRoute(), ok: true}, archive, stream, logger)
	sessions.AutoExitDelay = 40 * time.Millisecond
	sessions.ArrivalBannerDelay = 40 * time.Millisecond
	t.Cleanup(sessions.CloseAll)
	srv := NewServer(sessions, repo, archive, nil, nil, nil, stream, logger)
	return &fixture{srv: srv, repo: repo}
}

func (f *fixture) do(method, path, user string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	return w
}

func openBookingBody() map[string]any {
	return map[string]any{
		"pickup":  map[string]float64{"lat": 17.385, "lng": 78.4867},
		"dropoff": map[string]float64{"latitude": 17.4399, "longitude": 78.4983},
	}
}

func waitCond(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOpenBookingRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	if w := f.do("POST", "/api/v1/bookings", "", openBookingBody()); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestOpenBookingRejectsBadCoordinates(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{
		"pickup":  map[string]float64{"lat": 17.385},
		"dropoff": map[string]float64{"latitude": 17.4399, "longitude": 78.4983},
	}
	w := f.do("POST", "/api/v1/bookings", "user-1", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no coordinate") {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestOpenBookingOncePerRider(t *testing.T) {
	f := newFixture(t)
	if w := f.do("POST", "/api/v1/bookings", "user-1", openBookingBody()); w.Code != http.StatusCreated {
		t.Fatalf("first open = %d, want 201", w.Code)
	}
	if w := f.do("POST", "/api/v1/bookings", "user-1", openBookingBody()); w.Code != http.StatusConflict {
		t.Fatalf("second open = %d, want 409", w.Code)
	}
	// another rider is unaffected
	if w := f.do("POST", "/api/v1/bookings", "user-2", openBookingBody()); w.Code != http.StatusCreated {
		t.Fatalf("other rider open = %d, want 201", w.Code)
	}
}

func TestBookingCommandFlow(t *testing.T) {
	f := newFixture(t)
	if w := f.do("POST", "/api/v1/bookings", "user-1", openBookingBody()); w.Code != http.StatusCreated {
		t.Fatalf("open = %d", w.Code)
	}

	snapshot := func() booking.Snapshot {
		w := f.do("GET", "/api/v1/bookings/current", "user-1", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("current = %d", w.Code)
		}
		var s booking.Snapshot
		if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
			t.Fatal(err)
		}
		return s
	}

	waitCond(t, "route available", func() bool { return snapshot().RouteAvailable })

	if w := f.do("POST", "/api/v1/bookings/select", "user-1", map[string]string{"vehicleType": "auto"}); w.Code != http.StatusAccepted {
		t.Fatalf("select = %d", w.Code)
	}
	if w := f.do("POST", "/api/v1/bookings/select", "user-1", map[string]string{"vehicleType": "car"}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad select = %d", w.Code)
	}
	if w := f.do("POST", "/api/v1/bookings/confirm", "user-1", nil); w.Code != http.StatusAccepted {
		t.Fatalf("confirm = %d", w.Code)
	}
	if w := f.do("POST", "/api/v1/bookings/payment", "user-1", map[string]string{"method": "qr"}); w.Code != http.StatusAccepted {
		t.Fatalf("payment = %d", w.Code)
	}

	waitCond(t, "ride created", func() bool {
		s := snapshot()
		return s.Phase == booking.PhaseSearching && s.Ride != nil
	})
	s := snapshot()
	if s.Ride.PaymentMethod != models.PaymentOnline {
		t.Fatalf("payment method = %q, want online", s.Ride.PaymentMethod)
	}
	if s.Ride.Fare != 30 {
		t.Fatalf("fare = %d, want 30 for auto at 5km", s.Ride.Fare)
	}
}

// driveToSearching opens a booking for the rider and walks it to Searching.
func (f *fixture) driveToSearching(t *testing.T, user string) {
	t.Helper()
	if w := f.do("POST", "/api/v1/bookings", user, openBookingBody()); w.Code != http.StatusCreated {
		t.Fatalf("open = %d", w.Code)
	}
	snap := func() booking.Snapshot {
		w := f.do("GET", "/api/v1/bookings/current", user, nil)
		var s booking.Snapshot
		json.Unmarshal(w.Body.Bytes(), &s)
		return s
	}
	waitCond(t, "route available", func() bool { return snap().RouteAvailable })
	f.do("POST", "/api/v1/bookings/confirm", user, nil)
	waitCond(t, "awaiting payment", func() bool { return snap().Phase == booking.PhaseAwaitingPayment })
	f.do("POST", "/api/v1/bookings/payment", user, map[string]string{"method": "cash"})
	waitCond(t, "searching", func() bool {
		s := snap()
		return s.Phase == booking.PhaseSearching && s.Ride != nil
	})
}

func TestDriverSurfacesOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.driveToSearching(t, "user-1")

	waitCond(t, "open ride listed", func() bool {
		w := f.do("GET", "/api/v1/rides/open", "driver-ignored", nil)
		return w.Code == http.StatusOK && strings.Contains(w.Body.String(), "booked")
	})

	w := f.do("GET", "/api/v1/rides/open", "", nil)
	var listing struct {
		Rides []models.Ride `json:"rides"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listing); err != nil || len(listing.Rides) != 1 {
		t.Fatalf("open rides = %s (err %v)", w.Body.String(), err)
	}
	rideID := listing.Rides[0].ID

	req := httptest.NewRequest("POST", "/api/v1/rides/"+rideID+"/accept", nil)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("accept without identity = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("POST", "/api/v1/rides/"+rideID+"/accept", nil)
	req.Header.Set("X-Driver-ID", "driver-9")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("accept = %d, body %s", rec.Code, rec.Body.String())
	}

	// a second claim loses
	req = httptest.NewRequest("POST", "/api/v1/rides/"+rideID+"/accept", nil)
	req.Header.Set("X-Driver-ID", "driver-4")
	rec = httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second accept = %d, want 409", rec.Code)
	}
}

func TestExitGuardOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.driveToSearching(t, "user-1")

	w := f.do("POST", "/api/v1/bookings/exit", "user-1", map[string]bool{"confirmed": false})
	var decision booking.ExitDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatal(err)
	}
	if decision.Allowed || decision.Prompt == "" {
		t.Fatalf("unconfirmed exit mid-ride = %+v", decision)
	}
	// still here
	if w := f.do("GET", "/api/v1/bookings/current", "user-1", nil); w.Code != http.StatusOK {
		t.Fatalf("session gone after blocked exit: %d", w.Code)
	}

	w = f.do("POST", "/api/v1/bookings/exit", "user-1", map[string]bool{"confirmed": true})
	json.Unmarshal(w.Body.Bytes(), &decision)
	if !decision.Allowed {
		t.Fatalf("confirmed exit = %+v", decision)
	}
	waitCond(t, "session closed", func() bool {
		return f.do("GET", "/api/v1/bookings/current", "user-1", nil).Code == http.StatusNotFound
	})
}

func TestRideHistoryEndpoint(t *testing.T) {
	f := newFixture(t)
	archive := f.srv.Archive
	archive.SaveRide(context.Background(), models.Ride{
		ID:      "r-1",
		RiderID: "user-1",
		Status:  models.StatusCompleted,
		Fare:    20,
	})

	if w := f.do("GET", "/api/v1/rides/history", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("history without identity = %d", w.Code)
	}
	w := f.do("GET", "/api/v1/rides/history", "user-1", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "r-1") {
		t.Fatalf("history = %d %s", w.Code, w.Body.String())
	}
	// other riders see nothing
	w = f.do("GET", "/api/v1/rides/history", "user-2", nil)
	if strings.Contains(w.Body.String(), "r-1") {
		t.Fatalf("cross-rider history leak: %s", w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	if w := f.do("GET", "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d", w.Code)
	}
}
