// Package httpapi is the rider-facing gateway: booking session commands,
// the websocket snapshot stream, trip history, place search, and the driver
// surfaces (open rides, accept, location ingest).
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codebylalit/skooty/internal/booking"
	"github.com/codebylalit/skooty/internal/dispatch"
	"github.com/codebylalit/skooty/internal/eta"
	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/observability"
	"github.com/codebylalit/skooty/internal/places"
	"github.com/codebylalit/skooty/internal/presence"
	"github.com/codebylalit/skooty/internal/ride"
	"github.com/codebylalit/skooty/internal/storage"
)

type Server struct {
	Sessions *SessionManager
	Repo     ride.Repository
	Archive  storage.Archive
	Places   places.Client
	Presence *presence.RedisWriter
	Kafka    *presence.KafkaProducer
	Stream   *dispatch.WSRegistry

	etaCache *eta.Cache
	logger   *slog.Logger
	mux      *mux.Router
}

func NewServer(sessions *SessionManager, repo ride.Repository, archive storage.Archive, pl places.Client, pw *presence.RedisWriter, kp *presence.KafkaProducer, stream *dispatch.WSRegistry, logger *slog.Logger) *Server {
	s := &Server{
		Sessions: sessions,
		Repo:     repo,
		Archive:  archive,
		Places:   pl,
		Presence: pw,
		Kafka:    kp,
		Stream:   stream,
		etaCache: eta.NewCache(15 * time.Second),
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	// rider booking session
	s.mux.HandleFunc("/api/v1/bookings", s.handleOpenBooking).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/current", s.handleCurrentBooking).Methods("GET")
	s.mux.HandleFunc("/api/v1/bookings/select", s.handleSelectVehicle).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/confirm", s.handleConfirmFare).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/payment", s.handleChoosePayment).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/cancel", s.handleCancelRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings/exit", s.handleExit).Methods("POST")

	// rider history and place search
	s.mux.HandleFunc("/api/v1/rides/history", s.handleRideHistory).Methods("GET")
	s.mux.HandleFunc("/api/v1/places/autocomplete", s.handlePlacesAutocomplete).Methods("GET")
	s.mux.HandleFunc("/api/v1/places/{place_id}", s.handlePlaceResolve).Methods("GET")
	s.mux.HandleFunc("/api/v1/drivers/nearby", s.handleNearbyDrivers).Methods("GET")

	// driver surfaces
	s.mux.HandleFunc("/api/v1/rides/open", s.handleOpenRides).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/accept", s.handleAcceptRide).Methods("POST")
	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/rider/{user_id}", s.handleRiderWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// riderID reads the authenticated identity injected by the edge proxy.
func riderID(r *http.Request) string { return r.Header.Get("X-User-ID") }

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*booking.Controller, bool) {
	uid := riderID(r)
	if uid == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return nil, false
	}
	ctrl, ok := s.Sessions.Get(uid)
	if !ok {
		http.Error(w, "no open booking session", http.StatusNotFound)
		return nil, false
	}
	return ctrl, true
}

type openBookingRequest struct {
	Pickup        json.RawMessage `json:"pickup"`
	Dropoff       json.RawMessage `json:"dropoff"`
	CustomerName  string          `json:"customerName"`
	CustomerPhone string          `json:"customerPhone"`
}

func (s *Server) handleOpenBooking(w http.ResponseWriter, r *http.Request) {
	uid := riderID(r)
	if uid == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return
	}
	var in openBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	pickup, ok := models.NormalizeCoordinate(in.Pickup)
	if !ok {
		http.Error(w, "pickup: no coordinate", http.StatusBadRequest)
		return
	}
	dropoff, ok := models.NormalizeCoordinate(in.Dropoff)
	if !ok {
		http.Error(w, "dropoff: no coordinate", http.StatusBadRequest)
		return
	}

	ctrl, err := s.Sessions.Open(OpenSessionInput{
		RiderID:       uid,
		Pickup:        pickup,
		Dropoff:       dropoff,
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
	})
	if err != nil {
		var ve *ride.ValidationError
		if errors.As(err, &ve) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusCreated, ctrl.Snapshot())
}

func (s *Server) handleCurrentBooking(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (s *Server) handleSelectVehicle(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var in struct {
		VehicleType string `json:"vehicleType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	class, err := models.ParseVehicleClass(in.VehicleType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctrl.SelectVehicle(class)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleConfirmFare(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	ctrl.ConfirmFare()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleChoosePayment(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var in struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	method, err := models.ParsePaymentMethod(in.Method)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctrl.ChoosePayment(method)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	ctrl.CancelRide()
	w.WriteHeader(http.StatusAccepted)
}

// handleExit is the navigation guard: it either permits leaving the booking
// screen (closing the session) or returns the confirmation prompt.
func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.session(w, r)
	if !ok {
		return
	}
	var in struct {
		Confirmed bool `json:"confirmed"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	decision := booking.NewNavigationGuard(ctrl).RequestExit(in.Confirmed)
	if decision.Allowed {
		s.Sessions.Close(riderID(r))
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleRideHistory(w http.ResponseWriter, r *http.Request) {
	uid := riderID(r)
	if uid == "" {
		http.Error(w, "missing X-User-ID", http.StatusUnauthorized)
		return
	}
	if s.Archive == nil {
		http.Error(w, "history unavailable", http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rides, err := s.Archive.RidesForUser(r.Context(), uid, limit)
	if err != nil {
		s.logger.Error("ride history query failed", "user_id", uid, "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handlePlacesAutocomplete(w http.ResponseWriter, r *http.Request) {
	if s.Places == nil {
		http.Error(w, "place search unavailable", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query().Get("q")
	var near *models.Coordinate
	if lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64); err1 == nil {
		if lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64); err2 == nil {
			near = &models.Coordinate{Latitude: lat, Longitude: lng}
		}
	}
	suggestions, err := s.Places.Autocomplete(r.Context(), q, near)
	if err != nil {
		s.logger.Warn("autocomplete failed", "error", err)
		http.Error(w, "place search unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (s *Server) handlePlaceResolve(w http.ResponseWriter, r *http.Request) {
	if s.Places == nil {
		http.Error(w, "place search unavailable", http.StatusServiceUnavailable)
		return
	}
	placeID := mux.Vars(r)["place_id"]
	place, err := s.Places.Resolve(r.Context(), placeID)
	if err != nil {
		s.logger.Warn("place resolve failed", "place_id", placeID, "error", err)
		http.Error(w, "place not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, place)
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	if s.Presence == nil {
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	at := models.Coordinate{Latitude: lat, Longitude: lng}
	radius, err := strconv.ParseFloat(r.URL.Query().Get("radius"), 64)
	if err != nil || radius <= 0 {
		radius = 3000
	}
	drivers, err := s.Presence.Nearby(r.Context(), at, radius, 20)
	if err != nil {
		s.logger.Error("nearby lookup failed", "error", err)
		http.Error(w, "presence unavailable", http.StatusInternalServerError)
		return
	}

	type nearbyDriver struct {
		models.DriverPresence
		EtaSeconds int `json:"etaSeconds"`
	}
	out := make([]nearbyDriver, 0, len(drivers))
	for _, d := range drivers {
		secs, ok := s.etaCache.Get(d.Location, at)
		if !ok {
			secs = eta.EstimateSeconds(d.Location, at, eta.DefaultCitySpeedMps)
			s.etaCache.Set(d.Location, at, secs)
		}
		out = append(out, nearbyDriver{DriverPresence: d, EtaSeconds: int(secs)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": out})
}

func (s *Server) handleOpenRides(w http.ResponseWriter, r *http.Request) {
	rides, err := s.Repo.ListOpenRides(r.Context())
	if err != nil {
		s.logger.Error("open rides query failed", "error", err)
		http.Error(w, "unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides})
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	driverID := r.Header.Get("X-Driver-ID")
	if driverID == "" {
		http.Error(w, "missing X-Driver-ID", http.StatusUnauthorized)
		return
	}
	rideID := mux.Vars(r)["ride_id"]
	if err := s.Repo.AcceptRide(r.Context(), rideID, driverID); err != nil {
		if errors.Is(err, ride.ErrNotFound) {
			http.Error(w, "ride not found", http.StatusNotFound)
			return
		}
		// lost the claim race or the ride moved on
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDriverLocation ingests a driver position report onto the presence
// pipeline. With no Kafka configured it writes straight through to Redis.
func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.DriverPresence
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d.DriverID == "" || !d.Location.Valid() {
		http.Error(w, "id and location are required", http.StatusBadRequest)
		return
	}
	d.Updated = time.Now().UTC()

	if s.Kafka != nil {
		if err := s.Kafka.PublishPresence(d); err != nil {
			s.logger.Error("presence publish failed", "driver_id", d.DriverID, "error", err)
			http.Error(w, "ingest unavailable", http.StatusServiceUnavailable)
			return
		}
	} else if s.Presence != nil {
		if err := s.Presence.Write(r.Context(), d); err != nil {
			s.logger.Error("presence write failed", "driver_id", d.DriverID, "error", err)
			http.Error(w, "ingest unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	observability.DriverLocationsTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{
	// the edge proxy enforces origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleRiderWS attaches a socket to the rider's snapshot stream. The
// current snapshot is sent immediately so a reconnecting client renders
// without waiting for the next event.
func (s *Server) handleRiderWS(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["user_id"]
	ctrl, ok := s.Sessions.Get(uid)
	if !ok {
		http.Error(w, "no open booking session", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	sess := s.Stream.Add(uid, conn)
	observability.WSConnections.Inc()
	if err := sess.Send(ctrl.Snapshot()); err != nil {
		s.Stream.Remove(uid, sess)
		sess.Close()
		observability.WSConnections.Dec()
		return
	}
	// reader loop only notices disconnect; the stream registry writes
	go func() {
		defer func() {
			s.Stream.Remove(uid, sess)
			sess.Close()
			observability.WSConnections.Dec()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
