package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codebylalit/skooty/internal/booking"
	"github.com/codebylalit/skooty/internal/dispatch"
	"github.com/codebylalit/skooty/internal/fare"
	"github.com/codebylalit/skooty/internal/models"
	"github.com/codebylalit/skooty/internal/ride"
	"github.com/codebylalit/skooty/internal/routes"
	"github.com/codebylalit/skooty/internal/storage"
)

// SessionManager runs at most one booking controller per rider and pumps its
// snapshots onto the rider's websocket stream. HTTP handlers address the
// session by rider id only.
type SessionManager struct {
	Repo    ride.Repository
	Routes  routes.Client
	Fares   *fare.Calculator
	Archive storage.Archive
	Stream  *dispatch.WSRegistry
	Logger  *slog.Logger

	AutoExitDelay      time.Duration
	ArrivalBannerDelay time.Duration

	mu       sync.Mutex
	sessions map[string]*riderSession
}

type riderSession struct {
	ctrl   *booking.Controller
	cancel context.CancelFunc
}

func NewSessionManager(repo ride.Repository, rc routes.Client, archive storage.Archive, stream *dispatch.WSRegistry, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		Repo:     repo,
		Routes:   rc,
		Fares:    fare.NewCalculator(),
		Archive:  archive,
		Stream:   stream,
		Logger:   logger,
		sessions: make(map[string]*riderSession),
	}
}

type OpenSessionInput struct {
	RiderID       string
	Pickup        models.Coordinate
	Dropoff       models.Coordinate
	CustomerName  string
	CustomerPhone string
}

// Open starts a session for the rider. A second open while one is live is an
// error; the existing session must be exited first.
func (m *SessionManager) Open(in OpenSessionInput) (*booking.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[in.RiderID]; exists {
		return nil, fmt.Errorf("rider %s already has an open session", in.RiderID)
	}

	ctrl, err := booking.New(booking.Config{
		RiderID:            in.RiderID,
		Pickup:             in.Pickup,
		Dropoff:            in.Dropoff,
		CustomerName:       in.CustomerName,
		CustomerPhone:      in.CustomerPhone,
		Repo:               m.Repo,
		Routes:             m.Routes,
		Fares:              m.Fares,
		Archive:            archiverOrNil(m.Archive),
		Logger:             m.Logger,
		AutoExitDelay:      m.AutoExitDelay,
		ArrivalBannerDelay: m.ArrivalBannerDelay,
	})
	if err != nil {
		return nil, err
	}

	// session outlives the opening request
	ctx, cancel := context.WithCancel(context.Background())
	if err := ctrl.Start(ctx); err != nil {
		cancel()
		return nil, err
	}
	m.sessions[in.RiderID] = &riderSession{ctrl: ctrl, cancel: cancel}
	go m.pump(in.RiderID, ctrl)
	return ctrl, nil
}

// Get returns the rider's live controller, if any.
func (m *SessionManager) Get(riderID string) (*booking.Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[riderID]
	if !ok {
		return nil, false
	}
	return s.ctrl, true
}

// Close ends the rider's session and its websocket streams.
func (m *SessionManager) Close(riderID string) {
	m.mu.Lock()
	s, ok := m.sessions[riderID]
	delete(m.sessions, riderID)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.cancel()
	s.ctrl.Close()
	m.Stream.CloseAll(riderID)
}

// CloseAll shuts every live session down, used on server shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Close(id)
	}
}

// pump forwards controller snapshots to the rider's sockets until the
// session ends, then reaps it.
func (m *SessionManager) pump(riderID string, ctrl *booking.Controller) {
	for snap := range ctrl.Updates() {
		m.Stream.Broadcast(riderID, snap)
	}
	m.mu.Lock()
	if s, ok := m.sessions[riderID]; ok && s.ctrl == ctrl {
		delete(m.sessions, riderID)
		s.cancel()
	}
	m.mu.Unlock()
	m.Stream.CloseAll(riderID)
}

type archiverAdapter struct{ a storage.Archive }

func (w archiverAdapter) SaveRide(ctx context.Context, r models.Ride) error {
	return w.a.SaveRide(ctx, r)
}

func archiverOrNil(a storage.Archive) booking.Archiver {
	if a == nil {
		return nil
	}
	return archiverAdapter{a: a}
}
