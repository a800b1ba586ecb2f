// Package dispatch fans booking snapshots out to a rider's connected
// websocket clients. A rider may hold several sockets (phone plus a stale
// tab); every one of them gets every snapshot.
package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession wraps one socket. gorilla connections allow a single concurrent
// writer, hence the mutex.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *WSSession) Close() error { return s.conn.Close() }

// WSRegistry holds rider sockets keyed by rider id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string][]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{sessions: make(map[string][]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(riderID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	r.sessions[riderID] = append(r.sessions[riderID], s)
	r.mu.Unlock()
	return s
}

func (r *WSRegistry) Remove(riderID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.sessions[riderID][:0]
	for _, existing := range r.sessions[riderID] {
		if existing != s {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		delete(r.sessions, riderID)
	} else {
		r.sessions[riderID] = kept
	}
}

// Broadcast pushes v to every socket of the rider. Sockets that fail to
// write are dropped; the client reconnects and resumes from the next
// snapshot, which always carries full state.
func (r *WSRegistry) Broadcast(riderID string, v any) {
	r.mu.RLock()
	sessions := append([]*WSSession(nil), r.sessions[riderID]...)
	r.mu.RUnlock()
	for _, s := range sessions {
		if err := s.Send(v); err != nil {
			r.logger.Warn("ws send failed, dropping socket", "rider_id", riderID, "error", err)
			s.Close()
			r.Remove(riderID, s)
		}
	}
}

// CloseAll tears down every socket for the rider, used when the session ends.
func (r *WSRegistry) CloseAll(riderID string) {
	r.mu.Lock()
	sessions := r.sessions[riderID]
	delete(r.sessions, riderID)
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
