package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/codebylalit/skooty/internal/models"
)

// Archive is the durable trip-history sink. Finished rides land here; the
// live booking flow never reads from it.
type Archive interface {
	SaveRide(ctx context.Context, r models.Ride) error
	RidesForUser(ctx context.Context, userID string, limit int) ([]models.Ride, error)
}

type MemoryArchive struct {
	mu    sync.RWMutex
	rides map[string]models.Ride
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{rides: make(map[string]models.Ride)}
}

func (m *MemoryArchive) SaveRide(_ context.Context, r models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryArchive) RidesForUser(_ context.Context, userID string, limit int) ([]models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Ride
	for _, r := range m.rides {
		if r.RiderID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryArchive) Get(id string) (models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}
