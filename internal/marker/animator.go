// Package marker smooths discrete driver location pushes into a
// continuously moving map marker. Rendering concern only; nothing here
// touches stored data.
package marker

import (
	"sync"
	"time"

	"github.com/codebylalit/skooty/internal/models"
)

// TweenWindow is how long the marker takes to glide to a new target.
const TweenWindow = 500 * time.Millisecond

// Interpolate is the pure lerp: t=0 gives from, t>=1 gives to.
func Interpolate(from, to models.Coordinate, t float64) models.Coordinate {
	if t <= 0 {
		return from
	}
	if t >= 1 {
		return to
	}
	return models.Coordinate{
		Latitude:  from.Latitude + (to.Latitude-from.Latitude)*t,
		Longitude: from.Longitude + (to.Longitude-from.Longitude)*t,
	}
}

// Animator tracks one marker. Each SetTarget starts a fresh tween from the
// position currently on screen, so a burst of pushes never snaps the marker
// back to a stale origin.
type Animator struct {
	mu      sync.Mutex
	from    models.Coordinate
	to      models.Coordinate
	started time.Time
	window  time.Duration
	now     func() time.Time
	seeded  bool
}

func NewAnimator() *Animator {
	return &Animator{window: TweenWindow, now: time.Now}
}

// NewAnimatorWithClock injects a clock for tests.
func NewAnimatorWithClock(window time.Duration, now func() time.Time) *Animator {
	return &Animator{window: window, now: now}
}

// SetTarget consumes one presence push. The first push places the marker
// directly; later ones retarget the tween from the current interpolated
// position.
func (a *Animator) SetTarget(target models.Coordinate) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.seeded {
		a.from = target
		a.to = target
		a.seeded = true
		a.started = a.now()
		return
	}
	a.from = a.positionLocked()
	a.to = target
	a.started = a.now()
}

// Position is the coordinate to render right now.
func (a *Animator) Position() models.Coordinate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positionLocked()
}

// Target returns the latest pushed coordinate.
func (a *Animator) Target() models.Coordinate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.to
}

func (a *Animator) positionLocked() models.Coordinate {
	if !a.seeded {
		return models.Coordinate{}
	}
	elapsed := a.now().Sub(a.started)
	if a.window <= 0 {
		return a.to
	}
	return Interpolate(a.from, a.to, float64(elapsed)/float64(a.window))
}
