package booking

import "github.com/codebylalit/skooty/internal/models"

// ExitConfirmPrompt is shown when the rider tries to back out mid-trip.
const ExitConfirmPrompt = "Your ride is still active. Are you sure you want to leave this screen?"

// ExitDecision is the guard's answer to a back-navigation attempt.
type ExitDecision struct {
	Allowed bool   `json:"allowed"`
	Prompt  string `json:"prompt,omitempty"`
}

// NavigationGuard intercepts attempts to leave the booking screen. Exit is
// free when there is no ride or the ride is Completed; any other status
// requires an explicit confirmation. A cancelled ride has already reset the
// session to Selecting, so it never reaches the guard as a live status.
type NavigationGuard struct {
	c *Controller
}

func NewNavigationGuard(c *Controller) *NavigationGuard {
	return &NavigationGuard{c: c}
}

// RequestExit evaluates a back-navigation attempt. confirmed reports whether
// the rider already answered the confirmation prompt; a confirmed request
// always proceeds.
func (g *NavigationGuard) RequestExit(confirmed bool) ExitDecision {
	snap := g.c.Snapshot()
	if snap.Ride == nil || snap.Ride.Status == models.StatusCompleted {
		return ExitDecision{Allowed: true}
	}
	if !confirmed {
		return ExitDecision{Prompt: ExitConfirmPrompt}
	}
	return ExitDecision{Allowed: true}
}
