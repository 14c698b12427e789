package tracker

import (
	ts "github.com/kew96/rljax/timestep"
)

// Return accumulates the rewards seen over an episode and records the
// episodic return with an underlying Tracker once the episode ends.
// If the last episode never finishes, its return is not recorded.
type Return struct {
	tracker       Tracker
	name          string
	currentReturn float64
}

// NewReturn creates and returns a new *Return recording episodic
// returns under the metric called name
func NewReturn(t Tracker, name string) *Return {
	return &Return{tracker: t, name: name}
}

// Track tracks the reward seen on a timestep. When the timestep is the
// last of its episode, the accumulated return is recorded and the
// accumulator reset for the next episode.
func (r *Return) Track(step ts.TimeStep) {
	r.currentReturn += step.Reward
	if !step.Last() {
		return
	}

	r.tracker.TrackScalar(r.name, r.currentReturn, step.Number)
	r.currentReturn = 0
}
