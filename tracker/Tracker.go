// Package tracker implements trackers, which record scalar training
// metrics such as losses, TD errors, and episodic returns. Trackers
// are collaborators of a training loop, and a failing tracker must
// never abort training: implementations report the first error and
// swallow the rest.
package tracker

// Tracker records named scalar metrics against an environment step
type Tracker interface {
	// TrackScalar records value for the metric called name at step
	TrackScalar(name string, value float64, step int)

	// Flush writes any buffered metrics to their destination
	Flush() error
}

// multi fans metrics out to a group of trackers
type multi struct {
	trackers []Tracker
}

// NewMulti returns a Tracker recording each metric with every tracker
// in t
func NewMulti(t ...Tracker) Tracker {
	return &multi{trackers: t}
}

func (m *multi) TrackScalar(name string, value float64, step int) {
	for _, t := range m.trackers {
		t.TrackScalar(name, value, step)
	}
}

func (m *multi) Flush() error {
	var firstErr error
	for _, t := range m.trackers {
		if err := t.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
