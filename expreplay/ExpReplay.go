// Package expreplay implements experience replay buffers for
// off-policy learning. Buffers store environment transitions and
// return sampled minibatches together with per-sample importance
// weights. A uniform buffer weights every sample equally; a
// prioritized buffer samples transitions in proportion to their last
// recorded priority and corrects the induced bias through its weights.
package expreplay

import (
	"fmt"

	"github.com/kew96/rljax/timestep"
)

// Type describes the available kinds of experience replay buffers
type Type string

// Available buffer types
const (
	Uniform     Type = "Uniform"
	Prioritized Type = "Prioritized"
)

// Buffer implements an experience replay buffer
type Buffer interface {
	// Add adds a transition to the buffer, evicting the oldest stored
	// transition if the buffer is full
	Add(t timestep.Transition) error

	// Sample samples a minibatch of n transitions from the buffer. It
	// returns the storage index of each sampled transition, the
	// importance weight of each sampled transition, and the sampled
	// transitions themselves.
	Sample(n int) ([]int, []float64, *timestep.Batch, error)

	// UpdatePriorities sets the priorities of the transitions at the
	// given storage indices. Buffers that do not prioritize ignore
	// the update.
	UpdatePriorities(indices []int, priorities []float64) error

	// Capacity returns the current number of transitions in the buffer
	Capacity() int

	// MaxCapacity returns the maximum number of transitions the buffer
	// can hold
	MaxCapacity() int

	// MinCapacity returns the number of transitions required in the
	// buffer before it can be sampled
	MinCapacity() int
}

// Config implements a specific configuration of a Buffer
type Config struct {
	Type
	MaxReplayCapacity int
	MinReplayCapacity int

	// Prioritized replay only
	Alpha float64
	Beta  float64
}

// Create creates and returns the Buffer described by the Config for
// transitions with the given state and action sizes.
func (c Config) Create(featureSize, actionSize int,
	seed uint64) (Buffer, error) {
	switch c.Type {
	case Uniform:
		return NewUniform(c.MinReplayCapacity, c.MaxReplayCapacity,
			featureSize, actionSize, seed)

	case Prioritized:
		return NewPrioritized(c.MinReplayCapacity, c.MaxReplayCapacity,
			featureSize, actionSize, c.Alpha, c.Beta, seed)
	}
	return nil, fmt.Errorf("create: unknown buffer type %v", c.Type)
}
