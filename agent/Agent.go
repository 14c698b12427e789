// Package agent defines an agent interface
package agent

import (
	"github.com/kew96/rljax/timestep"
	"gonum.org/v1/gonum/mat"
)

// Agent determines the implementation details of an agent or algorithm
//
// An Agent is composed of a Learner, which learns weights, and a
// Policy which chooses actions in each state. The Policy chooses which
// actions are taken, and the Learner uses these actions to update the
// Policy.
type Agent interface {
	Learner
	Policy
}

// A Closer is an agent that must be closed after it is done learning
type Closer interface {
	Agent
	Close() error
}

// Learner implements a learning algorithm that defines how weights are
// updated.
type Learner interface {
	// Step performs a single update to the learner
	Step() error

	// Observe records that an action lead to some timestep
	Observe(action mat.Vector, nextObs timestep.TimeStep) error

	// ObserveFirst records the first timestep in an episode
	ObserveFirst(timestep.TimeStep) error

	// EndEpisode performs cleanup at the end of an episode
	EndEpisode()
}

// TdErrorer is a Learner that can return the TD error of the
// transitions in its most recent update
type TdErrorer interface {
	Learner

	// TdError returns the absolute TD error of each transition in the
	// last minibatch update, or nil if no update has happened yet
	TdError() []float64
}

// Policy represents a policy that an agent can have.
//
// Policies determine how agents select actions. Agents usually have a
// target and behaviour policy. For a given agent, the Policy and
// Learner should have pointers to the same weights so that any changes
// the learner makes to the weights are reflected in the actions the
// Policy chooses
type Policy interface {
	SelectAction(t timestep.TimeStep) *mat.VecDense
	Eval()        // Set policy to evaluation mode
	Train()       // Set policy to training mode
	IsEval() bool // Indicates if in evaluation mode
}

// Config describes a configuration of an Agent and can construct the
// Agent it describes
type Config interface {
	// Validate checks whether the Config describes a valid agent
	Validate() error

	// CreateAgent creates the agent described by the Config for the
	// given state and action dimensionalities
	CreateAgent(stateDims, actionDims int, seed uint64) (Agent, error)
}

// Saver is an agent that can persist its learned weights to a
// directory and restore them later.
type Saver interface {
	Agent

	// SaveParams writes the agent's learned weights below dir
	SaveParams(dir string) error

	// LoadParams restores weights previously written by SaveParams
	// into the agent's online and target networks
	LoadParams(dir string) error
}
