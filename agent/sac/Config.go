package sac

import (
	"fmt"

	"github.com/kew96/rljax/agent"
	"github.com/kew96/rljax/expreplay"
	"github.com/kew96/rljax/initwfn"
	"github.com/kew96/rljax/network"
	"github.com/kew96/rljax/solver"
)

// Config implements a configuration for a SAC agent
type Config struct {
	ActorLayers      []int                 // Layer sizes in policy net
	ActorBiases      []bool                // Whether each layer has a bias
	ActorActivations []*network.Activation // Activation of each layer

	CriticLayers      []int                 // Layer sizes in critic nets
	CriticBiases      []bool                // Whether each layer has a bias
	CriticActivations []*network.Activation // Activation of each layer

	ActorSolver  *solver.Solver // Solver for policy weights
	CriticSolver *solver.Solver // Solver for critic weights
	AlphaSolver  *solver.Solver // Solver for the entropy temperature

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn

	// Experience replay parameters
	ExpReplay expreplay.Config
	BatchSize int

	Gamma float64 // Discount factor
	Tau   float64 // Polyak averaging constant for target critics

	// Entropy temperature: the temperature starts at InitialAlpha and
	// is adapted so that the policy entropy matches TargetEntropy.
	// When AutoTargetEntropy is set, TargetEntropy is ignored and the
	// target is the negative action dimensionality.
	InitialAlpha      float64
	TargetEntropy     float64
	AutoTargetEntropy bool

	// StartSteps is the number of initial environment steps on which
	// actions are drawn uniformly from the action space
	StartSteps int
}

// NewDefaultConfig returns a Config with standard hyperparameters for
// a SAC agent
func NewDefaultConfig() (Config, error) {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return Config{}, fmt.Errorf("newdefaultconfig: %v", err)
	}

	solvers := make([]*solver.Solver, 3)
	for i := range solvers {
		sol, err := solver.NewDefaultAdam(3e-4, 256)
		if err != nil {
			return Config{}, fmt.Errorf("newdefaultconfig: %v", err)
		}
		solvers[i] = sol
	}

	return Config{
		ActorLayers:      []int{256, 256},
		ActorBiases:      []bool{true, true},
		ActorActivations: []*network.Activation{network.ReLU(),
			network.ReLU()},

		CriticLayers:      []int{256, 256},
		CriticBiases:      []bool{true, true},
		CriticActivations: []*network.Activation{network.ReLU(),
			network.ReLU()},

		ActorSolver:  solvers[0],
		CriticSolver: solvers[1],
		AlphaSolver:  solvers[2],
		InitWFn:      init,

		ExpReplay: expreplay.Config{
			Type:              expreplay.Uniform,
			MinReplayCapacity: 1000,
			MaxReplayCapacity: 100000,
		},
		BatchSize: 256,

		Gamma: 0.99,
		Tau:   5e-3,

		InitialAlpha:      1.0,
		AutoTargetEntropy: true,

		StartSteps: 10000,
	}, nil
}

// Validate checks a Config to ensure it is a valid configuration of a
// SAC agent.
func (c Config) Validate() error {
	if len(c.ActorLayers) != len(c.ActorBiases) {
		return fmt.Errorf("sac: invalid number of actor biases"+
			"\n\twant(%v)\n\thave(%v)", len(c.ActorLayers),
			len(c.ActorBiases))
	}

	if len(c.ActorLayers) != len(c.ActorActivations) {
		return fmt.Errorf("sac: invalid number of actor activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.ActorLayers),
			len(c.ActorActivations))
	}

	if len(c.CriticLayers) != len(c.CriticBiases) {
		return fmt.Errorf("sac: invalid number of critic biases"+
			"\n\twant(%v)\n\thave(%v)", len(c.CriticLayers),
			len(c.CriticBiases))
	}

	if len(c.CriticLayers) != len(c.CriticActivations) {
		return fmt.Errorf("sac: invalid number of critic activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.CriticLayers),
			len(c.CriticActivations))
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("sac: batch size must be positive "+
			"\n\thave(%v)", c.BatchSize)
	}

	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("sac: discount must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}

	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("sac: tau must be in (0, 1] \n\thave(%v)",
			c.Tau)
	}

	if c.InitialAlpha <= 0 {
		return fmt.Errorf("sac: initial temperature must be positive "+
			"\n\thave(%v)", c.InitialAlpha)
	}

	if c.StartSteps < 0 {
		return fmt.Errorf("sac: start steps cannot be negative "+
			"\n\thave(%v)", c.StartSteps)
	}

	if c.ActorSolver == nil || c.CriticSolver == nil ||
		c.AlphaSolver == nil || c.InitWFn == nil {
		return fmt.Errorf("sac: config requires actor, critic, and " +
			"temperature solvers and a weight initializer")
	}

	return nil
}

// ValidAgent returns whether the agent is valid for the configuration.
// That is, whether Agent a can be constructed with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*SAC)
	return ok
}

// CreateAgent creates a new SAC agent based on the configuration
func (c Config) CreateAgent(stateDims, actionDims int,
	seed uint64) (agent.Agent, error) {
	return New(stateDims, actionDims, c, seed)
}
