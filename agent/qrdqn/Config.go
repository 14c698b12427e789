package qrdqn

import (
	"fmt"

	"github.com/kew96/rljax/agent"
	"github.com/kew96/rljax/expreplay"
	"github.com/kew96/rljax/initwfn"
	"github.com/kew96/rljax/network"
	"github.com/kew96/rljax/solver"
)

// Config implements a configuration for a QRDQN agent
type Config struct {
	PolicyLayers []int                 // Layer sizes in neural net
	Biases       []bool                // Whether each layer should have a bias
	Activations  []*network.Activation // Activation of each layer
	Solver       *solver.Solver        // Solver for learning weights

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn

	// Experience replay parameters
	ExpReplay expreplay.Config
	BatchSize int

	// Distribution parameters
	Quantiles int
	HuberLoss bool    // Huber if true, squared error otherwise
	Kappa     float64 // Huber loss threshold
	DoubleQ   bool    // Select greedy next actions with online weights
	Dueling   bool    // Decompose return into value and advantage

	Gamma float64 // Discount factor

	// UpdateInterval is the number of environment steps between
	// learning updates
	UpdateInterval int

	// Target net updates
	Tau                  float64 // Polyak averaging constant
	TargetUpdateInterval int     // Environment steps between target updates

	// Epsilon-greedy exploration: epsilon anneals linearly from 1 to
	// EpsilonTrain over EpsilonDecaySteps environment steps, and is
	// fixed at EpsilonEval in evaluation mode
	EpsilonTrain      float64
	EpsilonEval       float64
	EpsilonDecaySteps int
}

// NewDefaultConfig returns a Config with standard hyperparameters for
// a QRDQN agent
func NewDefaultConfig() (Config, error) {
	batchSize := 32

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return Config{}, fmt.Errorf("newdefaultconfig: %v", err)
	}

	sol, err := solver.NewAdam(5e-5, 0.01/float64(batchSize), 0.9, 0.999,
		batchSize, -1.0)
	if err != nil {
		return Config{}, fmt.Errorf("newdefaultconfig: %v", err)
	}

	return Config{
		PolicyLayers: []int{512},
		Biases:       []bool{true},
		Activations:  []*network.Activation{network.ReLU()},
		Solver:       sol,
		InitWFn:      init,

		ExpReplay: expreplay.Config{
			Type:              expreplay.Uniform,
			MinReplayCapacity: 1000,
			MaxReplayCapacity: 100000,
		},
		BatchSize: batchSize,

		Quantiles: 200,
		HuberLoss: true,
		Kappa:     1.0,

		Gamma: 0.99,

		UpdateInterval:       4,
		Tau:                  1.0,
		TargetUpdateInterval: 8000,

		EpsilonTrain:      0.01,
		EpsilonEval:       0.001,
		EpsilonDecaySteps: 250000,
	}, nil
}

// Validate checks a Config to ensure it is a valid configuration of a
// QRDQN agent.
func (c Config) Validate() error {
	if len(c.PolicyLayers) != len(c.Biases) {
		return fmt.Errorf("qrdqn: invalid number of biases\n\twant(%v)"+
			"\n\thave(%v)", len(c.PolicyLayers), len(c.Biases))
	}

	if len(c.PolicyLayers) != len(c.Activations) {
		return fmt.Errorf("qrdqn: invalid number of activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.PolicyLayers),
			len(c.Activations))
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("qrdqn: batch size must be positive "+
			"\n\thave(%v)", c.BatchSize)
	}

	if c.Quantiles < 1 {
		return fmt.Errorf("qrdqn: number of quantiles must be positive "+
			"\n\thave(%v)", c.Quantiles)
	}

	if c.HuberLoss && c.Kappa <= 0 {
		return fmt.Errorf("qrdqn: huber threshold must be positive "+
			"\n\thave(%v)", c.Kappa)
	}

	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("qrdqn: discount must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}

	if c.UpdateInterval < 1 {
		return fmt.Errorf("qrdqn: update interval must be positive "+
			"\n\thave(%v)", c.UpdateInterval)
	}

	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("qrdqn: target networks must be updated at "+
			"positive environment step intervals \n\twant(>0) \n\thave(%v)",
			c.TargetUpdateInterval)
	}

	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("qrdqn: tau must be in (0, 1] \n\thave(%v)",
			c.Tau)
	}

	if c.Solver == nil || c.InitWFn == nil {
		return fmt.Errorf("qrdqn: config requires a solver and a " +
			"weight initializer")
	}

	return nil
}

// ValidAgent returns whether the agent is valid for the configuration.
// That is, whether Agent a can be constructed with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*QRDQN)
	return ok
}

// CreateAgent creates a new QRDQN agent based on the configuration
func (c Config) CreateAgent(stateDims, actionDims int,
	seed uint64) (agent.Agent, error) {
	return New(stateDims, actionDims, c, seed)
}
