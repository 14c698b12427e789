package td3

import (
	"fmt"

	"github.com/kew96/rljax/agent"
	"github.com/kew96/rljax/expreplay"
	"github.com/kew96/rljax/initwfn"
	"github.com/kew96/rljax/network"
	"github.com/kew96/rljax/solver"
)

// Config implements a configuration for a TD3 agent
type Config struct {
	ActorLayers      []int                 // Layer sizes in policy net
	ActorBiases      []bool                // Whether each layer has a bias
	ActorActivations []*network.Activation // Activation of each layer

	CriticLayers      []int                 // Layer sizes in critic nets
	CriticBiases      []bool                // Whether each layer has a bias
	CriticActivations []*network.Activation // Activation of each layer

	ActorSolver  *solver.Solver // Solver for policy weights
	CriticSolver *solver.Solver // Solver for critic weights

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn

	// Experience replay parameters
	ExpReplay expreplay.Config
	BatchSize int

	Gamma float64 // Discount factor
	Tau   float64 // Polyak averaging constant for target networks

	// ExplorationStd is the standard deviation of the Gaussian noise
	// added to actions during training
	ExplorationStd float64

	// Target policy smoothing: noise with standard deviation
	// TargetNoiseStd, clipped to [-TargetNoiseClip, TargetNoiseClip],
	// is added to target policy actions when computing the bootstrap
	// target
	TargetNoiseStd  float64
	TargetNoiseClip float64

	// UpdateIntervalPolicy is the number of critic updates between
	// consecutive policy and target network updates
	UpdateIntervalPolicy int

	// StartSteps is the number of initial environment steps on which
	// actions are drawn uniformly from the action space
	StartSteps int
}

// NewDefaultConfig returns a Config with standard hyperparameters for
// a TD3 agent
func NewDefaultConfig() (Config, error) {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return Config{}, fmt.Errorf("newdefaultconfig: %v", err)
	}

	actorSolver, err := solver.NewDefaultAdam(1e-3, 256)
	if err != nil {
		return Config{}, fmt.Errorf("newdefaultconfig: %v", err)
	}
	criticSolver, err := solver.NewDefaultAdam(1e-3, 256)
	if err != nil {
		return Config{}, fmt.Errorf("newdefaultconfig: %v", err)
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

		ActorSolver:  actorSolver,
		CriticSolver: criticSolver,
		InitWFn:      init,

		ExpReplay: expreplay.Config{
			Type:              expreplay.Uniform,
			MinReplayCapacity: 1000,
			MaxReplayCapacity: 100000,
		},
		BatchSize: 256,

		Gamma: 0.99,
		Tau:   5e-3,

		ExplorationStd:  0.1,
		TargetNoiseStd:  0.2,
		TargetNoiseClip: 0.5,

		UpdateIntervalPolicy: 2,

		StartSteps: 10000,
	}, nil
}

// Validate checks a Config to ensure it is a valid configuration of a
// TD3 agent.
func (c Config) Validate() error {
	if len(c.ActorLayers) != len(c.ActorBiases) {
		return fmt.Errorf("td3: invalid number of actor biases"+
			"\n\twant(%v)\n\thave(%v)", len(c.ActorLayers),
			len(c.ActorBiases))
	}

	if len(c.ActorLayers) != len(c.ActorActivations) {
		return fmt.Errorf("td3: invalid number of actor activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.ActorLayers),
			len(c.ActorActivations))
	}

	if len(c.CriticLayers) != len(c.CriticBiases) {
		return fmt.Errorf("td3: invalid number of critic biases"+
			"\n\twant(%v)\n\thave(%v)", len(c.CriticLayers),
			len(c.CriticBiases))
	}

	if len(c.CriticLayers) != len(c.CriticActivations) {
		return fmt.Errorf("td3: invalid number of critic activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.CriticLayers),
			len(c.CriticActivations))
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("td3: batch size must be positive "+
			"\n\thave(%v)", c.BatchSize)
	}

	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("td3: discount must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}

	if c.Tau <= 0 || c.Tau > 1 {
		return fmt.Errorf("td3: tau must be in (0, 1] \n\thave(%v)",
			c.Tau)
	}

	if c.ExplorationStd < 0 {
		return fmt.Errorf("td3: exploration noise scale cannot be "+
			"negative \n\thave(%v)", c.ExplorationStd)
	}

	if c.TargetNoiseStd < 0 || c.TargetNoiseClip < 0 {
		return fmt.Errorf("td3: target policy smoothing noise cannot "+
			"be negative \n\thave(%v, %v)", c.TargetNoiseStd,
			c.TargetNoiseClip)
	}

	if c.UpdateIntervalPolicy < 1 {
		return fmt.Errorf("td3: policy update interval must be "+
			"positive \n\thave(%v)", c.UpdateIntervalPolicy)
	}

	if c.StartSteps < 0 {
		return fmt.Errorf("td3: start steps cannot be negative "+
			"\n\thave(%v)", c.StartSteps)
	}

	if c.ActorSolver == nil || c.CriticSolver == nil ||
		c.InitWFn == nil {
		return fmt.Errorf("td3: config requires actor and critic " +
			"solvers and a weight initializer")
	}

	return nil
}

// ValidAgent returns whether the agent is valid for the configuration.
// That is, whether Agent a can be constructed with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*TD3)
	return ok
}

// CreateAgent creates a new TD3 agent based on the configuration
func (c Config) CreateAgent(stateDims, actionDims int,
	seed uint64) (agent.Agent, error) {
	return New(stateDims, actionDims, c, seed)
}
