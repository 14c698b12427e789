// Package qrdqn implements quantile regression Q-learning for
// discrete-action tasks. The agent learns, for every action, the
// quantiles of the return distribution at fixed cumulative
// probabilities and acts greedily with respect to their mean.
package qrdqn

import (
	"fmt"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/kew96/rljax/checkpoint"
	"github.com/kew96/rljax/expreplay"
	"github.com/kew96/rljax/network"
	"github.com/kew96/rljax/params"
	"github.com/kew96/rljax/rng"
	ts "github.com/kew96/rljax/timestep"
	"github.com/kew96/rljax/tracker"
	"github.com/kew96/rljax/utils/floatutils"
	"github.com/kew96/rljax/utils/intutils"
	"github.com/kew96/rljax/utils/op"
	"github.com/kew96/rljax/utils/tensorutils"
)

// QRDQN implements the quantile regression deep Q-learning algorithm.
// A quantile network predicts (batch, quantiles, actions) return
// distributions; the quantile Huber loss regresses the quantiles at
// the taken actions towards the bootstrapped quantiles of the greedy
// next action.
//
// Bootstrap targets, quantile weights, and Huber regime masks are
// computed outside the training graph and fed through placeholder
// nodes, so no gradient flows through them.
type QRDQN struct {
	// Action selection network for single observations
	behaviourNet   network.NeuralNet
	behaviourNetVM G.VM

	// Forward-only copy of the online weights for batched predictions
	onlineNet   network.NeuralNet
	onlineNetVM G.VM

	// Network whose weights are adapted, with the quantile regression
	// loss wired into its graph
	trainNet   network.NeuralNet
	trainNetVM G.VM
	solver     G.Solver
	loss       *G.Node

	// Network providing the bootstrapped update target
	targetNet   network.NeuralNet
	targetNetVM G.VM

	// Placeholders in trainNet's graph
	selectedActions *G.Node // (batch, 1, actions) one-hot
	targetQuantiles *G.Node // (batch, 1, quantiles)
	quantWeight     *G.Node // (batch, quantiles, quantiles)
	huberMask       *G.Node // nil unless using the Huber loss
	weight          *G.Node // (batch,) importance weights

	// Fixed cumulative-probability midpoints of the quantiles
	cumP []float64

	stateDims    int
	numActions   int
	numQuantiles int
	batchSize    int

	gamma   float64
	kappa   float64
	huber   bool
	doubleQ bool

	// Target network update schedule
	tau                  float64
	updateInterval       int
	targetUpdateInterval int
	envSteps             int

	// Epsilon-greedy exploration schedule
	epsilonTrain      float64
	epsilonEval       float64
	epsilonDecaySteps int

	replay expreplay.Buffer
	stream *rng.Stream
	track  tracker.Tracker

	nextStep    ts.TimeStep
	lastTdError []float64
	eval        bool
}

// New creates and returns a new QRDQN agent acting on stateDims state
// features and numActions discrete actions.
func New(stateDims, numActions int, config Config,
	seed uint64) (*QRDQN, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if stateDims < 1 {
		return nil, fmt.Errorf("qrdqn: stateDims must be positive")
	}
	if numActions < 2 {
		return nil, fmt.Errorf("qrdqn: need at least 2 actions "+
			"\n\thave(%v)", numActions)
	}

	batchSize := config.BatchSize
	numQuantiles := config.Quantiles
	init := config.InitWFn.InitWFn()

	// Behaviour network for selecting actions
	g := G.NewGraph()
	behaviourNet, err := network.NewQuantileMLP(stateDims, 1, numActions,
		numQuantiles, g, config.PolicyLayers, config.Biases, init,
		config.Activations, config.Dueling)
	if err != nil {
		return nil, fmt.Errorf("qrdqn: could not create behaviour "+
			"network: %v", err)
	}
	behaviourNetVM := G.NewTapeMachine(g)

	// Forward-only batch copy of the online weights
	onlineNetClone, err := behaviourNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("qrdqn: could not create online "+
			"network: %v", err)
	}
	onlineNet := onlineNetClone
	onlineNetVM := G.NewTapeMachine(onlineNet.Graph())

	// Target network providing the update target
	targetNetClone, err := behaviourNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("qrdqn: could not create target "+
			"network: %v", err)
	}
	targetNet := targetNetClone
	targetNetVM := G.NewTapeMachine(targetNet.Graph())

	// Training network which learns the weights
	trainNetClone, err := behaviourNet.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("qrdqn: could not create learning "+
			"network: %v", err)
	}
	trainNet := trainNetClone
	gTrain := trainNet.Graph()

	// Gather the quantiles at the taken actions:
	// curr[b, i] = sum_a pred[b, i, a] * onehot[b, a]
	pred := trainNet.Prediction()[0]
	selectedActions := G.NewTensor(gTrain, tensor.Float64, 3,
		G.WithShape(batchSize, 1, numActions),
		G.WithName("selectedActions"))
	selected := G.Must(G.BroadcastHadamardProd(pred, selectedActions,
		nil, []byte{1}))
	curr := G.Must(G.Sum(selected, 2))
	curr3 := G.Must(G.Reshape(curr,
		tensor.Shape{batchSize, numQuantiles, 1}))

	// Pairwise TD errors against the gradient-blocked bootstrap
	// target: td[b, i, j] = target[b, j] - curr[b, i]
	targetQuantiles := G.NewTensor(gTrain, tensor.Float64, 3,
		G.WithShape(batchSize, 1, numQuantiles),
		G.WithName("targetQuantiles"))
	td := G.Must(G.BroadcastSub(targetQuantiles, curr3, []byte{1},
		[]byte{2}))

	quantWeight := G.NewTensor(gTrain, tensor.Float64, 3,
		G.WithShape(batchSize, numQuantiles, numQuantiles),
		G.WithName("quantWeight"))
	var huberMask *G.Node
	if config.HuberLoss {
		huberMask = G.NewTensor(gTrain, tensor.Float64, 3,
			G.WithShape(batchSize, numQuantiles, numQuantiles),
			G.WithName("huberMask"))
	}
	weight := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("importanceWeight"))

	loss, err := op.QuantileRegressionLoss(td, quantWeight, huberMask,
		weight, config.Kappa)
	if err != nil {
		return nil, fmt.Errorf("qrdqn: could not build loss: %v", err)
	}

	if _, err := G.Grad(loss, trainNet.Learnables()...); err != nil {
		return nil, fmt.Errorf("qrdqn: could not compute gradient: %v",
			err)
	}
	trainNetVM := G.NewTapeMachine(gTrain,
		G.BindDualValues(trainNet.Learnables()...))

	// Replay buffer storing scalar action indices
	replay, err := config.ExpReplay.Create(stateDims, 1, seed)
	if err != nil {
		return nil, fmt.Errorf("qrdqn: could not create experience "+
			"replay buffer: %v", err)
	}

	return &QRDQN{
		behaviourNet:   behaviourNet,
		behaviourNetVM: behaviourNetVM,
		onlineNet:      onlineNet,
		onlineNetVM:    onlineNetVM,
		trainNet:       trainNet,
		trainNetVM:     trainNetVM,
		solver:         config.Solver,
		loss:           loss,
		targetNet:      targetNet,
		targetNetVM:    targetNetVM,

		selectedActions: selectedActions,
		targetQuantiles: targetQuantiles,
		quantWeight:     quantWeight,
		huberMask:       huberMask,
		weight:          weight,

		cumP: tensorutils.CumPPrime(numQuantiles),

		stateDims:    stateDims,
		numActions:   numActions,
		numQuantiles: numQuantiles,
		batchSize:    batchSize,

		gamma:   config.Gamma,
		kappa:   config.Kappa,
		huber:   config.HuberLoss,
		doubleQ: config.DoubleQ,

		tau:                  config.Tau,
		updateInterval:       config.UpdateInterval,
		targetUpdateInterval: config.TargetUpdateInterval,

		epsilonTrain:      config.EpsilonTrain,
		epsilonEval:       config.EpsilonEval,
		epsilonDecaySteps: config.EpsilonDecaySteps,

		replay: replay,
		stream: rng.NewStream(seed),
	}, nil
}

// ObserveFirst observes and records the first episodic timestep
func (q *QRDQN) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observefirst: timestep %v is not the first "+
			"of an episode", t.Number)
	}
	q.nextStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep
func (q *QRDQN) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if action.Len() != 1 {
		return fmt.Errorf("observe: value-based methods cannot have "+
			"multi-dimensional actions (action dim = %d)", action.Len())
	}

	if !q.nextStep.Last() {
		transition := ts.NewTransition(q.nextStep, action, nextStep)
		if err := q.replay.Add(transition); err != nil {
			return fmt.Errorf("observe: %v", err)
		}
	}

	q.nextStep = nextStep
	q.envSteps++
	return nil
}

// Step updates the weights of the agent's networks
func (q *QRDQN) Step() error {
	if q.eval {
		return nil
	}
	if q.updateInterval > 1 && q.envSteps%q.updateInterval != 0 {
		return nil
	}

	indices, weights, batch, err := q.replay.Sample(q.batchSize)
	if expreplay.IsEmptyBuffer(err) ||
		expreplay.IsInsufficientSamples(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	actions := intutils.FromFloats(batch.Actions)

	// Sync the forward-only copy with the training weights
	if err := q.onlineNet.Set(q.trainNet); err != nil {
		return fmt.Errorf("step: could not sync online network: %v", err)
	}

	// Current quantiles at the taken actions
	currPred, err := q.batchPredict(q.onlineNet, q.onlineNetVM,
		batch.States)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	curr, err := tensorutils.GatherQuantilesAtAction(currPred, actions)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	// Target network quantiles of the next states
	nextPred, err := q.batchPredict(q.targetNet, q.targetNetVM,
		batch.NextStates)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	// Greedy next actions, from the online network when using
	// double-Q learning and from the target network otherwise
	greedySource := nextPred
	if q.doubleQ {
		greedySource, err = q.batchPredict(q.onlineNet, q.onlineNetVM,
			batch.NextStates)
		if err != nil {
			return fmt.Errorf("step: %v", err)
		}
	}
	nextActions, err := tensorutils.GreedyActions(greedySource)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	nextQuantiles, err := tensorutils.GatherQuantilesAtAction(nextPred,
		nextActions)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	// Bootstrap target r + γ (1 - done) z'
	nextData := nextQuantiles.Data().([]float64)
	targetData := make([]float64, q.batchSize*q.numQuantiles)
	for b := 0; b < q.batchSize; b++ {
		bootstrap := q.gamma * (1 - batch.Dones[b])
		for j := 0; j < q.numQuantiles; j++ {
			targetData[b*q.numQuantiles+j] = batch.Rewards[b] +
				bootstrap*nextData[b*q.numQuantiles+j]
		}
	}
	target := tensor.New(
		tensor.WithShape(q.batchSize, q.numQuantiles),
		tensor.WithBacking(targetData),
	)

	quantWeight, huberMask, absTD, err :=
		tensorutils.QuantileRegressionTerms(curr, target, q.cumP,
			q.kappa, q.huber)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	// Fill the placeholders of the training graph
	oneHot, err := tensorutils.OneHot(actions, q.numActions)
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := oneHot.Reshape(q.batchSize, 1, q.numActions); err != nil {
		return fmt.Errorf("step: could not reshape actions: %v", err)
	}
	if err := G.Let(q.selectedActions, oneHot); err != nil {
		return fmt.Errorf("step: could not set selected actions: %v", err)
	}

	if err := target.Reshape(q.batchSize, 1, q.numQuantiles); err != nil {
		return fmt.Errorf("step: could not reshape target: %v", err)
	}
	if err := G.Let(q.targetQuantiles, target); err != nil {
		return fmt.Errorf("step: could not set target quantiles: %v", err)
	}

	if err := G.Let(q.quantWeight, quantWeight); err != nil {
		return fmt.Errorf("step: could not set quantile weights: %v", err)
	}
	if q.huber {
		if err := G.Let(q.huberMask, huberMask); err != nil {
			return fmt.Errorf("step: could not set huber mask: %v", err)
		}
	}

	weightTensor := tensor.New(tensor.WithShape(q.batchSize),
		tensor.WithBacking(weights))
	if err := G.Let(q.weight, weightTensor); err != nil {
		return fmt.Errorf("step: could not set importance weights: %v",
			err)
	}

	// Run the learning step
	if err := q.trainNet.SetInput(batch.States); err != nil {
		return fmt.Errorf("step: could not set trainNet input: %v", err)
	}
	if err := q.trainNetVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run training graph: %v", err)
	}
	if err := q.solver.Step(q.trainNet.Model()); err != nil {
		return fmt.Errorf("step: could not step solver: %v", err)
	}
	if q.track != nil {
		loss := q.loss.Value().Data().(float64)
		q.track.TrackScalar("loss/q", loss, q.envSteps)
	}
	q.trainNetVM.Reset()

	// New priorities from the absolute TD errors
	absData := absTD.Data().([]float64)
	q.lastTdError = append([]float64{}, absData...)
	if err := q.replay.UpdatePriorities(indices, absData); err != nil {
		return fmt.Errorf("step: could not update priorities: %v", err)
	}

	// Update the target network every targetUpdateInterval environment
	// steps, not every learning step
	if q.envSteps%q.targetUpdateInterval == 0 {
		if q.tau == 1.0 {
			err = q.targetNet.Set(q.trainNet)
		} else {
			err = q.targetNet.Polyak(q.trainNet, q.tau)
		}
		if err != nil {
			return fmt.Errorf("step: could not update target network: %v",
				err)
		}
	}

	if err := q.behaviourNet.Set(q.trainNet); err != nil {
		return fmt.Errorf("step: could not sync behaviour network: %v",
			err)
	}
	return nil
}

// batchPredict runs net's forward pass on the batch of states and
// returns a copy of its (batch, quantiles, actions) prediction
func (q *QRDQN) batchPredict(net network.NeuralNet, vm G.VM,
	states []float64) (*tensor.Dense, error) {
	if err := net.SetInput(states); err != nil {
		return nil, fmt.Errorf("batchpredict: could not set input: %v",
			err)
	}
	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("batchpredict: could not run graph: %v",
			err)
	}
	pred := net.Output()[0].(*tensor.Dense).Clone().(*tensor.Dense)
	vm.Reset()
	return pred, nil
}

// SelectAction returns an action for the timestep, selected
// epsilon-greedily with respect to the mean of the predicted return
// distribution. In evaluation mode a small fixed epsilon is used;
// in training mode epsilon is annealed linearly from 1 over the decay
// period.
func (q *QRDQN) SelectAction(t ts.TimeStep) *mat.VecDense {
	epsilon := q.epsilonEval
	if !q.eval {
		epsilon = floatutils.LinearAnneal(q.envSteps,
			q.epsilonDecaySteps, 1.0, q.epsilonTrain)
	}

	// One key per stochastic operation: the exploration coin and the
	// random action each consume their own key
	if q.stream.Next().Uniform() < epsilon {
		action := q.stream.Next().Intn(q.numActions)
		return mat.NewVecDense(1, []float64{float64(action)})
	}

	obs := mat.Col(nil, 0, t.Observation)
	if err := q.behaviourNet.SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	if err := q.behaviourNetVM.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	pred := q.behaviourNet.Output()[0].(*tensor.Dense)
	actions, err := tensorutils.GreedyActions(pred)
	q.behaviourNetVM.Reset()
	if err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}

	return mat.NewVecDense(1, []float64{float64(actions[0])})
}

// TdError returns the absolute TD error of each transition in the last
// minibatch update
func (q *QRDQN) TdError() []float64 {
	return q.lastTdError
}

// SetTracker registers a tracker that receives the loss of every
// learning step
func (q *QRDQN) SetTracker(track tracker.Tracker) {
	q.track = track
}

// SaveParams writes the online and target network weights below dir
func (q *QRDQN) SaveParams(dir string) error {
	online, err := params.FromLearnables(q.trainNet.Learnables())
	if err != nil {
		return fmt.Errorf("saveparams: %v", err)
	}
	if err := checkpoint.Save(filepath.Join(dir, "online.bin"),
		online); err != nil {
		return fmt.Errorf("saveparams: %v", err)
	}

	target, err := params.FromLearnables(q.targetNet.Learnables())
	if err != nil {
		return fmt.Errorf("saveparams: %v", err)
	}
	if err := checkpoint.Save(filepath.Join(dir, "target.bin"),
		target); err != nil {
		return fmt.Errorf("saveparams: %v", err)
	}
	return nil
}

// LoadParams restores weights previously written by SaveParams into
// the agent's networks
func (q *QRDQN) LoadParams(dir string) error {
	online, err := checkpoint.Load(filepath.Join(dir, "online.bin"))
	if err != nil {
		return fmt.Errorf("loadparams: %v", err)
	}
	for _, net := range []network.NeuralNet{q.trainNet, q.onlineNet,
		q.behaviourNet} {
		if err := online.ApplyTo(net.Learnables()); err != nil {
			return fmt.Errorf("loadparams: %v", err)
		}
	}

	target, err := checkpoint.Load(filepath.Join(dir, "target.bin"))
	if err != nil {
		return fmt.Errorf("loadparams: %v", err)
	}
	if err := target.ApplyTo(q.targetNet.Learnables()); err != nil {
		return fmt.Errorf("loadparams: %v", err)
	}
	return nil
}

// Eval sets the agent into evaluation mode
func (q *QRDQN) Eval() {
	q.eval = true
}

// Train sets the agent into training mode
func (q *QRDQN) Train() {
	q.eval = false
}

// IsEval indicates whether the agent is in evaluation mode
func (q *QRDQN) IsEval() bool {
	return q.eval
}

// EndEpisode performs cleanup at the end of an episode
func (q *QRDQN) EndEpisode() {}

// Close closes the agent's virtual machines
func (q *QRDQN) Close() error {
	for _, vm := range []G.VM{q.behaviourNetVM, q.onlineNetVM,
		q.trainNetVM, q.targetNetVM} {
		if err := vm.Close(); err != nil {
			return fmt.Errorf("close: %v", err)
		}
	}
	return nil
}
