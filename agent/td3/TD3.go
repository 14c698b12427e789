// Package td3 implements the twin delayed deep deterministic policy
// gradient algorithm for continuous-action tasks. Two critics are
// regressed towards a clipped double-Q target computed from a
// noise-smoothed target policy, and a deterministic actor is updated
// at a lower frequency against the first online critic.
package td3

import (
	"fmt"
	"math"
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
	"github.com/kew96/rljax/utils/op"
	"github.com/kew96/rljax/utils/tensorutils"
)

// TD3 implements the twin delayed deep deterministic policy gradient
// algorithm. Bootstrap targets are computed outside the training
// graphs and enter through placeholder nodes; the actor's graph
// contains a frozen clone of the online critics so that the policy
// gradient flows through the predicted action.
type TD3 struct {
	// Action selection policy for single observations
	selectActor   network.NeuralNet
	selectActorVM G.VM

	// Policy whose weights are adapted
	trainActor   network.NeuralNet
	trainActorVM G.VM
	actorSolver  G.Solver
	actorLoss    *G.Node

	// Clone of the online critics inside the actor's graph
	actorCritic network.NeuralNet

	// Target policy providing next actions for the bootstrap target
	targetActor   network.NeuralNet
	targetActorVM G.VM

	// Critics whose weights are adapted
	trainCritic   network.NeuralNet
	trainCriticVM G.VM
	criticSolver  G.Solver
	criticLoss    *G.Node

	// Critics providing the bootstrapped update target
	targetCritic   network.NeuralNet
	targetCriticVM G.VM

	// Placeholders
	criticStates *G.Node // (batch, stateDims) states for the critic clone
	targetQ      *G.Node // (batch, 1) bootstrap target
	criticWeight *G.Node // (batch, 1) importance weights

	stateDims  int
	actionDims int
	batchSize  int

	gamma           float64
	tau             float64
	explorationStd  float64
	targetNoiseStd  float64
	targetNoiseClip float64

	// Number of critic updates between consecutive actor updates
	updateIntervalPolicy int
	startSteps           int

	replay expreplay.Buffer
	stream *rng.Stream
	track  tracker.Tracker

	nextStep      ts.TimeStep
	envSteps      int
	learningSteps int
	lastTdError   []float64
	eval          bool
}

// New creates and returns a new TD3 agent acting on stateDims state
// features and actionDims continuous action dimensions in [-1, 1].
func New(stateDims, actionDims int, config Config,
	seed uint64) (*TD3, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if stateDims < 1 || actionDims < 1 {
		return nil, fmt.Errorf("td3: state and action dimensions must "+
			"be positive \n\thave(%v, %v)", stateDims, actionDims)
	}

	batchSize := config.BatchSize
	init := config.InitWFn.InitWFn()

	// Action selection policy
	gSelect := G.NewGraph()
	selectActor, err := network.NewDeterministicPolicyMLP(stateDims, 1,
		actionDims, gSelect, config.ActorLayers, config.ActorBiases,
		init, config.ActorActivations)
	if err != nil {
		return nil, fmt.Errorf("td3: could not create selection "+
			"policy: %v", err)
	}
	selectActorVM := G.NewTapeMachine(gSelect)

	// Target policy
	targetActor, err := selectActor.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("td3: could not create target policy: %v",
			err)
	}
	targetActorVM := G.NewTapeMachine(targetActor.Graph())

	// Online critics with the regression loss in their graph
	gCritic := G.NewGraph()
	trainCritic, err := network.NewMultiCriticMLP(stateDims, actionDims,
		batchSize, 2, gCritic, config.CriticLayers, config.CriticBiases,
		init, config.CriticActivations)
	if err != nil {
		return nil, fmt.Errorf("td3: could not create critics: %v", err)
	}

	targetQ := G.NewMatrix(gCritic, tensor.Float64,
		G.WithShape(batchSize, 1), G.WithName("targetQ"))
	criticWeight := G.NewMatrix(gCritic, tensor.Float64,
		G.WithShape(batchSize, 1), G.WithName("criticWeight"))

	criticLoss, err := op.WeightedTDLoss(trainCritic.Prediction(),
		targetQ, criticWeight)
	if err != nil {
		return nil, fmt.Errorf("td3: could not build critic loss: %v",
			err)
	}
	if _, err := G.Grad(criticLoss,
		trainCritic.Learnables()...); err != nil {
		return nil, fmt.Errorf("td3: could not compute critic "+
			"gradient: %v", err)
	}
	trainCriticVM := G.NewTapeMachine(gCritic,
		G.BindDualValues(trainCritic.Learnables()...))

	// Target critics
	targetCritic, err := trainCritic.Clone()
	if err != nil {
		return nil, fmt.Errorf("td3: could not create target "+
			"critics: %v", err)
	}
	targetCriticVM := G.NewTapeMachine(targetCritic.Graph())

	// Policy whose weights are adapted, with a frozen critic clone in
	// its graph
	trainActor, err := selectActor.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("td3: could not create training "+
			"policy: %v", err)
	}
	gActor := trainActor.Graph()

	criticStates := G.NewMatrix(gActor, tensor.Float64,
		G.WithShape(batchSize, stateDims), G.WithName("criticStates"))
	actorCritic, err := trainCritic.CloneWithInputsTo(1,
		[]*G.Node{criticStates, trainActor.Prediction()[0]}, gActor)
	if err != nil {
		return nil, fmt.Errorf("td3: could not clone critics into "+
			"actor graph: %v", err)
	}

	// Maximize the first critic's value of the predicted actions
	actorLoss := G.Must(G.Neg(G.Must(G.Mean(
		actorCritic.Prediction()[0]))))
	if _, err := G.Grad(actorLoss,
		trainActor.Learnables()...); err != nil {
		return nil, fmt.Errorf("td3: could not compute actor "+
			"gradient: %v", err)
	}
	trainActorVM := G.NewTapeMachine(gActor,
		G.BindDualValues(trainActor.Learnables()...))

	replay, err := config.ExpReplay.Create(stateDims, actionDims, seed)
	if err != nil {
		return nil, fmt.Errorf("td3: could not create experience "+
			"replay buffer: %v", err)
	}

	return &TD3{
		selectActor:   selectActor,
		selectActorVM: selectActorVM,
		trainActor:    trainActor,
		trainActorVM:  trainActorVM,
		actorSolver:   config.ActorSolver,
		actorLoss:     actorLoss,
		actorCritic:   actorCritic,
		targetActor:   targetActor,
		targetActorVM: targetActorVM,

		trainCritic:   trainCritic,
		trainCriticVM: trainCriticVM,
		criticSolver:  config.CriticSolver,
		criticLoss:    criticLoss,

		targetCritic:   targetCritic,
		targetCriticVM: targetCriticVM,

		criticStates: criticStates,
		targetQ:      targetQ,
		criticWeight: criticWeight,

		stateDims:  stateDims,
		actionDims: actionDims,
		batchSize:  batchSize,

		gamma:           config.Gamma,
		tau:             config.Tau,
		explorationStd:  config.ExplorationStd,
		targetNoiseStd:  config.TargetNoiseStd,
		targetNoiseClip: config.TargetNoiseClip,

		updateIntervalPolicy: config.UpdateIntervalPolicy,
		startSteps:           config.StartSteps,

		replay: replay,
		stream: rng.NewStream(seed),
	}, nil
}

// ObserveFirst observes and records the first episodic timestep
func (t3 *TD3) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observefirst: timestep %v is not the first "+
			"of an episode", t.Number)
	}
	t3.nextStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep
func (t3 *TD3) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if action.Len() != t3.actionDims {
		return fmt.Errorf("observe: invalid action dimensions "+
			"\n\twant(%v) \n\thave(%v)", t3.actionDims, action.Len())
	}

	if !t3.nextStep.Last() {
		transition := ts.NewTransition(t3.nextStep, action, nextStep)
		if err := t3.replay.Add(transition); err != nil {
			return fmt.Errorf("observe: %v", err)
		}
	}

	t3.nextStep = nextStep
	t3.envSteps++
	return nil
}

// Step updates the weights of the agent's critics and, at the policy
// update interval, its actor and target networks
func (t3 *TD3) Step() error {
	if t3.eval {
		return nil
	}

	indices, weights, batch, err := t3.replay.Sample(t3.batchSize)
	if expreplay.IsEmptyBuffer(err) ||
		expreplay.IsInsufficientSamples(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	if err := t3.updateCritic(indices, weights, batch); err != nil {
		return err
	}
	t3.learningSteps++

	// Target critics track the online critics every learning step
	if err := t3.targetCritic.Polyak(t3.trainCritic, t3.tau); err != nil {
		return fmt.Errorf("step: could not update target critics: %v",
			err)
	}

	// Delayed policy update
	if t3.learningSteps%t3.updateIntervalPolicy != 0 {
		return nil
	}
	if err := t3.updateActor(batch); err != nil {
		return err
	}
	if err := t3.targetActor.Polyak(t3.trainActor, t3.tau); err != nil {
		return fmt.Errorf("step: could not update target policy: %v",
			err)
	}
	if err := t3.selectActor.Set(t3.trainActor); err != nil {
		return fmt.Errorf("step: could not sync selection policy: %v",
			err)
	}
	return nil
}

// updateCritic regresses both online critics towards the clipped
// double-Q target computed from the noise-smoothed target policy.
func (t3 *TD3) updateCritic(indices []int, weights []float64,
	batch *ts.Batch) error {
	// Next actions from the target policy, smoothed with clipped noise
	if err := t3.targetActor.SetInput(batch.NextStates); err != nil {
		return fmt.Errorf("step: could not set target policy input: %v",
			err)
	}
	if err := t3.targetActorVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run target policy: %v", err)
	}
	nextAction := t3.targetActor.Output()[0].(*tensor.Dense).Clone().(*tensor.Dense)
	t3.targetActorVM.Reset()

	noisyNext := tensorutils.AddClippedNoise(nextAction,
		t3.stream.Next(), t3.targetNoiseStd, -1, 1,
		-t3.targetNoiseClip, t3.targetNoiseClip)

	// Target critic values of the next state-action pairs
	if err := network.SetStateActionInput(t3.targetCritic,
		batch.NextStates, noisyNext.Data().([]float64)); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := t3.targetCriticVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run target critics: %v", err)
	}
	q1 := t3.targetCritic.Output()[0].(*tensor.Dense).Data().([]float64)
	q2 := t3.targetCritic.Output()[1].(*tensor.Dense).Data().([]float64)

	// Clipped double-Q target r + γ (1 - done) min(q1, q2)
	targetData := make([]float64, t3.batchSize)
	for b := 0; b < t3.batchSize; b++ {
		targetData[b] = batch.Rewards[b] + t3.gamma*
			(1-batch.Dones[b])*math.Min(q1[b], q2[b])
	}
	t3.targetCriticVM.Reset()

	target := tensor.New(tensor.WithShape(t3.batchSize, 1),
		tensor.WithBacking(targetData))
	if err := G.Let(t3.targetQ, target); err != nil {
		return fmt.Errorf("step: could not set bootstrap target: %v", err)
	}

	weightTensor := tensor.New(tensor.WithShape(t3.batchSize, 1),
		tensor.WithBacking(weights))
	if err := G.Let(t3.criticWeight, weightTensor); err != nil {
		return fmt.Errorf("step: could not set importance weights: %v",
			err)
	}

	if err := network.SetStateActionInput(t3.trainCritic, batch.States,
		batch.Actions); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := t3.trainCriticVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run critic graph: %v", err)
	}
	if err := t3.criticSolver.Step(t3.trainCritic.Model()); err != nil {
		return fmt.Errorf("step: could not step critic solver: %v", err)
	}
	if t3.track != nil {
		loss := t3.criticLoss.Value().Data().(float64)
		t3.track.TrackScalar("loss/critic", loss, t3.envSteps)
	}

	// New priorities from the first critic's absolute TD errors
	q1Online := t3.trainCritic.Output()[0].(*tensor.Dense).Data().([]float64)
	absTD := make([]float64, t3.batchSize)
	for b := range absTD {
		absTD[b] = math.Abs(q1Online[b] - targetData[b])
	}
	t3.trainCriticVM.Reset()

	t3.lastTdError = absTD
	if err := t3.replay.UpdatePriorities(indices, absTD); err != nil {
		return fmt.Errorf("step: could not update priorities: %v", err)
	}
	return nil
}

// updateActor adapts the policy weights against the frozen online
// critics.
func (t3 *TD3) updateActor(batch *ts.Batch) error {
	// Refresh the frozen critic clone with the newly learned critic
	// weights
	if err := t3.actorCritic.Set(t3.trainCritic); err != nil {
		return fmt.Errorf("step: could not sync actor critics: %v", err)
	}

	states := tensor.New(tensor.WithShape(t3.batchSize, t3.stateDims),
		tensor.WithBacking(append([]float64{}, batch.States...)))
	if err := G.Let(t3.criticStates, states); err != nil {
		return fmt.Errorf("step: could not set critic states: %v", err)
	}

	if err := t3.trainActor.SetInput(batch.States); err != nil {
		return fmt.Errorf("step: could not set actor input: %v", err)
	}
	if err := t3.trainActorVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run actor graph: %v", err)
	}
	if err := t3.actorSolver.Step(t3.trainActor.Model()); err != nil {
		return fmt.Errorf("step: could not step actor solver: %v", err)
	}
	if t3.track != nil {
		loss := t3.actorLoss.Value().Data().(float64)
		t3.track.TrackScalar("loss/actor", loss, t3.envSteps)
	}
	t3.trainActorVM.Reset()
	return nil
}

// SelectAction returns an action for the timestep. In evaluation mode
// the action is the deterministic policy output; in training mode
// Gaussian exploration noise is added and the result clipped to the
// action bounds, or the action is drawn uniformly from the action
// space during the initial exploration period.
func (t3 *TD3) SelectAction(t ts.TimeStep) *mat.VecDense {
	key := t3.stream.Next()
	if !t3.eval && t3.envSteps < t3.startSteps {
		action := key.UniformSlice(t3.actionDims)
		for i := range action {
			action[i] = 2*action[i] - 1
		}
		return mat.NewVecDense(t3.actionDims, action)
	}

	obs := mat.Col(nil, 0, t.Observation)
	if err := t3.selectActor.SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	if err := t3.selectActorVM.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	action := t3.selectActor.Output()[0].(*tensor.Dense).Clone().(*tensor.Dense)
	t3.selectActorVM.Reset()

	if !t3.eval {
		action = tensorutils.AddNoise(action, key, t3.explorationStd,
			-1, 1)
	}
	return mat.NewVecDense(t3.actionDims,
		append([]float64{}, action.Data().([]float64)...))
}

// TdError returns the absolute TD error of each transition in the last
// minibatch update
func (t3 *TD3) TdError() []float64 {
	return t3.lastTdError
}

// SaveParams writes the actor, target actor, critic, and target critic
// weights below dir
func (t3 *TD3) SaveParams(dir string) error {
	saves := []struct {
		name string
		net  network.NeuralNet
	}{
		{"actor.bin", t3.trainActor},
		{"actor_target.bin", t3.targetActor},
		{"critic.bin", t3.trainCritic},
		{"critic_target.bin", t3.targetCritic},
	}
	for _, save := range saves {
		tree, err := params.FromLearnables(save.net.Learnables())
		if err != nil {
			return fmt.Errorf("saveparams: %v", err)
		}
		if err := checkpoint.Save(filepath.Join(dir, save.name),
			tree); err != nil {
			return fmt.Errorf("saveparams: %v", err)
		}
	}
	return nil
}

// LoadParams restores weights previously written by SaveParams into
// the agent's networks
func (t3 *TD3) LoadParams(dir string) error {
	loads := []struct {
		name string
		nets []network.NeuralNet
	}{
		{"actor.bin", []network.NeuralNet{t3.trainActor,
			t3.selectActor}},
		{"actor_target.bin", []network.NeuralNet{t3.targetActor}},
		{"critic.bin", []network.NeuralNet{t3.trainCritic}},
		{"critic_target.bin", []network.NeuralNet{t3.targetCritic}},
	}
	for _, load := range loads {
		tree, err := checkpoint.Load(filepath.Join(dir, load.name))
		if err != nil {
			return fmt.Errorf("loadparams: %v", err)
		}
		for _, net := range load.nets {
			if err := tree.ApplyTo(net.Learnables()); err != nil {
				return fmt.Errorf("loadparams: %v", err)
			}
		}
	}
	return nil
}

// SetTracker registers a tracker that receives the losses of every
// learning step
func (t3 *TD3) SetTracker(track tracker.Tracker) {
	t3.track = track
}

// Eval sets the agent into evaluation mode
func (t3 *TD3) Eval() {
	t3.eval = true
}

// Train sets the agent into training mode
func (t3 *TD3) Train() {
	t3.eval = false
}

// IsEval indicates whether the agent is in evaluation mode
func (t3 *TD3) IsEval() bool {
	return t3.eval
}

// EndEpisode performs cleanup at the end of an episode
func (t3 *TD3) EndEpisode() {}

// Close closes the agent's virtual machines
func (t3 *TD3) Close() error {
	for _, vm := range []G.VM{t3.selectActorVM, t3.trainActorVM,
		t3.targetActorVM, t3.trainCriticVM, t3.targetCriticVM} {
		if err := vm.Close(); err != nil {
			return fmt.Errorf("close: %v", err)
		}
	}
	return nil
}
