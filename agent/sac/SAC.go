// Package sac implements the soft actor-critic algorithm for
// continuous-action tasks. A tanh-squashed Gaussian policy is trained
// against the minimum of two action-value critics, with an entropy
// bonus whose temperature is itself learned to match a target entropy.
package sac

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

// SAC implements the soft actor-critic algorithm.
//
// The actor's training graph contains the reparameterized sampling
// path, so the policy gradient flows through the sampled action into a
// frozen clone of the online critics. Bootstrap targets for the critic
// update are computed outside the training graphs and enter through
// placeholder nodes.
type SAC struct {
	// Action selection policy for single observations
	selectActor   network.NeuralNet
	selectActorVM G.VM

	// Forward-only batch copy of the policy for next-state actions
	batchActor   network.NeuralNet
	batchActorVM G.VM

	// Policy whose weights are adapted
	trainActor   network.NeuralNet
	trainActorVM G.VM
	actorSolver  G.Solver
	actorLoss    *G.Node

	// Clone of the online critics inside the actor's graph; its
	// weights are re-synced from trainCritic before each actor update
	actorCritic network.NeuralNet

	// Critics whose weights are adapted
	trainCritic   network.NeuralNet
	trainCriticVM G.VM
	criticSolver  G.Solver
	criticLoss    *G.Node

	// Critics providing the bootstrapped update target
	targetCritic   network.NeuralNet
	targetCriticVM G.VM

	// Learned entropy temperature in its own graph
	logAlpha      *G.Node
	alphaVM       G.VM
	alphaSolver   G.Solver
	alphaLoss     *G.Node
	meanLogPiPH   *G.Node // placeholder fed with the actor's mean log pi
	targetEntropy float64
	alpha         float64

	// Placeholders in the actor's graph
	actorNoise   *G.Node // (batch, actionDims) standard normal draws
	actorAlpha   *G.Node // scalar temperature, gradient-blocked
	criticStates *G.Node // (batch, stateDims) states for the critic clone

	// Value of the actor graph's mean log pi node
	meanLogPiVal *G.Value

	// Placeholders in the critic's graph
	targetQ      *G.Node // (batch, 1) bootstrap target
	criticWeight *G.Node // (batch, 1) importance weights

	stateDims  int
	actionDims int
	batchSize  int

	gamma      float64
	tau        float64
	startSteps int

	replay expreplay.Buffer
	stream *rng.Stream
	track  tracker.Tracker

	nextStep    ts.TimeStep
	envSteps    int
	lastTdError []float64
	eval        bool
}

// New creates and returns a new SAC agent acting on stateDims state
// features and actionDims continuous action dimensions in [-1, 1].
func New(stateDims, actionDims int, config Config,
	seed uint64) (*SAC, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if stateDims < 1 || actionDims < 1 {
		return nil, fmt.Errorf("sac: state and action dimensions must "+
			"be positive \n\thave(%v, %v)", stateDims, actionDims)
	}

	batchSize := config.BatchSize
	init := config.InitWFn.InitWFn()

	// Action selection policy
	gSelect := G.NewGraph()
	selectActor, err := network.NewGaussianPolicyMLP(stateDims, 1,
		actionDims, gSelect, config.ActorLayers, config.ActorBiases,
		init, config.ActorActivations)
	if err != nil {
		return nil, fmt.Errorf("sac: could not create selection "+
			"policy: %v", err)
	}
	selectActorVM := G.NewTapeMachine(gSelect)

	// Forward-only batch copy for next-state action sampling
	batchActorClone, err := selectActor.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("sac: could not create batch policy: %v",
			err)
	}
	batchActor := batchActorClone
	batchActorVM := G.NewTapeMachine(batchActor.Graph())

	// Online critics with the regression loss in their graph
	gCritic := G.NewGraph()
	trainCritic, err := network.NewMultiCriticMLP(stateDims, actionDims,
		batchSize, 2, gCritic, config.CriticLayers, config.CriticBiases,
		init, config.CriticActivations)
	if err != nil {
		return nil, fmt.Errorf("sac: could not create critics: %v", err)
	}

	targetQ := G.NewMatrix(gCritic, tensor.Float64,
		G.WithShape(batchSize, 1), G.WithName("targetQ"))
	criticWeight := G.NewMatrix(gCritic, tensor.Float64,
		G.WithShape(batchSize, 1), G.WithName("criticWeight"))

	criticLoss, err := op.WeightedTDLoss(trainCritic.Prediction(),
		targetQ, criticWeight)
	if err != nil {
		return nil, fmt.Errorf("sac: could not build critic loss: %v",
			err)
	}
	if _, err := G.Grad(criticLoss,
		trainCritic.Learnables()...); err != nil {
		return nil, fmt.Errorf("sac: could not compute critic "+
			"gradient: %v", err)
	}
	trainCriticVM := G.NewTapeMachine(gCritic,
		G.BindDualValues(trainCritic.Learnables()...))

	// Target critics
	targetCriticClone, err := trainCritic.Clone()
	if err != nil {
		return nil, fmt.Errorf("sac: could not create target "+
			"critics: %v", err)
	}
	targetCritic := targetCriticClone
	targetCriticVM := G.NewTapeMachine(targetCritic.Graph())

	// Policy whose weights are adapted, with the reparameterized
	// sampling path and a frozen critic clone in its graph
	trainActorClone, err := selectActor.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("sac: could not create training "+
			"policy: %v", err)
	}
	trainActor := trainActorClone
	gActor := trainActor.Graph()

	meanNode := trainActor.Prediction()[0]
	logStdNode := trainActor.Prediction()[1]
	actorNoise := G.NewMatrix(gActor, tensor.Float64,
		G.WithShape(batchSize, actionDims), G.WithName("actorNoise"))
	action, logProb, err := op.Reparameterize(meanNode, logStdNode,
		actorNoise)
	if err != nil {
		return nil, fmt.Errorf("sac: could not build sampling path: %v",
			err)
	}

	criticStates := G.NewMatrix(gActor, tensor.Float64,
		G.WithShape(batchSize, stateDims), G.WithName("criticStates"))
	actorCritic, err := trainCritic.CloneWithInputsTo(1,
		[]*G.Node{criticStates, action}, gActor)
	if err != nil {
		return nil, fmt.Errorf("sac: could not clone critics into "+
			"actor graph: %v", err)
	}

	minQ, err := op.ElemMin(actorCritic.Prediction()[0],
		actorCritic.Prediction()[1])
	if err != nil {
		return nil, fmt.Errorf("sac: could not build actor loss: %v", err)
	}

	logProb2 := G.Must(G.Reshape(logProb,
		tensor.Shape{batchSize, 1}))
	actorAlpha := G.NewScalar(gActor, tensor.Float64,
		G.WithName("actorAlpha"))
	entropyCost := G.Must(G.HadamardProd(actorAlpha, logProb2))
	actorLoss := G.Must(G.Mean(G.Must(G.Sub(entropyCost, minQ))))

	meanLogPi := G.Must(G.Mean(logProb))
	meanLogPiVal := new(G.Value)
	G.Read(meanLogPi, meanLogPiVal)

	if _, err := G.Grad(actorLoss,
		trainActor.Learnables()...); err != nil {
		return nil, fmt.Errorf("sac: could not compute actor "+
			"gradient: %v", err)
	}
	trainActorVM := G.NewTapeMachine(gActor,
		G.BindDualValues(trainActor.Learnables()...))

	// Entropy temperature, adapted towards the target entropy
	targetEntropy := config.TargetEntropy
	if config.AutoTargetEntropy {
		targetEntropy = -float64(actionDims)
	}

	gAlpha := G.NewGraph()
	logAlpha := G.NewVector(gAlpha, tensor.Float64, G.WithShape(1),
		G.WithName("logAlpha"),
		G.WithInit(G.ValuesOf(math.Log(config.InitialAlpha))))
	meanLogPiPH := G.NewScalar(gAlpha, tensor.Float64,
		G.WithName("meanLogPi"))
	excessEntropy := G.Must(G.Add(meanLogPiPH,
		G.NewConstant(targetEntropy)))
	alphaLoss := G.Must(G.Neg(G.Must(G.Mean(G.Must(G.HadamardProd(
		logAlpha, excessEntropy))))))
	if _, err := G.Grad(alphaLoss, logAlpha); err != nil {
		return nil, fmt.Errorf("sac: could not compute temperature "+
			"gradient: %v", err)
	}
	alphaVM := G.NewTapeMachine(gAlpha, G.BindDualValues(logAlpha))

	replay, err := config.ExpReplay.Create(stateDims, actionDims, seed)
	if err != nil {
		return nil, fmt.Errorf("sac: could not create experience "+
			"replay buffer: %v", err)
	}

	return &SAC{
		selectActor:   selectActor,
		selectActorVM: selectActorVM,
		batchActor:    batchActor,
		batchActorVM:  batchActorVM,
		trainActor:    trainActor,
		trainActorVM:  trainActorVM,
		actorSolver:   config.ActorSolver,
		actorLoss:     actorLoss,
		actorCritic:   actorCritic,

		trainCritic:   trainCritic,
		trainCriticVM: trainCriticVM,
		criticSolver:  config.CriticSolver,
		criticLoss:    criticLoss,

		targetCritic:   targetCritic,
		targetCriticVM: targetCriticVM,

		logAlpha:      logAlpha,
		alphaVM:       alphaVM,
		alphaSolver:   config.AlphaSolver,
		alphaLoss:     alphaLoss,
		meanLogPiPH:   meanLogPiPH,
		targetEntropy: targetEntropy,
		alpha:         config.InitialAlpha,

		actorNoise:   actorNoise,
		actorAlpha:   actorAlpha,
		criticStates: criticStates,
		meanLogPiVal: meanLogPiVal,

		targetQ:      targetQ,
		criticWeight: criticWeight,

		stateDims:  stateDims,
		actionDims: actionDims,
		batchSize:  batchSize,

		gamma:      config.Gamma,
		tau:        config.Tau,
		startSteps: config.StartSteps,

		replay: replay,
		stream: rng.NewStream(seed),
	}, nil
}

// ObserveFirst observes and records the first episodic timestep
func (s *SAC) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observefirst: timestep %v is not the first "+
			"of an episode", t.Number)
	}
	s.nextStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep
func (s *SAC) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if action.Len() != s.actionDims {
		return fmt.Errorf("observe: invalid action dimensions "+
			"\n\twant(%v) \n\thave(%v)", s.actionDims, action.Len())
	}

	if !s.nextStep.Last() {
		transition := ts.NewTransition(s.nextStep, action, nextStep)
		if err := s.replay.Add(transition); err != nil {
			return fmt.Errorf("observe: %v", err)
		}
	}

	s.nextStep = nextStep
	s.envSteps++
	return nil
}

// Step updates the weights of the agent's critics, policy, and entropy
// temperature
func (s *SAC) Step() error {
	if s.eval {
		return nil
	}

	indices, weights, batch, err := s.replay.Sample(s.batchSize)
	if expreplay.IsEmptyBuffer(err) ||
		expreplay.IsInsufficientSamples(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	if err := s.updateCritic(indices, weights, batch); err != nil {
		return err
	}
	if err := s.updateActor(batch); err != nil {
		return err
	}
	if err := s.updateAlpha(); err != nil {
		return err
	}

	// Target critics track the online critics every step
	if err := s.targetCritic.Polyak(s.trainCritic, s.tau); err != nil {
		return fmt.Errorf("step: could not update target critics: %v",
			err)
	}

	// Sync the selection policy with the newly learned weights
	if err := s.selectActor.Set(s.trainActor); err != nil {
		return fmt.Errorf("step: could not sync selection policy: %v",
			err)
	}
	return nil
}

// updateCritic regresses both online critics towards the soft
// bootstrap target min(Q') - alpha * log pi'.
func (s *SAC) updateCritic(indices []int, weights []float64,
	batch *ts.Batch) error {
	// Sample next actions from the current policy
	if err := s.batchActor.Set(s.trainActor); err != nil {
		return fmt.Errorf("step: could not sync batch policy: %v", err)
	}
	if err := s.batchActor.SetInput(batch.NextStates); err != nil {
		return fmt.Errorf("step: could not set batch policy input: %v",
			err)
	}
	if err := s.batchActorVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run batch policy: %v", err)
	}
	nextMean := s.batchActor.Output()[0].(*tensor.Dense).Clone().(*tensor.Dense)
	nextLogStd := s.batchActor.Output()[1].(*tensor.Dense).Clone().(*tensor.Dense)
	s.batchActorVM.Reset()

	nextAction, nextLogPi, err := tensorutils.Reparameterize(nextMean,
		nextLogStd, s.stream.Next())
	if err != nil {
		return fmt.Errorf("step: %v", err)
	}

	// Target critic values of the next state-action pairs
	if err := network.SetStateActionInput(s.targetCritic,
		batch.NextStates, nextAction.Data().([]float64)); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := s.targetCriticVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run target critics: %v", err)
	}
	q1 := s.targetCritic.Output()[0].(*tensor.Dense).Data().([]float64)
	q2 := s.targetCritic.Output()[1].(*tensor.Dense).Data().([]float64)

	// Soft bootstrap target r + γ (1 - done) (min(q1, q2) - α log π)
	logPiData := nextLogPi.Data().([]float64)
	targetData := make([]float64, s.batchSize)
	for b := 0; b < s.batchSize; b++ {
		minQ := math.Min(q1[b], q2[b])
		targetData[b] = batch.Rewards[b] + s.gamma*(1-batch.Dones[b])*
			(minQ-s.alpha*logPiData[b])
	}
	s.targetCriticVM.Reset()

	target := tensor.New(tensor.WithShape(s.batchSize, 1),
		tensor.WithBacking(targetData))
	if err := G.Let(s.targetQ, target); err != nil {
		return fmt.Errorf("step: could not set bootstrap target: %v", err)
	}

	weightTensor := tensor.New(tensor.WithShape(s.batchSize, 1),
		tensor.WithBacking(weights))
	if err := G.Let(s.criticWeight, weightTensor); err != nil {
		return fmt.Errorf("step: could not set importance weights: %v",
			err)
	}

	if err := network.SetStateActionInput(s.trainCritic, batch.States,
		batch.Actions); err != nil {
		return fmt.Errorf("step: %v", err)
	}
	if err := s.trainCriticVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run critic graph: %v", err)
	}
	if err := s.criticSolver.Step(s.trainCritic.Model()); err != nil {
		return fmt.Errorf("step: could not step critic solver: %v", err)
	}
	if s.track != nil {
		loss := s.criticLoss.Value().Data().(float64)
		s.track.TrackScalar("loss/critic", loss, s.envSteps)
	}

	// New priorities from the first critic's absolute TD errors
	q1Online := s.trainCritic.Output()[0].(*tensor.Dense).Data().([]float64)
	absTD := make([]float64, s.batchSize)
	for b := range absTD {
		absTD[b] = math.Abs(q1Online[b] - targetData[b])
	}
	s.trainCriticVM.Reset()

	s.lastTdError = absTD
	if err := s.replay.UpdatePriorities(indices, absTD); err != nil {
		return fmt.Errorf("step: could not update priorities: %v", err)
	}
	return nil
}

// updateActor adapts the policy weights against the frozen online
// critics, keeping the temperature fixed.
func (s *SAC) updateActor(batch *ts.Batch) error {
	// Refresh the frozen critic clone with the newly learned critic
	// weights
	if err := s.actorCritic.Set(s.trainCritic); err != nil {
		return fmt.Errorf("step: could not sync actor critics: %v", err)
	}

	noise := s.stream.Next().Normal(s.batchSize, s.actionDims)
	if err := G.Let(s.actorNoise, noise); err != nil {
		return fmt.Errorf("step: could not set actor noise: %v", err)
	}
	if err := G.Let(s.actorAlpha, s.alpha); err != nil {
		return fmt.Errorf("step: could not set temperature: %v", err)
	}

	states := tensor.New(tensor.WithShape(s.batchSize, s.stateDims),
		tensor.WithBacking(append([]float64{}, batch.States...)))
	if err := G.Let(s.criticStates, states); err != nil {
		return fmt.Errorf("step: could not set critic states: %v", err)
	}

	if err := s.trainActor.SetInput(batch.States); err != nil {
		return fmt.Errorf("step: could not set actor input: %v", err)
	}
	if err := s.trainActorVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run actor graph: %v", err)
	}
	if err := s.actorSolver.Step(s.trainActor.Model()); err != nil {
		return fmt.Errorf("step: could not step actor solver: %v", err)
	}
	if s.track != nil {
		loss := s.actorLoss.Value().Data().(float64)
		s.track.TrackScalar("loss/actor", loss, s.envSteps)
	}
	s.trainActorVM.Reset()
	return nil
}

// updateAlpha adapts the entropy temperature towards the target
// entropy using the mean log probability of the last actor update.
func (s *SAC) updateAlpha() error {
	if *s.meanLogPiVal == nil {
		return fmt.Errorf("step: no recorded policy entropy")
	}
	meanLogPi := (*s.meanLogPiVal).Data().(float64)

	if err := G.Let(s.meanLogPiPH, meanLogPi); err != nil {
		return fmt.Errorf("step: could not set mean log pi: %v", err)
	}
	if err := s.alphaVM.RunAll(); err != nil {
		return fmt.Errorf("step: could not run temperature graph: %v",
			err)
	}
	if err := s.alphaSolver.Step([]G.ValueGrad{s.logAlpha}); err != nil {
		return fmt.Errorf("step: could not step temperature solver: %v",
			err)
	}
	if s.track != nil {
		loss := s.alphaLoss.Value().Data().(float64)
		s.track.TrackScalar("loss/alpha", loss, s.envSteps)
	}
	s.alphaVM.Reset()

	logAlpha := s.logAlpha.Value().Data().([]float64)[0]
	s.alpha = math.Exp(logAlpha)
	if s.track != nil {
		s.track.TrackScalar("stats/alpha", s.alpha, s.envSteps)
	}
	return nil
}

// SelectAction returns an action for the timestep. In evaluation mode
// the action is the tanh-squashed policy mean; in training mode it is
// sampled from the squashed Gaussian, or drawn uniformly from the
// action space during the initial exploration period.
func (s *SAC) SelectAction(t ts.TimeStep) *mat.VecDense {
	key := s.stream.Next()
	if !s.eval && s.envSteps < s.startSteps {
		action := key.UniformSlice(s.actionDims)
		for i := range action {
			action[i] = 2*action[i] - 1
		}
		return mat.NewVecDense(s.actionDims, action)
	}

	obs := mat.Col(nil, 0, t.Observation)
	if err := s.selectActor.SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	if err := s.selectActorVM.RunAll(); err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	mean := s.selectActor.Output()[0].(*tensor.Dense).Clone().(*tensor.Dense)
	logStd := s.selectActor.Output()[1].(*tensor.Dense).Clone().(*tensor.Dense)
	s.selectActorVM.Reset()

	if s.eval {
		meanData := mean.Data().([]float64)
		action := make([]float64, s.actionDims)
		for i := range action {
			action[i] = math.Tanh(meanData[i])
		}
		return mat.NewVecDense(s.actionDims, action)
	}

	action, _, err := tensorutils.Reparameterize(mean, logStd, key)
	if err != nil {
		panic(fmt.Sprintf("selectaction: %v", err))
	}
	return mat.NewVecDense(s.actionDims,
		append([]float64{}, action.Data().([]float64)...))
}

// TdError returns the absolute TD error of each transition in the last
// minibatch update
func (s *SAC) TdError() []float64 {
	return s.lastTdError
}

// Alpha returns the current entropy temperature
func (s *SAC) Alpha() float64 {
	return s.alpha
}

// SetTracker registers a tracker that receives the losses and entropy
// temperature of every learning step
func (s *SAC) SetTracker(track tracker.Tracker) {
	s.track = track
}

// SaveParams writes the actor, critic, and target critic weights below
// dir
func (s *SAC) SaveParams(dir string) error {
	saves := []struct {
		name string
		net  network.NeuralNet
	}{
		{"actor.bin", s.trainActor},
		{"critic.bin", s.trainCritic},
		{"critic_target.bin", s.targetCritic},
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
func (s *SAC) LoadParams(dir string) error {
	actor, err := checkpoint.Load(filepath.Join(dir, "actor.bin"))
	if err != nil {
		return fmt.Errorf("loadparams: %v", err)
	}
	for _, net := range []network.NeuralNet{s.trainActor, s.batchActor,
		s.selectActor} {
		if err := actor.ApplyTo(net.Learnables()); err != nil {
			return fmt.Errorf("loadparams: %v", err)
		}
	}

	critic, err := checkpoint.Load(filepath.Join(dir, "critic.bin"))
	if err != nil {
		return fmt.Errorf("loadparams: %v", err)
	}
	if err := critic.ApplyTo(s.trainCritic.Learnables()); err != nil {
		return fmt.Errorf("loadparams: %v", err)
	}

	target, err := checkpoint.Load(filepath.Join(dir,
		"critic_target.bin"))
	if err != nil {
		return fmt.Errorf("loadparams: %v", err)
	}
	if err := target.ApplyTo(s.targetCritic.Learnables()); err != nil {
		return fmt.Errorf("loadparams: %v", err)
	}
	return nil
}

// Eval sets the agent into evaluation mode
func (s *SAC) Eval() {
	s.eval = true
}

// Train sets the agent into training mode
func (s *SAC) Train() {
	s.eval = false
}

// IsEval indicates whether the agent is in evaluation mode
func (s *SAC) IsEval() bool {
	return s.eval
}

// EndEpisode performs cleanup at the end of an episode
func (s *SAC) EndEpisode() {}

// Close closes the agent's virtual machines
func (s *SAC) Close() error {
	for _, vm := range []G.VM{s.selectActorVM, s.batchActorVM,
		s.trainActorVM, s.trainCriticVM, s.targetCriticVM, s.alphaVM} {
		if err := vm.Close(); err != nil {
			return fmt.Errorf("close: %v", err)
		}
	}
	return nil
}
