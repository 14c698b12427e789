package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// quantileMLP implements a multi-layered perceptron predicting a
// quantile distribution over returns for each action. Its single
// output head has shape (batch, quantiles, actions).
//
// When dueling, the trunk feeds two heads: a state-value head of shape
// (batch, quantiles) and an advantage head of shape (batch, quantiles,
// actions). The prediction is the value plus the advantage centred by
// its mean over actions.
type quantileMLP struct {
	g      *G.ExprGraph
	trunk  []Layer
	advOut Layer
	valOut Layer // nil when not dueling
	input  *G.Node

	actions   int
	quantiles int
	numInputs int
	batchSize int

	hiddenSizes []int
	biases      []bool
	activations []*Activation
	prefix      string
	suffix      string

	learnables G.Nodes
	model      []G.ValueGrad

	prediction *G.Node
	predVal    G.Value
}

// NewQuantileMLP creates and returns a new multi-layered perceptron
// that predicts, for each of actions discrete actions, the quantiles
// of the return distribution at quantiles fixed fractions. The graph
// parameter g is populated with the MLP, whose output has shape
// (batch, quantiles, actions).
//
// The hidden trunk is specified by hiddenSizes, biases, and
// activations exactly as for NewMultiHeadMLP. Output layers with bias
// units and no activation are always added. If dueling, the return
// distribution is decomposed into a state-value head and a
// mean-centred advantage head.
func NewQuantileMLP(features, batch, actions, quantiles int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, dueling bool) (NeuralNet, error) {
	err := checkLayerSpec("newquantilemlp", hiddenSizes, biases,
		activations)
	if err != nil {
		return nil, err
	}
	if actions < 1 {
		return nil, fmt.Errorf("newquantilemlp: actions must be positive")
	}
	if quantiles < 1 {
		return nil, fmt.Errorf("newquantilemlp: quantiles must be " +
			"positive")
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("QuantileInput"), G.WithInit(G.Zeroes()))

	trunkIn := features
	if len(hiddenSizes) > 0 {
		trunkIn = hiddenSizes[len(hiddenSizes)-1]
	}
	trunk := makeFCLayers(g, features, hiddenSizes, biases, activations,
		init, "Quantile", "")

	advOut := newFCLayer(g, trunkIn, quantiles*actions, true, Identity(),
		init, "QuantileAdv", "")
	var valOut Layer
	if dueling {
		valOut = newFCLayer(g, trunkIn, quantiles, true, Identity(), init,
			"QuantileVal", "")
	}

	network := &quantileMLP{
		g:           g,
		trunk:       trunk,
		advOut:      advOut,
		valOut:      valOut,
		input:       input,
		actions:     actions,
		quantiles:   quantiles,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
		prefix:      "Quantile",
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newquantilemlp: could not compute "+
			"forward pass: %v", err)
	}

	return network, nil
}

// Graph returns the computational graph of the quantileMLP
func (q *quantileMLP) Graph() *G.ExprGraph {
	return q.g
}

// Clone clones a quantileMLP
func (q *quantileMLP) Clone() (NeuralNet, error) {
	return q.CloneWithBatch(q.batchSize)
}

// CloneWithBatch clones a quantileMLP with a new input batch size
func (q *quantileMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, q.numInputs),
		G.WithName("QuantileInput"),
		G.WithInit(G.Zeroes()),
	)

	return q.CloneWithInputsTo(-1, []*G.Node{input}, graph)
}

// CloneWithInputsTo clones a quantileMLP to a specific computational
// graph with specified input nodes.
func (q *quantileMLP) CloneWithInputsTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputsto: %v", err)
	}

	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputsto: input must be a " +
			"matrix node")
	}

	var valOut Layer
	if q.valOut != nil {
		valOut = q.valOut.CloneTo(graph)
	}

	network := &quantileMLP{
		g:           graph,
		trunk:       cloneLayersTo(q.trunk, graph),
		advOut:      q.advOut.CloneTo(graph),
		valOut:      valOut,
		input:       input,
		actions:     q.actions,
		quantiles:   q.quantiles,
		numInputs:   q.numInputs,
		batchSize:   input.Shape()[0],
		hiddenSizes: q.hiddenSizes,
		biases:      q.biases,
		activations: q.activations,
		prefix:      q.prefix,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithinputsto: could not clone: %v",
			err)
	}

	return network, nil
}

// BatchSize returns the batch size of inputs to the network
func (q *quantileMLP) BatchSize() int {
	return q.batchSize
}

// Features returns the number of features in a single input vector
func (q *quantileMLP) Features() int {
	return q.numInputs
}

// Outputs returns the number of values predicted per sample
func (q *quantileMLP) Outputs() int {
	return q.quantiles * q.actions
}

// Actions returns the number of discrete actions the network predicts
// return distributions for
func (q *quantileMLP) Actions() int {
	return q.actions
}

// Quantiles returns the number of quantiles of the return distribution
// predicted for each action
func (q *quantileMLP) Quantiles() int {
	return q.quantiles
}

// SetInput sets the value of the input node before running the forward
// pass.
func (q *quantileMLP) SetInput(input []float64) error {
	if len(input) != q.numInputs*q.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", q.numInputs*q.batchSize,
			len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(q.input.Shape()...),
	)
	return G.Let(q.input, inputTensor)
}

// Set sets the weights of a quantileMLP to be equal to the weights of
// another quantileMLP
func (q *quantileMLP) Set(source NeuralNet) error {
	return copyWeights(q, source)
}

// Polyak sets the weights of a quantileMLP to be a polyak average
// between its existing weights and the weights of another quantileMLP
func (q *quantileMLP) Polyak(source NeuralNet, tau float64) error {
	return polyakWeights(q, source, tau)
}

// Learnables returns the learnable nodes in a quantileMLP
func (q *quantileMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if q.learnables == nil {
		learnables := layerLearnables(
			make(G.Nodes, 0, 2*len(q.trunk)+4), q.trunk)
		learnables = layerLearnables(learnables, []Layer{q.advOut})
		if q.valOut != nil {
			learnables = layerLearnables(learnables, []Layer{q.valOut})
		}
		q.learnables = learnables
	}
	return q.learnables
}

// Model returns the learnable nodes with their gradients
func (q *quantileMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if q.model == nil {
		q.model = make([]G.ValueGrad, 0, len(q.Learnables()))
		for _, node := range q.Learnables() {
			q.model = append(q.model, node)
		}
	}
	return q.model
}

// fwd performs the forward pass of the quantileMLP on the input node
func (q *quantileMLP) fwd(input *G.Node) error {
	hidden, err := forwardLayers(q.trunk, input)
	if err != nil {
		return err
	}

	batch := input.Shape()[0]
	adv, err := q.advOut.fwd(hidden)
	if err != nil {
		return fmt.Errorf("fwd: could not compute advantage head: %v", err)
	}
	adv, err = G.Reshape(adv, tensor.Shape{batch, q.quantiles, q.actions})
	if err != nil {
		return fmt.Errorf("fwd: could not reshape advantage head: %v", err)
	}

	pred := adv
	if q.valOut != nil {
		val, err := q.valOut.fwd(hidden)
		if err != nil {
			return fmt.Errorf("fwd: could not compute value head: %v", err)
		}
		val, err = G.Reshape(val, tensor.Shape{batch, q.quantiles, 1})
		if err != nil {
			return fmt.Errorf("fwd: could not reshape value head: %v", err)
		}

		advMean, err := G.Mean(adv, 2)
		if err != nil {
			return fmt.Errorf("fwd: could not reduce advantage head: %v",
				err)
		}
		advMean, err = G.Reshape(advMean,
			tensor.Shape{batch, q.quantiles, 1})
		if err != nil {
			return fmt.Errorf("fwd: could not reshape advantage mean: %v",
				err)
		}

		centred, err := G.BroadcastSub(adv, advMean, nil, []byte{2})
		if err != nil {
			return fmt.Errorf("fwd: could not centre advantages: %v", err)
		}
		pred, err = G.BroadcastAdd(centred, val, nil, []byte{2})
		if err != nil {
			return fmt.Errorf("fwd: could not combine dueling heads: %v",
				err)
		}
	}

	q.prediction = pred
	G.Read(q.prediction, &q.predVal)

	return nil
}

// Output returns the last computed output of the quantileMLP, a tensor
// of shape (batch, quantiles, actions)
func (q *quantileMLP) Output() []G.Value {
	return []G.Value{q.predVal}
}

// Prediction returns the node of the computational graph that stores
// the output of the quantileMLP
func (q *quantileMLP) Prediction() []*G.Node {
	return []*G.Node{q.prediction}
}
