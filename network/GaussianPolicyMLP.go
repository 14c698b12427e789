package network

import (
	"fmt"

	"github.com/kew96/rljax/utils/op"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Bounds on the log standard deviation predicted by a
// gaussianPolicyMLP.
const (
	LogStdMin = -20.0
	LogStdMax = 2.0
)

// gaussianPolicyMLP implements a multi-layered perceptron
// parameterizing a diagonal Gaussian policy over continuous actions.
// A shared trunk feeds two output heads of shape (batch, actionDims):
// the mean and the log standard deviation, the latter clipped to
// [LogStdMin, LogStdMax].
type gaussianPolicyMLP struct {
	g         *G.ExprGraph
	trunk     []Layer
	meanOut   Layer
	logStdOut Layer
	input     *G.Node

	actionDims int
	numInputs  int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	mean      *G.Node
	logStd    *G.Node
	meanVal   G.Value
	logStdVal G.Value
}

// NewGaussianPolicyMLP creates and returns a new multi-layered
// perceptron that parameterizes a diagonal Gaussian policy over
// actionDims continuous action dimensions. The graph parameter g is
// populated with the MLP.
//
// The hidden trunk is specified by hiddenSizes, biases, and
// activations exactly as for NewMultiHeadMLP. Two linear output heads
// with bias units are always added, predicting the per-dimension mean
// and log standard deviation. Prediction and Output return the heads
// in that order.
func NewGaussianPolicyMLP(features, batch, actionDims int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	err := checkLayerSpec("newgaussianpolicymlp", hiddenSizes, biases,
		activations)
	if err != nil {
		return nil, err
	}
	if actionDims < 1 {
		return nil, fmt.Errorf("newgaussianpolicymlp: actionDims must " +
			"be positive")
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("GaussianPolicyInput"), G.WithInit(G.Zeroes()))

	trunkIn := features
	if len(hiddenSizes) > 0 {
		trunkIn = hiddenSizes[len(hiddenSizes)-1]
	}
	trunk := makeFCLayers(g, features, hiddenSizes, biases, activations,
		init, "GaussianPolicy", "")

	meanOut := newFCLayer(g, trunkIn, actionDims, true, Identity(), init,
		"GaussianPolicyMean", "")
	logStdOut := newFCLayer(g, trunkIn, actionDims, true, Identity(),
		init, "GaussianPolicyLogStd", "")

	network := &gaussianPolicyMLP{
		g:           g,
		trunk:       trunk,
		meanOut:     meanOut,
		logStdOut:   logStdOut,
		input:       input,
		actionDims:  actionDims,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newgaussianpolicymlp: could not compute "+
			"forward pass: %v", err)
	}

	return network, nil
}

// Graph returns the computational graph of the gaussianPolicyMLP
func (p *gaussianPolicyMLP) Graph() *G.ExprGraph {
	return p.g
}

// Clone clones a gaussianPolicyMLP
func (p *gaussianPolicyMLP) Clone() (NeuralNet, error) {
	return p.CloneWithBatch(p.batchSize)
}

// CloneWithBatch clones a gaussianPolicyMLP with a new input batch
// size
func (p *gaussianPolicyMLP) CloneWithBatch(batchSize int) (NeuralNet,
	error) {
	graph := G.NewGraph()
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, p.numInputs),
		G.WithName("GaussianPolicyInput"),
		G.WithInit(G.Zeroes()),
	)

	return p.CloneWithInputsTo(-1, []*G.Node{input}, graph)
}

// CloneWithInputsTo clones a gaussianPolicyMLP to a specific
// computational graph with specified input nodes.
func (p *gaussianPolicyMLP) CloneWithInputsTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputsto: %v", err)
	}

	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputsto: input must be a " +
			"matrix node")
	}

	network := &gaussianPolicyMLP{
		g:           graph,
		trunk:       cloneLayersTo(p.trunk, graph),
		meanOut:     p.meanOut.CloneTo(graph),
		logStdOut:   p.logStdOut.CloneTo(graph),
		input:       input,
		actionDims:  p.actionDims,
		numInputs:   p.numInputs,
		batchSize:   input.Shape()[0],
		hiddenSizes: p.hiddenSizes,
		biases:      p.biases,
		activations: p.activations,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithinputsto: could not clone: %v",
			err)
	}

	return network, nil
}

// BatchSize returns the batch size of inputs to the network
func (p *gaussianPolicyMLP) BatchSize() int {
	return p.batchSize
}

// Features returns the number of features in a single input vector
func (p *gaussianPolicyMLP) Features() int {
	return p.numInputs
}

// Outputs returns the number of values each output head predicts per
// sample
func (p *gaussianPolicyMLP) Outputs() int {
	return p.actionDims
}

// SetInput sets the value of the input node before running the forward
// pass.
func (p *gaussianPolicyMLP) SetInput(input []float64) error {
	if len(input) != p.numInputs*p.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", p.numInputs*p.batchSize,
			len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(p.input.Shape()...),
	)
	return G.Let(p.input, inputTensor)
}

// Set sets the weights of a gaussianPolicyMLP to be equal to the
// weights of another gaussianPolicyMLP
func (p *gaussianPolicyMLP) Set(source NeuralNet) error {
	return copyWeights(p, source)
}

// Polyak sets the weights of a gaussianPolicyMLP to be a polyak
// average between its existing weights and the weights of another
// gaussianPolicyMLP
func (p *gaussianPolicyMLP) Polyak(source NeuralNet, tau float64) error {
	return polyakWeights(p, source, tau)
}

// Learnables returns the learnable nodes in a gaussianPolicyMLP
func (p *gaussianPolicyMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if p.learnables == nil {
		learnables := layerLearnables(
			make(G.Nodes, 0, 2*len(p.trunk)+4), p.trunk)
		learnables = layerLearnables(learnables,
			[]Layer{p.meanOut, p.logStdOut})
		p.learnables = learnables
	}
	return p.learnables
}

// Model returns the learnable nodes with their gradients
func (p *gaussianPolicyMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if p.model == nil {
		p.model = make([]G.ValueGrad, 0, len(p.Learnables()))
		for _, node := range p.Learnables() {
			p.model = append(p.model, node)
		}
	}
	return p.model
}

// fwd performs the forward pass of the gaussianPolicyMLP on the input
// node
func (p *gaussianPolicyMLP) fwd(input *G.Node) error {
	hidden, err := forwardLayers(p.trunk, input)
	if err != nil {
		return err
	}

	mean, err := p.meanOut.fwd(hidden)
	if err != nil {
		return fmt.Errorf("fwd: could not compute mean head: %v", err)
	}

	logStd, err := p.logStdOut.fwd(hidden)
	if err != nil {
		return fmt.Errorf("fwd: could not compute log std head: %v", err)
	}
	logStd, err = op.ClampScalar(logStd, LogStdMin, LogStdMax)
	if err != nil {
		return fmt.Errorf("fwd: could not clip log std head: %v", err)
	}

	p.mean = mean
	p.logStd = logStd
	G.Read(p.mean, &p.meanVal)
	G.Read(p.logStd, &p.logStdVal)

	return nil
}

// Output returns the last computed mean and log standard deviation of
// the gaussianPolicyMLP
func (p *gaussianPolicyMLP) Output() []G.Value {
	return []G.Value{p.meanVal, p.logStdVal}
}

// Prediction returns the mean and log standard deviation nodes of the
// computational graph
func (p *gaussianPolicyMLP) Prediction() []*G.Node {
	return []*G.Node{p.mean, p.logStd}
}
