package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// multiHeadMLP implements a multi-layered perceptron with multiple
// output nodes, one for each value that should be predicted.
type multiHeadMLP struct {
	g          *G.ExprGraph
	layers     []Layer
	input      *G.Node
	numOutputs int
	numInputs  int
	batchSize  int

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

// NewMultiHeadMLP creates and returns a new multi-layered perceptron
// with one output node per predicted value. The graph parameter g is
// populated with the MLP.
//
// The MLP has number of layers equal to len(hiddenSizes) + 1. A final
// linear layer with a bias unit and no activation is always added so
// that, given any input, the network predicts outputs values. For
// index i, hiddenSizes[i] is the number of nodes in hidden layer i;
// biases[i] is true if hidden layer i will contain a bias unit; and
// activations[i] is the activation function for hidden layer i. The
// parameter init determines the weight initialization scheme.
func NewMultiHeadMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	return newMultiHeadMLP(features, batch, outputs, g, hiddenSizes,
		biases, init, activations, Identity(), "", "")
}

// NewDeterministicPolicyMLP creates and returns a new multi-layered
// perceptron whose final layer is squashed with tanh so that each
// output lies in (-1, 1). It is the deterministic policy network used
// for continuous-action agents.
func NewDeterministicPolicyMLP(features, batch, actionDims int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	return newMultiHeadMLP(features, batch, actionDims, g, hiddenSizes,
		biases, init, activations, TanH(), "Policy", "")
}

func newMultiHeadMLP(features, batch, outputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, outputActivation *Activation,
	prefix, suffix string) (NeuralNet, error) {
	err := checkLayerSpec("newmultiheadmlp", hiddenSizes, biases,
		activations)
	if err != nil {
		return nil, err
	}

	// Set up the input node
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName(fmt.Sprintf("%vInput%v", prefix, suffix)),
		G.WithInit(G.Zeroes()))

	// Add the final linear layer predicting the output heads
	hiddenSizes = append([]int{}, hiddenSizes...)
	biases = append([]bool{}, biases...)
	activations = append([]*Activation{}, activations...)
	hiddenSizes = append(hiddenSizes, outputs)
	biases = append(biases, true)
	activations = append(activations, outputActivation)

	layers := makeFCLayers(g, features, hiddenSizes, biases, activations,
		init, prefix, suffix)

	network := &multiHeadMLP{
		g:           g,
		layers:      layers,
		input:       input,
		numOutputs:  outputs,
		numInputs:   features,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
		prefix:      prefix,
		suffix:      suffix,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newmultiheadmlp: could not compute "+
			"forward pass: %v", err)
	}

	return network, nil
}

// Graph returns the computational graph of the multiHeadMLP.
func (e *multiHeadMLP) Graph() *G.ExprGraph {
	return e.g
}

// Clone clones a multiHeadMLP
func (e *multiHeadMLP) Clone() (NeuralNet, error) {
	return e.CloneWithBatch(e.batchSize)
}

// CloneWithBatch clones a multiHeadMLP with a new input batch size.
func (e *multiHeadMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	if !e.input.IsMatrix() {
		return nil, fmt.Errorf("clonewithbatch: invalid input type")
	}
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchSize, e.numInputs),
		G.WithName(fmt.Sprintf("%vInput%v", e.prefix, e.suffix)),
		G.WithInit(G.Zeroes()),
	)

	return e.CloneWithInputsTo(-1, []*G.Node{input}, graph)
}

// CloneWithInputsTo clones a multiHeadMLP to a specific computational
// graph with specified input nodes. Multiple input nodes are first
// concatenated along the given axis.
func (e *multiHeadMLP) CloneWithInputsTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputsto: %v", err)
	}

	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputsto: input must be a " +
			"matrix node")
	}

	network := &multiHeadMLP{
		g:           graph,
		layers:      cloneLayersTo(e.layers, graph),
		input:       input,
		numOutputs:  e.numOutputs,
		numInputs:   e.numInputs,
		batchSize:   input.Shape()[0],
		hiddenSizes: e.hiddenSizes,
		biases:      e.biases,
		activations: e.activations,
		prefix:      e.prefix,
		suffix:      e.suffix,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithinputsto: could not clone: %v",
			err)
	}

	return network, nil
}

// BatchSize returns the batch size of inputs to the network
func (e *multiHeadMLP) BatchSize() int {
	return e.batchSize
}

// Features returns the number of features in a single input vector
func (e *multiHeadMLP) Features() int {
	return e.numInputs
}

// Outputs returns the number of outputs from the network
func (e *multiHeadMLP) Outputs() int {
	return e.numOutputs
}

// SetInput sets the value of the input node before running the forward
// pass.
func (e *multiHeadMLP) SetInput(input []float64) error {
	if len(input) != e.numInputs*e.batchSize {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", e.numInputs*e.batchSize,
			len(input))
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(e.input.Shape()...),
	)
	return G.Let(e.input, inputTensor)
}

// Set sets the weights of a multiHeadMLP to be equal to the weights of
// another multiHeadMLP
func (e *multiHeadMLP) Set(source NeuralNet) error {
	return copyWeights(e, source)
}

// Polyak sets the weights of a multiHeadMLP to be a polyak average
// between its existing weights and the weights of another multiHeadMLP
func (e *multiHeadMLP) Polyak(source NeuralNet, tau float64) error {
	return polyakWeights(e, source, tau)
}

// Learnables returns the learnable nodes in a multiHeadMLP
func (e *multiHeadMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if e.learnables == nil {
		e.learnables = layerLearnables(
			make(G.Nodes, 0, 2*len(e.layers)), e.layers)
	}
	return e.learnables
}

// Model returns the learnable nodes with their gradients.
func (e *multiHeadMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if e.model == nil {
		e.model = make([]G.ValueGrad, 0, 2*len(e.layers))
		for _, node := range e.Learnables() {
			e.model = append(e.model, node)
		}
	}
	return e.model
}

// fwd performs the forward pass of the multiHeadMLP on the input node
func (e *multiHeadMLP) fwd(input *G.Node) error {
	pred, err := forwardLayers(e.layers, input)
	if err != nil {
		return err
	}

	e.prediction = pred
	G.Read(e.prediction, &e.predVal)

	return nil
}

// Output returns the last computed output of the multiHeadMLP
func (e *multiHeadMLP) Output() []G.Value {
	return []G.Value{e.predVal}
}

// Prediction returns the node of the computational graph that stores
// the output of the multiHeadMLP
func (e *multiHeadMLP) Prediction() []*G.Node {
	return []*G.Node{e.prediction}
}
