package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// multiCriticMLP implements a collection of independent multi-layered
// perceptrons estimating the action value of a continuous action in a
// given state. Each critic has its own weights and its own output
// head of shape (batch, 1); the critics share only their input, the
// concatenation of the state and action features.
type multiCriticMLP struct {
	g           *G.ExprGraph
	towers      [][]Layer
	input       *G.Node
	stateInput  *G.Node // nil in clones built on external inputs
	actionInput *G.Node // nil in clones built on external inputs

	stateDims  int
	actionDims int
	batchSize  int

	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	predictions []*G.Node
	predVals    []G.Value
}

// NewMultiCriticMLP creates and returns numCritics independently
// parameterized action-value MLPs sharing a single (state, action)
// input. The graph parameter g is populated with the networks, each of
// which predicts a (batch, 1) action value.
//
// Each critic's hidden layers are specified by hiddenSizes, biases,
// and activations exactly as for NewMultiHeadMLP, and a final linear
// layer with a bias unit is always added. Prediction and Output return
// one entry per critic.
func NewMultiCriticMLP(stateDims, actionDims, batch, numCritics int,
	g *G.ExprGraph, hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (NeuralNet, error) {
	err := checkLayerSpec("newmulticriticmlp", hiddenSizes, biases,
		activations)
	if err != nil {
		return nil, err
	}
	if numCritics < 1 {
		return nil, fmt.Errorf("newmulticriticmlp: numCritics must be " +
			"positive")
	}

	stateInput := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, stateDims), G.WithName("CriticStateInput"),
		G.WithInit(G.Zeroes()))
	actionInput := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, actionDims), G.WithName("CriticActionInput"),
		G.WithInit(G.Zeroes()))

	input, err := G.Concat(1, stateInput, actionInput)
	if err != nil {
		return nil, fmt.Errorf("newmulticriticmlp: could not concatenate "+
			"inputs: %v", err)
	}

	network := &multiCriticMLP{
		g:           g,
		towers:      makeCriticTowers(g, stateDims+actionDims, numCritics,
			hiddenSizes, biases, activations, init),
		input:       input,
		stateInput:  stateInput,
		actionInput: actionInput,
		stateDims:   stateDims,
		actionDims:  actionDims,
		batchSize:   batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("newmulticriticmlp: could not compute "+
			"forward pass: %v", err)
	}

	return network, nil
}

// makeCriticTowers builds numCritics independent layer stacks, each
// ending in a linear (features -> 1) output layer.
func makeCriticTowers(g *G.ExprGraph, features, numCritics int,
	hiddenSizes []int, biases []bool, activations []*Activation,
	init G.InitWFn) [][]Layer {
	sizes := append(append([]int{}, hiddenSizes...), 1)
	biasFlags := append(append([]bool{}, biases...), true)
	acts := append(append([]*Activation{}, activations...), Identity())

	towers := make([][]Layer, numCritics)
	for k := range towers {
		towers[k] = makeFCLayers(g, features, sizes, biasFlags, acts,
			init, fmt.Sprintf("Critic%d", k), "")
	}
	return towers
}

// Graph returns the computational graph of the multiCriticMLP
func (c *multiCriticMLP) Graph() *G.ExprGraph {
	return c.g
}

// Clone clones a multiCriticMLP
func (c *multiCriticMLP) Clone() (NeuralNet, error) {
	return c.CloneWithBatch(c.batchSize)
}

// CloneWithBatch clones a multiCriticMLP with a new input batch size
func (c *multiCriticMLP) CloneWithBatch(batchSize int) (NeuralNet,
	error) {
	graph := G.NewGraph()
	stateInput := G.NewMatrix(graph, tensor.Float64,
		G.WithShape(batchSize, c.stateDims),
		G.WithName("CriticStateInput"), G.WithInit(G.Zeroes()))
	actionInput := G.NewMatrix(graph, tensor.Float64,
		G.WithShape(batchSize, c.actionDims),
		G.WithName("CriticActionInput"), G.WithInit(G.Zeroes()))

	cloned, err := c.CloneWithInputsTo(1, []*G.Node{stateInput,
		actionInput}, graph)
	if err != nil {
		return nil, err
	}

	critic := cloned.(*multiCriticMLP)
	critic.stateInput = stateInput
	critic.actionInput = actionInput
	return critic, nil
}

// CloneWithInputsTo clones a multiCriticMLP to a specific
// computational graph with specified input nodes, concatenated along
// axis. Feeding a policy network's action node as the action input
// makes the cloned critics differentiable through the action.
func (c *multiCriticMLP) CloneWithInputsTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	input, err := concatInputs(axis, inputs, graph)
	if err != nil {
		return nil, fmt.Errorf("clonewithinputsto: %v", err)
	}

	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputsto: input must be a " +
			"matrix node")
	}
	if input.Shape()[1] != c.stateDims+c.actionDims {
		return nil, fmt.Errorf("clonewithinputsto: invalid number of "+
			"input features \n\twant(%v) \n\thave(%v)",
			c.stateDims+c.actionDims, input.Shape()[1])
	}

	towers := make([][]Layer, len(c.towers))
	for k := range c.towers {
		towers[k] = cloneLayersTo(c.towers[k], graph)
	}

	network := &multiCriticMLP{
		g:           graph,
		towers:      towers,
		input:       input,
		stateDims:   c.stateDims,
		actionDims:  c.actionDims,
		batchSize:   input.Shape()[0],
		hiddenSizes: c.hiddenSizes,
		biases:      c.biases,
		activations: c.activations,
	}
	if err := network.fwd(input); err != nil {
		return nil, fmt.Errorf("clonewithinputsto: could not clone: %v",
			err)
	}

	return network, nil
}

// BatchSize returns the batch size of inputs to the network
func (c *multiCriticMLP) BatchSize() int {
	return c.batchSize
}

// Features returns the total number of state and action features in a
// single input row
func (c *multiCriticMLP) Features() int {
	return c.stateDims + c.actionDims
}

// Outputs returns the number of values each critic predicts per sample
func (c *multiCriticMLP) Outputs() int {
	return 1
}

// Critics returns the number of independent critics
func (c *multiCriticMLP) Critics() int {
	return len(c.towers)
}

// SetInput sets the value of the input nodes before running the
// forward pass. The first batch*stateDims elements are the states and
// the remainder the actions.
func (c *multiCriticMLP) SetInput(input []float64) error {
	split := c.batchSize * c.stateDims
	want := split + c.batchSize*c.actionDims
	if len(input) != want {
		return fmt.Errorf("setinput: invalid number of inputs"+
			"\n\twant(%v)\n\thave(%v)", want, len(input))
	}
	return c.SetStateAction(input[:split], input[split:])
}

// SetStateAction sets the values of the state and action input nodes
// before running the forward pass.
func (c *multiCriticMLP) SetStateAction(states, actions []float64) error {
	if c.stateInput == nil || c.actionInput == nil {
		return fmt.Errorf("setstateaction: network has external inputs")
	}
	if len(states) != c.batchSize*c.stateDims {
		return fmt.Errorf("setstateaction: invalid number of state "+
			"features \n\twant(%v) \n\thave(%v)",
			c.batchSize*c.stateDims, len(states))
	}
	if len(actions) != c.batchSize*c.actionDims {
		return fmt.Errorf("setstateaction: invalid number of action "+
			"features \n\twant(%v) \n\thave(%v)",
			c.batchSize*c.actionDims, len(actions))
	}

	stateTensor := tensor.New(
		tensor.WithBacking(states),
		tensor.WithShape(c.batchSize, c.stateDims),
	)
	if err := G.Let(c.stateInput, stateTensor); err != nil {
		return fmt.Errorf("setstateaction: %v", err)
	}

	actionTensor := tensor.New(
		tensor.WithBacking(actions),
		tensor.WithShape(c.batchSize, c.actionDims),
	)
	if err := G.Let(c.actionInput, actionTensor); err != nil {
		return fmt.Errorf("setstateaction: %v", err)
	}
	return nil
}

// Set sets the weights of a multiCriticMLP to be equal to the weights
// of another multiCriticMLP
func (c *multiCriticMLP) Set(source NeuralNet) error {
	return copyWeights(c, source)
}

// Polyak sets the weights of a multiCriticMLP to be a polyak average
// between its existing weights and the weights of another
// multiCriticMLP
func (c *multiCriticMLP) Polyak(source NeuralNet, tau float64) error {
	return polyakWeights(c, source, tau)
}

// Learnables returns the learnable nodes in a multiCriticMLP
func (c *multiCriticMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if c.learnables == nil {
		learnables := make(G.Nodes, 0,
			2*len(c.towers)*(len(c.hiddenSizes)+1))
		for k := range c.towers {
			learnables = layerLearnables(learnables, c.towers[k])
		}
		c.learnables = learnables
	}
	return c.learnables
}

// Model returns the learnable nodes with their gradients
func (c *multiCriticMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if c.model == nil {
		c.model = make([]G.ValueGrad, 0, len(c.Learnables()))
		for _, node := range c.Learnables() {
			c.model = append(c.model, node)
		}
	}
	return c.model
}

// fwd performs the forward pass of every critic on the input node
func (c *multiCriticMLP) fwd(input *G.Node) error {
	c.predictions = make([]*G.Node, len(c.towers))
	c.predVals = make([]G.Value, len(c.towers))

	for k := range c.towers {
		pred, err := forwardLayers(c.towers[k], input)
		if err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"critic %v: %v", k, err)
		}
		c.predictions[k] = pred
		G.Read(c.predictions[k], &c.predVals[k])
	}
	return nil
}

// Output returns the last computed (batch, 1) action value of each
// critic
func (c *multiCriticMLP) Output() []G.Value {
	return c.predVals
}

// Prediction returns the (batch, 1) action-value node of each critic
func (c *multiCriticMLP) Prediction() []*G.Node {
	return c.predictions
}
