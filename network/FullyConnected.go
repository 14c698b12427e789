package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer implements a single layer of a neural network
type Layer interface {
	fwd(*G.Node) (*G.Node, error)
	CloneTo(g *G.ExprGraph) Layer

	Weights() *G.Node
	Bias() *G.Node
	Activation() *Activation
}

// fcLayer implements a fully connected layer of a feed forward neural
// network
type fcLayer struct {
	weights *G.Node
	bias    *G.Node
	act     *Activation
}

// newFCLayer returns a new fully connected layer in graph g mapping
// features inputs to outputs outputs. The layer's weight nodes are
// named with the given prefix and suffix so that networks sharing a
// graph keep distinct node names.
func newFCLayer(g *G.ExprGraph, features, outputs int, bias bool,
	act *Activation, init G.InitWFn, prefix, suffix string) *fcLayer {
	weights := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(features, outputs),
		G.WithName(fmt.Sprintf("%vWeights%v", prefix, suffix)),
		G.WithInit(init),
	)

	var biasNode *G.Node
	if bias {
		biasNode = G.NewMatrix(
			g,
			tensor.Float64,
			G.WithShape(1, outputs),
			G.WithName(fmt.Sprintf("%vBias%v", prefix, suffix)),
			G.WithInit(init),
		)
	}

	return &fcLayer{
		weights: weights,
		bias:    biasNode,
		act:     act,
	}
}

// makeFCLayers returns the sequence of fully connected layers mapping
// features inputs through the given hidden sizes. For index i,
// hiddenSizes[i] is the number of units in layer i, biases[i] is
// whether layer i has a bias unit, and activations[i] is the
// activation of layer i.
func makeFCLayers(g *G.ExprGraph, features int, hiddenSizes []int,
	biases []bool, activations []*Activation, init G.InitWFn,
	prefix, suffix string) []Layer {
	layers := make([]Layer, len(hiddenSizes))

	in := features
	for i, out := range hiddenSizes {
		layerSuffix := fmt.Sprintf("%v%v", i, suffix)
		layers[i] = newFCLayer(g, in, out, biases[i], activations[i], init,
			prefix, layerSuffix)
		in = out
	}
	return layers
}

// checkLayerSpec validates that a layer specification has one bias
// flag and one activation per hidden size.
func checkLayerSpec(caller string, hiddenSizes []int, biases []bool,
	activations []*Activation) error {
	if len(hiddenSizes) != len(activations) {
		return fmt.Errorf("%v: invalid number of activations"+
			"\n\twant(%d)\n\thave(%d)", caller, len(hiddenSizes),
			len(activations))
	}

	if len(hiddenSizes) != len(biases) {
		return fmt.Errorf("%v: invalid number of biases\n\twant(%d)"+
			"\n\thave(%d)", caller, len(hiddenSizes), len(biases))
	}
	return nil
}

// cloneLayersTo clones a sequence of layers to a new computational
// graph
func cloneLayersTo(layers []Layer, g *G.ExprGraph) []Layer {
	cloned := make([]Layer, len(layers))
	for i := range layers {
		cloned[i] = layers[i].CloneTo(g)
	}
	return cloned
}

// forwardLayers runs the forward pass of a sequence of layers on the
// input node
func forwardLayers(layers []Layer, input *G.Node) (*G.Node, error) {
	pred := input
	var err error
	for i, l := range layers {
		if pred, err = l.fwd(pred); err != nil {
			return nil, fmt.Errorf("forwardlayers: could not compute "+
				"forward pass of layer %v: %v", i, err)
		}
	}
	return pred, nil
}

// layerLearnables appends the learnable nodes of a sequence of layers
// to learnables in layer order, weights before bias.
func layerLearnables(learnables G.Nodes, layers []Layer) G.Nodes {
	for i := range layers {
		learnables = append(learnables, layers[i].Weights())
		if bias := layers[i].Bias(); bias != nil {
			learnables = append(learnables, bias)
		}
	}
	return learnables
}

// fwd adds the forward pass of the fcLayer to the computational graph
func (f *fcLayer) fwd(x *G.Node) (*G.Node, error) {
	if f.Weights() != nil {
		x = G.Must(G.Mul(x, f.Weights()))
	}
	if f.Bias() != nil {
		// Broadcast the bias weights to all samples along the batch
		// dimension
		x = G.Must(G.BroadcastAdd(x, f.Bias(), nil, []byte{0}))
	}
	if f.Activation() == nil || f.Activation().IsNil() ||
		f.Activation().IsIdentity() {
		return x, nil
	}
	return f.Activation().fwd(x)
}

// CloneTo clones an fcLayer to a new computational graph
func (f *fcLayer) CloneTo(g *G.ExprGraph) Layer {
	var newWeights, newBias *G.Node

	if f.Weights() != nil {
		newWeights = f.Weights().CloneTo(g)
	}
	if f.Bias() != nil {
		newBias = f.Bias().CloneTo(g)
	}

	return &fcLayer{
		weights: newWeights,
		bias:    newBias,
		act:     f.act,
	}
}

func (f *fcLayer) Activation() *Activation {
	return f.act
}

func (f *fcLayer) Bias() *G.Node {
	return f.bias
}

func (f *fcLayer) Weights() *G.Node {
	return f.weights
}
