// Package network implements the function approximators used by the
// agents: multi-head MLPs for action values and deterministic
// policies, quantile MLPs for distributional action values, Gaussian
// policy MLPs, and multi-critic MLPs for clipped double-Q learning.
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/kew96/rljax/params"
)

// NeuralNet implements a neural network function approximator backed
// by a Gorgonia computational graph. Networks may have more than one
// output head, in which case Prediction and Output return one node and
// one value per head.
type NeuralNet interface {
	// Graph returns the computational graph the network is built in
	Graph() *G.ExprGraph

	// Clone clones the network into a fresh graph
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network into a fresh graph with a new
	// input batch size
	CloneWithBatch(int) (NeuralNet, error)

	// CloneWithInputsTo clones the network into graph with the given
	// nodes as its inputs, concatenating multiple inputs along axis.
	// The clone shares no weight storage with the original, so its
	// predictions become part of graph and can be differentiated
	// there.
	CloneWithInputsTo(axis int, inputs []*G.Node,
		graph *G.ExprGraph) (NeuralNet, error)

	// BatchSize returns the number of rows in the network's input
	BatchSize() int

	// Features returns the number of columns in the network's input
	Features() int

	// Outputs returns the number of values each output head predicts
	// per sample
	Outputs() int

	// SetInput sets the value of the network's input node(s) before a
	// forward pass
	SetInput([]float64) error

	// Set copies the weights of another network of identical
	// architecture into this one
	Set(NeuralNet) error

	// Polyak blends the weights of another network of identical
	// architecture into this one with interpolation factor tau
	Polyak(NeuralNet, float64) error

	// Learnables returns the network's learnable nodes
	Learnables() G.Nodes

	// Model returns the network's learnables with their gradients
	Model() []G.ValueGrad

	// Output returns the last computed value of each output head
	Output() []G.Value

	// Prediction returns the graph node of each output head
	Prediction() []*G.Node
}

// copyWeights sets the weights of dest equal to the weights of source.
// Networks must have identical architectures.
func copyWeights(dest, source NeuralNet) error {
	sourceNodes := source.Learnables()
	destNodes := dest.Learnables()
	if len(sourceNodes) != len(destNodes) {
		return fmt.Errorf("copyweights: number of learnables "+
			"\n\twant(%v) \n\thave(%v)", len(destNodes), len(sourceNodes))
	}

	for i, destLearnable := range destNodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return fmt.Errorf("copyweights: learnable %v: %v", i, err)
		}
	}
	return nil
}

// polyakWeights sets the weights of dest to an exponential average of
// its own weights and those of source:
//
//	dest <- (1 - tau) * dest + tau * source
//
// Networks must have identical architectures. The blend itself is
// params.SoftUpdate over snapshots of both networks, so target syncs
// and parameter-tree arithmetic share one implementation.
func polyakWeights(dest, source NeuralNet, tau float64) error {
	destTree, err := params.FromLearnables(dest.Learnables())
	if err != nil {
		return fmt.Errorf("polyakweights: %v", err)
	}
	sourceTree, err := params.FromLearnables(source.Learnables())
	if err != nil {
		return fmt.Errorf("polyakweights: %v", err)
	}

	blended, err := params.SoftUpdate(destTree, sourceTree, tau)
	if err != nil {
		return fmt.Errorf("polyakweights: %v", err)
	}
	if err := blended.ApplyTo(dest.Learnables()); err != nil {
		return fmt.Errorf("polyakweights: %v", err)
	}
	return nil
}

// StateActionSetter is a network whose input splits into separate
// state and action slabs.
type StateActionSetter interface {
	SetStateAction(states, actions []float64) error
}

// SetStateActionInput feeds a batch of states and actions to net,
// using the split input path when the network provides one.
func SetStateActionInput(net NeuralNet, states, actions []float64) error {
	if sa, ok := net.(StateActionSetter); ok {
		return sa.SetStateAction(states, actions)
	}
	input := append(append([]float64{}, states...), actions...)
	return net.SetInput(input)
}

// concatInputs concatenates multiple input nodes along axis, after
// checking that they all belong to graph. A single input is returned
// unchanged.
func concatInputs(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (*G.Node, error) {
	for _, input := range inputs {
		if input.Graph() != graph {
			return nil, fmt.Errorf("concatinputs: not all inputs " +
				"have the same graph")
		}
	}

	if len(inputs) > 1 {
		return G.Concat(axis, inputs...)
	}
	return inputs[0], nil
}
