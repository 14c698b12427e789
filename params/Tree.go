// Package params implements parameter trees: ordered, immutable
// collections of the numeric tensors backing a network's learnable
// weights.
//
// A Tree is taken as a snapshot of a network's learnables and is never
// mutated in place. Operations combining trees (soft updates, copies)
// return new trees, and a network adopts a tree wholesale through
// ApplyTo. Two trees of identical structure can be combined
// elementwise; any structural mismatch is a programming error surfaced
// immediately, never silently broadcast.
package params

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Tree is an ordered mapping from learnable names to weight tensors.
// The order is the order of the learnables the tree was taken from.
type Tree struct {
	names   []string
	tensors []*tensor.Dense
}

// FromLearnables snapshots the current values of a network's learnable
// nodes into a new Tree. The tensors are deep copies, so later updates
// to the network do not alias into the tree.
func FromLearnables(learnables G.Nodes) (Tree, error) {
	names := make([]string, len(learnables))
	tensors := make([]*tensor.Dense, len(learnables))

	for i, node := range learnables {
		value := node.Value()
		if value == nil {
			return Tree{}, fmt.Errorf("fromlearnables: learnable %v (%v) "+
				"has no value", i, node.Name())
		}
		dense, ok := value.(*tensor.Dense)
		if !ok {
			return Tree{}, fmt.Errorf("fromlearnables: learnable %v (%v) "+
				"is not a dense tensor", i, node.Name())
		}

		names[i] = node.Name()
		tensors[i] = dense.Clone().(*tensor.Dense)
	}

	return Tree{names: names, tensors: tensors}, nil
}

// New constructs a Tree directly from names and tensors. Used by
// checkpoint restoration.
func New(names []string, tensors []*tensor.Dense) (Tree, error) {
	if len(names) != len(tensors) {
		return Tree{}, fmt.Errorf("new: have %v names for %v tensors",
			len(names), len(tensors))
	}
	return Tree{names: names, tensors: tensors}, nil
}

// Len returns the number of tensors in the tree.
func (t Tree) Len() int {
	return len(t.tensors)
}

// Names returns the learnable names in tree order.
func (t Tree) Names() []string {
	return t.names
}

// Tensors returns the tensors in tree order. Callers must not mutate
// the returned tensors.
func (t Tree) Tensors() []*tensor.Dense {
	return t.tensors
}

// Clone returns a deep copy of the tree.
func (t Tree) Clone() Tree {
	names := make([]string, len(t.names))
	copy(names, t.names)

	tensors := make([]*tensor.Dense, len(t.tensors))
	for i, tens := range t.tensors {
		tensors[i] = tens.Clone().(*tensor.Dense)
	}

	return Tree{names: names, tensors: tensors}
}

// CheckStructure verifies that two trees share identical structure:
// the same number of tensors with matching shapes, position by
// position. Online and target parameter trees must always satisfy
// this.
func CheckStructure(a, b Tree) error {
	if len(a.tensors) != len(b.tensors) {
		return fmt.Errorf("checkstructure: tree sizes differ "+
			"\n\twant(%v) \n\thave(%v)", len(a.tensors), len(b.tensors))
	}

	for i := range a.tensors {
		if !a.tensors[i].Shape().Eq(b.tensors[i].Shape()) {
			return fmt.Errorf("checkstructure: tensor %v (%v) shapes "+
				"differ \n\twant%v \n\thave%v", i, a.names[i],
				a.tensors[i].Shape(), b.tensors[i].Shape())
		}
	}

	return nil
}

// Equal returns whether two trees have identical structure and
// bit-identical tensor contents.
func Equal(a, b Tree) bool {
	if CheckStructure(a, b) != nil {
		return false
	}

	for i := range a.tensors {
		dataA := a.tensors[i].Data().([]float64)
		dataB := b.tensors[i].Data().([]float64)
		for j := range dataA {
			if dataA[j] != dataB[j] {
				return false
			}
		}
	}

	return true
}

// SoftUpdate returns the Polyak average (1-tau)*target + tau*online
// over matching tree structure. Neither input tree is modified. With
// tau = 1 the result equals online exactly; with tau = 0 it equals
// target exactly.
func SoftUpdate(target, online Tree, tau float64) (Tree, error) {
	if err := CheckStructure(target, online); err != nil {
		return Tree{}, fmt.Errorf("softupdate: %v", err)
	}

	names := make([]string, len(target.names))
	copy(names, target.names)

	tensors := make([]*tensor.Dense, len(target.tensors))
	for i := range target.tensors {
		// Exact endpoints so that structural equality tests hold after
		// tau = 0 or tau = 1 blends.
		if tau == 0.0 {
			tensors[i] = target.tensors[i].Clone().(*tensor.Dense)
			continue
		}
		if tau == 1.0 {
			tensors[i] = online.tensors[i].Clone().(*tensor.Dense)
			continue
		}

		scaledTarget, err := target.tensors[i].MulScalar(1-tau, true)
		if err != nil {
			return Tree{}, fmt.Errorf("softupdate: tensor %v: %v", i, err)
		}
		scaledOnline, err := online.tensors[i].MulScalar(tau, true)
		if err != nil {
			return Tree{}, fmt.Errorf("softupdate: tensor %v: %v", i, err)
		}
		tensors[i], err = scaledTarget.Add(scaledOnline)
		if err != nil {
			return Tree{}, fmt.Errorf("softupdate: tensor %v: %v", i, err)
		}
	}

	return Tree{names: names, tensors: tensors}, nil
}

// ApplyTo loads the tree's tensors into the argument learnable nodes,
// replacing their values wholesale. The learnables must structurally
// match the tree.
func (t Tree) ApplyTo(learnables G.Nodes) error {
	if len(learnables) != len(t.tensors) {
		return fmt.Errorf("applyto: have %v tensors for %v learnables",
			len(t.tensors), len(learnables))
	}

	for i, node := range learnables {
		if !node.Shape().Eq(t.tensors[i].Shape()) {
			return fmt.Errorf("applyto: tensor %v (%v) shapes differ "+
				"\n\twant%v \n\thave%v", i, t.names[i], node.Shape(),
				t.tensors[i].Shape())
		}

		err := G.Let(node, t.tensors[i].Clone().(*tensor.Dense))
		if err != nil {
			return fmt.Errorf("applyto: could not set learnable %v (%v): "+
				"%v", i, t.names[i], err)
		}
	}

	return nil
}

// ClipGradients clamps every entry of every gradient in the model to
// [-max, max]. Each tensor entry is clipped independently; this is not
// norm rescaling. Clipping is done in place on the gradient values so
// that a following solver step sees the clipped gradients.
func ClipGradients(model []G.ValueGrad, max float64) error {
	if max <= 0 {
		return fmt.Errorf("clipgradients: non-positive clip value %v", max)
	}

	for i, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			return fmt.Errorf("clipgradients: no gradient for learnable "+
				"%v: %v", i, err)
		}

		data, ok := grad.Data().([]float64)
		if !ok {
			return fmt.Errorf("clipgradients: gradient %v is not float64",
				i)
		}
		for j, g := range data {
			if g > max {
				data[j] = max
			} else if g < -max {
				data[j] = -max
			}
		}
	}

	return nil
}
