package params

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func newTree(t *testing.T, values ...float64) Tree {
	t.Helper()

	tensors := []*tensor.Dense{
		tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{
			values[0], values[0], values[0], values[0]})),
		tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float64{
			values[1], values[1]})),
	}
	tree, err := New([]string{"W", "b"}, tensors)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return tree
}

func TestSoftUpdateEndpoints(t *testing.T) {
	target := newTree(t, 1.0, -1.0)
	online := newTree(t, 3.0, 5.0)

	// tau = 0 leaves the target untouched
	blended, err := SoftUpdate(target, online, 0.0)
	if err != nil {
		t.Fatalf("softupdate: %v", err)
	}
	if !Equal(blended, target) {
		t.Error("softupdate: tau = 0 should equal the target tree")
	}

	// tau = 1 copies the online tree exactly
	blended, err = SoftUpdate(target, online, 1.0)
	if err != nil {
		t.Fatalf("softupdate: %v", err)
	}
	if !Equal(blended, online) {
		t.Error("softupdate: tau = 1 should equal the online tree")
	}
}

func TestSoftUpdateBlend(t *testing.T) {
	target := newTree(t, 1.0, -1.0)
	online := newTree(t, 3.0, 5.0)

	blended, err := SoftUpdate(target, online, 0.25)
	if err != nil {
		t.Fatalf("softupdate: %v", err)
	}

	wants := []float64{0.75*1.0 + 0.25*3.0, 0.75*-1.0 + 0.25*5.0}
	for i, tens := range blended.Tensors() {
		for j, have := range tens.Data().([]float64) {
			if math.Abs(have-wants[i]) > 1e-12 {
				t.Errorf("tensor %v entry %v \n\twant(%v) \n\thave(%v)",
					i, j, wants[i], have)
			}
		}
	}

	// Inputs are never mutated
	if !Equal(target, newTree(t, 1.0, -1.0)) {
		t.Error("softupdate: target tree was mutated")
	}
	if !Equal(online, newTree(t, 3.0, 5.0)) {
		t.Error("softupdate: online tree was mutated")
	}
}

func TestCheckStructureMismatch(t *testing.T) {
	a := newTree(t, 1.0, 2.0)

	b, err := New([]string{"W"}, []*tensor.Dense{
		tensor.New(tensor.WithShape(2, 2),
			tensor.WithBacking(make([]float64, 4))),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if CheckStructure(a, b) == nil {
		t.Error("checkstructure: size mismatch should error")
	}

	c, err := New([]string{"W", "b"}, []*tensor.Dense{
		tensor.New(tensor.WithShape(2, 2),
			tensor.WithBacking(make([]float64, 4))),
		tensor.New(tensor.WithShape(2, 1),
			tensor.WithBacking(make([]float64, 2))),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if CheckStructure(a, c) == nil {
		t.Error("checkstructure: shape mismatch should error")
	}
}

func TestFromLearnablesRoundTrip(t *testing.T) {
	g := G.NewGraph()
	weights := G.NewMatrix(g, tensor.Float64, G.WithShape(2, 3),
		G.WithName("Weights"), G.WithInit(G.ValuesOf(2.5)))
	bias := G.NewMatrix(g, tensor.Float64, G.WithShape(1, 3),
		G.WithName("Bias"), G.WithInit(G.ValuesOf(-0.5)))
	learnables := G.Nodes{weights, bias}

	tree, err := FromLearnables(learnables)
	if err != nil {
		t.Fatalf("fromlearnables: %v", err)
	}
	if tree.Len() != 2 {
		t.Fatalf("tree length \n\twant(%v) \n\thave(%v)", 2, tree.Len())
	}
	if tree.Names()[0] != "Weights" || tree.Names()[1] != "Bias" {
		t.Errorf("tree names \n\thave(%v)", tree.Names())
	}

	// The tree is a snapshot: overwrite the learnables, apply the
	// tree, and the original values must come back
	zero := tensor.New(tensor.WithShape(2, 3),
		tensor.WithBacking(make([]float64, 6)))
	if err := G.Let(weights, zero); err != nil {
		t.Fatalf("let: %v", err)
	}

	if err := tree.ApplyTo(learnables); err != nil {
		t.Fatalf("applyto: %v", err)
	}
	for _, have := range weights.Value().Data().([]float64) {
		if have != 2.5 {
			t.Errorf("restored weight \n\twant(%v) \n\thave(%v)", 2.5,
				have)
		}
	}
}

func TestApplyToShapeMismatch(t *testing.T) {
	tree := newTree(t, 1.0, 2.0)

	g := G.NewGraph()
	weights := G.NewMatrix(g, tensor.Float64, G.WithShape(3, 3),
		G.WithName("Weights"), G.WithInit(G.Zeroes()))
	bias := G.NewMatrix(g, tensor.Float64, G.WithShape(1, 2),
		G.WithName("Bias"), G.WithInit(G.Zeroes()))

	if tree.ApplyTo(G.Nodes{weights, bias}) == nil {
		t.Error("applyto: shape mismatch should error")
	}
}
