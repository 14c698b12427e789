package network

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
)

// forward runs a single forward pass of net on input and returns the
// value of each output head.
func forward(t *testing.T, net NeuralNet, input []float64) []G.Value {
	t.Helper()

	if err := net.SetInput(input); err != nil {
		t.Fatalf("setinput: %v", err)
	}
	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("runall: %v", err)
	}
	return net.Output()
}

func TestMultiHeadMLPOutputShape(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMultiHeadMLP(3, 2, 4, g, []int{5}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmultiheadmlp: %v", err)
	}

	if net.BatchSize() != 2 || net.Features() != 3 || net.Outputs() != 4 {
		t.Fatalf("dimensions \n\twant(%v, %v, %v) \n\thave(%v, %v, %v)",
			2, 3, 4, net.BatchSize(), net.Features(), net.Outputs())
	}

	out := forward(t, net, make([]float64, 6))
	if len(out) != 1 {
		t.Fatalf("output heads \n\twant(%v) \n\thave(%v)", 1, len(out))
	}
	if !out[0].Shape().Eq([]int{2, 4}) {
		t.Errorf("output shape \n\twant(%v) \n\thave(%v)", []int{2, 4},
			out[0].Shape())
	}
}

func TestMultiHeadMLPSetCopiesWeights(t *testing.T) {
	gA := G.NewGraph()
	netA, err := NewMultiHeadMLP(2, 1, 3, gA, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmultiheadmlp: %v", err)
	}

	gB := G.NewGraph()
	netB, err := NewMultiHeadMLP(2, 1, 3, gB, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmultiheadmlp: %v", err)
	}

	if err := netB.Set(netA); err != nil {
		t.Fatalf("set: %v", err)
	}

	input := []float64{0.5, -1.5}
	outA := forward(t, netA, input)[0].Data().([]float64)
	outB := forward(t, netB, input)[0].Data().([]float64)
	for i := range outA {
		if outA[i] != outB[i] {
			t.Errorf("output %v after set \n\twant(%v) \n\thave(%v)", i,
				outA[i], outB[i])
		}
	}
}

func TestMultiHeadMLPPolyakEndpoint(t *testing.T) {
	gA := G.NewGraph()
	netA, err := NewMultiHeadMLP(2, 1, 3, gA, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmultiheadmlp: %v", err)
	}

	netB, err := netA.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	gC := G.NewGraph()
	netC, err := NewMultiHeadMLP(2, 1, 3, gC, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmultiheadmlp: %v", err)
	}

	// A full polyak step equals a weight copy
	if err := netB.Polyak(netC, 1.0); err != nil {
		t.Fatalf("polyak: %v", err)
	}

	learnB, learnC := netB.Learnables(), netC.Learnables()
	for i := range learnB {
		dataB := learnB[i].Value().Data().([]float64)
		dataC := learnC[i].Value().Data().([]float64)
		for j := range dataB {
			if math.Abs(dataB[j]-dataC[j]) > 1e-12 {
				t.Errorf("learnable %v entry %v \n\twant(%v) "+
					"\n\thave(%v)", i, j, dataC[j], dataB[j])
			}
		}
	}
}

func TestCloneIndependence(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMultiHeadMLP(2, 1, 3, g, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmultiheadmlp: %v", err)
	}

	clone, err := net.CloneWithBatch(5)
	if err != nil {
		t.Fatalf("clonewithbatch: %v", err)
	}
	if clone.BatchSize() != 5 {
		t.Errorf("clone batch size \n\twant(%v) \n\thave(%v)", 5,
			clone.BatchSize())
	}
	if clone.Graph() == net.Graph() {
		t.Error("clone shares the original's graph")
	}

	// Mutating the original's weights must not touch the clone
	before := append([]float64{},
		clone.Learnables()[0].Value().Data().([]float64)...)
	original := net.Learnables()[0].Value().Data().([]float64)
	for i := range original {
		original[i] += 100
	}
	after := clone.Learnables()[0].Value().Data().([]float64)
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("clone weight %v changed \n\twant(%v) \n\thave(%v)",
				i, before[i], after[i])
		}
	}
}

func TestDeterministicPolicyMLPBounds(t *testing.T) {
	g := G.NewGraph()
	net, err := NewDeterministicPolicyMLP(2, 3, 2, g, []int{8},
		[]bool{true}, G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newdeterministicpolicymlp: %v", err)
	}

	input := []float64{10, -10, 100, -100, 1000, -1000}
	out := forward(t, net, input)[0].Data().([]float64)
	for i, a := range out {
		if a <= -1 || a >= 1 {
			t.Errorf("action %v outside (-1, 1): %v", i, a)
		}
	}
}

func TestQuantileMLPOutputShape(t *testing.T) {
	for _, dueling := range []bool{false, true} {
		g := G.NewGraph()
		net, err := NewQuantileMLP(3, 2, 4, 5, g, []int{6}, []bool{true},
			G.GlorotU(1.0), []*Activation{ReLU()}, dueling)
		if err != nil {
			t.Fatalf("newquantilemlp (dueling %v): %v", dueling, err)
		}

		out := forward(t, net, make([]float64, 6))
		if !out[0].Shape().Eq([]int{2, 5, 4}) {
			t.Errorf("output shape (dueling %v) \n\twant(%v) "+
				"\n\thave(%v)", dueling, []int{2, 5, 4}, out[0].Shape())
		}
	}
}

func TestGaussianPolicyMLPHeads(t *testing.T) {
	g := G.NewGraph()
	net, err := NewGaussianPolicyMLP(3, 2, 2, g, []int{4}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newgaussianpolicymlp: %v", err)
	}

	out := forward(t, net, []float64{100, -100, 50, 1e6, -1e6, 1e6})
	if len(out) != 2 {
		t.Fatalf("output heads \n\twant(%v) \n\thave(%v)", 2, len(out))
	}

	mean, logStd := out[0], out[1]
	if !mean.Shape().Eq([]int{2, 2}) || !logStd.Shape().Eq([]int{2, 2}) {
		t.Fatalf("head shapes \n\twant(%v) \n\thave(%v, %v)",
			[]int{2, 2}, mean.Shape(), logStd.Shape())
	}

	// Extreme inputs must still produce clamped log deviations
	for i, v := range logStd.Data().([]float64) {
		if v < LogStdMin || v > LogStdMax {
			t.Errorf("logStd %v outside [%v, %v]: %v", i, LogStdMin,
				LogStdMax, v)
		}
	}
}

func TestMultiCriticMLPShapes(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMultiCriticMLP(3, 2, 4, 2, g, []int{5}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmulticriticmlp: %v", err)
	}

	critic := net.(*multiCriticMLP)
	if critic.Critics() != 2 {
		t.Fatalf("critics \n\twant(%v) \n\thave(%v)", 2,
			critic.Critics())
	}

	states := make([]float64, 4*3)
	actions := make([]float64, 4*2)
	for i := range states {
		states[i] = float64(i) * 0.1
	}
	for i := range actions {
		actions[i] = 0.5 - float64(i)*0.1
	}
	if err := critic.SetStateAction(states, actions); err != nil {
		t.Fatalf("setstateaction: %v", err)
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("runall: %v", err)
	}

	out := net.Output()
	if len(out) != 2 {
		t.Fatalf("output heads \n\twant(%v) \n\thave(%v)", 2, len(out))
	}
	for k := range out {
		if !out[k].Shape().Eq([]int{4, 1}) {
			t.Errorf("critic %v shape \n\twant(%v) \n\thave(%v)", k,
				[]int{4, 1}, out[k].Shape())
		}
	}

	// Independent parameterizations should give differing values
	q1 := out[0].Data().([]float64)
	q2 := out[1].Data().([]float64)
	same := true
	for i := range q1 {
		if q1[i] != q2[i] {
			same = false
		}
	}
	if same {
		t.Error("independently initialized critics agree exactly")
	}
}

func TestSetStateActionInput(t *testing.T) {
	// A critic with split state and action inputs takes the direct
	// path
	gA := G.NewGraph()
	netA, err := NewMultiCriticMLP(3, 2, 2, 1, gA, []int{5}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmulticriticmlp: %v", err)
	}

	states := []float64{0.1, 0.2, 0.3, -0.1, -0.2, -0.3}
	actions := []float64{0.5, -0.5, 0.25, -0.25}
	if err := SetStateActionInput(netA, states, actions); err != nil {
		t.Fatalf("setstateactioninput: %v", err)
	}

	gB := G.NewGraph()
	netB, err := NewMultiCriticMLP(3, 2, 2, 1, gB, []int{5}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmulticriticmlp: %v", err)
	}
	if err := netB.Set(netA); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := netB.SetInput(append(append([]float64{}, states...),
		actions...)); err != nil {
		t.Fatalf("setinput: %v", err)
	}

	// Both input paths must produce the same critic values
	run := func(net NeuralNet, g *G.ExprGraph) []float64 {
		vm := G.NewTapeMachine(g)
		defer vm.Close()
		if err := vm.RunAll(); err != nil {
			t.Fatalf("runall: %v", err)
		}
		return net.Output()[0].Data().([]float64)
	}

	outA := run(netA, gA)
	outB := run(netB, gB)
	for i := range outA {
		if outA[i] != outB[i] {
			t.Errorf("critic value %v \n\twant(%v) \n\thave(%v)", i,
				outA[i], outB[i])
		}
	}
}

func TestMultiCriticMLPInputValidation(t *testing.T) {
	g := G.NewGraph()
	net, err := NewMultiCriticMLP(3, 2, 4, 2, g, []int{5}, []bool{true},
		G.GlorotU(1.0), []*Activation{ReLU()})
	if err != nil {
		t.Fatalf("newmulticriticmlp: %v", err)
	}

	if err := net.SetInput(make([]float64, 7)); err == nil {
		t.Error("setinput: wrong input length should error")
	}
}
