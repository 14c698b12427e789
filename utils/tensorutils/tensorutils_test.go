package tensorutils

import (
	"math"
	"testing"

	"gorgonia.org/tensor"

	"github.com/kew96/rljax/rng"
)

func TestCumPPrime(t *testing.T) {
	wants := []float64{0.125, 0.375, 0.625, 0.875}
	haves := CumPPrime(4)

	if len(haves) != len(wants) {
		t.Fatalf("length \n\twant(%v) \n\thave(%v)", len(wants),
			len(haves))
	}
	for i := range wants {
		if math.Abs(haves[i]-wants[i]) > 1e-12 {
			t.Errorf("midpoint %v \n\twant(%v) \n\thave(%v)", i,
				wants[i], haves[i])
		}
	}
}

func TestOneHot(t *testing.T) {
	oneHot, err := OneHot([]int{2, 0}, 3)
	if err != nil {
		t.Fatalf("onehot: %v", err)
	}

	want := []float64{0, 0, 1, 1, 0, 0}
	have := oneHot.Data().([]float64)
	for i := range want {
		if have[i] != want[i] {
			t.Errorf("entry %v \n\twant(%v) \n\thave(%v)", i, want[i],
				have[i])
		}
	}

	if _, err := OneHot([]int{3}, 3); err == nil {
		t.Error("onehot: out-of-range action should error")
	}
}

func TestGatherAtAction(t *testing.T) {
	values := tensor.New(tensor.WithShape(2, 3), tensor.WithBacking(
		[]float64{1, 2, 3, 4, 5, 6}))

	gathered, err := GatherAtAction(values, []int{2, 0})
	if err != nil {
		t.Fatalf("gatherataction: %v", err)
	}

	want := []float64{3, 4}
	have := gathered.Data().([]float64)
	for i := range want {
		if have[i] != want[i] {
			t.Errorf("sample %v \n\twant(%v) \n\thave(%v)", i, want[i],
				have[i])
		}
	}
}

func TestGatherQuantilesAtAction(t *testing.T) {
	// 2 samples, 2 quantiles, 3 actions
	quantiles := tensor.New(tensor.WithShape(2, 2, 3),
		tensor.WithBacking([]float64{
			1, 2, 3,
			4, 5, 6,

			7, 8, 9,
			10, 11, 12,
		}))

	gathered, err := GatherQuantilesAtAction(quantiles, []int{1, 2})
	if err != nil {
		t.Fatalf("gatherquantilesataction: %v", err)
	}
	if !gathered.Shape().Eq([]int{2, 2}) {
		t.Fatalf("shape \n\twant(%v) \n\thave(%v)", []int{2, 2},
			gathered.Shape())
	}

	want := []float64{2, 5, 9, 12}
	have := gathered.Data().([]float64)
	for i := range want {
		if have[i] != want[i] {
			t.Errorf("entry %v \n\twant(%v) \n\thave(%v)", i, want[i],
				have[i])
		}
	}
}

func TestGreedyActions(t *testing.T) {
	// Sample 0 prefers action 2 by quantile mean, sample 1 action 0
	quantiles := tensor.New(tensor.WithShape(2, 2, 3),
		tensor.WithBacking([]float64{
			0, 1, 5,
			0, 1, 3,

			9, 0, 1,
			7, 0, 1,
		}))

	actions, err := GreedyActions(quantiles)
	if err != nil {
		t.Fatalf("greedyactions: %v", err)
	}

	want := []int{2, 0}
	for i := range want {
		if actions[i] != want[i] {
			t.Errorf("sample %v \n\twant(%v) \n\thave(%v)", i, want[i],
				actions[i])
		}
	}
}

func TestMaxOverActions(t *testing.T) {
	quantiles := tensor.New(tensor.WithShape(1, 2, 3),
		tensor.WithBacking([]float64{
			0, 4, 2,
			-1, -9, -3,
		}))

	maxes, err := MaxOverActions(quantiles)
	if err != nil {
		t.Fatalf("maxoveractions: %v", err)
	}

	want := []float64{4, -1}
	have := maxes.Data().([]float64)
	for i := range want {
		if have[i] != want[i] {
			t.Errorf("quantile %v \n\twant(%v) \n\thave(%v)", i,
				want[i], have[i])
		}
	}
}

// TestDoubleQSelection checks that selecting bootstrap quantiles with
// the online network's greedy action differs from selecting with the
// target network's own greedy action when the two networks disagree.
func TestDoubleQSelection(t *testing.T) {
	// Online net prefers action 0, target net prefers action 1
	online := tensor.New(tensor.WithShape(1, 2, 2),
		tensor.WithBacking([]float64{
			5, 0,
			5, 0,
		}))
	target := tensor.New(tensor.WithShape(1, 2, 2),
		tensor.WithBacking([]float64{
			1, 8,
			2, 9,
		}))

	onlineGreedy, err := GreedyActions(online)
	if err != nil {
		t.Fatalf("greedyactions: %v", err)
	}
	targetGreedy, err := GreedyActions(target)
	if err != nil {
		t.Fatalf("greedyactions: %v", err)
	}

	doubleQ, err := GatherQuantilesAtAction(target, onlineGreedy)
	if err != nil {
		t.Fatalf("gatherquantilesataction: %v", err)
	}
	singleQ, err := GatherQuantilesAtAction(target, targetGreedy)
	if err != nil {
		t.Fatalf("gatherquantilesataction: %v", err)
	}

	wantDouble := []float64{1, 2}
	wantSingle := []float64{8, 9}
	haveDouble := doubleQ.Data().([]float64)
	haveSingle := singleQ.Data().([]float64)
	for i := range wantDouble {
		if haveDouble[i] != wantDouble[i] {
			t.Errorf("double-q quantile %v \n\twant(%v) \n\thave(%v)",
				i, wantDouble[i], haveDouble[i])
		}
		if haveSingle[i] != wantSingle[i] {
			t.Errorf("single-q quantile %v \n\twant(%v) \n\thave(%v)",
				i, wantSingle[i], haveSingle[i])
		}
	}
}

func TestGaussianLogProb(t *testing.T) {
	logStd := tensor.New(tensor.WithShape(1, 1),
		tensor.WithBacking([]float64{0}))
	noise := tensor.New(tensor.WithShape(1, 1),
		tensor.WithBacking([]float64{0}))

	logProb, err := GaussianLogProb(logStd, noise)
	if err != nil {
		t.Fatalf("gaussianlogprob: %v", err)
	}

	// Standard normal density at its mode
	want := -0.5 * math.Log(2*math.Pi)
	have := logProb.Data().([]float64)[0]
	if math.Abs(have-want) > 1e-12 {
		t.Errorf("log density \n\twant(%v) \n\thave(%v)", want, have)
	}
}

func TestReparameterizeDeterminism(t *testing.T) {
	mean := tensor.New(tensor.WithShape(3, 2), tensor.WithBacking(
		[]float64{0.5, -0.5, 1, -1, 0, 2}))
	logStd := tensor.New(tensor.WithShape(3, 2), tensor.WithBacking(
		[]float64{0, -1, -2, 0, -1, -3}))
	key := rng.NewStream(99).Next()

	action1, logProb1, err := Reparameterize(mean, logStd, key)
	if err != nil {
		t.Fatalf("reparameterize: %v", err)
	}
	action2, logProb2, err := Reparameterize(mean, logStd, key)
	if err != nil {
		t.Fatalf("reparameterize: %v", err)
	}

	a1 := action1.Data().([]float64)
	a2 := action2.Data().([]float64)
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Errorf("action %v differs under the same key "+
				"\n\twant(%v) \n\thave(%v)", i, a1[i], a2[i])
		}
		if a1[i] <= -1 || a1[i] >= 1 {
			t.Errorf("action %v outside (-1, 1): %v", i, a1[i])
		}
	}

	p1 := logProb1.Data().([]float64)
	p2 := logProb2.Data().([]float64)
	for i := range p1 {
		if p1[i] != p2[i] {
			t.Errorf("log prob %v differs under the same key "+
				"\n\twant(%v) \n\thave(%v)", i, p1[i], p2[i])
		}
	}
}

func TestAddNoiseBounds(t *testing.T) {
	x := tensor.New(tensor.WithShape(4, 2),
		tensor.WithBacking(make([]float64, 8)))

	stream := rng.NewStream(11)
	for i := 0; i < 50; i++ {
		noisy := AddNoise(x, stream.Next(), 10.0, -1, 1)
		for j, v := range noisy.Data().([]float64) {
			if v < -1 || v > 1 {
				t.Errorf("entry %v outside [-1, 1]: %v", j, v)
			}
		}
	}
}

func TestAddClippedNoiseBounds(t *testing.T) {
	x := tensor.New(tensor.WithShape(4, 2),
		tensor.WithBacking(make([]float64, 8)))

	stream := rng.NewStream(11)
	for i := 0; i < 50; i++ {
		noisy := AddClippedNoise(x, stream.Next(), 10.0, -1, 1, -0.5,
			0.5)
		for j, v := range noisy.Data().([]float64) {
			// Noise is clipped to [-0.5, 0.5] before being added to 0
			if v < -0.5 || v > 0.5 {
				t.Errorf("entry %v outside [-0.5, 0.5]: %v", j, v)
			}
		}
	}
}

func TestQuantileRegressionTermsSingleQuantile(t *testing.T) {
	curr := tensor.New(tensor.WithShape(1, 1),
		tensor.WithBacking([]float64{0}))
	target := tensor.New(tensor.WithShape(1, 1),
		tensor.WithBacking([]float64{2}))

	quantWeight, huberMask, absTD, err := QuantileRegressionTerms(curr,
		target, CumPPrime(1), 1.0, true)
	if err != nil {
		t.Fatalf("quantileregressionterms: %v", err)
	}

	// td = 2 > 0, so the asymmetric weight is the midpoint itself
	if have := quantWeight.Data().([]float64)[0]; have != 0.5 {
		t.Errorf("quantile weight \n\twant(%v) \n\thave(%v)", 0.5, have)
	}

	// |td| = 2 > kappa: linear Huber regime
	if have := huberMask.Data().([]float64)[0]; have != 0 {
		t.Errorf("huber mask \n\twant(%v) \n\thave(%v)", 0, have)
	}

	if have := absTD.Data().([]float64)[0]; have != 2 {
		t.Errorf("abs td \n\twant(%v) \n\thave(%v)", 2, have)
	}
}

func TestQuantileRegressionTermsIndicator(t *testing.T) {
	// curr = 3 overestimates target = 2: td < 0 flips the indicator
	curr := tensor.New(tensor.WithShape(1, 1),
		tensor.WithBacking([]float64{3}))
	target := tensor.New(tensor.WithShape(1, 1),
		tensor.WithBacking([]float64{2}))

	quantWeight, huberMask, absTD, err := QuantileRegressionTerms(curr,
		target, CumPPrime(1), 1.0, true)
	if err != nil {
		t.Fatalf("quantileregressionterms: %v", err)
	}

	if have := quantWeight.Data().([]float64)[0]; have != 0.5 {
		t.Errorf("quantile weight \n\twant(%v) \n\thave(%v)", 0.5, have)
	}

	// |td| = 1 <= kappa: quadratic Huber regime
	if have := huberMask.Data().([]float64)[0]; have != 1 {
		t.Errorf("huber mask \n\twant(%v) \n\thave(%v)", 1, have)
	}

	if have := absTD.Data().([]float64)[0]; have != 1 {
		t.Errorf("abs td \n\twant(%v) \n\thave(%v)", 1, have)
	}
}

func TestQuantileRegressionTermsShapes(t *testing.T) {
	batch, n := 3, 4
	curr := tensor.New(tensor.WithShape(batch, n),
		tensor.WithBacking(make([]float64, batch*n)))
	target := tensor.New(tensor.WithShape(batch, n),
		tensor.WithBacking(make([]float64, batch*n)))

	quantWeight, huberMask, absTD, err := QuantileRegressionTerms(curr,
		target, CumPPrime(n), 1.0, false)
	if err != nil {
		t.Fatalf("quantileregressionterms: %v", err)
	}

	if !quantWeight.Shape().Eq([]int{batch, n, n}) {
		t.Errorf("quantile weight shape \n\twant(%v) \n\thave(%v)",
			[]int{batch, n, n}, quantWeight.Shape())
	}
	if huberMask != nil {
		t.Error("squared error loss should have no huber mask")
	}
	if !absTD.Shape().Eq([]int{batch, 1}) {
		t.Errorf("abs td shape \n\twant(%v) \n\thave(%v)",
			[]int{batch, 1}, absTD.Shape())
	}
}

func TestConcatRows(t *testing.T) {
	a := []float64{1, 2, 3, 4}
	b := []float64{10, 20, 30}
	if _, err := ConcatRows(a, b, 2, 2); err == nil {
		t.Error("concatrows: mismatched rows should error")
	}

	b = []float64{10, 20}
	out, err := ConcatRows(a, b, 2, 1)
	if err != nil {
		t.Fatalf("concatrows: %v", err)
	}

	want := []float64{1, 2, 10, 3, 4, 20}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("entry %v \n\twant(%v) \n\thave(%v)", i, want[i],
				out[i])
		}
	}
}
