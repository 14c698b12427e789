// Package tensorutils implements the tensor-level numeric kernels
// shared by the algorithms in this library: Gaussian log densities,
// tanh-squashed reparameterization, batched indexed gathers, and the
// gradient-blocked terms of the quantile regression loss.
//
// Everything here is a pure function of its inputs. Stochastic kernels
// take a single-use rng.Key and are deterministic given that key.
package tensorutils

import (
	"fmt"
	"math"

	"github.com/kew96/rljax/rng"
	"gorgonia.org/tensor"
)

// logProbEps offsets the tanh Jacobian correction away from log(0).
const logProbEps = 1e-6

// GaussianLogProb returns the log densities of a batch of diagonal
// Gaussian draws, summed across action dimensions. The noise argument
// holds the standard normal draws that produced the batch and logStd
// the log standard deviations, both of shape (batch, dims).
func GaussianLogProb(logStd, noise *tensor.Dense) (*tensor.Dense, error) {
	if !logStd.Shape().Eq(noise.Shape()) {
		return nil, fmt.Errorf("gaussianlogprob: shapes differ "+
			"\n\twant%v \n\thave%v", logStd.Shape(), noise.Shape())
	}

	batch := logStd.Shape()[0]
	dims := logStd.Shape()[1]
	logStdData := logStd.Data().([]float64)
	noiseData := noise.Data().([]float64)

	out := make([]float64, batch)
	norm := 0.5 * math.Log(2*math.Pi) * float64(dims)
	for b := 0; b < batch; b++ {
		sum := 0.0
		for d := 0; d < dims; d++ {
			i := b*dims + d
			sum += -0.5*noiseData[i]*noiseData[i] - logStdData[i]
		}
		out[b] = sum - norm
	}

	return tensor.New(tensor.WithShape(batch),
		tensor.WithBacking(out)), nil
}

// TanhLogProb returns the log densities of tanh-squashed Gaussian
// draws: the Gaussian log density minus the tanh Jacobian correction
// sum(log(1 - action^2 + eps)).
func TanhLogProb(logStd, noise, action *tensor.Dense) (*tensor.Dense,
	error) {
	logProb, err := GaussianLogProb(logStd, noise)
	if err != nil {
		return nil, fmt.Errorf("tanhlogprob: %v", err)
	}
	if !action.Shape().Eq(noise.Shape()) {
		return nil, fmt.Errorf("tanhlogprob: action shape differs "+
			"\n\twant%v \n\thave%v", noise.Shape(), action.Shape())
	}

	batch := action.Shape()[0]
	dims := action.Shape()[1]
	actionData := action.Data().([]float64)
	logProbData := logProb.Data().([]float64)

	for b := 0; b < batch; b++ {
		for d := 0; d < dims; d++ {
			a := actionData[b*dims+d]
			logProbData[b] -= math.Log(1 - a*a + logProbEps)
		}
	}

	return logProb, nil
}

// Reparameterize draws a batch of tanh-squashed Gaussian actions using
// the reparameterization trick: actions are a deterministic function
// of the policy parameters and standard normal noise drawn from key.
// It returns the actions and their log probabilities.
func Reparameterize(mean, logStd *tensor.Dense, key rng.Key) (
	*tensor.Dense, *tensor.Dense, error) {
	if !mean.Shape().Eq(logStd.Shape()) {
		return nil, nil, fmt.Errorf("reparameterize: shapes differ "+
			"\n\twant%v \n\thave%v", mean.Shape(), logStd.Shape())
	}

	noise := key.Normal(mean.Shape()...)
	noiseData := noise.Data().([]float64)
	meanData := mean.Data().([]float64)
	logStdData := logStd.Data().([]float64)

	actionData := make([]float64, len(meanData))
	for i := range actionData {
		actionData[i] = math.Tanh(meanData[i] +
			noiseData[i]*math.Exp(logStdData[i]))
	}
	action := tensor.New(tensor.WithShape(mean.Shape()...),
		tensor.WithBacking(actionData))

	logProb, err := TanhLogProb(logStd, noise, action)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}

	return action, logProb, nil
}

// AddNoise adds Gaussian noise of standard deviation std to x and
// clips the result into [min, max].
func AddNoise(x *tensor.Dense, key rng.Key, std, min,
	max float64) *tensor.Dense {
	noise := key.Normal(x.Shape()...)
	noiseData := noise.Data().([]float64)
	xData := x.Data().([]float64)

	out := make([]float64, len(xData))
	for i := range out {
		out[i] = clip(xData[i]+noiseData[i]*std, min, max)
	}

	return tensor.New(tensor.WithShape(x.Shape()...),
		tensor.WithBacking(out))
}

// AddClippedNoise adds Gaussian noise that is itself clipped into
// [noiseMin, noiseMax] before being added, then clips the sum into
// [min, max]. This is the target-policy smoothing used by TD3.
func AddClippedNoise(x *tensor.Dense, key rng.Key, std, min, max,
	noiseMin, noiseMax float64) *tensor.Dense {
	noise := key.Normal(x.Shape()...)
	noiseData := noise.Data().([]float64)
	xData := x.Data().([]float64)

	out := make([]float64, len(xData))
	for i := range out {
		n := clip(noiseData[i]*std, noiseMin, noiseMax)
		out[i] = clip(xData[i]+n, min, max)
	}

	return tensor.New(tensor.WithShape(x.Shape()...),
		tensor.WithBacking(out))
}

func clip(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// GatherAtAction extracts, for each sample b, the value at index
// actions[b] from a batch of per-action values of shape
// (batch, numActions). The result has shape (batch,).
func GatherAtAction(values *tensor.Dense, actions []int) (*tensor.Dense,
	error) {
	if len(values.Shape()) != 2 {
		return nil, fmt.Errorf("gatherataction: values must have shape "+
			"(batch, actions) \n\thave%v", values.Shape())
	}
	batch := values.Shape()[0]
	numActions := values.Shape()[1]
	if len(actions) != batch {
		return nil, fmt.Errorf("gatherataction: have %v actions for "+
			"batch of %v", len(actions), batch)
	}

	data := values.Data().([]float64)
	out := make([]float64, batch)
	for b, a := range actions {
		if a < 0 || a >= numActions {
			return nil, fmt.Errorf("gatherataction: action %v out of "+
				"range [0, %v)", a, numActions)
		}
		out[b] = data[b*numActions+a]
	}

	return tensor.New(tensor.WithShape(batch),
		tensor.WithBacking(out)), nil
}

// GatherQuantilesAtAction extracts, for each sample b, the quantile
// slice at index actions[b] from a batch of per-action quantiles of
// shape (batch, numQuantiles, numActions). The result has shape
// (batch, numQuantiles).
func GatherQuantilesAtAction(quantiles *tensor.Dense,
	actions []int) (*tensor.Dense, error) {
	if len(quantiles.Shape()) != 3 {
		return nil, fmt.Errorf("gatherquantilesataction: quantiles must "+
			"have shape (batch, quantiles, actions) \n\thave%v",
			quantiles.Shape())
	}
	batch := quantiles.Shape()[0]
	numQuantiles := quantiles.Shape()[1]
	numActions := quantiles.Shape()[2]
	if len(actions) != batch {
		return nil, fmt.Errorf("gatherquantilesataction: have %v actions "+
			"for batch of %v", len(actions), batch)
	}

	data := quantiles.Data().([]float64)
	out := make([]float64, batch*numQuantiles)
	for b, a := range actions {
		if a < 0 || a >= numActions {
			return nil, fmt.Errorf("gatherquantilesataction: action %v "+
				"out of range [0, %v)", a, numActions)
		}
		for n := 0; n < numQuantiles; n++ {
			out[b*numQuantiles+n] = data[(b*numQuantiles+n)*numActions+a]
		}
	}

	return tensor.New(tensor.WithShape(batch, numQuantiles),
		tensor.WithBacking(out)), nil
}

// MaxOverActions reduces a (batch, numQuantiles, numActions) tensor to
// (batch, numQuantiles) by taking the max over the action axis for
// each quantile independently.
func MaxOverActions(quantiles *tensor.Dense) (*tensor.Dense, error) {
	if len(quantiles.Shape()) != 3 {
		return nil, fmt.Errorf("maxoveractions: quantiles must have "+
			"shape (batch, quantiles, actions) \n\thave%v",
			quantiles.Shape())
	}
	batch := quantiles.Shape()[0]
	numQuantiles := quantiles.Shape()[1]
	numActions := quantiles.Shape()[2]

	data := quantiles.Data().([]float64)
	out := make([]float64, batch*numQuantiles)
	for b := 0; b < batch; b++ {
		for n := 0; n < numQuantiles; n++ {
			max := data[(b*numQuantiles+n)*numActions]
			for a := 1; a < numActions; a++ {
				if v := data[(b*numQuantiles+n)*numActions+a]; v > max {
					max = v
				}
			}
			out[b*numQuantiles+n] = max
		}
	}

	return tensor.New(tensor.WithShape(batch, numQuantiles),
		tensor.WithBacking(out)), nil
}

// GreedyActions returns, for each sample of a
// (batch, numQuantiles, numActions) tensor, the action with the
// largest mean over the quantile axis. This is the greedy action of a
// distributional Q-learner.
func GreedyActions(quantiles *tensor.Dense) ([]int, error) {
	if len(quantiles.Shape()) != 3 {
		return nil, fmt.Errorf("greedyactions: quantiles must have shape "+
			"(batch, quantiles, actions) \n\thave%v", quantiles.Shape())
	}
	batch := quantiles.Shape()[0]
	numQuantiles := quantiles.Shape()[1]
	numActions := quantiles.Shape()[2]

	data := quantiles.Data().([]float64)
	actions := make([]int, batch)
	for b := 0; b < batch; b++ {
		best := 0
		bestMean := math.Inf(-1)
		for a := 0; a < numActions; a++ {
			sum := 0.0
			for n := 0; n < numQuantiles; n++ {
				sum += data[(b*numQuantiles+n)*numActions+a]
			}
			if mean := sum / float64(numQuantiles); mean > bestMean {
				bestMean = mean
				best = a
			}
		}
		actions[b] = best
	}

	return actions, nil
}

// OneHot encodes a batch of action indices as one-hot rows of width
// depth.
func OneHot(actions []int, depth int) (*tensor.Dense, error) {
	out := make([]float64, len(actions)*depth)
	for b, a := range actions {
		if a < 0 || a >= depth {
			return nil, fmt.Errorf("onehot: action %v out of range "+
				"[0, %v)", a, depth)
		}
		out[b*depth+a] = 1.0
	}

	return tensor.New(tensor.WithShape(len(actions), depth),
		tensor.WithBacking(out)), nil
}

// QuantileRegressionTerms computes the gradient-blocked inputs to the
// quantile regression loss graph from the current and target quantile
// values, both of shape (batch, numQuantiles).
//
// The TD tensor td[b, i, j] = target[b, j] - curr[b, i] compares every
// target quantile against every current quantile. Returned are the
// asymmetric quantile weights |cumP[i] - 1{td < 0}| of shape
// (batch, N, N), the Huber quadratic-regime mask 1{|td| <= kappa} of
// the same shape (nil when huber is false), and the per-sample
// absolute TD errors sum_i mean_j |td| of shape (batch, 1) used as
// replay priorities.
func QuantileRegressionTerms(curr, target *tensor.Dense, cumP []float64,
	kappa float64, huber bool) (*tensor.Dense, *tensor.Dense,
	*tensor.Dense, error) {
	if !curr.Shape().Eq(target.Shape()) {
		return nil, nil, nil, fmt.Errorf("quantileregressionterms: "+
			"shapes differ \n\twant%v \n\thave%v", curr.Shape(),
			target.Shape())
	}
	if len(curr.Shape()) != 2 {
		return nil, nil, nil, fmt.Errorf("quantileregressionterms: "+
			"quantile values must have shape (batch, quantiles) "+
			"\n\thave%v", curr.Shape())
	}

	batch := curr.Shape()[0]
	n := curr.Shape()[1]
	if len(cumP) != n {
		return nil, nil, nil, fmt.Errorf("quantileregressionterms: have "+
			"%v cumulative probabilities for %v quantiles", len(cumP), n)
	}

	currData := curr.Data().([]float64)
	targetData := target.Data().([]float64)

	weights := make([]float64, batch*n*n)
	var mask []float64
	if huber {
		mask = make([]float64, batch*n*n)
	}
	absTD := make([]float64, batch)

	for b := 0; b < batch; b++ {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				td := targetData[b*n+j] - currData[b*n+i]
				idx := (b*n+i)*n + j

				indicator := 0.0
				if td < 0 {
					indicator = 1.0
				}
				weights[idx] = math.Abs(cumP[i] - indicator)

				if huber && math.Abs(td) <= kappa {
					mask[idx] = 1.0
				}

				absTD[b] += math.Abs(td)
			}
		}
		absTD[b] /= float64(n)
	}

	quantWeight := tensor.New(tensor.WithShape(batch, n, n),
		tensor.WithBacking(weights))
	var huberMask *tensor.Dense
	if huber {
		huberMask = tensor.New(tensor.WithShape(batch, n, n),
			tensor.WithBacking(mask))
	}
	absTDTensor := tensor.New(tensor.WithShape(batch, 1),
		tensor.WithBacking(absTD))

	return quantWeight, huberMask, absTDTensor, nil
}

// CumPPrime returns the fixed cumulative-probability midpoints used by
// quantile regression: cumP[i] = ((i/n) + ((i+1)/n)) / 2.
func CumPPrime(n int) []float64 {
	cumP := make([]float64, n)
	for i := 0; i < n; i++ {
		cumP[i] = (float64(i)/float64(n) + float64(i+1)/float64(n)) / 2
	}
	return cumP
}

// ConcatRows concatenates two row-major matrices along the feature
// dimension: row b of the result is row b of a followed by row b of b.
func ConcatRows(a, b []float64, dimsA, dimsB int) ([]float64, error) {
	if dimsA < 1 || dimsB < 1 {
		return nil, fmt.Errorf("concatrows: non-positive feature "+
			"dimensions (%v, %v)", dimsA, dimsB)
	}
	if len(a)%dimsA != 0 || len(b)%dimsB != 0 {
		return nil, fmt.Errorf("concatrows: slab lengths (%v, %v) are "+
			"not multiples of feature dimensions (%v, %v)", len(a),
			len(b), dimsA, dimsB)
	}
	if len(a)/dimsA != len(b)/dimsB {
		return nil, fmt.Errorf("concatrows: inconsistent leading "+
			"dimensions \n\twant(%v) \n\thave(%v)", len(a)/dimsA,
			len(b)/dimsB)
	}

	batch := len(a) / dimsA
	out := make([]float64, 0, batch*(dimsA+dimsB))
	for i := 0; i < batch; i++ {
		out = append(out, a[i*dimsA:(i+1)*dimsA]...)
		out = append(out, b[i*dimsB:(i+1)*dimsB]...)
	}

	return out, nil
}
