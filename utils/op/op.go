// Package op provides extended Gorgonia graph operations: the loss
// kernels and distribution transforms that the algorithm packages wire
// into their training graphs.
//
// Quantities that are gradient-blocked by the algorithms (bootstrap
// targets, quantile-weight indicators, Huber regime masks) enter these
// kernels as placeholder nodes computed outside the graph, so no
// gradient can flow through them.
package op

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
)

// tanhCorrectionEps offsets the tanh Jacobian correction away from
// log(0).
const tanhCorrectionEps = 1e-6

// ElemMin returns the elementwise minimum of two like-shaped nodes
// using the identity min(a, b) = (a + b - |a - b|) / 2, which keeps
// the operation differentiable for clipped double-Q learning.
func ElemMin(a, b *G.Node) (*G.Node, error) {
	sum, err := G.Add(a, b)
	if err != nil {
		return nil, fmt.Errorf("elemmin: %v", err)
	}
	diff, err := G.Sub(a, b)
	if err != nil {
		return nil, fmt.Errorf("elemmin: %v", err)
	}
	absDiff, err := G.Abs(diff)
	if err != nil {
		return nil, fmt.Errorf("elemmin: %v", err)
	}
	spread, err := G.Sub(sum, absDiff)
	if err != nil {
		return nil, fmt.Errorf("elemmin: %v", err)
	}

	return G.HadamardProd(G.NewConstant(0.5), spread)
}

// ElemMax returns the elementwise maximum of two like-shaped nodes
// using the identity max(a, b) = (a + b + |a - b|) / 2.
func ElemMax(a, b *G.Node) (*G.Node, error) {
	sum, err := G.Add(a, b)
	if err != nil {
		return nil, fmt.Errorf("elemmax: %v", err)
	}
	diff, err := G.Sub(a, b)
	if err != nil {
		return nil, fmt.Errorf("elemmax: %v", err)
	}
	absDiff, err := G.Abs(diff)
	if err != nil {
		return nil, fmt.Errorf("elemmax: %v", err)
	}
	spread, err := G.Add(sum, absDiff)
	if err != nil {
		return nil, fmt.Errorf("elemmax: %v", err)
	}

	return G.HadamardProd(G.NewConstant(0.5), spread)
}

// ClampScalar clips every element of x to the interval [min, max].
// The gradient is the identity inside the interval and zero outside
// it.
func ClampScalar(x *G.Node, min, max float64) (*G.Node, error) {
	clamped, err := ElemMax(x, G.NewConstant(min))
	if err != nil {
		return nil, fmt.Errorf("clampscalar: %v", err)
	}
	clamped, err = ElemMin(clamped, G.NewConstant(max))
	if err != nil {
		return nil, fmt.Errorf("clampscalar: %v", err)
	}
	return clamped, nil
}

// GaussianLogProb adds the closed-form diagonal Gaussian log density
// to the graph: sum over the action axis of -0.5*noise^2 - logStd,
// minus the 0.5*log(2*pi)*dims normalizing term. Both arguments have
// shape (batch, dims); the result has shape (batch,).
func GaussianLogProb(logStd, noise *G.Node) (*G.Node, error) {
	dims := logStd.Shape()[1]

	squared, err := G.Square(noise)
	if err != nil {
		return nil, fmt.Errorf("gaussianlogprob: %v", err)
	}
	halfSquared, err := G.HadamardProd(G.NewConstant(-0.5), squared)
	if err != nil {
		return nil, fmt.Errorf("gaussianlogprob: %v", err)
	}
	perDim, err := G.Sub(halfSquared, logStd)
	if err != nil {
		return nil, fmt.Errorf("gaussianlogprob: %v", err)
	}
	summed, err := G.Sum(perDim, 1)
	if err != nil {
		return nil, fmt.Errorf("gaussianlogprob: %v", err)
	}

	norm := G.NewConstant(0.5 * math.Log(2*math.Pi) * float64(dims))
	return G.Sub(summed, norm)
}

// Reparameterize adds reparameterized tanh-Gaussian sampling to the
// graph. Given policy mean and log standard deviation nodes of shape
// (batch, dims) and a standard normal noise placeholder of the same
// shape, it returns the squashed action tanh(mean + noise*exp(logStd))
// and its log probability, which is the Gaussian log density minus the
// tanh Jacobian correction sum(log(1 - action^2 + eps)).
func Reparameterize(mean, logStd, noise *G.Node) (*G.Node, *G.Node,
	error) {
	std, err := G.Exp(logStd)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}
	scaledNoise, err := G.HadamardProd(noise, std)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}
	preSquash, err := G.Add(mean, scaledNoise)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}
	action, err := G.Tanh(preSquash)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}

	logProb, err := GaussianLogProb(logStd, noise)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}

	// Tanh Jacobian correction: sum(log(1 - action^2 + eps))
	squashed, err := G.Square(action)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}
	jacobian, err := G.Sub(G.NewConstant(1.0+tanhCorrectionEps), squashed)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}
	jacobian, err = G.Log(jacobian)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}
	correction, err := G.Sum(jacobian, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}

	logProb, err = G.Sub(logProb, correction)
	if err != nil {
		return nil, nil, fmt.Errorf("reparameterize: %v", err)
	}

	return action, logProb, nil
}

// HuberLoss adds the elementwise Huber loss of td with threshold kappa
// to the graph. The quadMask argument is a gradient-blocked {0, 1}
// indicator of the quadratic regime 1{|td| <= kappa}; treating it as a
// constant yields the exact Huber gradient clip(td, -kappa, kappa)
// everywhere the loss is differentiable.
func HuberLoss(td, quadMask *G.Node, kappa float64) (*G.Node, error) {
	squared, err := G.Square(td)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	quadratic, err := G.HadamardProd(G.NewConstant(0.5), squared)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}

	absTD, err := G.Abs(td)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	linear, err := G.Sub(absTD, G.NewConstant(0.5*kappa))
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	linear, err = G.HadamardProd(G.NewConstant(kappa), linear)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}

	quadPart, err := G.HadamardProd(quadratic, quadMask)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	linMask, err := G.Sub(G.NewConstant(1.0), quadMask)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}
	linPart, err := G.HadamardProd(linear, linMask)
	if err != nil {
		return nil, fmt.Errorf("huberloss: %v", err)
	}

	return G.Add(quadPart, linPart)
}

// QuantileRegressionLoss adds the quantile (Huber or squared error)
// regression loss to the graph.
//
// The td node has shape (batch, N, N) with td[b, i, j] comparing
// target quantile j against current quantile i. The quantWeight node
// holds the gradient-blocked asymmetric weights |cumP[i] - 1{td < 0}|
// of the same shape. When quadMask is non-nil the base loss is the
// Huber loss with threshold kappa divided by kappa (quadMask is its
// gradient-blocked quadratic regime indicator); when quadMask is nil
// the base loss is the squared error. The elementwise loss is summed
// over the current-quantile axis, averaged over the target-quantile
// axis, weighted per sample by the importance weights (batch,), and
// averaged over the batch to a scalar.
func QuantileRegressionLoss(td, quantWeight, quadMask, weight *G.Node,
	kappa float64) (*G.Node, error) {
	var base *G.Node
	var err error
	if quadMask != nil {
		base, err = HuberLoss(td, quadMask, kappa)
		if err != nil {
			return nil, fmt.Errorf("quantileregressionloss: %v", err)
		}
		base, err = G.HadamardProd(G.NewConstant(1/kappa), base)
		if err != nil {
			return nil, fmt.Errorf("quantileregressionloss: %v", err)
		}
	} else {
		base, err = G.Square(td)
		if err != nil {
			return nil, fmt.Errorf("quantileregressionloss: %v", err)
		}
	}

	elem, err := G.HadamardProd(base, quantWeight)
	if err != nil {
		return nil, fmt.Errorf("quantileregressionloss: %v", err)
	}

	summed, err := G.Sum(elem, 1)
	if err != nil {
		return nil, fmt.Errorf("quantileregressionloss: %v", err)
	}
	perSample, err := G.Mean(summed, 1)
	if err != nil {
		return nil, fmt.Errorf("quantileregressionloss: %v", err)
	}

	weighted, err := G.HadamardProd(perSample, weight)
	if err != nil {
		return nil, fmt.Errorf("quantileregressionloss: %v", err)
	}

	return G.Mean(weighted)
}

// WeightedTDLoss adds the critic regression loss to the graph: the sum
// over critics of the importance-weighted mean squared error of each
// critic's (batch, 1) prediction against the gradient-blocked
// bootstrap target.
func WeightedTDLoss(predictions []*G.Node, target,
	weight *G.Node) (*G.Node, error) {
	var loss *G.Node
	for _, pred := range predictions {
		diff, err := G.Sub(pred, target)
		if err != nil {
			return nil, fmt.Errorf("weightedtdloss: %v", err)
		}
		squared, err := G.Square(diff)
		if err != nil {
			return nil, fmt.Errorf("weightedtdloss: %v", err)
		}
		weighted, err := G.HadamardProd(squared, weight)
		if err != nil {
			return nil, fmt.Errorf("weightedtdloss: %v", err)
		}
		mean, err := G.Mean(weighted)
		if err != nil {
			return nil, fmt.Errorf("weightedtdloss: %v", err)
		}

		if loss == nil {
			loss = mean
			continue
		}
		if loss, err = G.Add(loss, mean); err != nil {
			return nil, fmt.Errorf("weightedtdloss: %v", err)
		}
	}
	return loss, nil
}
