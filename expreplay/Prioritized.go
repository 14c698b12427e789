package expreplay

import (
	"fmt"
	"math"

	"github.com/kew96/rljax/timestep"
)

// priorityEpsilon keeps transition priorities strictly positive so
// that every stored transition has a nonzero sampling probability.
const priorityEpsilon = 1e-8

// prioritizedBuffer implements proportional prioritized experience
// replay on top of the same ring storage as a uniformBuffer.
// Transition i is sampled with probability p_i / sum(p), where p_i is
// the transition's priority (|TD error| + eps)^alpha, and the sampling
// bias is corrected by importance weights (N * P(i))^-beta normalized
// by the largest weight in the minibatch.
type prioritizedBuffer struct {
	*uniformBuffer

	priorities []float64
	alpha      float64
	beta       float64

	// maxPriority is the largest priority ever recorded; new
	// transitions enter the buffer at this priority so that each is
	// sampled at least once with high probability
	maxPriority float64
}

// NewPrioritized creates and returns a new proportionally prioritized
// replay buffer. The exponent alpha controls how strongly sampling
// concentrates on high-priority transitions and beta controls how
// strongly the importance weights correct the induced bias.
func NewPrioritized(minCapacity, maxCapacity, featureSize, actionSize int,
	alpha, beta float64, seed uint64) (Buffer, error) {
	if alpha < 0 {
		return nil, fmt.Errorf("newprioritized: alpha must be >= 0")
	}
	if beta < 0 {
		return nil, fmt.Errorf("newprioritized: beta must be >= 0")
	}

	storage, err := NewUniform(minCapacity, maxCapacity, featureSize,
		actionSize, seed)
	if err != nil {
		return nil, fmt.Errorf("newprioritized: %v", err)
	}

	return &prioritizedBuffer{
		uniformBuffer: storage.(*uniformBuffer),
		priorities:    make([]float64, maxCapacity),
		alpha:         alpha,
		beta:          beta,
		maxPriority:   1.0,
	}, nil
}

// Add adds a transition to the buffer at the highest priority seen so
// far
func (p *prioritizedBuffer) Add(t timestep.Transition) error {
	index := p.next
	if err := p.uniformBuffer.Add(t); err != nil {
		return err
	}

	p.priorities[index] = p.maxPriority
	return nil
}

// Sample samples a minibatch of n transitions in proportion to their
// priorities and returns the bias-correcting importance weights.
func (p *prioritizedBuffer) Sample(n int) ([]int, []float64,
	*timestep.Batch, error) {
	if err := p.checkSample(); err != nil {
		return nil, nil, nil, err
	}

	total := 0.0
	for i := 0; i < p.size; i++ {
		total += p.priorities[i]
	}
	if total <= 0 {
		return nil, nil, nil, fmt.Errorf("sample: no transition has " +
			"positive priority")
	}

	indices := make([]int, n)
	weights := make([]float64, n)
	maxWeight := 0.0
	for i := range indices {
		indices[i] = p.pick(total)

		prob := p.priorities[indices[i]] / total
		weights[i] = math.Pow(float64(p.size)*prob, -p.beta)
		if weights[i] > maxWeight {
			maxWeight = weights[i]
		}
	}
	for i := range weights {
		weights[i] /= maxWeight
	}

	batch, err := p.gather(indices)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sample: %v", err)
	}
	return indices, weights, batch, nil
}

// pick draws a single storage index in proportion to the priorities,
// given their sum
func (p *prioritizedBuffer) pick(total float64) int {
	target := p.rng.Float64() * total
	cumulative := 0.0
	for i := 0; i < p.size; i++ {
		cumulative += p.priorities[i]
		if target < cumulative {
			return i
		}
	}
	return p.size - 1
}

// UpdatePriorities sets the priorities of the transitions at the given
// storage indices from their absolute TD errors
func (p *prioritizedBuffer) UpdatePriorities(indices []int,
	tdErrors []float64) error {
	if len(indices) != len(tdErrors) {
		return fmt.Errorf("updatepriorities: mismatched lengths "+
			"\n\twant(%v) \n\thave(%v)", len(indices), len(tdErrors))
	}

	for i, index := range indices {
		if index < 0 || index >= p.size {
			return fmt.Errorf("updatepriorities: index %v out of range "+
				"[0, %v)", index, p.size)
		}

		priority := math.Pow(math.Abs(tdErrors[i])+priorityEpsilon,
			p.alpha)
		p.priorities[index] = priority
		if priority > p.maxPriority {
			p.maxPriority = priority
		}
	}
	return nil
}
