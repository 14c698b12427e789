package expreplay

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/kew96/rljax/timestep"
)

// uniformBuffer implements a fixed-capacity ring buffer sampling
// transitions uniformly with replacement. Once full, each added
// transition overwrites the oldest stored one.
type uniformBuffer struct {
	stateCache     []float64
	actionCache    []float64
	rewardCache    []float64
	doneCache      []float64
	nextStateCache []float64

	// next is the storage index the next transition is written at
	next int
	size int

	minCapacity int
	maxCapacity int
	featureSize int
	actionSize  int

	rng *rand.Rand
}

// NewUniform creates and returns a new uniformly sampled replay
// buffer. The featureSize and actionSize parameters define the size of
// the state and action vectors of stored transitions.
func NewUniform(minCapacity, maxCapacity, featureSize, actionSize int,
	seed uint64) (Buffer, error) {
	if minCapacity <= 0 {
		return nil, fmt.Errorf("newuniform: minCapacity must be > 0")
	}
	if maxCapacity < minCapacity {
		return nil, fmt.Errorf("newuniform: maxCapacity (%v) < "+
			"minCapacity (%v)", maxCapacity, minCapacity)
	}

	return &uniformBuffer{
		stateCache:     make([]float64, maxCapacity*featureSize),
		actionCache:    make([]float64, maxCapacity*actionSize),
		rewardCache:    make([]float64, maxCapacity),
		doneCache:      make([]float64, maxCapacity),
		nextStateCache: make([]float64, maxCapacity*featureSize),

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		featureSize: featureSize,
		actionSize:  actionSize,

		rng: rand.New(rand.NewSource(seed)),
	}, nil
}

// Add adds a transition to the buffer, overwriting the oldest stored
// transition when the buffer is full
func (u *uniformBuffer) Add(t timestep.Transition) error {
	if err := u.write(u.next, t); err != nil {
		return err
	}

	u.next = (u.next + 1) % u.maxCapacity
	if u.size < u.maxCapacity {
		u.size++
	}
	return nil
}

// write copies a transition into storage index i
func (u *uniformBuffer) write(i int, t timestep.Transition) error {
	if t.State.Len() != u.featureSize || t.NextState.Len() != u.featureSize {
		return fmt.Errorf("add: invalid feature size \n\twant(%v)"+
			"\n\thave(%v)", u.featureSize, t.State.Len())
	}
	if t.Action.Len() != u.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)"+
			"\n\thave(%v)", u.actionSize, t.Action.Len())
	}

	stateInd := i * u.featureSize
	mat.Col(u.stateCache[stateInd:stateInd+u.featureSize], 0, t.State)
	mat.Col(u.nextStateCache[stateInd:stateInd+u.featureSize], 0,
		t.NextState)

	actionInd := i * u.actionSize
	mat.Col(u.actionCache[actionInd:actionInd+u.actionSize], 0, t.Action)

	u.rewardCache[i] = t.Reward
	u.doneCache[i] = t.Done

	return nil
}

// gather copies the transitions at the given storage indices out of
// the buffer into a batch
func (u *uniformBuffer) gather(indices []int) (*timestep.Batch, error) {
	n := len(indices)
	states := make([]float64, n*u.featureSize)
	nextStates := make([]float64, n*u.featureSize)
	actions := make([]float64, n*u.actionSize)
	rewards := make([]float64, n)
	dones := make([]float64, n)

	for i, index := range indices {
		batchInd := i * u.featureSize
		expInd := index * u.featureSize
		copy(states[batchInd:batchInd+u.featureSize],
			u.stateCache[expInd:expInd+u.featureSize])
		copy(nextStates[batchInd:batchInd+u.featureSize],
			u.nextStateCache[expInd:expInd+u.featureSize])

		batchInd = i * u.actionSize
		expInd = index * u.actionSize
		copy(actions[batchInd:batchInd+u.actionSize],
			u.actionCache[expInd:expInd+u.actionSize])

		rewards[i] = u.rewardCache[index]
		dones[i] = u.doneCache[index]
	}

	return timestep.NewBatch(states, actions, rewards, dones, nextStates,
		u.featureSize, u.actionSize)
}

// checkSample validates that the buffer can be sampled
func (u *uniformBuffer) checkSample() error {
	if u.size == 0 {
		return &ExpReplayError{Op: "sample", Err: errEmptyBuffer}
	}
	if u.size < u.minCapacity {
		return &ExpReplayError{Op: "sample", Err: errInsufficientSamples}
	}
	return nil
}

// Sample samples a minibatch of n transitions uniformly with
// replacement. Every importance weight is 1.
func (u *uniformBuffer) Sample(n int) ([]int, []float64,
	*timestep.Batch, error) {
	if err := u.checkSample(); err != nil {
		return nil, nil, nil, err
	}

	indices := make([]int, n)
	weights := make([]float64, n)
	for i := range indices {
		indices[i] = u.rng.Intn(u.size)
		weights[i] = 1.0
	}

	batch, err := u.gather(indices)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sample: %v", err)
	}
	return indices, weights, batch, nil
}

// UpdatePriorities is a no-op for a uniformly sampled buffer
func (u *uniformBuffer) UpdatePriorities(_ []int, _ []float64) error {
	return nil
}

// Capacity returns the current number of transitions in the buffer
func (u *uniformBuffer) Capacity() int {
	return u.size
}

// MaxCapacity returns the maximum number of transitions the buffer can
// hold
func (u *uniformBuffer) MaxCapacity() int {
	return u.maxCapacity
}

// MinCapacity returns the number of transitions required in the buffer
// before it can be sampled
func (u *uniformBuffer) MinCapacity() int {
	return u.minCapacity
}
