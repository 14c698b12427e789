package timestep

import "fmt"

// Batch holds a batch of transitions sampled from a replay buffer as
// flat, row-major slices. All slices share the same leading batch
// dimension.
type Batch struct {
	States     []float64 // (batchSize, stateDims)
	Actions    []float64 // (batchSize, actionDims)
	Rewards    []float64 // (batchSize,)
	Dones      []float64 // (batchSize,), each element in {0, 1}
	NextStates []float64 // (batchSize, stateDims)

	batchSize  int
	stateDims  int
	actionDims int
}

// NewBatch validates and returns a batch of transitions. Tensors with
// an inconsistent leading dimension are an error, never silently
// broadcast.
func NewBatch(states, actions, rewards, dones, nextStates []float64,
	stateDims, actionDims int) (*Batch, error) {
	if stateDims < 1 || actionDims < 1 {
		return nil, fmt.Errorf("newbatch: non-positive feature "+
			"dimensions (states: %v, actions: %v)", stateDims, actionDims)
	}
	if len(states)%stateDims != 0 {
		return nil, fmt.Errorf("newbatch: state slab of length %v is not "+
			"a multiple of state dimension %v", len(states), stateDims)
	}

	n := len(states) / stateDims
	if len(nextStates) != n*stateDims {
		return nil, fmt.Errorf("newbatch: inconsistent leading dimension "+
			"for next states \n\twant(%v) \n\thave(%v)", n*stateDims,
			len(nextStates))
	}
	if len(actions) != n*actionDims {
		return nil, fmt.Errorf("newbatch: inconsistent leading dimension "+
			"for actions \n\twant(%v) \n\thave(%v)", n*actionDims,
			len(actions))
	}
	if len(rewards) != n {
		return nil, fmt.Errorf("newbatch: inconsistent leading dimension "+
			"for rewards \n\twant(%v) \n\thave(%v)", n, len(rewards))
	}
	if len(dones) != n {
		return nil, fmt.Errorf("newbatch: inconsistent leading dimension "+
			"for dones \n\twant(%v) \n\thave(%v)", n, len(dones))
	}

	return &Batch{
		States:     states,
		Actions:    actions,
		Rewards:    rewards,
		Dones:      dones,
		NextStates: nextStates,
		batchSize:  n,
		stateDims:  stateDims,
		actionDims: actionDims,
	}, nil
}

// BatchSize returns the leading dimension shared by all slices in the
// batch.
func (b *Batch) BatchSize() int {
	return b.batchSize
}

// StateDims returns the number of features in a single state
// observation.
func (b *Batch) StateDims() int {
	return b.stateDims
}

// ActionDims returns the number of features in a single action.
func (b *Batch) ActionDims() int {
	return b.actionDims
}
