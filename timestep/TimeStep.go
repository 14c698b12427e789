// Package timestep implements timesteps of the agent-environment
// interaction as well as batches of transitions sampled from replay.
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either a
// first environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	stepType    StepType
	Reward      float64
	Observation mat.Vector
	Number      int
}

func New(t StepType, r float64, o mat.Vector, n int) TimeStep {
	return TimeStep{t, r, o, n}
}

// First returns whether a TimeStep is the first in an episode
func (t *TimeStep) First() bool {
	return t.stepType == First
}

// Mid returns whether a TimeStep is a middle step in an episode
func (t *TimeStep) Mid() bool {
	return t.stepType == Mid
}

// Last returns whether a TimeStep is the last step in an episode
func (t *TimeStep) Last() bool {
	return t.stepType == Last
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Step Number:  %v"

	return fmt.Sprintf(str, t.stepType, t.Reward, t.Number)
}

// Transition is a single (s, a, r, done, s') tuple recorded by an
// agent and stored in a replay buffer. Done is a {0, 1} indicator of
// whether NextState is terminal.
type Transition struct {
	State     mat.Vector
	Action    mat.Vector
	Reward    float64
	Done      float64
	NextState mat.Vector
}

// NewTransition packages an environmental transition between two
// timesteps with the action taken at the first of the two steps.
func NewTransition(step TimeStep, action mat.Vector,
	nextStep TimeStep) Transition {
	done := 0.0
	if nextStep.Last() {
		done = 1.0
	}

	return Transition{
		State:     step.Observation,
		Action:    action,
		Reward:    nextStep.Reward,
		Done:      done,
		NextState: nextStep.Observation,
	}
}
