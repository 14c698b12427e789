package td3_test

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/kew96/rljax/agent"
	"github.com/kew96/rljax/agent/td3"
	"github.com/kew96/rljax/expreplay"
	"github.com/kew96/rljax/solver"
	ts "github.com/kew96/rljax/timestep"
)

var (
	_ agent.Closer    = (*td3.TD3)(nil)
	_ agent.TdErrorer = (*td3.TD3)(nil)
	_ agent.Saver     = (*td3.TD3)(nil)
	_ agent.Config    = td3.Config{}
)

// testConfig returns a configuration small enough for fast end-to-end
// learning steps.
func testConfig(t *testing.T) td3.Config {
	t.Helper()

	config, err := td3.NewDefaultConfig()
	if err != nil {
		t.Fatalf("newdefaultconfig: %v", err)
	}

	for _, target := range []**solver.Solver{&config.ActorSolver,
		&config.CriticSolver} {
		sol, err := solver.NewDefaultAdam(1e-3, 4)
		if err != nil {
			t.Fatalf("newdefaultadam: %v", err)
		}
		*target = sol
	}

	config.ActorLayers = []int{8}
	config.ActorBiases = []bool{true}
	config.ActorActivations = config.ActorActivations[:1]
	config.CriticLayers = []int{8}
	config.CriticBiases = []bool{true}
	config.CriticActivations = config.CriticActivations[:1]
	config.BatchSize = 4
	config.StartSteps = 0
	config.ExpReplay = expreplay.Config{
		Type:              expreplay.Uniform,
		MinReplayCapacity: 4,
		MaxReplayCapacity: 32,
	}
	return config
}

// obs builds a 3-feature observation from a step counter
func obs(i int) *mat.VecDense {
	v := float64(i)
	return mat.NewVecDense(3, []float64{0.1 * v, -0.05 * v, 0.02 * v})
}

// runEpisode drives the agent through an episode of the given length
func runEpisode(t *testing.T, a agent.Agent, length int) {
	t.Helper()

	step := ts.New(ts.First, 0, obs(0), 0)
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("observefirst: %v", err)
	}

	for i := 1; i <= length; i++ {
		action := a.SelectAction(step)

		stepType := ts.Mid
		if i == length {
			stepType = ts.Last
		}
		next := ts.New(stepType, 1.0, obs(i), i)

		if err := a.Observe(action, next); err != nil {
			t.Fatalf("observe: %v", err)
		}
		if err := a.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
		step = next
	}
	a.EndEpisode()
}

// fillReplay records transitions without performing any learning steps
func fillReplay(t *testing.T, a agent.Agent, n int) {
	t.Helper()

	step := ts.New(ts.First, 0, obs(0), 0)
	if err := a.ObserveFirst(step); err != nil {
		t.Fatalf("observefirst: %v", err)
	}
	for i := 1; i <= n; i++ {
		action := a.SelectAction(step)
		next := ts.New(ts.Mid, 1.0, obs(i), i)
		if err := a.Observe(action, next); err != nil {
			t.Fatalf("observe: %v", err)
		}
		step = next
	}
}

func TestLearningStep(t *testing.T) {
	a, err := td3.New(3, 2, testConfig(t), 42)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	runEpisode(t, a, 12)

	tdErrors := a.TdError()
	if len(tdErrors) != 4 {
		t.Fatalf("td errors \n\twant(%v) \n\thave(%v)", 4,
			len(tdErrors))
	}
	for i, td := range tdErrors {
		if math.IsNaN(td) || math.IsInf(td, 0) || td < 0 {
			t.Errorf("td error %v invalid: %v", i, td)
		}
	}
}

// TestDelayedPolicyUpdate checks that the selection policy only changes
// on every UpdateIntervalPolicy-th learning step.
func TestDelayedPolicyUpdate(t *testing.T) {
	config := testConfig(t)
	config.ExplorationStd = 0 // Make action selection deterministic
	config.UpdateIntervalPolicy = 2

	a, err := td3.New(3, 2, config, 42)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	fillReplay(t, a, 8)
	step := ts.New(ts.Mid, 1.0, obs(1), 1)
	before := a.SelectAction(step)

	// First learning step updates only the critics
	if err := a.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	after := a.SelectAction(step)
	for d := 0; d < before.Len(); d++ {
		if before.AtVec(d) != after.AtVec(d) {
			t.Fatalf("dimension %v: policy changed before the update "+
				"interval \n\twant(%v) \n\thave(%v)", d, before.AtVec(d),
				after.AtVec(d))
		}
	}

	// Second learning step triggers the delayed policy update
	if err := a.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	after = a.SelectAction(step)
	changed := false
	for d := 0; d < before.Len(); d++ {
		if before.AtVec(d) != after.AtVec(d) {
			changed = true
		}
	}
	if !changed {
		t.Error("policy unchanged after the update interval elapsed")
	}
}

func TestStartStepsExplores(t *testing.T) {
	config := testConfig(t)
	config.StartSteps = 1000

	a, err := td3.New(3, 2, config, 42)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	// During warmup, actions are uniform draws over the action space
	// with every dimension drawn independently
	step := ts.New(ts.First, 0, obs(1), 0)
	for i := 0; i < 20; i++ {
		action := a.SelectAction(step)
		for d := 0; d < action.Len(); d++ {
			if v := action.AtVec(d); v < -1 || v > 1 {
				t.Errorf("warmup action outside [-1, 1]: %v", v)
			}
		}
		if action.AtVec(0) == action.AtVec(1) {
			t.Errorf("draw %v: warmup action dimensions coincide (%v)",
				i, action.AtVec(0))
		}
	}
}

func TestTrackerReceivesLosses(t *testing.T) {
	a, err := td3.New(3, 2, testConfig(t), 42)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	rec := &recordTracker{}
	a.SetTracker(rec)
	runEpisode(t, a, 12)

	seen := make(map[string]bool)
	for i, name := range rec.names {
		seen[name] = true
		if math.IsNaN(rec.values[i]) || math.IsInf(rec.values[i], 0) {
			t.Errorf("metric %v (%v) invalid: %v", i, name,
				rec.values[i])
		}
	}
	for _, name := range []string{"loss/critic", "loss/actor"} {
		if !seen[name] {
			t.Errorf("tracker never received %v", name)
		}
	}
}

// recordTracker accumulates tracked scalars in memory
type recordTracker struct {
	names  []string
	values []float64
	steps  []int
}

func (r *recordTracker) TrackScalar(name string, value float64,
	step int) {
	r.names = append(r.names, name)
	r.values = append(r.values, value)
	r.steps = append(r.steps, step)
}

func (r *recordTracker) Flush() error { return nil }

func TestSelectActionBounds(t *testing.T) {
	a, err := td3.New(3, 2, testConfig(t), 42)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	step := ts.New(ts.First, 0, obs(1), 0)
	for i := 0; i < 50; i++ {
		action := a.SelectAction(step)
		if action.Len() != 2 {
			t.Fatalf("action length \n\twant(%v) \n\thave(%v)", 2,
				action.Len())
		}
		for d := 0; d < action.Len(); d++ {
			if v := action.AtVec(d); v < -1 || v > 1 {
				t.Errorf("action dimension %v outside [-1, 1]: %v", d, v)
			}
		}
	}
}

func TestEvalActionsDeterministic(t *testing.T) {
	a, err := td3.New(3, 2, testConfig(t), 42)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	a.Eval()
	step := ts.New(ts.First, 0, obs(1), 0)
	first := a.SelectAction(step)
	second := a.SelectAction(step)

	for d := 0; d < first.Len(); d++ {
		if first.AtVec(d) != second.AtVec(d) {
			t.Errorf("dimension %v: evaluation actions differ "+
				"\n\twant(%v) \n\thave(%v)", d, first.AtVec(d),
				second.AtVec(d))
		}
	}
}

func TestEvalSkipsUpdates(t *testing.T) {
	a, err := td3.New(3, 2, testConfig(t), 42)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	runEpisode(t, a, 12)
	tdErrors := append([]float64{}, a.TdError()...)

	a.Eval()
	if err := a.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	for i, td := range a.TdError() {
		if td != tdErrors[i] {
			t.Errorf("transition %v: evaluation step changed td error "+
				"\n\twant(%v) \n\thave(%v)", i, tdErrors[i], td)
		}
	}
}

func TestSaveLoadParams(t *testing.T) {
	a, err := td3.New(3, 2, testConfig(t), 42)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()

	runEpisode(t, a, 12)

	dir := t.TempDir()
	if err := a.SaveParams(dir); err != nil {
		t.Fatalf("saveparams: %v", err)
	}

	b, err := td3.New(3, 2, testConfig(t), 7)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()
	if err := b.LoadParams(dir); err != nil {
		t.Fatalf("loadparams: %v", err)
	}

	// Evaluation actions are deterministic, so restored weights must
	// reproduce them exactly
	a.Eval()
	b.Eval()
	step := ts.New(ts.First, 0, obs(1), 0)
	actionA := a.SelectAction(step)
	actionB := b.SelectAction(step)
	for d := 0; d < actionA.Len(); d++ {
		if actionA.AtVec(d) != actionB.AtVec(d) {
			t.Errorf("dimension %v: restored agent disagrees "+
				"\n\twant(%v) \n\thave(%v)", d, actionA.AtVec(d),
				actionB.AtVec(d))
		}
	}
}

func TestConfigValidation(t *testing.T) {
	config := testConfig(t)
	config.ExplorationStd = -0.1
	if config.Validate() == nil {
		t.Error("validate: negative exploration noise should not validate")
	}

	config = testConfig(t)
	config.UpdateIntervalPolicy = 0
	if config.Validate() == nil {
		t.Error("validate: zero policy update interval should not validate")
	}

	config = testConfig(t)
	config.TargetNoiseClip = -1
	if config.Validate() == nil {
		t.Error("validate: negative smoothing clip should not validate")
	}

	config = testConfig(t)
	config.ActorLayers = []int{8, 8}
	if config.Validate() == nil {
		t.Error("validate: mismatched actor layers should not validate")
	}
}
