package tracker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/kew96/rljax/timestep"
)

// recorder captures tracked metrics for assertions
type recorder struct {
	names  []string
	values []float64
	steps  []int
}

func (r *recorder) TrackScalar(name string, value float64, step int) {
	r.names = append(r.names, name)
	r.values = append(r.values, value)
	r.steps = append(r.steps, step)
}

func (r *recorder) Flush() error { return nil }

func TestCSVWritesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	csv := NewCSV(path)

	csv.TrackScalar("loss", 0.5, 1)
	csv.TrackScalar("return", -21, 2)
	if err := csv.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("readfile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines \n\twant(%v) \n\thave(%v)", 2, len(lines))
	}
	if lines[0] != "1,loss,0.5" {
		t.Errorf("first record \n\twant(%v) \n\thave(%v)", "1,loss,0.5",
			lines[0])
	}

	// A second flush with no new metrics appends nothing
	if err := csv.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("readfile: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(string(data)),
		"\n"); len(lines) != 2 {
		t.Errorf("lines after empty flush \n\twant(%v) \n\thave(%v)", 2,
			len(lines))
	}
}

func TestCSVNeverPanics(t *testing.T) {
	// Parent directory does not exist, so every flush fails
	csv := NewCSV(filepath.Join(t.TempDir(), "missing", "metrics.csv"))

	csv.TrackScalar("loss", 1, 1)
	if err := csv.Flush(); err == nil {
		t.Error("flush: unwritable path should error")
	}

	// Tracking keeps working after the failure
	csv.TrackScalar("loss", 2, 2)
	if err := csv.Flush(); err == nil {
		t.Error("flush: unwritable path should keep erroring")
	}
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	multi := NewMulti(a, b)

	multi.TrackScalar("loss", 1.5, 3)
	if err := multi.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	for _, r := range []*recorder{a, b} {
		if len(r.names) != 1 || r.names[0] != "loss" ||
			r.values[0] != 1.5 || r.steps[0] != 3 {
			t.Errorf("recorded metrics \n\thave(%v, %v, %v)", r.names,
				r.values, r.steps)
		}
	}
}

func TestReturnAccumulatesEpisodes(t *testing.T) {
	rec := &recorder{}
	ret := NewReturn(rec, "return")

	obs := mat.NewVecDense(1, []float64{0})
	ret.Track(ts.New(ts.First, 0, obs, 0))
	ret.Track(ts.New(ts.Mid, 1, obs, 1))
	ret.Track(ts.New(ts.Mid, 2, obs, 2))
	ret.Track(ts.New(ts.Last, 3, obs, 3))

	// Second episode
	ret.Track(ts.New(ts.First, 0, obs, 0))
	ret.Track(ts.New(ts.Last, -1, obs, 1))

	if len(rec.values) != 2 {
		t.Fatalf("episodes \n\twant(%v) \n\thave(%v)", 2,
			len(rec.values))
	}
	if rec.values[0] != 6 {
		t.Errorf("first return \n\twant(%v) \n\thave(%v)", 6,
			rec.values[0])
	}
	if rec.values[1] != -1 {
		t.Errorf("second return \n\twant(%v) \n\thave(%v)", -1,
			rec.values[1])
	}
}
