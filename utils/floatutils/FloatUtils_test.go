package floatutils

import (
	"math"
	"testing"
)

func TestClip(t *testing.T) {
	cases := []struct {
		value, min, max, want float64
	}{
		{0.5, -1, 1, 0.5},
		{-3, -1, 1, -1},
		{7, -1, 1, 1},
	}
	for _, c := range cases {
		if have := Clip(c.value, c.min, c.max); have != c.want {
			t.Errorf("clip(%v) \n\twant(%v) \n\thave(%v)", c.value,
				c.want, have)
		}
	}
}

func TestArgMax(t *testing.T) {
	if have := ArgMax([]float64{0.1, -2, 3, 3, 1}); have != 2 {
		t.Errorf("argmax \n\twant(%v) \n\thave(%v)", 2, have)
	}
}

func TestLinearAnneal(t *testing.T) {
	start, end := 1.0, 0.1

	if have := LinearAnneal(0, 100, start, end); have != start {
		t.Errorf("step 0 \n\twant(%v) \n\thave(%v)", start, have)
	}
	if have := LinearAnneal(100, 100, start, end); have != end {
		t.Errorf("final step \n\twant(%v) \n\thave(%v)", end, have)
	}
	if have := LinearAnneal(250, 100, start, end); have != end {
		t.Errorf("past decay \n\twant(%v) \n\thave(%v)", end, have)
	}

	mid := LinearAnneal(50, 100, start, end)
	if mid >= start || mid <= end {
		t.Errorf("mid anneal %v not in (%v, %v)", mid, end, start)
	}
}

func TestAllFinite(t *testing.T) {
	if !AllFinite([]float64{0, -1, 1e300}) {
		t.Error("finite values reported as non-finite")
	}
	if AllFinite([]float64{0, math.Inf(1)}) {
		t.Error("infinity reported as finite")
	}
}
