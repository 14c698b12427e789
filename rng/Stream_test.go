package rng

import (
	"testing"
)

func TestStreamDeterminism(t *testing.T) {
	a := NewStream(1773)
	b := NewStream(1773)

	for i := 0; i < 100; i++ {
		keyA, keyB := a.Next(), b.Next()
		if keyA != keyB {
			t.Errorf("key %v: identically seeded streams diverged "+
				"\n\twant(%v) \n\thave(%v)", i, keyA, keyB)
		}
	}
}

func TestStreamKeysDiffer(t *testing.T) {
	stream := NewStream(1773)

	seen := make(map[Key]bool)
	for i := 0; i < 1000; i++ {
		key := stream.Next()
		if seen[key] {
			t.Errorf("key %v repeated after %v draws", key, i)
		}
		seen[key] = true
	}
}

func TestKeyReferentialTransparency(t *testing.T) {
	key := NewStream(42).Next()

	first := key.Normal(3, 4)
	second := key.Normal(3, 4)

	firstData := first.Data().([]float64)
	secondData := second.Data().([]float64)
	for i := range firstData {
		if firstData[i] != secondData[i] {
			t.Errorf("draw %v: reused key produced different draws "+
				"\n\twant(%v) \n\thave(%v)", i, firstData[i],
				secondData[i])
		}
	}

	if key.Uniform() != key.Uniform() {
		t.Error("reused key produced different uniform draws")
	}
	if key.Intn(10) != key.Intn(10) {
		t.Error("reused key produced different integer draws")
	}
}

func TestKeyUniformSlice(t *testing.T) {
	key := NewStream(42).Next()

	draws := key.UniformSlice(8)
	if len(draws) != 8 {
		t.Fatalf("uniform slice length \n\twant(%v) \n\thave(%v)", 8,
			len(draws))
	}

	for i, draw := range draws {
		if draw < 0 || draw >= 1 {
			t.Errorf("draw %v out of range [0, 1): %v", i, draw)
		}
		for j := i + 1; j < len(draws); j++ {
			if draw == draws[j] {
				t.Errorf("draws %v and %v are equal (%v)", i, j, draw)
			}
		}
	}

	again := key.UniformSlice(8)
	for i := range draws {
		if draws[i] != again[i] {
			t.Errorf("draw %v: reused key produced different slices "+
				"\n\twant(%v) \n\thave(%v)", i, draws[i], again[i])
		}
	}
}

func TestKeyNormalShape(t *testing.T) {
	key := NewStream(42).Next()

	draws := key.Normal(5, 2, 3)
	if !draws.Shape().Eq([]int{5, 2, 3}) {
		t.Errorf("normal draw shape \n\twant(%v) \n\thave(%v)",
			[]int{5, 2, 3}, draws.Shape())
	}
}

func TestKeyIntnBounds(t *testing.T) {
	stream := NewStream(7)
	for i := 0; i < 1000; i++ {
		if draw := stream.Next().Intn(4); draw < 0 || draw >= 4 {
			t.Errorf("draw %v out of range [0, 4)", draw)
		}
	}
}
