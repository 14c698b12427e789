// Package rng implements an explicitly threaded stream of random keys.
//
// All randomness in this library is explicit: a Stream is advanced once
// per consumption, handing out single-use Keys. A Key fully determines
// the draws made with it, so the same Key with the same requested shape
// always reproduces the same output. This removes any notion of global
// mutable random state and makes every stochastic operation
// deterministic and testable.
package rng

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// splitmix64 mixes a counter into a well-distributed 64-bit value. It
// is the standard SplitMix64 finalizer, which is sufficient for
// deriving independent seeds from sequential counters.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// Stream produces a sequence of independent, single-use random Keys.
// A Stream is not safe for concurrent use; each algorithm instance
// owns exactly one.
type Stream struct {
	seed    uint64
	counter uint64
}

// NewStream returns a new key stream derived from seed.
func NewStream(seed uint64) *Stream {
	return &Stream{seed: seed}
}

// Next advances the stream and returns a fresh Key. The returned Key
// must not be reused for more than one stochastic operation.
func (s *Stream) Next() Key {
	s.counter++
	return Key(splitmix64(s.seed + splitmix64(s.counter)))
}

// Key is a single-use handle on an independent substream of random
// draws.
type Key uint64

// source returns a fresh random source for the key. Each call returns
// an identically seeded source, which is what makes Keys referentially
// transparent.
func (k Key) source() rand.Source {
	return rand.NewSource(uint64(k))
}

// Normal fills a new tensor of the given shape with standard normal
// draws. Identical keys and shapes produce identical tensors.
func (k Key) Normal(shape ...int) *tensor.Dense {
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: k.source()}

	n := 1
	for _, s := range shape {
		n *= s
	}
	backing := make([]float64, n)
	for i := range backing {
		backing[i] = dist.Rand()
	}

	return tensor.New(tensor.WithShape(shape...),
		tensor.WithBacking(backing))
}

// Uniform returns a single uniform draw on [0, 1).
func (k Key) Uniform() float64 {
	return rand.New(k.source()).Float64()
}

// UniformSlice returns n independent uniform draws on [0, 1). All
// draws come from one source, so the entries differ from each other
// while identical keys still produce identical slices.
func (k Key) UniformSlice(n int) []float64 {
	src := rand.New(k.source())
	draws := make([]float64, n)
	for i := range draws {
		draws[i] = src.Float64()
	}
	return draws
}

// Intn returns a single uniform draw from {0, 1, ..., n-1}.
func (k Key) Intn(n int) int {
	return rand.New(k.source()).Intn(n)
}
