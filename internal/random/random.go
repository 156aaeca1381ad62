// Package random is the randomness seam shared by every simulation component.
// Production code uses the unseeded global generator; tests pass a seeded one.
package random

import "math/rand/v2"

type Source interface {
	Float64() float64
	IntN(n int) int
}

type global struct{}

func (global) Float64() float64 { return rand.Float64() }
func (global) IntN(n int) int   { return rand.IntN(n) }

// Default returns the process-wide unseeded generator.
func Default() Source { return global{} }

// NewSeeded returns a deterministic generator.
func NewSeeded(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Or returns src, or Default when src is nil.
func Or(src Source) Source {
	if src == nil {
		return Default()
	}
	return src
}

// Between draws uniformly from [lo, hi).
func Between(src Source, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}

// Chance reports whether a Bernoulli trial with probability p succeeds.
func Chance(src Source, p float64) bool {
	return src.Float64() < p
}

func Pick[T any](src Source, items []T) T {
	return items[src.IntN(len(items))]
}

// Fixed always returns the same draw. IntN returns the matching bucket.
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }
func (f Fixed) IntN(n int) int {
	i := int(float64(f) * float64(n))
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
