// internal/rng/rng.go
package rng

import (
	"hash/fnv"
	rand "math/rand/v2"
	"time"
)

const goldenRatio64 = 0x9e3779b97f4a7c15

// Generator is a seeded pseudo-random source. Construct one per logical
// operation (one shuffle, one response index, one judge order) so that
// concurrent callers never share generator state.
type Generator struct {
	r *rand.Rand
}

// New returns a Generator seeded deterministically from the provided int64.
// The two 64-bit PCG seeds are derived with a splitmix-style mixer so that
// nearby seeds still produce unrelated sequences.
func New(seed int64) *Generator {
	u := uint64(seed)
	return &Generator{r: rand.New(rand.NewPCG(mix(u), mix(u+goldenRatio64)))}
}

// NewFromString seeds a Generator from an arbitrary string (FNV-1a hashed).
func NewFromString(seed string) *Generator {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return New(int64(h.Sum64()))
}

// NewFromTime seeds a Generator from the current wall clock. Not reproducible.
func NewFromTime() *Generator {
	return New(time.Now().UnixNano())
}

func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// Int returns a full-range non-negative pseudo-random int64.
func (g *Generator) Int() int64 {
	return g.r.Int64()
}

// IntBetween returns an integer in [min, max] inclusive, uniformly
// distributed. Int64N is rejection-sampled internally, so there is no
// modulo bias.
func (g *Generator) IntBetween(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return min + int(g.r.Int64N(int64(max-min)+1))
}

// Float returns a float64 in [0, 1).
func (g *Generator) Float() float64 {
	return g.r.Float64()
}

// Weighted pairs a value with its selection weight.
type Weighted[T any] struct {
	Value  T
	Weight float64
}

// ChooseWeighted selects one item with probability proportional to its
// weight. Items with weight <= 0 are never selected. Returns ok=false when
// no item carries positive weight.
func ChooseWeighted[T any](g *Generator, items []Weighted[T]) (T, bool) {
	var zero T
	var total float64
	for _, it := range items {
		if it.Weight > 0 {
			total += it.Weight
		}
	}
	if total <= 0 {
		return zero, false
	}
	target := g.Float() * total
	for _, it := range items {
		if it.Weight <= 0 {
			continue
		}
		if target < it.Weight {
			return it.Value, true
		}
		target -= it.Weight
	}
	// Float accumulation can leave target a hair past the last bucket.
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Weight > 0 {
			return items[i].Value, true
		}
	}
	return zero, false
}

// Shuffle reorders a slice in place using the generator.
func Shuffle[T any](g *Generator, items []T) {
	g.r.Shuffle(len(items), func(i, j int) {
		items[i], items[j] = items[j], items[i]
	})
}
