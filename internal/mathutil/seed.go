package mathutil

import (
	"fmt"
	"math/rand"
)

// SeedStrategy selects how initial centers are chosen.
type SeedStrategy int

const (
	// SeedRandom samples k distinct-valued points uniformly at random.
	SeedRandom SeedStrategy = iota
	// SeedFarthest picks one random point, then repeatedly the point with the
	// largest summed squared distance to all centers chosen so far.
	SeedFarthest
)

func (s SeedStrategy) String() string {
	switch s {
	case SeedRandom:
		return "random"
	case SeedFarthest:
		return "farthest"
	default:
		return fmt.Sprintf("SeedStrategy(%d)", int(s))
	}
}

// Seed returns k initial centers, each a copy of a data point.
func Seed(rng *rand.Rand, data []FeatureVector, k int, strategy SeedStrategy) ([]FeatureVector, error) {
	if k < 1 || k > len(data) {
		return nil, &ParamError{K: k, Points: len(data), cause: ErrInvalidK}
	}
	switch strategy {
	case SeedFarthest:
		return seedFarthest(rng, data, k)
	default:
		return seedRandom(rng, data, k)
	}
}

// seedRandom walks a random permutation so that every draw is a new point and
// the loop ends after at most len(data) steps.
func seedRandom(rng *rand.Rand, data []FeatureVector, k int) ([]FeatureVector, error) {
	centers := make([]FeatureVector, 0, k)
	seen := make(map[FeatureVector]struct{}, k)
	for _, idx := range rng.Perm(len(data)) {
		v := data[idx]
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		centers = append(centers, v.Copy())
		if len(centers) == k {
			return centers, nil
		}
	}
	return nil, &ParamError{K: k, Points: len(data), cause: ErrTooFewDistinct}
}

func seedFarthest(rng *rand.Rand, data []FeatureVector, k int) ([]FeatureVector, error) {
	centers := make([]FeatureVector, 0, k)
	chosen := make(map[FeatureVector]struct{}, k)

	first := data[rng.Intn(len(data))].Copy()
	centers = append(centers, first)
	chosen[first] = struct{}{}

	for len(centers) < k {
		best := -1
		bestTotal := 0.0
		for i, p := range data {
			if _, ok := chosen[p]; ok {
				continue
			}
			var total float64
			for _, c := range centers {
				total += p.DistanceSquared(c)
			}
			if best == -1 || total > bestTotal {
				best = i
				bestTotal = total
			}
		}
		if best == -1 {
			return nil, &ParamError{K: k, Points: len(data), cause: ErrTooFewDistinct}
		}
		c := data[best].Copy()
		centers = append(centers, c)
		chosen[c] = struct{}{}
	}
	return centers, nil
}
