package mathutil

import (
	"fmt"
	"sort"
)

// DefaultMaxRepairRounds bounds the empty-cluster repair loop.
const DefaultMaxRepairRounds = 32

// resolveEmpty replaces empty clusters with the points worst served by their
// current center and reassigns, until no cluster is empty. Surviving clusters
// keep their relative order; promoted centers are appended.
// It returns the repaired centers and members plus the number of rounds used.
func resolveEmpty(data, centers []FeatureVector, members [][]int, maxRounds int) ([]FeatureVector, [][]int, int, error) {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRepairRounds
	}
	rounds := 0
	for {
		count := countEmpty(members)
		if count == 0 {
			return centers, members, rounds, nil
		}
		if rounds == maxRounds {
			return nil, nil, rounds, fmt.Errorf("%w: %d clusters still empty after %d repair rounds",
				ErrClusteringImpossible, count, rounds)
		}
		rounds++

		kept := make([]FeatureVector, 0, len(centers))
		keptMembers := make([][]int, 0, len(centers))
		for ci, m := range members {
			if len(m) > 0 {
				kept = append(kept, centers[ci])
				keptMembers = append(keptMembers, m)
			}
		}

		promoted, err := worstServed(data, kept, keptMembers, count)
		if err != nil {
			return nil, nil, rounds, err
		}
		centers = append(kept, promoted...)
		members = assign(data, centers)
	}
}

type servedPoint struct {
	idx  int
	dist float64
}

// worstServed picks count points with the largest distance to their assigned
// center, skipping values that already serve as a center.
func worstServed(data, centers []FeatureVector, members [][]int, count int) ([]FeatureVector, error) {
	var scored []servedPoint
	for ci, m := range members {
		for _, idx := range m {
			scored = append(scored, servedPoint{idx: idx, dist: data[idx].DistanceSquared(centers[ci])})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].dist != scored[j].dist {
			return scored[i].dist > scored[j].dist
		}
		return scored[i].idx < scored[j].idx
	})

	taken := make(map[FeatureVector]struct{}, len(centers)+count)
	for _, c := range centers {
		taken[c] = struct{}{}
	}
	promoted := make([]FeatureVector, 0, count)
	for _, s := range scored {
		if len(promoted) == count {
			break
		}
		v := data[s.idx]
		if _, ok := taken[v]; ok {
			continue
		}
		taken[v] = struct{}{}
		promoted = append(promoted, v.Copy())
	}
	if len(promoted) < count {
		return nil, fmt.Errorf("%w: need %d replacement centers, found %d: %w",
			ErrClusteringImpossible, count, len(promoted), ErrTooFewDistinct)
	}
	return promoted, nil
}
