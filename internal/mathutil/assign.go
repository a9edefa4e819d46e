package mathutil

// assign returns, for each center, the indices of the data points nearest to it.
// Ties go to the lower center index. Centers nobody is nearest to get an empty,
// non-nil slice.
func assign(data []FeatureVector, centers []FeatureVector) [][]int {
	members := make([][]int, len(centers))
	for ci := range members {
		members[ci] = []int{}
	}
	if len(centers) == 0 {
		return members
	}
	for i, p := range data {
		bestK := 0
		bestDist := p.DistanceSquared(centers[0])
		for ci := 1; ci < len(centers); ci++ {
			if d := p.DistanceSquared(centers[ci]); d < bestDist {
				bestDist = d
				bestK = ci
			}
		}
		members[bestK] = append(members[bestK], i)
	}
	return members
}

// countEmpty returns the number of clusters without members.
func countEmpty(members [][]int) int {
	n := 0
	for _, m := range members {
		if len(m) == 0 {
			n++
		}
	}
	return n
}
