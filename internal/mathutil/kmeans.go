package mathutil

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"slices"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
)

// DefaultMaxIterations caps the assign/recenter loop when Options leaves it unset.
const DefaultMaxIterations = 300

// Units describes the feature space the data was transformed into before clustering.
type Units int

const (
	// UnitsLog means every field went through LogTransform. Results are
	// mapped back to raw counts.
	UnitsLog Units = iota
	// UnitsNormalized means every vector was scaled to unit length.
	UnitsNormalized
)

func (u Units) String() string {
	if u == UnitsNormalized {
		return "normalized"
	}
	return "log"
}

func (u Units) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *Units) UnmarshalText(b []byte) error {
	switch string(b) {
	case "log":
		*u = UnitsLog
	case "normalized":
		*u = UnitsNormalized
	default:
		return fmt.Errorf("unknown units %q", b)
	}
	return nil
}

// Options configures a Clusterer.
type Options struct {
	K       int
	Seeding SeedStrategy
	Units   Units
	// MaxIterations bounds the loop; 0 selects DefaultMaxIterations and a
	// negative value disables the bound.
	MaxIterations   int
	MaxRepairRounds int
	Logger          *slog.Logger
}

// Cluster is one center and the indices of the points assigned to it.
type Cluster struct {
	Center  FeatureVector `json:"center"`
	Members []int         `json:"members"`
}

// Iteration records one assign/repair/recenter pass.
type Iteration struct {
	N       int     `json:"n"`
	SSE     float64 `json:"sse"`
	Repairs int     `json:"repairs"`
}

// Result is a finished clustering. Member indices refer to Points, which are
// in the same order as the input data.
type Result struct {
	K          int             `json:"k"`
	Units      Units           `json:"units"`
	Clusters   []Cluster       `json:"clusters"`
	Points     []FeatureVector `json:"points"`
	Iterations []Iteration     `json:"iterations"`
	// SSE is measured in the clustering space (before any inverse transform).
	SSE       float64 `json:"sse"`
	Converged bool    `json:"converged"`
}

// Sizes returns the member count of each cluster.
func (r *Result) Sizes() []int {
	sizes := make([]int, len(r.Clusters))
	for i, c := range r.Clusters {
		sizes[i] = len(c.Members)
	}
	return sizes
}

// MemberVectors returns the points assigned to cluster i.
func (r *Result) MemberVectors(i int) []FeatureVector {
	out := make([]FeatureVector, len(r.Clusters[i].Members))
	for j, idx := range r.Clusters[i].Members {
		out[j] = r.Points[idx]
	}
	return out
}

// SortByField orders clusters by the named center field, ascending.
func (r *Result) SortByField(name string) error {
	fi, ok := FieldIndex(name)
	if !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	sort.SliceStable(r.Clusters, func(i, j int) bool {
		return r.Clusters[i].Center[fi] < r.Clusters[j].Center[fi]
	})
	return nil
}

// Clusterer runs k-means over a fixed in-memory dataset. A Clusterer owns its
// random source and is not safe for concurrent use.
type Clusterer struct {
	rng  *rand.Rand
	opts Options
	log  *slog.Logger
}

// NewClusterer creates a Clusterer. A nil rng is replaced with a time-seeded source.
func NewClusterer(rng *rand.Rand, opts Options) *Clusterer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.MaxIterations == 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.MaxRepairRounds <= 0 {
		opts.MaxRepairRounds = DefaultMaxRepairRounds
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Clusterer{rng: rng, opts: opts, log: logger}
}

// Cluster partitions data into K non-empty clusters.
func (c *Clusterer) Cluster(data []FeatureVector) (*Result, error) {
	if c.opts.K < 1 || c.opts.K > len(data) {
		return nil, &ParamError{K: c.opts.K, Points: len(data), cause: ErrInvalidK}
	}
	points := slices.Clone(data)

	centers, err := Seed(c.rng, points, c.opts.K, c.opts.Seeding)
	if err != nil {
		return nil, err
	}
	c.log.Debug("Seeded centers", "k", len(centers), "strategy", c.opts.Seeding)
	return c.iterate(points, centers)
}

// iterate runs the assign/repair/recenter loop from the given centers.
func (c *Clusterer) iterate(points, centers []FeatureVector) (*Result, error) {
	res := &Result{K: c.opts.K, Units: c.opts.Units}
	var members [][]int

	for n := 1; ; n++ {
		if c.opts.MaxIterations > 0 && n > c.opts.MaxIterations {
			c.log.Warn("Iteration cap reached before convergence", "max_iterations", c.opts.MaxIterations)
			break
		}

		assigned := assign(points, centers)
		repaired, assigned, repairs, err := resolveEmpty(points, centers, assigned, c.opts.MaxRepairRounds)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: %w", n, err)
		}
		if repairs > 0 {
			c.log.Info("Repaired empty clusters", "iteration", n, "rounds", repairs)
		}

		next := recenter(points, assigned)
		sse := sumSquaredError(points, next, assigned)
		res.Iterations = append(res.Iterations, Iteration{N: n, SSE: sse, Repairs: repairs})
		c.log.Debug("Iteration", "n", n, "sse", sse)

		converged := sameMapping(repaired, assigned, next, assigned)
		centers, members = next, assigned
		if converged {
			res.Converged = true
			break
		}
	}

	res.Clusters = make([]Cluster, len(centers))
	for i := range centers {
		res.Clusters[i] = Cluster{Center: centers[i], Members: members[i]}
	}
	res.Points = points
	if len(res.Iterations) > 0 {
		res.SSE = res.Iterations[len(res.Iterations)-1].SSE
	}

	if c.opts.Units == UnitsLog {
		for i := range res.Clusters {
			res.Clusters[i].Center.InverseLogTransform()
		}
		for i := range res.Points {
			res.Points[i].InverseLogTransform()
		}
	}
	return res, nil
}

// recenter returns the mean of each cluster's members. Every cluster must be non-empty.
func recenter(points []FeatureVector, members [][]int) []FeatureVector {
	centers := make([]FeatureVector, len(members))
	for ci, m := range members {
		var acc FeatureVector
		for _, idx := range m {
			acc.Add(points[idx])
		}
		acc.Scale(float64(len(m)))
		centers[ci] = acc
	}
	return centers
}

func sumSquaredError(points, centers []FeatureVector, members [][]int) float64 {
	dists := make([]float64, 0, len(points))
	for ci, m := range members {
		for _, idx := range m {
			dists = append(dists, points[idx].DistanceSquared(centers[ci]))
		}
	}
	return floats.Sum(dists)
}

// ComputeSSE returns the summed squared distance from each member to its center,
// in whatever space clusters and points hold. A UnitsLog Result holds raw
// counts, so ComputeSSE(res.Clusters, res.Points) is a raw-space figure and
// differs from res.SSE, which is measured in log space.
func ComputeSSE(clusters []Cluster, points []FeatureVector) float64 {
	centers := make([]FeatureVector, len(clusters))
	members := make([][]int, len(clusters))
	for i, cl := range clusters {
		centers[i] = cl.Center
		members[i] = cl.Members
	}
	return sumSquaredError(points, centers, members)
}

// sameMapping reports whether two center->members mappings hold the same
// (center value, member set) pairs.
func sameMapping(prevCenters []FeatureVector, prevMembers [][]int, nextCenters []FeatureVector, nextMembers [][]int) bool {
	if len(prevCenters) != len(nextCenters) {
		return false
	}
	for i := range prevCenters {
		if !prevCenters[i].Equal(nextCenters[i]) || !slices.Equal(prevMembers[i], nextMembers[i]) {
			return false
		}
	}
	return true
}
