package report

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oho/wpcluster/internal/mathutil"
	"github.com/oho/wpcluster/internal/storage"
)

func twoGroupResult(t *testing.T) *mathutil.Result {
	t.Helper()
	data := []mathutil.FeatureVector{
		mathutil.NewFeatureVector(10, 0, 0, 0),
		mathutil.NewFeatureVector(11, 0, 0, 0),
		mathutil.NewFeatureVector(0, 0, 0, 0),
		mathutil.NewFeatureVector(1, 0, 0, 0),
	}
	c := mathutil.NewClusterer(rand.New(rand.NewSource(3)), mathutil.Options{
		K:       2,
		Seeding: mathutil.SeedFarthest,
		Units:   mathutil.UnitsNormalized,
	})
	res, err := c.Cluster(data)
	require.NoError(t, err)
	return res
}

func TestCentersSortedByMain(t *testing.T) {
	centers := Centers(twoGroupResult(t))
	require.Len(t, centers, 2)
	assert.Equal(t, 0.5, centers[0].Main)
	assert.Equal(t, 10.5, centers[1].Main)
	assert.Equal(t, 2, centers[0].Size)
	assert.ElementsMatch(t, []int{2, 3}, centers[0].Members)
}

func TestCentersCarryClusterSizes(t *testing.T) {
	data := []mathutil.FeatureVector{
		mathutil.NewFeatureVector(100, 0, 0, 0),
		mathutil.NewFeatureVector(0, 0, 0, 0),
		mathutil.NewFeatureVector(1, 0, 0, 0),
		mathutil.NewFeatureVector(2, 0, 0, 0),
	}
	c := mathutil.NewClusterer(rand.New(rand.NewSource(5)), mathutil.Options{
		K:       2,
		Seeding: mathutil.SeedFarthest,
		Units:   mathutil.UnitsNormalized,
	})
	res, err := c.Cluster(data)
	require.NoError(t, err)

	centers := Centers(res)
	require.Len(t, centers, 2)
	assert.Equal(t, 3, centers[0].Size)
	assert.Equal(t, 1, centers[1].Size)
	assert.ElementsMatch(t, []int{3, 1}, res.Sizes())
	for _, ct := range centers {
		assert.Len(t, ct.Members, ct.Size)
	}
}

func TestStoredCenters(t *testing.T) {
	centers := StoredCenters([]storage.RunCluster{
		{Idx: 0, Main: 9, Size: 1},
		{Idx: 1, Main: 2, Talk: 3, Size: 4},
	})
	require.Len(t, centers, 2)
	assert.Equal(t, 2.0, centers[0].Main)
	assert.Equal(t, 3.0, centers[0].Talk)
	assert.Equal(t, 4, centers[0].Size)
}

func TestWriteTSV(t *testing.T) {
	var buf bytes.Buffer
	centers := []Center{
		{Main: 0.5, Size: 2},
		{Main: 10.5, Talk: 1.25, User: 2, UserTalk: 3, Size: 2},
	}
	require.NoError(t, WriteTSV(&buf, centers, 1))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "main\ttalk\tuser\tusertalk\tsize", lines[0])
	assert.Equal(t, "0.5\t0\t0\t0\t2", lines[1])
	assert.Equal(t, "10.5\t1.25\t2\t3\t2", lines[2])
	assert.Equal(t, "SSE\t1", lines[3])
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, Centers(twoGroupResult(t)), 1))

	out := buf.String()
	assert.Contains(t, out, "usertalk")
	assert.Contains(t, out, "10.5")
	assert.Contains(t, out, "SSE: 1")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Summarize([]Center{{Main: 1, Size: 3}})))
	assert.Contains(t, buf.String(), `"points": 3`)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Center{
		{Main: 1, Talk: 4, Size: 2},
		{Main: 3, Talk: 4, Size: 6},
	})
	assert.Equal(t, 2, s.Clusters)
	assert.Equal(t, 8, s.Points)
	assert.Equal(t, Stats{Min: 1, Max: 3, Mean: 2}, s.Fields["main"])
	assert.Equal(t, Stats{Min: 4, Max: 4, Mean: 4}, s.Fields["talk"])
	assert.Equal(t, Stats{Min: 2, Max: 6, Mean: 4}, s.Sizes)
	assert.Len(t, s.Fields, mathutil.NumFields)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0, s.Clusters)
	assert.Equal(t, Stats{}, s.Sizes)
}

func TestSnapshotRoundTrip(t *testing.T) {
	res := twoGroupResult(t)
	centers := Centers(res)
	snap := &Snapshot{
		RunID:      "run-1",
		Input:      "/tmp/wp_namespace.txt",
		K:          2,
		Seeding:    mathutil.SeedFarthest.String(),
		Units:      mathutil.UnitsNormalized,
		SSE:        res.SSE,
		Converged:  res.Converged,
		Iterations: res.Iterations,
		Centers:    centers,
		Summary:    Summarize(centers),
	}
	path := filepath.Join(t.TempDir(), "run-1.json.zst")
	require.NoError(t, ExportSnapshot(path, snap))

	got, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestReadSnapshotMissing(t *testing.T) {
	_, err := ReadSnapshot(filepath.Join(t.TempDir(), "nope.zst"))
	assert.Error(t, err)
}
