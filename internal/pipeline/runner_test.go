package pipeline

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oho/wpcluster/internal/config"
	"github.com/oho/wpcluster/internal/mathutil"
	"github.com/oho/wpcluster/internal/report"
	"github.com/oho/wpcluster/internal/storage"
)

const namespaceTable = "wiki\tmain\ttalk\tuser\tusertalk\n" +
	"a\t0\t0\t0\t0\n" +
	"b\t1\t0\t0\t0\n" +
	"c\t1023\t1\t0\t0\n" +
	"d\t1023\t3\t0\t0\n"

func setupRunner(t *testing.T) (*Runner, *storage.Database, Request) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "wp_namespace.txt")
	require.NoError(t, os.WriteFile(input, []byte(namespaceTable), 0o644))

	db, err := storage.NewDatabase(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	t.Cleanup(func() { db.Close() })

	cfg := config.DefaultConfig()
	cfg.ExportDir = filepath.Join(dir, "exports")
	cfg.Input.Path = input
	cfg.Cluster.K = 2
	cfg.Cluster.Fancy = true
	cfg.Cluster.Seed = 7

	return NewRunner(db, cfg), db, RequestFromConfig(cfg)
}

func TestRunPersistsResult(t *testing.T) {
	r, db, req := setupRunner(t)

	out, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, out.Centers, 2)
	low, high := out.Centers[0], out.Centers[1]
	assert.InDelta(t, math.Sqrt2-1, low.Main, 1e-9)
	assert.InDelta(t, 1023, high.Main, 1e-9)
	assert.True(t, out.Result.Converged)
	assert.Equal(t, int64(7), out.Seed)

	run, err := db.GetRun(out.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, storage.RunCompleted, run.Status)
	assert.Equal(t, 4, run.Points)
	assert.Equal(t, 2, run.K)
	assert.True(t, run.Fancy)
	assert.False(t, run.Normalize)
	assert.Equal(t, out.Dataset.Hash, run.InputHash)

	clusters, err := db.GetClusters(out.RunID)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, low.Main, clusters[0].Main, "clusters stored in display order")

	iters, err := db.GetIterations(out.RunID)
	require.NoError(t, err)
	assert.Len(t, iters, len(out.Result.Iterations))

	members, err := db.GetMembers(out.RunID, 0, 10)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].Label)
	assert.Equal(t, 2, members[0].RecordLine)
	assert.Equal(t, "b", members[1].Label)
}

func TestRunExportsSnapshot(t *testing.T) {
	r, _, req := setupRunner(t)
	req.Export = true

	out, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, out.SnapshotPath)

	snap, err := report.ReadSnapshot(out.SnapshotPath)
	require.NoError(t, err)
	assert.Equal(t, out.RunID, snap.RunID)
	assert.Equal(t, mathutil.UnitsLog, snap.Units)
	assert.Equal(t, "farthest", snap.Seeding)
	assert.Equal(t, 4, snap.Summary.Points)
}

func TestRunWithoutDatabase(t *testing.T) {
	_, _, req := setupRunner(t)
	r := NewRunner(nil, config.DefaultConfig())

	out, err := r.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, out.Result.Clusters, 2)
}

func TestRunRecordsFailure(t *testing.T) {
	r, db, req := setupRunner(t)
	req.K = 5

	_, err := r.Run(context.Background(), req)
	require.ErrorIs(t, err, mathutil.ErrInvalidK)

	counts, err := db.CountRunsByStatus()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["failed"])
	assert.False(t, r.IsRunning(), "runner should be idle after a failure")
}

func TestRunMissingInput(t *testing.T) {
	r, db, req := setupRunner(t)
	req.InputPath = filepath.Join(t.TempDir(), "missing.txt")

	_, err := r.Run(context.Background(), req)
	require.ErrorIs(t, err, os.ErrNotExist)

	n, err := db.CountRuns()
	require.NoError(t, err)
	assert.Zero(t, n, "no run should be recorded")
}

func TestRunCancelled(t *testing.T) {
	r, db, req := setupRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Run(ctx, req)
	require.ErrorIs(t, err, context.Canceled)

	n, err := db.CountRuns()
	require.NoError(t, err)
	assert.Zero(t, n, "cancelled run should not be recorded")
}

func TestActivityLogCapped(t *testing.T) {
	r := NewRunner(nil, config.DefaultConfig())
	for i := 0; i < 250; i++ {
		r.emit("clustering", "tick", "", nil)
	}
	assert.Len(t, r.Activity(), maxActivity)
}

func TestRequestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cluster.Normalize = true
	req := RequestFromConfig(cfg)
	assert.Equal(t, mathutil.UnitsNormalized, req.units())
	assert.Equal(t, mathutil.SeedRandom, req.seeding())
	assert.True(t, req.Save, "config requests are saved")
}
