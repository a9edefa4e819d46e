package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oho/wpcluster/internal/config"
	"github.com/oho/wpcluster/internal/dataset"
	"github.com/oho/wpcluster/internal/mathutil"
	"github.com/oho/wpcluster/internal/report"
	"github.com/oho/wpcluster/internal/storage"
)

// ErrBusy is returned when Run is called while another run is in progress.
var ErrBusy = errors.New("clustering run already in progress")

const maxActivity = 200

// Request describes one clustering run.
type Request struct {
	InputPath       string
	K               int
	Fancy           bool
	Normalize       bool
	Seed            int64
	MaxIterations   int
	MaxRepairRounds int
	// Save persists the run when the Runner has a database.
	Save bool
	// Export writes a compressed snapshot to the configured export directory.
	Export bool
}

// RequestFromConfig builds a Request from the cluster and input sections.
func RequestFromConfig(cfg config.Config) Request {
	return Request{
		InputPath:       cfg.Input.Path,
		K:               cfg.Cluster.K,
		Fancy:           cfg.Cluster.Fancy,
		Normalize:       cfg.Cluster.Normalize,
		Seed:            cfg.Cluster.Seed,
		MaxIterations:   cfg.Cluster.MaxIterations,
		MaxRepairRounds: cfg.Cluster.MaxRepairRounds,
		Save:            true,
	}
}

func (req Request) seeding() mathutil.SeedStrategy {
	if req.Fancy {
		return mathutil.SeedFarthest
	}
	return mathutil.SeedRandom
}

func (req Request) units() mathutil.Units {
	if req.Normalize {
		return mathutil.UnitsNormalized
	}
	return mathutil.UnitsLog
}

// Outcome is a finished run.
type Outcome struct {
	RunID        string
	Seed         int64
	Dataset      *dataset.Dataset
	Result       *mathutil.Result
	Centers      []report.Center
	SnapshotPath string
}

// ActivityEntry is one line of the run activity log.
type ActivityEntry struct {
	TS     string         `json:"ts"`
	Stage  string         `json:"stage"`
	Action string         `json:"action"`
	Detail string         `json:"detail"`
	Counts map[string]int `json:"counts,omitempty"`
}

// Runner loads input, clusters it, and records the outcome.
type Runner struct {
	db          *storage.Database
	cfg         config.Config
	running     bool
	mu          sync.Mutex
	activityLog []ActivityEntry
	logMu       sync.Mutex
}

// NewRunner creates a Runner. db may be nil, in which case nothing is persisted.
func NewRunner(db *storage.Database, cfg config.Config) *Runner {
	return &Runner{db: db, cfg: cfg}
}

func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) emit(stage, action, detail string, counts map[string]int) {
	entry := ActivityEntry{
		TS:     time.Now().UTC().Format("15:04:05"),
		Stage:  stage,
		Action: action,
		Detail: detail,
		Counts: counts,
	}
	r.logMu.Lock()
	r.activityLog = append(r.activityLog, entry)
	if len(r.activityLog) > maxActivity {
		r.activityLog = r.activityLog[len(r.activityLog)-maxActivity:]
	}
	r.logMu.Unlock()
}

// Activity returns a copy of the most recent activity entries.
func (r *Runner) Activity() []ActivityEntry {
	r.logMu.Lock()
	defer r.logMu.Unlock()
	out := make([]ActivityEntry, len(r.activityLog))
	copy(out, r.activityLog)
	return out
}

// Run executes req to completion. Cancellation is observed between stages.
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if req.Seed == 0 {
		req.Seed = time.Now().UnixNano()
	}
	out := &Outcome{RunID: uuid.NewString(), Seed: req.Seed}

	// Stage 1: Load
	slog.Info("=== Stage 1: Loading ===", "input", req.InputPath, "units", req.units())
	ds, err := dataset.Load(req.InputPath, req.units())
	if err != nil {
		r.emit("loading", "failed", err.Error(), nil)
		return nil, fmt.Errorf("load input: %w", err)
	}
	out.Dataset = ds
	r.emit("loading", "loaded", filepath.Base(req.InputPath), map[string]int{
		"records": len(ds.Records), "zero_vectors": ds.ZeroVectors,
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	persist := req.Save && r.db != nil
	if persist {
		run := storage.NewRun(out.RunID, req.InputPath, ds.Hash, len(ds.Records), req.K, req.Fancy, req.Normalize, req.Seed)
		if err := r.db.InsertRun(run); err != nil {
			return nil, err
		}
	}
	fail := func(err error) (*Outcome, error) {
		if persist {
			if ferr := r.db.FailRun(out.RunID, err.Error()); ferr != nil {
				slog.Error("Failed to record run failure", "run_id", out.RunID, "error", ferr)
			}
		}
		r.emit("completed", "failed", err.Error(), nil)
		return nil, err
	}

	// Stage 2: Cluster
	slog.Info("=== Stage 2: Clustering ===", "k", req.K, "seeding", req.seeding(), "seed", req.Seed)
	clusterer := mathutil.NewClusterer(rand.New(rand.NewSource(req.Seed)), mathutil.Options{
		K:               req.K,
		Seeding:         req.seeding(),
		Units:           req.units(),
		MaxIterations:   req.MaxIterations,
		MaxRepairRounds: req.MaxRepairRounds,
		Logger:          slog.Default(),
	})
	res, err := clusterer.Cluster(ds.Vectors())
	if err != nil {
		return fail(fmt.Errorf("cluster: %w", err))
	}
	out.Result = res
	out.Centers = report.Centers(res)
	r.emit("clustering", "converged", fmt.Sprintf("sse=%g", res.SSE), map[string]int{
		"clusters": len(res.Clusters), "iterations": len(res.Iterations),
	})
	slog.Info("Clustering complete", "iterations", len(res.Iterations), "sse", res.SSE, "converged", res.Converged)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Stage 3: Persist
	if persist {
		slog.Info("=== Stage 3: Persisting ===")
		if err := r.persist(out); err != nil {
			return fail(fmt.Errorf("persist run: %w", err))
		}
		r.emit("persisting", "saved", out.RunID, map[string]int{"members": len(ds.Records)})
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
	}

	// Stage 4: Export
	if req.Export {
		slog.Info("=== Stage 4: Exporting ===")
		path, err := r.export(out, req)
		if err != nil {
			return fail(fmt.Errorf("export: %w", err))
		}
		out.SnapshotPath = path
		r.emit("exporting", "exported", filepath.Base(path), nil)
	}

	if persist {
		if err := r.db.FinishRun(out.RunID, len(res.Iterations), res.SSE, res.Converged); err != nil {
			return nil, err
		}
	}
	r.emit("completed", "done", "Run finished", nil)
	slog.Info("=== Run completed ===", "run_id", out.RunID)
	return out, nil
}

// persist stores centers in display order so cluster indices match the report.
func (r *Runner) persist(out *Outcome) error {
	clusters := make([]storage.RunCluster, len(out.Centers))
	var members []storage.RunMember
	for i, c := range out.Centers {
		clusters[i] = storage.RunCluster{
			RunID:    out.RunID,
			Idx:      i,
			Main:     c.Main,
			Talk:     c.Talk,
			User:     c.User,
			UserTalk: c.UserTalk,
			Size:     c.Size,
		}
		for _, idx := range c.Members {
			rec := out.Dataset.Records[idx]
			members = append(members, storage.RunMember{
				RunID:      out.RunID,
				RecordLine: rec.Line,
				Label:      rec.Label,
				ClusterIdx: i,
			})
		}
	}

	iters := make([]storage.RunIteration, len(out.Result.Iterations))
	for i, it := range out.Result.Iterations {
		iters[i] = storage.RunIteration{RunID: out.RunID, N: it.N, SSE: it.SSE, Repairs: it.Repairs}
	}

	if err := r.db.InsertClusters(clusters); err != nil {
		return err
	}
	if err := r.db.InsertIterations(iters); err != nil {
		return err
	}
	return r.db.InsertMembers(members)
}

func (r *Runner) export(out *Outcome, req Request) (string, error) {
	if err := os.MkdirAll(r.cfg.ExportDir, 0o755); err != nil {
		return "", err
	}
	snap := &report.Snapshot{
		RunID:      out.RunID,
		CreatedAt:  storage.NowISO(),
		Input:      req.InputPath,
		InputHash:  out.Dataset.Hash,
		K:          req.K,
		Seeding:    req.seeding().String(),
		Units:      req.units(),
		Seed:       req.Seed,
		SSE:        out.Result.SSE,
		Converged:  out.Result.Converged,
		Iterations: out.Result.Iterations,
		Centers:    out.Centers,
		Summary:    report.Summarize(out.Centers),
	}
	path := filepath.Join(r.cfg.ExportDir, out.RunID+".json.zst")
	if err := report.ExportSnapshot(path, snap); err != nil {
		return "", err
	}
	return path, nil
}
