package storage

import (
	"time"
)

// RunStatus represents the state of a clustering run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NowISO is the exported version of nowISO for use by other packages.
func NowISO() string {
	return nowISO()
}

// Run is one invocation of the clusterer over an input file.
type Run struct {
	ID         string    `json:"id"`
	CreatedAt  string    `json:"created_at"`
	InputPath  string    `json:"input_path"`
	InputHash  string    `json:"input_hash"`
	Points     int       `json:"points"`
	K          int       `json:"k"`
	Fancy      bool      `json:"fancy"`
	Normalize  bool      `json:"normalize"`
	Seed       int64     `json:"seed"`
	Iterations int       `json:"iterations"`
	SSE        *float64  `json:"sse,omitempty"`
	Converged  bool      `json:"converged"`
	Status     RunStatus `json:"status"`
	Error      *string   `json:"error,omitempty"`
	FinishedAt *string   `json:"finished_at,omitempty"`
}

func NewRun(id, inputPath, inputHash string, points, k int, fancy, normalize bool, seed int64) Run {
	return Run{
		ID:        id,
		CreatedAt: nowISO(),
		InputPath: inputPath,
		InputHash: inputHash,
		Points:    points,
		K:         k,
		Fancy:     fancy,
		Normalize: normalize,
		Seed:      seed,
		Status:    RunRunning,
	}
}

// RunCluster is a final center of a run, in display units.
type RunCluster struct {
	RunID    string  `json:"run_id"`
	Idx      int     `json:"idx"`
	Main     float64 `json:"main"`
	Talk     float64 `json:"talk"`
	User     float64 `json:"user"`
	UserTalk float64 `json:"usertalk"`
	Size     int     `json:"size"`
}

// RunIteration is the SSE trace of one loop pass.
type RunIteration struct {
	RunID   string  `json:"run_id"`
	N       int     `json:"n"`
	SSE     float64 `json:"sse"`
	Repairs int     `json:"repairs"`
}

// RunMember places one input record in a cluster.
type RunMember struct {
	RunID      string `json:"run_id"`
	RecordLine int    `json:"record_line"`
	Label      string `json:"label"`
	ClusterIdx int    `json:"cluster_idx"`
}
