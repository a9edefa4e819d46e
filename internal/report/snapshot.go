package report

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/oho/wpcluster/internal/mathutil"
)

// Snapshot is a self-contained record of one run, written next to the run store.
type Snapshot struct {
	RunID      string               `json:"run_id"`
	CreatedAt  string               `json:"created_at"`
	Input      string               `json:"input"`
	InputHash  string               `json:"input_hash"`
	K          int                  `json:"k"`
	Seeding    string               `json:"seeding"`
	Units      mathutil.Units       `json:"units"`
	Seed       int64                `json:"seed"`
	SSE        float64              `json:"sse"`
	Converged  bool                 `json:"converged"`
	Iterations []mathutil.Iteration `json:"iterations"`
	Centers    []Center             `json:"centers"`
	Summary    Summary              `json:"summary"`
}

// ExportSnapshot writes snap as zstd-compressed JSON.
func ExportSnapshot(path string, snap *Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	if err := json.NewEncoder(enc).Encode(snap); err != nil {
		enc.Close()
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return f.Close()
}

func ReadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var snap Snapshot
	if err := json.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snap, nil
}
