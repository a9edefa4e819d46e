package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/oho/wpcluster/internal/report"
	"github.com/oho/wpcluster/internal/storage"
)

const (
	defaultListLimit    = 20
	defaultMembersLimit = 500
)

type runDetailResponse struct {
	Run        storage.Run            `json:"run"`
	Centers    []report.Center        `json:"centers"`
	Iterations []storage.RunIteration `json:"iterations"`
	Summary    report.Summary         `json:"summary"`
}

type membersResponse struct {
	RunID      string              `json:"run_id"`
	ClusterIdx int                 `json:"cluster_idx"`
	Members    []storage.RunMember `json:"members"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// RunsRouter serves read-only views of stored clustering runs.
func RunsRouter(db *storage.Database) chi.Router {
	r := chi.NewRouter()

	r.Get("/list", func(w http.ResponseWriter, r *http.Request) {
		limit, ok := queryInt(r, "limit", defaultListLimit)
		if !ok {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		runs, err := db.ListRuns(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []storage.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	// loadRun writes a 404 and returns nil when the run does not exist.
	loadRun := func(w http.ResponseWriter, runID string) *storage.Run {
		run, err := db.GetRun(runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return nil
		}
		if run == nil {
			writeError(w, http.StatusNotFound, "Run not found: "+runID)
			return nil
		}
		return run
	}

	r.Get("/{run_id}", func(w http.ResponseWriter, r *http.Request) {
		run := loadRun(w, chi.URLParam(r, "run_id"))
		if run == nil {
			return
		}
		clusters, err := db.GetClusters(run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		iters, err := db.GetIterations(run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if iters == nil {
			iters = []storage.RunIteration{}
		}
		centers := report.StoredCenters(clusters)
		writeJSON(w, http.StatusOK, runDetailResponse{
			Run:        *run,
			Centers:    centers,
			Iterations: iters,
			Summary:    report.Summarize(centers),
		})
	})

	r.Get("/{run_id}/tsv", func(w http.ResponseWriter, r *http.Request) {
		run := loadRun(w, chi.URLParam(r, "run_id"))
		if run == nil {
			return
		}
		clusters, err := db.GetClusters(run.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		var sse float64
		if run.SSE != nil {
			sse = *run.SSE
		}
		w.Header().Set("Content-Type", "text/tab-separated-values")
		report.WriteTSV(w, report.StoredCenters(clusters), sse)
	})

	r.Get("/{run_id}/clusters/{idx}/members", func(w http.ResponseWriter, r *http.Request) {
		run := loadRun(w, chi.URLParam(r, "run_id"))
		if run == nil {
			return
		}
		idx, err := strconv.Atoi(chi.URLParam(r, "idx"))
		if err != nil || idx < 0 {
			writeError(w, http.StatusBadRequest, "cluster index must be a non-negative integer")
			return
		}
		limit, ok := queryInt(r, "limit", defaultMembersLimit)
		if !ok {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		members, err := db.GetMembers(run.ID, idx, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if members == nil {
			members = []storage.RunMember{}
		}
		writeJSON(w, http.StatusOK, membersResponse{RunID: run.ID, ClusterIdx: idx, Members: members})
	})

	return r
}
