package server

import (
	"encoding/json"
	"net/http"

	"github.com/oho/wpcluster/internal/config"
	"github.com/oho/wpcluster/internal/storage"
)

type HealthResponse struct {
	Status       string         `json:"status"`
	DB           string         `json:"db"`
	RunCount     int            `json:"run_count"`
	StatusCounts map[string]int `json:"status_counts"`
	DataDir      string         `json:"data_dir"`
	Port         int            `json:"port"`
}

// HealthHandler returns a handler for GET /health.
func HealthHandler(cfg config.Config, db *storage.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:       "ok",
			DB:           "unavailable",
			StatusCounts: map[string]int{},
			DataDir:      cfg.DataDir,
			Port:         cfg.Port,
		}
		if db != nil {
			if err := db.DB().PingContext(r.Context()); err == nil {
				resp.DB = "connected"
				resp.RunCount, _ = db.CountRuns()
				if counts, err := db.CountRunsByStatus(); err == nil {
					resp.StatusCounts = counts
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
