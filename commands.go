package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oho/wpcluster/internal/api"
	"github.com/oho/wpcluster/internal/config"
	"github.com/oho/wpcluster/internal/pipeline"
	"github.com/oho/wpcluster/internal/report"
	"github.com/oho/wpcluster/internal/server"
	"github.com/oho/wpcluster/internal/storage"
)

// run command flags
var (
	runInput     string
	runK         int
	runFancy     bool
	runNormalize bool
	runSeed      int64
	runMaxIter   int
	runFormat    string
	runSave      bool
	runExport    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Cluster an input file and print the centers",
	Long: `Load a tab-separated namespace table, cluster it with k-means and print the
centers ordered by their main value. Flags override the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := runRequest(cmd, cfg)
		if err != nil {
			return err
		}

		var db *storage.Database
		if req.Save || req.Export {
			if err := cfg.EnsureDirs(); err != nil {
				return err
			}
		}
		if req.Save {
			db, err = openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out, err := pipeline.NewRunner(db, cfg).Run(ctx, req)
		if err != nil {
			return err
		}
		if !out.Result.Converged {
			slog.Warn("Result did not converge", "iterations", len(out.Result.Iterations))
		}
		if out.SnapshotPath != "" {
			slog.Info("Snapshot written", "path", out.SnapshotPath)
		}
		if db != nil {
			slog.Info("Run saved", "run_id", out.RunID)
		}
		return writeCenters(os.Stdout, runFormat, out.Centers, out.Result.SSE)
	},
}

// runRequest overlays the run flags that were set on base, validates the
// result and builds the pipeline request.
func runRequest(cmd *cobra.Command, base config.Config) (pipeline.Request, error) {
	c := base
	flags := cmd.Flags()
	if flags.Changed("input") {
		c.Input.Path = runInput
	}
	if flags.Changed("k") {
		c.Cluster.K = runK
	}
	if flags.Changed("fancy") {
		c.Cluster.Fancy = runFancy
	}
	if flags.Changed("normalize") {
		c.Cluster.Normalize = runNormalize
	}
	if flags.Changed("seed") {
		c.Cluster.Seed = runSeed
	}
	if flags.Changed("max-iter") {
		c.Cluster.MaxIterations = runMaxIter
	}
	if err := c.Validate(); err != nil {
		return pipeline.Request{}, err
	}

	req := pipeline.RequestFromConfig(c)
	req.Save = runSave
	req.Export = runExport
	return req, nil
}

func writeCenters(w io.Writer, format string, centers []report.Center, sse float64) error {
	switch format {
	case "table":
		return report.WriteTable(w, centers, sse)
	case "tsv":
		return report.WriteTSV(w, centers, sse)
	case "json":
		return report.WriteJSON(w, map[string]any{
			"centers": centers,
			"sse":     sse,
			"summary": report.Summarize(centers),
		})
	default:
		return fmt.Errorf("unknown format %q (want table, tsv or json)", format)
	}
}

func openDatabase() (*storage.Database, error) {
	db, err := storage.NewDatabase(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return db, nil
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse saved runs",
}

var runsLimit int

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs found")
			return nil
		}
		fmt.Printf("%-36s  %-20s  %3s  %8s  %-9s  %s\n", "ID", "CREATED", "K", "POINTS", "STATUS", "SSE")
		for _, r := range runs {
			sse := "-"
			if r.SSE != nil {
				sse = fmt.Sprintf("%g", *r.SSE)
			}
			fmt.Printf("%-36s  %-20s  %3d  %8d  %-9s  %s\n", r.ID, r.CreatedAt, r.K, r.Points, r.Status, sse)
		}
		return nil
	},
}

var runsShowFormat string

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the centers of a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		run, err := db.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run not found: %s", args[0])
		}
		clusters, err := db.GetClusters(run.ID)
		if err != nil {
			return err
		}

		fmt.Printf("Run %s (%s)\n", run.ID, run.Status)
		fmt.Printf("Input: %s  k=%d  fancy=%v  normalize=%v  seed=%d\n",
			run.InputPath, run.K, run.Fancy, run.Normalize, run.Seed)
		if run.Error != nil {
			fmt.Printf("Error: %s\n", *run.Error)
		}
		fmt.Printf("Iterations: %d  converged=%v\n\n", run.Iterations, run.Converged)

		var sse float64
		if run.SSE != nil {
			sse = *run.SSE
		}
		return writeCenters(os.Stdout, runsShowFormat, report.StoredCenters(clusters), sse)
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a saved run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		ok, err := db.DeleteRun(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run not found: %s", args[0])
		}
		fmt.Printf("Deleted run %s\n", args[0])
		return nil
	},
}

var inspectFormat string

var inspectCmd = &cobra.Command{
	Use:   "inspect <snapshot>",
	Short: "Print an exported snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := report.ReadSnapshot(args[0])
		if err != nil {
			return err
		}
		if inspectFormat == "json" {
			return report.WriteJSON(os.Stdout, snap)
		}
		fmt.Printf("Run %s  k=%d  seeding=%s  units=%s  seed=%d\n",
			snap.RunID, snap.K, snap.Seeding, snap.Units, snap.Seed)
		fmt.Printf("Input: %s\n\n", snap.Input)
		return writeCenters(os.Stdout, inspectFormat, snap.Centers, snap.SSE)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve saved runs over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("Database initialized", "path", cfg.DBPath)

	r := server.NewRouter()
	r.Get("/health", server.HealthHandler(cfg, db))
	r.Mount("/runs", api.RunsRouter(db))

	pidPath := filepath.Join(cfg.DataDir, "wpcluster.pid")
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
	defer os.Remove(pidPath)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 60))
	fmt.Printf("  wpcluster report server\n")
	fmt.Printf("  http://%s\n", addr)
	fmt.Printf("  Data dir: %s\n", cfg.DataDir)
	fmt.Printf("%s\n\n", strings.Repeat("=", 60))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("Server ready", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}
	slog.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	slog.Info("Server stopped")
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wpcluster %s\n", version)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "input file (.txt, .tsv, .gz or .zst)")
	runCmd.Flags().IntVar(&runK, "k", 5, "number of clusters")
	runCmd.Flags().BoolVar(&runFancy, "fancy", false, "farthest-sum seeding instead of random")
	runCmd.Flags().BoolVar(&runNormalize, "normalize", false, "cluster unit-length vectors instead of log counts")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "random seed (0 picks one)")
	runCmd.Flags().IntVar(&runMaxIter, "max-iter", 300, "iteration cap, negative for none")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "table", "output format: table, tsv or json")
	runCmd.Flags().BoolVar(&runSave, "save", false, "save the run to the local store")
	runCmd.Flags().BoolVar(&runExport, "export", false, "write a compressed snapshot to the export directory")

	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list")
	runsShowCmd.Flags().StringVarP(&runsShowFormat, "format", "f", "table", "output format: table, tsv or json")
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "table", "output format: table, tsv or json")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
}
