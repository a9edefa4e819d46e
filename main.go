package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/oho/wpcluster/internal/config"
)

var version = "dev"

var (
	cfgFile string
	verbose bool
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "wpcluster",
	Short: "k-means clustering of Wikipedia namespace edit counts",
	Long: `wpcluster groups editors by how their edits split across the main, talk,
user and user talk namespaces. Runs can be saved to a local store, exported
as compressed snapshots, and browsed over HTTP.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))

		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFile(cfgFile)
			if err != nil {
				return err
			}
		} else {
			cfg = config.LoadConfig()
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		slog.Debug("Configuration loaded", "data_dir", cfg.DataDir, "input", cfg.Input.Path)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
