package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type ClusterConfig struct {
	K               int   `json:"k" yaml:"k"`
	Fancy           bool  `json:"fancy" yaml:"fancy"`
	Normalize       bool  `json:"normalize" yaml:"normalize"`
	MaxIterations   int   `json:"max_iterations" yaml:"max_iterations"`
	MaxRepairRounds int   `json:"max_repair_rounds" yaml:"max_repair_rounds"`
	Seed            int64 `json:"seed" yaml:"seed"`
}

type InputConfig struct {
	Path string `json:"path" yaml:"path"`
}

type Config struct {
	DataDir   string        `json:"data_dir" yaml:"data_dir"`
	DBPath    string        `json:"db_path" yaml:"db_path"`
	ExportDir string        `json:"export_dir" yaml:"export_dir"`
	Host      string        `json:"host" yaml:"host"`
	Port      int           `json:"port" yaml:"port"`
	Cluster   ClusterConfig `json:"cluster" yaml:"cluster"`
	Input     InputConfig   `json:"input" yaml:"input"`
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".wpcluster")
	return Config{
		DataDir:   dataDir,
		DBPath:    filepath.Join(dataDir, "runs.db"),
		ExportDir: filepath.Join(dataDir, "exports"),
		Host:      "127.0.0.1",
		Port:      8743,
		Cluster: ClusterConfig{
			K:               5,
			MaxIterations:   300,
			MaxRepairRounds: 32,
		},
		Input: InputConfig{
			Path: "/tmp/wp_namespace.txt",
		},
	}
}

func (c *Config) setDataDir(dataDir string) {
	c.DataDir = dataDir
	c.DBPath = filepath.Join(dataDir, "runs.db")
	c.ExportDir = filepath.Join(dataDir, "exports")
}

func LoadConfig() Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if dataDir := os.Getenv("WPC_DATA_DIR"); dataDir != "" {
		c.setDataDir(dataDir)
	}
	if input := os.Getenv("WPC_INPUT"); input != "" {
		c.Input.Path = input
	}
	if k := os.Getenv("WPC_K"); k != "" {
		if n, err := strconv.Atoi(k); err == nil {
			c.Cluster.K = n
		}
	}
	if port := os.Getenv("WPC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if seed := os.Getenv("WPC_SEED"); seed != "" {
		if s, err := strconv.ParseInt(seed, 10, 64); err == nil {
			c.Cluster.Seed = s
		}
	}
}

// LoadFile overlays a YAML config file on the defaults, then applies the
// environment. A data_dir in the file also moves the derived paths unless
// the file sets them explicitly.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	var paths struct {
		DataDir   string `yaml:"data_dir"`
		DBPath    string `yaml:"db_path"`
		ExportDir string `yaml:"export_dir"`
	}
	if err := yaml.Unmarshal(data, &paths); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if paths.DataDir != "" {
		cfg.setDataDir(paths.DataDir)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Cluster.K < 1 {
		errs = append(errs, fmt.Errorf("cluster.k must be >= 1, got %d", c.Cluster.K))
	}
	if c.Cluster.MaxRepairRounds < 0 {
		errs = append(errs, fmt.Errorf("cluster.max_repair_rounds must be >= 0, got %d", c.Cluster.MaxRepairRounds))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	return errors.Join(errs...)
}

func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.DataDir, c.ExportDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
