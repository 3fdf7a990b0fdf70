// Package config loads harness settings from TOML
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Endpoint EndpointConfig `toml:"endpoint"`
	Run      RunConfig      `toml:"run"`
	Claim    ClaimConfig    `toml:"claim"`
	Schedule ScheduleConfig `toml:"schedule"`
	Notify   NotifyConfig   `toml:"notifications"`
	Web      WebConfig      `toml:"web"`
}

// GeneralConfig holds repo and data locations
type GeneralConfig struct {
	// RepoRoot is the checkout of the shared coordination repository
	RepoRoot string `toml:"repo_root"`
	// DataDir holds the logs, relative to RepoRoot unless absolute
	DataDir string `toml:"data_dir"`
	// BenchDir holds the benchmark JSONL files
	BenchDir     string `toml:"bench_dir"`
	SnapshotPath string `toml:"snapshot_path"`
	DatabasePath string `toml:"database_path"`
	// Worker overrides the derived user@host identity
	Worker string `toml:"worker"`
}

// EndpointConfig holds model endpoint settings
type EndpointConfig struct {
	URL            string  `toml:"url"`
	Model          string  `toml:"model"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Retries        int     `toml:"retries"`
}

// RunConfig holds slice execution settings
type RunConfig struct {
	ItemsPerSlice int    `toml:"items_per_slice"`
	MaxPending    int    `toml:"max_pending"`
	Phase         int    `toml:"phase"`
	PriorityPhase string `toml:"priority_phase"`
	PublishEvery  int    `toml:"publish_every"`
}

// ClaimConfig holds claim protocol settings
type ClaimConfig struct {
	LivenessWindowMinutes int `toml:"liveness_window_minutes"`
	Retries               int `toml:"retries"`
}

// ScheduleConfig restricts continuous mode to cron-defined windows
type ScheduleConfig struct {
	// Windows are cron expressions opening a run window, e.g. "0 22 * * *"
	Windows []string `toml:"windows"`
	// WindowMinutes is how long each window stays open
	WindowMinutes int `toml:"window_minutes"`
}

// NotifyConfig holds notification settings
type NotifyConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds status server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		General: GeneralConfig{
			RepoRoot:     ".",
			DataDir:      "data",
			BenchDir:     "benchmarks",
			SnapshotPath: "progress.json",
			DatabasePath: "re3.db",
		},
		Endpoint: EndpointConfig{
			URL:            "http://localhost:1234/v1",
			Model:          "google/gemma-3n-e4b",
			Temperature:    0,
			MaxTokens:      2048,
			TimeoutSeconds: 300,
			Retries:        2,
		},
		Run: RunConfig{
			ItemsPerSlice: 50,
			MaxPending:    4,
			Phase:         1,
			PriorityPhase: "1a",
			PublishEvery:  100,
		},
		Claim: ClaimConfig{
			LivenessWindowMinutes: 30,
			Retries:               5,
		},
		Schedule: ScheduleConfig{
			WindowMinutes: 480,
		},
		Notify: NotifyConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.RepoRoot = ExpandPath(cfg.General.RepoRoot)
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.SnapshotPath = ExpandPath(cfg.General.SnapshotPath)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	return cfg, nil
}

// DataDir resolves the data directory against the repo root
func (c *Config) DataDir() string {
	return c.resolve(c.General.DataDir)
}

// BenchDir resolves the benchmark data directory
func (c *Config) BenchDir() string {
	return c.resolve(c.General.BenchDir)
}

// SnapshotPath resolves the progress snapshot location
func (c *Config) SnapshotPath() string {
	return c.resolve(c.General.SnapshotPath)
}

// DatabasePath resolves the SQLite cache location
func (c *Config) DatabasePath() string {
	return c.resolve(c.General.DatabasePath)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.General.RepoRoot, path)
}

// LivenessWindow returns the claim liveness window as a duration
func (c *Config) LivenessWindow() time.Duration {
	return time.Duration(c.Claim.LivenessWindowMinutes) * time.Minute
}

// EndpointTimeout returns the model call timeout as a duration
func (c *Config) EndpointTimeout() time.Duration {
	return time.Duration(c.Endpoint.TimeoutSeconds) * time.Second
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "re3", "config.toml")
}
