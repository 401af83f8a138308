// internal/config/config.go
//
// Project settings for stepfile. Every project keeps its state (sentinels,
// param files, the run journal, logs) under a state directory, .stepfile/ by
// default, and may override defaults in .stepfile/config.yaml.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// StateDir is the default directory we keep in each project
	StateDir = ".stepfile"

	// ConfigFile is the project config file name inside StateDir
	ConfigFile = "config.yaml"
)

// Environment overrides applied after the config file.
const (
	EnvLogLevel  = "STEPFILE_LOG_LEVEL"
	EnvLogFormat = "STEPFILE_LOG_FORMAT"
)

const defaultProjectConfigYAML = `# stepfile project configuration
version: 1

# Directory for sentinels, persisted step configuration, and the run journal.
state_dir: .stepfile

log:
  level: info    # debug | info | warn | error
  format: text   # text | json
  # file: stepfile.log   # relative paths live under state_dir

sentinel:
  poll_interval: 1s
  heartbeat_interval: 10s
  # Waiters give up on sentinels whose heartbeat is older than this. 0s waits forever.
  stale_after: 0s
`

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// SentinelConfig tunes the sentinel protocol.
type SentinelConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
}

// ProjectConfig models .stepfile/config.yaml.
type ProjectConfig struct {
	Version  int            `yaml:"version"`
	StateDir string         `yaml:"state_dir"`
	Log      LogConfig      `yaml:"log"`
	Sentinel SentinelConfig `yaml:"sentinel"`
}

// Config holds the runtime configuration.
type Config struct {
	// ProjectDir is the directory stepfile runs from
	ProjectDir string

	// Path is the config file that was (or would be) loaded
	Path string

	Project ProjectConfig
}

// Load reads the project config at path, falling back to defaults when the
// file does not exist. An empty path means <projectDir>/.stepfile/config.yaml.
func Load(projectDir, path string) (*Config, error) {
	if path == "" {
		path = filepath.Join(projectDir, StateDir, ConfigFile)
	}
	cfg := &Config{
		ProjectDir: projectDir,
		Path:       path,
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Init writes the default config file if none exists yet.
func Init(projectDir string) (string, error) {
	path := filepath.Join(projectDir, StateDir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("config: ensure state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644); err != nil {
		return "", fmt.Errorf("config: write %s: %w", path, err)
	}
	return path, nil
}

// Validate re-checks the settings, e.g. after command line overrides.
func (c *Config) Validate() error {
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// StateDirPath returns the absolute state directory.
func (c *Config) StateDirPath() string {
	return resolvePath(c.ProjectDir, c.Project.StateDir)
}

// LogFilePath returns the log file path, or "" when file logging is off.
func (c *Config) LogFilePath() string {
	if strings.TrimSpace(c.Project.Log.File) == "" {
		return ""
	}
	return resolvePath(c.StateDirPath(), c.Project.Log.File)
}

func (c *Config) loadProjectConfig() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", c.Path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", c.Path, err)
	}
	parsed.applyDefaults()
	parsed.normalize()
	c.Project = parsed
	return nil
}

func (c *Config) applyEnv() {
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.Project.Log.Level = strings.ToLower(level)
	}
	if format := strings.TrimSpace(os.Getenv(EnvLogFormat)); format != "" {
		c.Project.Log.Format = strings.ToLower(format)
	}
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:  1,
		StateDir: StateDir,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Sentinel: SentinelConfig{
			PollInterval:      time.Second,
			HeartbeatInterval: 10 * time.Second,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.StateDir) == "" {
		pc.StateDir = StateDir
	}
	if pc.Log.Level == "" {
		pc.Log.Level = "info"
	}
	if pc.Log.Format == "" {
		pc.Log.Format = "text"
	}
	if pc.Sentinel.PollInterval == 0 {
		pc.Sentinel.PollInterval = time.Second
	}
}

func (pc *ProjectConfig) normalize() {
	pc.StateDir = strings.TrimSpace(pc.StateDir)
	pc.Log.Level = strings.ToLower(strings.TrimSpace(pc.Log.Level))
	pc.Log.Format = strings.ToLower(strings.TrimSpace(pc.Log.Format))
	pc.Log.File = strings.TrimSpace(pc.Log.File)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch pc.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error (got %q)", pc.Log.Level)
	}
	switch pc.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json' (got %q)", pc.Log.Format)
	}
	if pc.Sentinel.PollInterval <= 0 {
		return fmt.Errorf("sentinel.poll_interval must be > 0")
	}
	if pc.Sentinel.HeartbeatInterval < 0 {
		return fmt.Errorf("sentinel.heartbeat_interval must be >= 0")
	}
	if pc.Sentinel.StaleAfter < 0 {
		return fmt.Errorf("sentinel.stale_after must be >= 0")
	}
	if pc.Sentinel.StaleAfter > 0 && pc.Sentinel.HeartbeatInterval == 0 {
		return fmt.Errorf("sentinel.stale_after requires sentinel.heartbeat_interval > 0")
	}
	if pc.Sentinel.StaleAfter > 0 && pc.Sentinel.StaleAfter <= pc.Sentinel.HeartbeatInterval {
		return fmt.Errorf("sentinel.stale_after must exceed sentinel.heartbeat_interval")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
