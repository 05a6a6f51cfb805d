package daemon

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// getConfigDir returns the config directory path.
// Uses SHORTFUSE_CONFIG_DIR env var if set, otherwise defaults to
// ~/.shortfuse. Computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("SHORTFUSE_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".shortfuse")
}

// ConfigDir returns the configuration directory path.
func ConfigDir() string {
	return getConfigDir()
}

// PidPath returns the PID file path.
func PidPath() string {
	return filepath.Join(getConfigDir(), "serve.pid")
}

// LockPath returns the lock file path.
func LockPath() string {
	return filepath.Join(getConfigDir(), "serve.lock")
}

// LogPath returns the log file path.
// Uses SHORTFUSE_SERVE_LOG env var if set.
func LogPath() string {
	if envPath := os.Getenv("SHORTFUSE_SERVE_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), "serve.log")
}

// SettingsPath returns the serve settings file path.
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist.
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// ServeConfig is the settings file for the serve command.
type ServeConfig struct {
	Listen    string   `yaml:"listen"`    // default: "127.0.0.1:20490"
	Share     string   `yaml:"share"`     // export name, default: "shortfuse"
	Backend   string   `yaml:"backend"`   // "memory" (default) or "database"
	DataFile  string   `yaml:"datafile"`  // content db path for the database backend
	RootMode  int64    `yaml:"root_mode"` // default: 0755
	SeedDir   string   `yaml:"seed_dir"`  // optional directory copied into the tree at startup
	Gitignore *bool    `yaml:"gitignore"` // apply gitignore rules while seeding (default: true)
	Includes  []string `yaml:"includes"`  // force-include paths, overriding gitignore
	Excludes  []string `yaml:"excludes"`  // force-exclude paths
	LogLevel  string   `yaml:"log_level"` // trace, debug, info, warn, off (default: off)
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *ServeConfig) ApplyDefaults() {
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:20490"
	}
	if cfg.Share == "" {
		cfg.Share = "shortfuse"
	}
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.DataFile == "" {
		cfg.DataFile = filepath.Join(getConfigDir(), "content.db")
	}
	if cfg.RootMode == 0 {
		cfg.RootMode = 0755
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "off"
	}
}

// GitignoreEnabled returns whether gitignore filtering applies while
// seeding (defaults to true).
func (cfg *ServeConfig) GitignoreEnabled() bool {
	if cfg.Gitignore == nil {
		return true
	}
	return *cfg.Gitignore
}

// LoadServeConfig loads the settings file, falling back to defaults when it
// does not exist.
func LoadServeConfig(path string) (*ServeConfig, error) {
	cfg := &ServeConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg.ApplyDefaults()
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}
