package config

import (
	"os"
	"path/filepath"

	"github.com/ihavespoons/warden/internal/registry"
)

// Environment overrides for state locations
const (
	EnvSessionDir = "WARDEN_SESSION_DIR"
	EnvStateDir   = "WARDEN_STATE_DIR"
)

// Config represents the complete warden configuration
type Config struct {
	Version  string                           `yaml:"version"`
	Settings Settings                         `yaml:"settings"`
	Registry map[string][]registry.Descriptor `yaml:"registry,omitempty"`
	Gates    Gates                            `yaml:"gates,omitempty"`
}

// Settings contains global configuration settings
type Settings struct {
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file,omitempty"`

	// HookDir is where registered hook scripts live
	HookDir string `yaml:"hook_dir,omitempty"`
	// TimeoutSeconds bounds each hook subprocess call
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`

	// SessionDir holds per-session state files; StateDir holds
	// threshold counters and audit bundles
	SessionDir string `yaml:"session_dir,omitempty"`
	StateDir   string `yaml:"state_dir,omitempty"`

	Trace TraceSettings `yaml:"trace,omitempty"`
}

// TraceSettings controls the decision trace store
type TraceSettings struct {
	Enabled     bool   `yaml:"enabled"`
	StoragePath string `yaml:"storage_path,omitempty"`
}

// Gates contains gate engine tuning
type Gates struct {
	// AuditThreshold overrides the count-based re-audit interval
	AuditThreshold int `yaml:"audit_threshold,omitempty"`
	// Modes overrides per-gate enforcement mode (block/warn); the
	// gate-derived environment variable still takes precedence
	Modes map[string]string `yaml:"modes,omitempty"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "1",
		Settings: Settings{
			LogLevel:       "info",
			TimeoutSeconds: 30,
		},
	}
}

// ResolveSessionDir returns the session state directory: config value,
// environment override, or the default under the system temp dir.
func (c *Config) ResolveSessionDir() string {
	if v := os.Getenv(EnvSessionDir); v != "" {
		return v
	}
	if c.Settings.SessionDir != "" {
		return c.Settings.SessionDir
	}
	return filepath.Join(os.TempDir(), "warden-sessions")
}

// ResolveStateDir returns the compliance state directory for threshold
// counters and audit bundles.
func (c *Config) ResolveStateDir() string {
	if v := os.Getenv(EnvStateDir); v != "" {
		return v
	}
	if c.Settings.StateDir != "" {
		return c.Settings.StateDir
	}
	return filepath.Join(os.TempDir(), "warden-compliance")
}

// ResolveHookDir returns the hook script directory, defaulting to
// ~/.warden/hooks.
func (c *Config) ResolveHookDir() string {
	if c.Settings.HookDir != "" {
		return c.Settings.HookDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "hooks"
	}
	return filepath.Join(home, ".warden", "hooks")
}

// BuildRegistry returns the hook registry: config entries when present,
// otherwise the built-in table.
func (c *Config) BuildRegistry() *registry.Registry {
	if len(c.Registry) > 0 {
		return registry.New(c.Registry)
	}
	return registry.Default()
}
