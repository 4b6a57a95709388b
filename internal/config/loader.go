package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ihavespoons/warden/internal/registry"
)

const (
	globalConfigDir  = ".warden"
	projectConfigDir = ".warden"
	configFileName   = "config.yaml"
)

// Loader handles loading and merging configuration files
type Loader struct {
	globalPath  string
	projectPath string
}

// NewLoader creates a new configuration loader
func NewLoader(projectDir string) (*Loader, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	if projectDir == "" {
		projectDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &Loader{
		globalPath:  filepath.Join(homeDir, globalConfigDir, configFileName),
		projectPath: filepath.Join(projectDir, projectConfigDir, configFileName),
	}, nil
}

// Load loads and merges configuration: defaults, then global, then project.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	globalCfg, err := l.loadFile(l.globalPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load global config: %w", err)
	}
	if globalCfg != nil {
		cfg = mergeConfigs(cfg, globalCfg)
	}

	projectCfg, err := l.loadFile(l.projectPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load project config: %w", err)
	}
	if projectCfg != nil {
		cfg = mergeConfigs(cfg, projectCfg)
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	return l.loadFile(path)
}

// GlobalPath returns the global config file location
func (l *Loader) GlobalPath() string {
	return l.globalPath
}

func (l *Loader) loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// mergeConfigs merges two configurations, with override taking precedence
func mergeConfigs(base, override *Config) *Config {
	result := &Config{
		Version: coalesce(override.Version, base.Version),
		Settings: Settings{
			LogLevel:       coalesce(override.Settings.LogLevel, base.Settings.LogLevel),
			LogFile:        coalesce(override.Settings.LogFile, base.Settings.LogFile),
			HookDir:        coalesce(override.Settings.HookDir, base.Settings.HookDir),
			SessionDir:     coalesce(override.Settings.SessionDir, base.Settings.SessionDir),
			StateDir:       coalesce(override.Settings.StateDir, base.Settings.StateDir),
			TimeoutSeconds: coalesceInt(override.Settings.TimeoutSeconds, base.Settings.TimeoutSeconds),
			Trace: TraceSettings{
				Enabled:     base.Settings.Trace.Enabled || override.Settings.Trace.Enabled,
				StoragePath: coalesce(override.Settings.Trace.StoragePath, base.Settings.Trace.StoragePath),
			},
		},
		Gates: Gates{
			AuditThreshold: coalesceInt(override.Gates.AuditThreshold, base.Gates.AuditThreshold),
			Modes:          mergeModes(base.Gates.Modes, override.Gates.Modes),
		},
	}

	// Registry entries replace wholesale per key; a project that registers
	// hooks for an event owns that event's chain.
	if len(base.Registry) > 0 || len(override.Registry) > 0 {
		result.Registry = map[string][]registry.Descriptor{}
		for k, v := range base.Registry {
			result.Registry[k] = v
		}
		for k, v := range override.Registry {
			result.Registry[k] = v
		}
	}

	return result
}

func mergeModes(base, override map[string]string) map[string]string {
	if base == nil && override == nil {
		return nil
	}
	out := map[string]string{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

func coalesce(override, base string) string {
	if override != "" {
		return override
	}
	return base
}

func coalesceInt(override, base int) int {
	if override != 0 {
		return override
	}
	return base
}
