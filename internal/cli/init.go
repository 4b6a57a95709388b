package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ihavespoons/warden/internal/config"
	"github.com/ihavespoons/warden/internal/hooks"
	"github.com/ihavespoons/warden/internal/registry"
)

var initGlobal bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize warden configuration",
	Long: `Initialize a warden configuration file.

By default, creates a .warden/config.yaml in the current directory.
Use --global to create ~/.warden/config.yaml instead.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initGlobal, "global", "g", false, "Create global config in ~/.warden/")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	var configPath string

	if initGlobal {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(homeDir, ".warden", "config.yaml")
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		configPath = filepath.Join(cwd, ".warden", "config.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	cfg := starterConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created config file: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Put your hook scripts under the configured hook_dir")
	fmt.Println("2. Point your host's hook settings at 'warden route'")
	fmt.Println("3. Run 'warden validate' to check the setup")

	return nil
}

func starterConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Settings.Trace.Enabled = true
	cfg.Registry = map[string][]registry.Descriptor{
		string(hooks.PreToolUse): {
			{Script: "policy_enforcer.py"},
			{Script: "unified_logger.py", Async: true},
		},
		string(hooks.PostToolUse): {
			{Script: "unified_logger.py", Async: true},
		},
		string(hooks.Stop): {
			{Script: "unified_logger.py"},
		},
	}
	return cfg
}
