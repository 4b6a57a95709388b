package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/warden/internal/config"
	"github.com/ihavespoons/warden/internal/gate"
	"github.com/ihavespoons/warden/internal/hooks"
	"github.com/ihavespoons/warden/internal/session"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and gate tables",
	Long: `Validate warden configuration files and the gate declaration table.

Checks that configuration parses, that every registered hook script exists
under the hook directory, and that no gate is declared permanently
unreachable (closed initial state without an opening condition).`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return fmt.Errorf("failed to create config loader: %w", err)
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	fmt.Println("Configuration: valid")

	// Gate table integrity
	store, err := session.NewStore(cfg.ResolveSessionDir())
	if err != nil {
		return err
	}
	gates := gate.NewEngine(store, cfg.ResolveStateDir(),
		gate.WithThreshold(cfg.Gates.AuditThreshold),
		gate.WithModeOverrides(cfg.Gates.Modes),
	)
	if err := gates.Validate(); err != nil {
		return fmt.Errorf("gate table invalid: %w", err)
	}
	fmt.Println("Gate table: valid")

	// Registered scripts should exist; missing ones are a warning because
	// dispatch treats them as per-hook failures, not errors.
	reg := cfg.BuildRegistry()
	hookDir := cfg.ResolveHookDir()
	missing := 0
	for _, key := range reg.Events() {
		for _, desc := range reg.HooksFor(eventOf(key), matcherOf(key)) {
			path := filepath.Join(hookDir, desc.Script)
			if _, err := os.Stat(path); err != nil {
				fmt.Printf("  warning: %s: script not found: %s\n", key, path)
				missing++
			}
		}
	}
	if missing == 0 {
		fmt.Println("Hook scripts: all present")
	}

	return nil
}

// Registry keys are "Event" or "Event:Matcher"
func eventOf(key string) hooks.EventType {
	event, _, _ := strings.Cut(key, ":")
	return hooks.EventType(event)
}

func matcherOf(key string) string {
	_, matcher, _ := strings.Cut(key, ":")
	return matcher
}
