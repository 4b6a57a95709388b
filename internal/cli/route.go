package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/warden/internal/config"
	"github.com/ihavespoons/warden/internal/engine"
	"github.com/ihavespoons/warden/internal/logger"
)

var routeCmd = &cobra.Command{
	Use:   "route [host-event]",
	Short: "Route a hook event from the calling host",
	Long: `Route a hook event from the calling host.

Reads the raw event payload as JSON from stdin, dispatches every hook
registered for the event, merges the outputs, applies gate policy, and
prints the decision to stdout in the calling host's schema.

With no argument the payload's hook_event_name field selects the event
(Claude Code convention). With a host-event argument, the argument names
the event in the Gemini CLI vocabulary and the output uses its schema.

Examples:
  echo '{"hook_event_name":"PreToolUse","tool_name":"Bash",...}' | warden route
  echo '{"tool_name":"write_file",...}' | warden route BeforeTool

Exit codes: 0 success, 1 warning, 2 block.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRoute,
}

func init() {
	rootCmd.AddCommand(routeCmd)
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefault()
	initLogging(cfg)

	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	hostEvent := ""
	if len(args) > 0 {
		hostEvent = args[0]
	}

	router, err := engine.NewRouter(cfg)
	if err != nil {
		return err
	}

	result, rerr := router.Route(context.Background(), payload, hostEvent)

	// The decision is emitted even on infrastructure failure; the host
	// needs the block shape, not a bare error.
	fmt.Println(string(result.Output))

	if rerr != nil {
		logger.Error().Err(rerr).Msg("Routing failed")
	}

	// Close before exiting so the trace store flushes on warn/deny paths too.
	router.Close()
	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
	return nil
}

// loadConfigOrDefault loads merged configuration, falling back to defaults
// when no config file exists.
func loadConfigOrDefault() *config.Config {
	loader, err := config.NewLoader(projectDir)
	if err != nil {
		return config.DefaultConfig()
	}

	var cfg *config.Config
	if configFile != "" {
		cfg, err = loader.LoadFromFile(configFile)
	} else {
		cfg, err = loader.Load()
	}
	if err != nil || cfg == nil {
		return config.DefaultConfig()
	}
	return cfg
}

func initLogging(cfg *config.Config) {
	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else if cfg.Settings.LogLevel != "" {
		_ = logger.Init(cfg.Settings.LogLevel, cfg.Settings.LogFile)
	} else {
		logger.InitQuiet()
	}
}
