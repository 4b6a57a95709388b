package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ihavespoons/warden/internal/engine"
)

var sessionsShowID string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List traced sessions and their decisions",
	Long: `List sessions recorded in the decision trace store.

With --session, shows the most recent routed decisions for that session.
Requires trace.enabled in the configuration.`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().StringVarP(&sessionsShowID, "session", "s", "", "Show decisions for a session id")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefault()
	// Inspection should work even when routing has tracing off.
	cfg.Settings.Trace.Enabled = true
	initLogging(cfg)

	router, err := engine.NewRouter(cfg)
	if err != nil {
		return err
	}
	defer router.Close()

	store := router.Trace()
	if store == nil {
		return fmt.Errorf("trace store unavailable")
	}

	if sessionsShowID != "" {
		decisions, err := store.RecentDecisions(sessionsShowID, 50)
		if err != nil {
			return fmt.Errorf("failed to load decisions: %w", err)
		}
		if len(decisions) == 0 {
			fmt.Println("No decisions recorded for this session.")
			return nil
		}
		fmt.Printf("Session: %s\n\n", sessionsShowID)
		for _, d := range decisions {
			tool := d.Tool
			if tool == "" {
				tool = "-"
			}
			fmt.Printf("  %-18s %-24s %-6s exit=%d  %s\n",
				d.Event, tool, d.Verdict, d.ExitCode, humanize.Time(d.Timestamp))
		}
		return nil
	}

	sessions, err := store.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions traced yet.")
		return nil
	}

	for _, s := range sessions {
		fmt.Printf("  %-40s %4d events  last seen %s\n",
			s.SessionID, s.EventCount, humanize.Time(s.LastSeenAt))
	}
	return nil
}
