package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ihavespoons/warden/internal/engine"
)

var gatesSessionID string

var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Show gate states for a session",
	Long: `Show the current state of every permission gate for a session.

Without --session, the most recently active session is inspected.`,
	RunE: runGates,
}

func init() {
	gatesCmd.Flags().StringVarP(&gatesSessionID, "session", "s", "", "Session id to inspect")
	rootCmd.AddCommand(gatesCmd)
}

func runGates(cmd *cobra.Command, args []string) error {
	cfg := loadConfigOrDefault()
	initLogging(cfg)

	router, err := engine.NewRouter(cfg)
	if err != nil {
		return err
	}
	defer router.Close()

	sessionID := gatesSessionID
	if sessionID == "" {
		ids, err := router.Sessions().List()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(ids) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		sessionID = ids[0]
	}

	states := router.Gates().States(sessionID)

	fmt.Printf("Session: %s\n\n", sessionID)
	for _, def := range router.Gates().Defs() {
		rec := states[def.Name]
		line := fmt.Sprintf("  %-10s %-7s mode=%s", def.Name, rec.State, def.Mode(cfg.Gates.Modes))
		if !rec.LastTransition.IsZero() {
			line += fmt.Sprintf("  (changed %s)", humanize.Time(rec.LastTransition))
		}
		fmt.Println(line)
	}
	return nil
}
