package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/truckpilot/internal/utils"
	"github.com/spf13/cobra"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:         "sessions [session_id]",
	Short:       "List recorded drive and replay sessions, or the bail episodes of one session",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{needsDB: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 1 {
			runEpisodes(cmd, args[0])
			return
		}
		runSessions(cmd)
	},
}

func init() {
	sessionsCmd.Flags().IntVarP(&sessionsLimit, "limit", "l", 20, "Maximum number of sessions to show")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command) {
	sessions, err := DB.ListSessions(cmd.Context(), sessionsLimit)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODE\tSTARTED\tFRAMES\tBAILS\tMEAN SPEED\tEND")
	fmt.Fprintln(w, "--\t----\t----\t-------\t------\t-----\t----------\t---")

	for _, s := range sessions {
		end := s.EndReason
		if s.Ended == nil {
			end = "(running)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.1f\t%s\n",
			s.ID, s.Name, s.Mode, s.Started.Local().Format("2006-01-02 15:04"), s.Frames, s.Bails, s.MeanSpeed, end)
	}
	w.Flush()
}

func runEpisodes(cmd *cobra.Command, sessionID string) {
	episodes, err := DB.ListEpisodes(cmd.Context(), sessionID)
	if err != nil {
		utils.Die("Failed to list bail episodes", err, nil)
	}

	if len(episodes) == 0 {
		fmt.Printf("No bail episodes for session %s.\n", sessionID)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "EPISODE\tSTART\tEND\tSIDE\tREASON\tENDED BY")
	fmt.Fprintln(w, "-------\t-----\t---\t----\t------\t--------")

	for _, e := range episodes {
		end := "-"
		if e.EndFrame != nil {
			end = fmt.Sprint(*e.EndFrame)
		}
		side := "left"
		if e.BailRight {
			side = "right"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n", e.ID, e.StartFrame, end, side, e.Reason, e.EndReason)
	}
	w.Flush()
}
