package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/truckpilot/internal/store"
	"github.com/andresmejia3/truckpilot/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <session_id> <name>",
	Short:       "Assign a name to a recorded session",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{needsDB: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runLabel(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id, name string) {
	// 1. Database is initialized in Root PersistentPreRun

	// 2. Rename the existing session
	if err := DB.RenameSession(ctx, id, name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.Die("Unknown session", fmt.Errorf("no session with id %s", id), nil)
		}
		utils.Die("Failed to label session", err, nil)
	}

	fmt.Printf("✅ Session %s labeled as '%s'\n", id, name)
}
