package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/truckpilot/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetTables bool
	resetDebug  bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Database, Debug Frames)",
	Long:        "Clears recorded sessions and debug frames. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{needsDB: dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetTables && !resetDebug {
			resetTables = true
			resetDebug = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetTables {
			if confirm(reader, "⚠️  Are you sure you want to DROP all session, decision and episode tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetDebug {
			dir := Cfg.Telemetry.DebugDir
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all debug frames in %s?", dir)) {
				fmt.Println("🗑️  Clearing Debug Frames...")
				removeDir(dir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetTables, "tables", false, "Clear the PostgreSQL session tables")
	resetCmd.Flags().BoolVar(&resetDebug, "debug", false, "Clear debug frames")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	if resetYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
