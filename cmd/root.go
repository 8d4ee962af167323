package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/truckpilot/internal/config"
	"github.com/andresmejia3/truckpilot/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// needsDB is the command annotation telling the root hook how to treat the database.
const needsDB = "database"

const (
	dbRequired = "required"
	// dbOptional connects only when the command's --persist flag is set.
	dbOptional = "optional"
)

var (
	// DB is the global database connection shared by subcommands. Nil when not needed.
	DB *store.Store
	// Cfg is the loaded calibration and runtime configuration
	Cfg *config.Config
	// Log is the shared structured logger
	Log = logrus.New()

	dbURL      string
	configPath string
	logLevel   string
	logFormat  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "truckpilot",
	Short:   "Camera-driven autopilot for a model truck",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Configuration
		var err error
		Cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// 2. Logger
		if err := setupLogger(Log, logLevel, logFormat); err != nil {
			return err
		}

		// 3. Database, only for commands that ask for it
		switch cmd.Annotations[needsDB] {
		case dbRequired:
		case dbOptional:
			if persist, _ := cmd.Flags().GetBool("persist"); !persist {
				return nil
			}
		default:
			return nil
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), Cfg.DatabaseURL(dbURL))
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func setupLogger(log *logrus.Logger, level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	switch format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid --log-format %q (want text or json)", format)
	}
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: postgres://localhost:5432/truckpilot)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML calibration file laid over the built-in defaults")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format (text or json)")
}
