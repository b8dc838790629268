// Command todo is the issue orchestration CLI: a local graph issue
// store synced bidirectionally with GitHub, plus the agent assignment
// and workflow runtime around it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dot-do/todo/internal/config"
	"github.com/dot-do/todo/internal/log"
	"github.com/dot-do/todo/internal/storage"
	"github.com/dot-do/todo/internal/storage/sqlite"
	"github.com/dot-do/todo/internal/telemetry"
)

var version = "dev"

var (
	cfgFile    string
	dbPath     string
	actorFlag  string
	jsonOutput bool

	store   storage.Storage
	dbStore *sqlite.Store // concrete store, also the workflow.Store
	logger  *slog.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "todo",
	Short:         "Graph-aware issue tracking with GitHub sync and agent workflows",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(cfgFile); err != nil {
			return err
		}
		if cmd.Flags().Changed("db") {
			config.Set(config.KeyDB, dbPath)
		}

		logger = log.New(config.LogConfig())
		slog.SetDefault(logger)

		if err := telemetry.Init(cmd.Context(), "todo", version); err != nil {
			return err
		}

		s, err := sqlite.New(cmd.Context(), config.GetString(config.KeyDB))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		dbStore = s
		store = telemetry.WrapStorage(s)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			_ = store.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	},
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, ~/.todo/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: todo.db)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "actor recorded in the audit trail")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
}

// getActor resolves the audit actor: --actor flag, TODO_ACTOR, $USER,
// then "unknown".
func getActor() string {
	if actorFlag != "" {
		return actorFlag
	}
	if env := os.Getenv("TODO_ACTOR"); env != "" {
		return env
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}

func outputJSON(v interface{}) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
