package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prudhvinik1/locsync/internal/app"
	"github.com/prudhvinik1/locsync/internal/config"
	"github.com/prudhvinik1/locsync/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configFile string
	userID     string
	olderThan  time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "synctl",
	Short:         "Run sync passes between Postgres and the document store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push pending locations and the user's pending user-locations",
	Long: `Write every location that is not synced to the document store, then the
given user's pending user-locations.

Locations stop at the first failure and roll the pass back. User-location
failures are counted and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) (any, error) {
			return a.Sync.Push(ctx, userID)
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Upsert remote locations and the user's references into Postgres",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) (any, error) {
			return a.Sync.Pull(ctx, userID)
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Sync pending locations, resolving conflicts by last modification",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) (any, error) {
			return a.Sync.SyncWithConflictResolution(ctx)
		})
	},
}

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Resolve, push and pull, retrying transient failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) (any, error) {
			return a.Sync.SyncWithRetry(ctx, userID)
		})
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Reset rows stuck in syncing back to not synced",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) (any, error) {
			timeout := olderThan
			if timeout <= 0 {
				timeout = a.Config.SyncStuckTimeout
			}
			n, err := a.Sync.RecoverStuck(ctx, timeout)
			return map[string]int64{"reset": n}, err
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $CONFIG_FILE)")

	for _, cmd := range []*cobra.Command{pushCmd, pullCmd, fullCmd} {
		cmd.Flags().StringVar(&userID, "user", "", "user whose user-locations are synced")
		cmd.MarkFlagRequired("user")
	}
	recoverCmd.Flags().DurationVar(&olderThan, "older-than", 0, "reset rows syncing for longer than this (default $SYNC_STUCK_TIMEOUT)")

	rootCmd.AddCommand(pushCmd, pullCmd, resolveCmd, fullCmd, recoverCmd)
}

// withApp builds the services, runs fn and prints its result as JSON.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) (any, error)) error {
	cfg, err := config.LoadSyncConfig(configFile)
	if err != nil {
		return err
	}
	logger, err := logging.NewWithOutput(cfg, os.Stderr)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := fn(ctx, a)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func main() {
	godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
