package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending time entries and captures to the remote backend",
	Long: `sync runs one synchronization pass: pending time entries are uploaded
first, then pending captures, then retention cleanup if it is due. The
summary is printed as JSON.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if flagPushRetention {
			if setter, ok := a.backend.(interface {
				SetRetention(ctx context.Context, days int) error
			}); ok {
				if err := a.backend.Initialize(ctx); err != nil {
					return err
				}
				if err := setter.SetRetention(ctx, a.cfg.RetentionDaysRemote); err != nil {
					return err
				}
			}
		}

		summary, err := a.newEngine().SyncPending(ctx)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var flagPushRetention bool

func init() {
	syncCmd.Flags().BoolVar(&flagPushRetention, "push-retention", false,
		"push the configured remote retention window to the server before syncing")
	rootCmd.AddCommand(syncCmd)
}
