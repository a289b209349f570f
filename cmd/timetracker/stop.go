package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/timetracker/internal/remote"
	"github.com/example/timetracker/internal/report"
	"github.com/example/timetracker/internal/timer"
)

var flagNotes string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the user's active timer",
	Long: `stop finishes the active entry for the user, persisting its accumulated
duration, and pushes pending work to the remote backend. It works from a
separate process: an entry left active by a running or crashed daemon is
recovered from the database first. A recovered duration is approximated from
wall time, so pauses made by the old process count as worked time.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		tmr := timer.New(a.repo, timer.SystemClocks(), a.logger)
		status, err := tmr.UserStatus(ctx, flagUser)
		if err != nil {
			return err
		}
		if !status.Active {
			return fmt.Errorf("no active timer for %s", flagUser)
		}

		if flagNotes != "" {
			if err := tmr.AddNotes(ctx, flagUser, flagNotes); err != nil {
				return err
			}
		}

		entry, err := tmr.Stop(ctx, flagUser)
		if err != nil {
			return err
		}
		var seconds int64
		if entry.DurationSeconds != nil {
			seconds = *entry.DurationSeconds
		}
		fmt.Printf("stopped entry %d for %s after %s\n",
			entry.ID, flagUser, report.FormatDuration(seconds))

		if _, err := a.newEngine().SyncPending(ctx); err != nil {
			if errors.Is(err, remote.ErrUnavailable) {
				fmt.Println("remote backend unavailable; the entry stays queued for the next sync")
				return nil
			}
			return err
		}
		return nil
	},
}

func init() {
	stopCmd.Flags().StringVar(&flagNotes, "notes", "", "notes to record on the entry before stopping")
	rootCmd.AddCommand(stopCmd)
}
