package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/timetracker/internal/entity"
	"github.com/example/timetracker/internal/timer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timer state and pending sync work for a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		tmr := timer.New(a.repo, timer.SystemClocks(), a.logger)
		st, err := tmr.UserStatus(ctx, flagUser)
		if err != nil {
			return err
		}

		if !st.Active {
			fmt.Printf("%s: no active timer\n", flagUser)
		} else {
			fmt.Printf("%s: %s, entry %d, elapsed %s (started %s)\n",
				flagUser, st.State, st.Entry.ID,
				formatSeconds(st.ElapsedSeconds),
				st.Entry.StartTime.Local().Format(time.RFC3339))
		}

		pendingEntries, err := a.queue.PendingCount(ctx, entity.KindTimeEntry)
		if err != nil {
			return err
		}
		pendingCaptures, err := a.queue.PendingCount(ctx, entity.KindCapture)
		if err != nil {
			return err
		}
		fmt.Printf("pending sync: %d time entries, %d captures\n", pendingEntries, pendingCaptures)

		if flagStatusRemote {
			if err := a.backend.Initialize(ctx); err != nil {
				return err
			}
			if probe, ok := a.backend.(interface{ Health(ctx context.Context) error }); ok {
				if err := probe.Health(ctx); err != nil {
					fmt.Printf("remote health: %v\n", err)
				} else {
					fmt.Println("remote health: ok")
				}
			}
			stats, err := a.backend.StorageStats(ctx)
			if err != nil {
				return err
			}
			if stats.FileCount == 0 && stats.UsedBytes == 0 {
				fmt.Println("remote storage: no usage reported")
			} else {
				fmt.Printf("remote storage: %d files, %d of %d bytes used\n",
					stats.FileCount, stats.UsedBytes, stats.TotalBytes)
			}
		}
		return nil
	},
}

var flagStatusRemote bool

func init() {
	statusCmd.Flags().BoolVar(&flagStatusRemote, "remote", false, "also query remote storage usage")
	rootCmd.AddCommand(statusCmd)
}

func formatSeconds(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
