package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/timetracker/internal/report"
)

var (
	flagFrom    string
	flagTo      string
	flagGroupBy string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate recorded time for a user",
	Long: `report sums a user's finished entries over a date window, grouped per
client/project or per calendar day. Dates are given as YYYY-MM-DD; the
default window is the last 7 days.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		from, to, err := reportWindow(time.Now())
		if err != nil {
			return err
		}
		groupBy := report.GroupBy(flagGroupBy)
		if groupBy != report.GroupByProject && groupBy != report.GroupByDay {
			return fmt.Errorf("unknown --group %q (want %q or %q)",
				flagGroupBy, report.GroupByProject, report.GroupByDay)
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := report.NewService(a.repo).ForUser(ctx, flagUser, from, to, groupBy)
		if err != nil {
			return err
		}

		fmt.Printf("%s  %s - %s\n", rep.Username,
			rep.From.Format("2006-01-02"), rep.To.Format("2006-01-02"))
		if len(rep.Lines) == 0 {
			fmt.Println("no entries")
			return nil
		}
		for _, line := range rep.Lines {
			label := line.Key
			if groupBy == report.GroupByProject {
				label = fmt.Sprintf("%s / %s", line.ClientName, line.ProjectName)
			}
			fmt.Printf("  %-40s %3d entries  %10s  (%s billable)\n",
				label, line.Entries,
				report.FormatDuration(line.TotalSeconds), report.FormatDuration(line.BillableSeconds))
		}
		fmt.Printf("total: %s\n", report.FormatDuration(rep.TotalSeconds))
		return nil
	},
}

func init() {
	reportCmd.Flags().StringVar(&flagFrom, "from", "", "window start date (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&flagTo, "to", "", "window end date, exclusive (YYYY-MM-DD)")
	reportCmd.Flags().StringVar(&flagGroupBy, "group", string(report.GroupByProject), "aggregation axis: project or day")
	rootCmd.AddCommand(reportCmd)
}

func reportWindow(now time.Time) (from, to time.Time, err error) {
	to = now
	from = now.AddDate(0, 0, -7)
	if flagFrom != "" {
		from, err = time.ParseInLocation("2006-01-02", flagFrom, time.Local)
		if err != nil {
			return from, to, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if flagTo != "" {
		to, err = time.ParseInLocation("2006-01-02", flagTo, time.Local)
		if err != nil {
			return from, to, fmt.Errorf("invalid --to: %w", err)
		}
		to = to.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return from, to, fmt.Errorf("window is empty: %s is not before %s",
			from.Format("2006-01-02"), to.Format("2006-01-02"))
	}
	return from, to, nil
}
