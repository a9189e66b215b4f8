package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/procurations/matching-engine/pkg/core/services"
)

// ScheduleCmd creates the schedule command
func ScheduleCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run matching at every occurrence of matching.schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			preview, _ := cmd.Flags().GetInt("preview")
			send, _ := cmd.Flags().GetBool("send")
			publish, _ := cmd.Flags().GetBool("publish")

			if preview > 0 {
				occurrences, err := services.NextOccurrences(app.Cfg.Matching.Schedule, time.Now(), preview)
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Out(), "\nNext %d runs:\n", len(occurrences))
				for i, at := range occurrences {
					fmt.Fprintf(app.Out(), "  %2d. %s\n", i+1, at.Format("Mon Jan 02 2006 15:04"))
				}
				fmt.Fprintln(app.Out())
				return nil
			}

			run := func(_ context.Context, at time.Time) error {
				report, err := runMatch(app, services.MatchOptions{Now: func() time.Time { return at }}, publish)
				if err != nil {
					return err
				}
				app.Logger.Info("Scheduled run completed",
					zap.Int("requests_matched", report.RequestsMatched),
					zap.Int("candidates_invited", report.CandidatesInvited))

				if !send {
					return nil
				}
				result, err := sendNotifications(app, 0)
				if err != nil {
					return err
				}
				app.Logger.Info("Notifications delivered",
					zap.Int("sent", len(result.Sent)),
					zap.Int("failed", len(result.Failed)))
				return nil
			}

			return services.RunSchedule(app.Ctx, app.Cfg.Matching.Schedule, run, app.Logger, services.ScheduleOptions{})
		},
	}

	cmd.Flags().Int("preview", 0, "Print the next N scheduled runs and exit")
	cmd.Flags().Bool("send", true, "Deliver pending notifications after each run")
	cmd.Flags().Bool("publish", false, "Publish each run report to the report spreadsheet")

	return cmd
}
