package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/procurations/matching-engine/pkg/core/services"
)

// SendNotificationsCmd creates the sendNotifications command
func SendNotificationsCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sendNotifications",
		Short: "Deliver pending notifications by email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			result, err := sendNotifications(app, limit)
			if err != nil {
				return err
			}

			printSendResult(app.Out(), result)
			return nil
		},
	}

	cmd.Flags().Int("limit", 0, "Maximum number of notifications to send (defaults to notifications.batchSize)")

	return cmd
}

func sendNotifications(app *AppContext, limit int) (*services.SendNotificationsResult, error) {
	gmailClient, err := app.GmailClient()
	if err != nil {
		return nil, err
	}

	return services.SendNotifications(
		app.Ctx,
		app.Database,
		gmailClient,
		app.Cfg,
		app.Logger,
		services.SendNotificationsOptions{Limit: limit},
	)
}

func printSendResult(w io.Writer, result *services.SendNotificationsResult) {
	if len(result.Sent) == 0 && len(result.Failed) == 0 {
		fmt.Fprintln(w, "No pending notifications.")
		return
	}

	fmt.Fprintf(w, "\n✓ Sent %d notifications\n", len(result.Sent))

	if len(result.Failed) > 0 {
		fmt.Fprintf(w, "⚠️  Failed to send %d notifications:\n", len(result.Failed))
		for _, fe := range result.Failed {
			fmt.Fprintf(w, "  ✗ %s (%s): %s\n", fe.NotificationID, fe.Recipient, fe.Error)
		}
	}
	fmt.Fprintln(w)
}
