package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/procurations/matching-engine/pkg/core/services"
)

// AcceptRequestsCmd creates the acceptRequests command
func AcceptRequestsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "acceptRequests <proxy_id> <request_id>...",
		Short: "Record a proxy accepting pending requests",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.AcceptRequests(
				app.Ctx,
				app.Database,
				app.Outbox,
				app.Cfg,
				app.Logger,
				args[0],
				args[1:],
				time.Now(),
			)
			if err != nil {
				return err
			}

			printReplyResult(app.Out(), "accepted", result)
			return nil
		},
	}
}

// DeclineRequestsCmd creates the declineRequests command
func DeclineRequestsCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "declineRequests <proxy_id> <request_id>...",
		Short: "Record a proxy declining requests it had accepted",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			unavailable, _ := cmd.Flags().GetBool("unavailable")

			result, err := services.DeclineRequests(app.Ctx, app.Database, app.Outbox, app.Logger, args[0], args[1:], unavailable)
			if err != nil {
				return err
			}

			printReplyResult(app.Out(), "declined", result)
			return nil
		},
	}

	cmd.Flags().Bool("unavailable", false, "Also mark the proxy unavailable for future runs")

	return cmd
}

// ConfirmRequestsCmd creates the confirmRequests command
func ConfirmRequestsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "confirmRequests <request_id>...",
		Short: "Mark accepted requests as confirmed once the procuration is registered",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.ConfirmRequests(app.Ctx, app.Database, app.Logger, args)
			if err != nil {
				return err
			}

			printReplyResult(app.Out(), "confirmed", result)
			return nil
		},
	}
}

// CancelRequestsCmd creates the cancelRequests command
func CancelRequestsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancelRequests <request_id>...",
		Short: "Cancel requests on their requester's demand",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.CancelRequests(app.Ctx, app.Database, app.Outbox, app.Logger, args)
			if err != nil {
				return err
			}

			printReplyResult(app.Out(), "cancelled", result)
			return nil
		},
	}
}

// SetProxyAvailabilityCmd creates the setProxyAvailability command
func SetProxyAvailabilityCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "setProxyAvailability <proxy_id> <available|unavailable>",
		Short: "Take a proxy out of matching or bring it back",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			available, err := parseAvailability(args[1])
			if err != nil {
				return err
			}

			result, err := services.SetProxyAvailability(app.Ctx, app.Database, app.Logger, args[0], available)
			if err != nil {
				return err
			}

			fmt.Fprintf(app.Out(), "\n✓ Proxy %s is now %s\n\n", result.ProxyID, result.ProxyState)
			return nil
		},
	}
}

func parseAvailability(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "available", "yes", "true":
		return true, nil
	case "unavailable", "no", "false":
		return false, nil
	default:
		return false, fmt.Errorf("availability must be 'available' or 'unavailable', got %q", arg)
	}
}

func printReplyResult(w io.Writer, verb string, result *services.ReplyResult) {
	fmt.Fprintf(w, "\n✓ %d request(s) %s\n", len(result.RequestIDs), verb)
	for _, id := range result.RequestIDs {
		fmt.Fprintf(w, "  - %s\n", id)
	}
	if result.ProxyID != "" {
		fmt.Fprintf(w, "Proxy %s is %s\n", result.ProxyID, result.ProxyState)
	}
	fmt.Fprintln(w)
}
