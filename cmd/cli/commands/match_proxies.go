package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/procurations/matching-engine/pkg/core/services"
)

// MatchProxiesCmd creates the matchProxies command
func MatchProxiesCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "matchProxies",
		Short: "Match pending requests with available proxies and invite candidates for the rest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			oneRound, _ := cmd.Flags().GetBool("one-round")
			publish, _ := cmd.Flags().GetBool("publish")

			report, err := runMatch(app, services.MatchOptions{DryRun: dryRun, OneRound: oneRound}, publish)
			if err != nil {
				return err
			}

			printReport(app.Out(), report)
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "Compute and print the matches without saving or notifying")
	cmd.Flags().Bool("one-round", false, "Give each proxy at most one request group")
	cmd.Flags().Bool("publish", false, "Publish the run report to the report spreadsheet")

	return cmd
}

// runMatch runs one matching pass and optionally publishes its report
func runMatch(app *AppContext, opts services.MatchOptions, publish bool) (*services.MatchReport, error) {
	runAt := time.Now()
	if opts.Now == nil {
		opts.Now = func() time.Time { return runAt }
	}

	report, err := services.MatchProxies(app.Ctx, app.Database, app.Outbox, app.Cfg, app.Logger, opts)
	if errors.Is(err, services.ErrRunInProgress) {
		return nil, fmt.Errorf("another matching run is in progress - try again later")
	}
	if err != nil {
		return nil, err
	}

	if !publish {
		return report, nil
	}

	sheetsClient, err := app.SheetsClient()
	if err != nil {
		return nil, err
	}

	tab, err := services.PublishMatchReport(app.Ctx, sheetsClient, app.Cfg.ReportSheetID, report, runAt, app.Logger)
	if err != nil {
		return nil, err
	}
	app.Logger.Info("Match report published", zap.String("tab", tab))

	return report, nil
}

// printReport writes a human-readable summary of a run
func printReport(w io.Writer, report *services.MatchReport) {
	if report.DryRun {
		fmt.Fprintf(w, "\n✓ Dry run completed (%s) - nothing was saved\n\n", report.Mode)
	} else {
		fmt.Fprintf(w, "\n✓ Matching run completed (%s)\n\n", report.Mode)
	}

	fmt.Fprintf(w, "Requests considered: %d\n", report.RequestsConsidered)
	fmt.Fprintf(w, "Proxies considered:  %d\n", report.ProxiesConsidered)
	fmt.Fprintf(w, "Requests matched:    %d\n", report.RequestsMatched)
	fmt.Fprintf(w, "Proxies used:        %d\n", report.ProxiesUsed)
	fmt.Fprintf(w, "Candidates invited:  %d\n", report.CandidatesInvited)

	if report.Conflicts > 0 {
		fmt.Fprintf(w, "⚠️  Conflicts:        %d\n", report.Conflicts)
	}
	if report.InvalidRecords > 0 {
		fmt.Fprintf(w, "⚠️  Invalid records:  %d\n", report.InvalidRecords)
	}
	if report.Duplicates > 0 {
		fmt.Fprintf(w, "⚠️  Duplicates:       %d\n", report.Duplicates)
	}
	fmt.Fprintln(w)

	if len(report.Requests) == 0 {
		fmt.Fprintln(w, "No pending requests.")
		return
	}

	for _, line := range report.Requests {
		fmt.Fprintf(w, "  %s %-12s %s (%s)%s\n",
			outcomeSymbol(line.Outcome),
			line.RequestID,
			line.Email,
			line.VotingDate,
			outcomeDetail(line),
		)
	}
	fmt.Fprintln(w)
}

func outcomeSymbol(outcome services.RequestOutcome) string {
	switch outcome {
	case services.OutcomeMatched:
		return "✓"
	case services.OutcomeRecruiting:
		return "…"
	case services.OutcomeConflict, services.OutcomeInvalid:
		return "✗"
	default:
		return "-"
	}
}

func outcomeDetail(line services.RequestReport) string {
	switch line.Outcome {
	case services.OutcomeMatched:
		return fmt.Sprintf(" -> %s [%s]", line.ProxyID, line.Strategy)
	case services.OutcomeRecruiting:
		return fmt.Sprintf(" -> %d candidates invited [%s]", line.CandidatesInvited, line.Strategy)
	case services.OutcomeConflict:
		return " -> conflict, retried next run"
	case services.OutcomeInvalid:
		return " -> malformed location"
	default:
		return ""
	}
}
