package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ReportPublisher writes rows to a spreadsheet tab, replacing any previous content
type ReportPublisher interface {
	WriteTab(spreadsheetID, tabTitle string, rows [][]interface{}) error
}

// reportHeader is the header of the per-request section of a published report
var reportHeader = []interface{}{"Request", "Requester", "Voting date", "Outcome", "Proxy", "Strategy", "Candidates invited"}

// PublishMatchReport writes the report to a tab named after the run time and returns the tab title
func PublishMatchReport(
	ctx context.Context,
	publisher ReportPublisher,
	spreadsheetID string,
	report *MatchReport,
	runAt time.Time,
	logger *zap.Logger,
) (string, error) {
	if spreadsheetID == "" {
		return "", fmt.Errorf("no report spreadsheet configured - set reportSheetID")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tabTitle := reportTabTitle(report, runAt)
	rows := MatchReportRows(report)

	logger.Debug("Publishing match report",
		zap.String("tab", tabTitle),
		zap.Int("rows", len(rows)))

	if err := publisher.WriteTab(spreadsheetID, tabTitle, rows); err != nil {
		return "", fmt.Errorf("failed to publish match report: %w", err)
	}
	return tabTitle, nil
}

// MatchReportRows lays the report out as a summary block, a blank row and one row per request
func MatchReportRows(report *MatchReport) [][]interface{} {
	rows := [][]interface{}{
		{"Mode", string(report.Mode)},
		{"Dry run", report.DryRun},
		{"Requests considered", report.RequestsConsidered},
		{"Proxies considered", report.ProxiesConsidered},
		{"Requests matched", report.RequestsMatched},
		{"Proxies used", report.ProxiesUsed},
		{"Conflicts", report.Conflicts},
		{"Candidates invited", report.CandidatesInvited},
		{"Invalid records", report.InvalidRecords},
		{"Duplicates", report.Duplicates},
	}
	for _, id := range report.InvalidProxyIDs {
		rows = append(rows, []interface{}{"Invalid proxy", id})
	}

	rows = append(rows, []interface{}{}, reportHeader)
	for _, line := range report.Requests {
		rows = append(rows, []interface{}{
			line.RequestID,
			line.Email,
			line.VotingDate,
			string(line.Outcome),
			line.ProxyID,
			line.Strategy,
			line.CandidatesInvited,
		})
	}
	return rows
}

// reportTabTitle formats e.g. "Run Mon Mar 01 2027 08:00" or "Dry run Mon Mar 01 2027 08:00"
func reportTabTitle(report *MatchReport, runAt time.Time) string {
	prefix := "Run"
	if report.DryRun {
		prefix = "Dry run"
	}
	return fmt.Sprintf("%s %s", prefix, runAt.Format("Mon Jan 02 2006 15:04"))
}
