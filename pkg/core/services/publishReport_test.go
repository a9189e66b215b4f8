package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/procurations/matching-engine/pkg/core/matcher"
)

// mockPublisher implements ReportPublisher for testing
type mockPublisher struct {
	spreadsheetID string
	tabTitle      string
	rows          [][]interface{}
	err           error
}

func (m *mockPublisher) WriteTab(spreadsheetID, tabTitle string, rows [][]interface{}) error {
	if m.err != nil {
		return m.err
	}
	m.spreadsheetID = spreadsheetID
	m.tabTitle = tabTitle
	m.rows = rows
	return nil
}

func sampleReport() *MatchReport {
	return &MatchReport{
		Mode:               matcher.ModeProxyPriority,
		RequestsConsidered: 2,
		ProxiesConsidered:  1,
		RequestsMatched:    1,
		ProxiesUsed:        1,
		CandidatesInvited:  2,
		InvalidProxyIDs:    []string{"p0"},
		Requests: []RequestReport{
			{RequestID: "r1", Email: "one@example.com", VotingDate: dateOne, Outcome: OutcomeMatched, ProxyID: "p1", Strategy: "CommuneCode"},
			{RequestID: "r2", Email: "two@example.com", VotingDate: dateOne, Outcome: OutcomeRecruiting, Strategy: "CityCode", CandidatesInvited: 2},
		},
	}
}

func TestPublishMatchReport(t *testing.T) {
	publisher := &mockPublisher{}

	tab, err := PublishMatchReport(context.Background(), publisher, "sheet123", sampleReport(), testNow, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "Run Mon Mar 01 2027 09:00", tab)
	assert.Equal(t, "sheet123", publisher.spreadsheetID)
	assert.Equal(t, tab, publisher.tabTitle)
}

func TestPublishMatchReport_DryRunTab(t *testing.T) {
	publisher := &mockPublisher{}
	report := sampleReport()
	report.DryRun = true

	tab, err := PublishMatchReport(context.Background(), publisher, "sheet123", report, testNow, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "Dry run Mon Mar 01 2027 09:00", tab)
}

func TestPublishMatchReport_Errors(t *testing.T) {
	_, err := PublishMatchReport(context.Background(), &mockPublisher{}, "", sampleReport(), testNow, zap.NewNop())
	assert.ErrorContains(t, err, "no report spreadsheet configured")

	_, err = PublishMatchReport(context.Background(), &mockPublisher{err: errors.New("quota exceeded")}, "sheet123", sampleReport(), testNow, zap.NewNop())
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestMatchReportRows(t *testing.T) {
	rows := MatchReportRows(sampleReport())

	// 10 summary rows, 1 invalid proxy, blank row, header, 2 requests
	require.Len(t, rows, 15)
	assert.Equal(t, []interface{}{"Mode", "proxy-priority"}, rows[0])
	assert.Equal(t, []interface{}{"Requests matched", 1}, rows[4])
	assert.Equal(t, []interface{}{"Duplicates", 0}, rows[9])
	assert.Equal(t, []interface{}{"Invalid proxy", "p0"}, rows[10])
	assert.Empty(t, rows[11])
	assert.Equal(t, reportHeader, rows[12])
	assert.Equal(t, []interface{}{"r1", "one@example.com", dateOne, "matched", "p1", "CommuneCode", 0}, rows[13])
	assert.Equal(t, []interface{}{"r2", "two@example.com", dateOne, "recruiting", "", "CityCode", 2}, rows[14])
}
