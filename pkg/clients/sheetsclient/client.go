package sheetsclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/procurations/matching-engine/internal/config"
	"github.com/procurations/matching-engine/pkg/utils"
)

// Client wraps the Google Sheets API client used to publish match reports
type Client struct {
	service *sheets.Service
	ctx     context.Context
}

// NewClient creates a new Sheets client using OAuth credentials and performs OAuth flow if needed.
// The token is shared with the Gmail client and persisted to disk for the given environment.
func NewClient(ctx context.Context, oauthCfg *config.OAuthClientConfig, env string, logger *zap.Logger) (*Client, error) {
	httpClient, err := utils.NewHTTPClient(ctx, oauthCfg, env, logger)
	if err != nil {
		return nil, err
	}

	service, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{
		service: service,
		ctx:     ctx,
	}, nil
}

// CreateSheet creates a new sheet/tab in the spreadsheet
func (c *Client) CreateSheet(spreadsheetID, sheetTitle string) (int64, error) {
	req := &sheets.Request{
		AddSheet: &sheets.AddSheetRequest{
			Properties: &sheets.SheetProperties{
				Title: sheetTitle,
			},
		},
	}

	batchUpdateRequest := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{req},
	}

	resp, err := c.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdateRequest).Context(c.ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to create sheet: %w", err)
	}

	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil {
		return 0, fmt.Errorf("unexpected response from create sheet")
	}

	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}
