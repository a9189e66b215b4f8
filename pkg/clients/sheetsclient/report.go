package sheetsclient

import (
	"fmt"

	"google.golang.org/api/sheets/v4"
)

// WriteTab writes rows to the named tab starting at A1.
// The tab is created if it doesn't exist, otherwise its previous contents are cleared first.
func (c *Client) WriteTab(spreadsheetID, tabTitle string, rows [][]interface{}) error {
	exists, err := c.tabExists(spreadsheetID, tabTitle)
	if err != nil {
		return err
	}

	if exists {
		_, err = c.service.Spreadsheets.Values.Clear(spreadsheetID, quoteTab(tabTitle), &sheets.ClearValuesRequest{}).
			Context(c.ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to clear tab %q: %w", tabTitle, err)
		}
	} else if _, err := c.CreateSheet(spreadsheetID, tabTitle); err != nil {
		return err
	}

	valueRange := &sheets.ValueRange{
		Values: rows,
	}

	_, err = c.service.Spreadsheets.Values.Update(spreadsheetID, quoteTab(tabTitle)+"!A1", valueRange).
		ValueInputOption("RAW").
		Context(c.ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to write tab %q: %w", tabTitle, err)
	}

	return nil
}

func (c *Client) tabExists(spreadsheetID, tabTitle string) (bool, error) {
	spreadsheet, err := c.service.Spreadsheets.Get(spreadsheetID).Context(c.ctx).Do()
	if err != nil {
		return false, fmt.Errorf("failed to get spreadsheet metadata: %w", err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == tabTitle {
			return true, nil
		}
	}
	return false, nil
}

// quoteTab quotes a tab title for use in A1 notation
func quoteTab(title string) string {
	return "'" + title + "'"
}
