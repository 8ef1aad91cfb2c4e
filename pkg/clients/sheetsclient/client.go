// Package sheetsclient wraps the Google Sheets API with the handful of
// range and tab operations the registry needs.
package sheetsclient

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ScopeSheets is the OAuth scope required for read/write access.
const ScopeSheets = "https://www.googleapis.com/auth/spreadsheets"

// Client wraps the Google Sheets API client.
type Client struct {
	service *sheets.Service
}

// NewClient creates a Sheets client authenticated as a service account
// from the JSON key file at credentialsPath.
func NewClient(ctx context.Context, credentialsPath string) (*Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	jwtConfig, err := google.JWTConfigFromJSON(data, ScopeSheets)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}

	service, err := sheets.NewService(ctx, option.WithTokenSource(jwtConfig.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{service: service}, nil
}

// NewClientWithService wraps an already constructed sheets service.
func NewClientWithService(service *sheets.Service) *Client {
	return &Client{service: service}
}

// GetValues reads values from a spreadsheet range.
func (c *Client) GetValues(ctx context.Context, spreadsheetID, sheetRange string) ([][]any, error) {
	resp, err := c.service.Spreadsheets.Values.Get(spreadsheetID, sheetRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get values: %w", err)
	}

	return resp.Values, nil
}

// BatchGetValues reads several ranges in one call, returning the row
// batches in the same order as ranges.
func (c *Client) BatchGetValues(ctx context.Context, spreadsheetID string, ranges []string) ([][][]any, error) {
	resp, err := c.service.Spreadsheets.Values.
		BatchGet(spreadsheetID).
		Ranges(ranges...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to batch get values: %w", err)
	}

	batches := make([][][]any, len(resp.ValueRanges))
	for i, vr := range resp.ValueRanges {
		batches[i] = vr.Values
	}

	return batches, nil
}

// UpdateValues overwrites the given range with values.
func (c *Client) UpdateValues(ctx context.Context, spreadsheetID, sheetRange string, values [][]any) error {
	_, err := c.service.Spreadsheets.Values.
		Update(spreadsheetID, sheetRange, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update values: %w", err)
	}

	return nil
}

// ClearValues empties the given range without touching formatting or the
// tab itself.
func (c *Client) ClearValues(ctx context.Context, spreadsheetID, sheetRange string) error {
	_, err := c.service.Spreadsheets.Values.
		Clear(spreadsheetID, sheetRange, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to clear values: %w", err)
	}

	return nil
}

// AddSheet creates a new tab with the given title and grid size.
func (c *Client) AddSheet(ctx context.Context, spreadsheetID, title string, rows, cols int64) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: title,
					GridProperties: &sheets.GridProperties{
						RowCount:    rows,
						ColumnCount: cols,
					},
				},
			},
		}},
	}

	_, err := c.service.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to add sheet %q: %w", title, err)
	}

	return nil
}

// RenameSheet retitles the tab currently named oldTitle. Returns an error
// if no tab has that title.
func (c *Client) RenameSheet(ctx context.Context, spreadsheetID, oldTitle, newTitle string) error {
	sheetID, err := c.sheetIDByTitle(ctx, spreadsheetID, oldTitle)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: sheetID,
					Title:   newTitle,
				},
				Fields: "title",
			},
		}},
	}

	_, err = c.service.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to rename sheet %q to %q: %w", oldTitle, newTitle, err)
	}

	return nil
}

// SheetTitles lists the titles of every tab in the spreadsheet, in sheet
// order.
func (c *Client) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	spreadsheet, err := c.service.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get spreadsheet metadata: %w", err)
	}

	titles := make([]string, 0, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		titles = append(titles, sheet.Properties.Title)
	}

	return titles, nil
}

func (c *Client) sheetIDByTitle(ctx context.Context, spreadsheetID, title string) (int64, error) {
	spreadsheet, err := c.service.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get spreadsheet metadata: %w", err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties.Title == title {
			return sheet.Properties.SheetId, nil
		}
	}

	return 0, fmt.Errorf("no sheet titled %q in spreadsheet %s", title, spreadsheetID)
}
