// Package sheets mirrors the diary into a Google spreadsheet, one tab per day.
package sheets

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Client is the part of the Sheets API the mirror needs.
type Client interface {
	EnsureSheet(ctx context.Context, title string) error
	ReplaceValues(ctx context.Context, title string, rows [][]interface{}) error
}

// SheetsClient talks to one spreadsheet with service account credentials.
type SheetsClient struct {
	srv           *sheets.Service
	spreadsheetID string
	known         map[string]bool
}

// NewSheetsClient reads a service account key from credentialsFile.
func NewSheetsClient(ctx context.Context, credentialsFile, spreadsheetID string) (*SheetsClient, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	srv, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &SheetsClient{srv: srv, spreadsheetID: spreadsheetID, known: make(map[string]bool)}, nil
}

// EnsureSheet adds a tab named title unless the spreadsheet already has one.
// Callers serialise access; the mirror runs a single worker.
func (c *SheetsClient) EnsureSheet(ctx context.Context, title string) error {
	if c.known[title] {
		return nil
	}
	ss, err := c.srv.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			c.known[sh.Properties.Title] = true
		}
	}
	if c.known[title] {
		return nil
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
		}},
	}
	if _, err := c.srv.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	c.known[title] = true
	return nil
}

// ReplaceValues clears the tab and writes rows from A1.
func (c *SheetsClient) ReplaceValues(ctx context.Context, title string, rows [][]interface{}) error {
	sheetRange := fmt.Sprintf("'%s'", title)
	if _, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, sheetRange, &sheets.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", title, err)
	}
	if len(rows) == 0 {
		return nil
	}
	vr := &sheets.ValueRange{Values: rows}
	if _, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, sheetRange+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("update %s: %w", title, err)
	}
	return nil
}
