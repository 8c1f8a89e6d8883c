package rulesvc

import (
	"context"
	"fmt"
	"regexp"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Spreadsheet is the resolved metadata of a watched spreadsheet.
type Spreadsheet struct {
	ID    string
	Title string
	Tabs  []string
}

func (s Spreadsheet) HasTab(name string) bool {
	for _, tab := range s.Tabs {
		if tab == name {
			return true
		}
	}
	return false
}

// SheetDirectory resolves a spreadsheet URL to its metadata. The add action
// validates tab existence through it at creation time only.
type SheetDirectory interface {
	Resolve(ctx context.Context, sheetURL string) (Spreadsheet, error)
}

var sheetURLPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9\-_]+)`)

// SpreadsheetIDFromURL extracts the document id from a docs.google.com URL.
func SpreadsheetIDFromURL(sheetURL string) (string, error) {
	m := sheetURLPattern.FindStringSubmatch(sheetURL)
	if m == nil {
		return "", fmt.Errorf("not a spreadsheet URL: %s", sheetURL)
	}
	return m[1], nil
}

// GoogleSheetDirectory resolves spreadsheets through the Sheets API. Token
// returns the current bearer token at call time, since the session's token
// changes across logins.
type GoogleSheetDirectory struct {
	Token   func() string
	Options []option.ClientOption
}

func (d *GoogleSheetDirectory) Resolve(ctx context.Context, sheetURL string) (Spreadsheet, error) {
	id, err := SpreadsheetIDFromURL(sheetURL)
	if err != nil {
		return Spreadsheet{}, err
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: d.Token()}))
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, d.Options...)

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return Spreadsheet{}, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	doc, err := srv.Spreadsheets.Get(id).Context(ctx).Do()
	if err != nil {
		return Spreadsheet{}, fmt.Errorf("failed to open spreadsheet: %w", err)
	}

	meta := Spreadsheet{ID: doc.SpreadsheetId}
	if doc.Properties != nil {
		meta.Title = doc.Properties.Title
	}
	for _, sh := range doc.Sheets {
		if sh.Properties != nil {
			meta.Tabs = append(meta.Tabs, sh.Properties.Title)
		}
	}
	return meta, nil
}
