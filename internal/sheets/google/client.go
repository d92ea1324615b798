// Package google implements sheets.Client on the Google Sheets v4 API.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dvloznov/branch-sheets-sync/internal/sheets"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Client talks to the Sheets v4 API.
type Client struct {
	srv *sheetsapi.Service
}

// NewClient builds a client. With credentialsJSON it authenticates as that
// service account; without it Application Default Credentials are used.
// Extra options are appended, which tests use to point at a fake endpoint.
func NewClient(ctx context.Context, credentialsJSON []byte, opts ...option.ClientOption) (*Client, error) {
	var clientOpts []option.ClientOption
	if len(credentialsJSON) > 0 {
		jwtConfig, err := googleoauth.JWTConfigFromJSON(credentialsJSON, sheetsapi.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("NewClient: parsing service account key: %w: %w", sheets.ErrUnavailable, err)
		}
		clientOpts = append(clientOpts, option.WithHTTPClient(oauth2.NewClient(ctx, jwtConfig.TokenSource(ctx))))
	} else {
		clientOpts = append(clientOpts, option.WithScopes(sheetsapi.SpreadsheetsScope))
	}
	clientOpts = append(clientOpts, opts...)

	srv, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating sheets service: %w: %w", sheets.ErrUnavailable, err)
	}
	return &Client{srv: srv}, nil
}

// NewWithService wraps an already configured service.
func NewWithService(srv *sheetsapi.Service) *Client {
	return &Client{srv: srv}
}

// ListWorksheets implements sheets.Client.
func (c *Client) ListWorksheets(ctx context.Context, spreadsheetID string) ([]sheets.Worksheet, error) {
	ss, err := c.srv.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("ListWorksheets", err)
	}

	out := make([]sheets.Worksheet, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		out = append(out, worksheetFrom(sh.Properties))
	}
	return out, nil
}

// CreateWorksheet implements sheets.Client.
func (c *Client) CreateWorksheet(ctx context.Context, spreadsheetID, title string, rows, cols int) (sheets.Worksheet, error) {
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{
					Title: title,
					GridProperties: &sheetsapi.GridProperties{
						RowCount:    int64(rows),
						ColumnCount: int64(cols),
					},
				},
			},
		}},
	}

	resp, err := c.srv.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return sheets.Worksheet{}, classify("CreateWorksheet", err)
	}

	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return sheets.Worksheet{Title: title, Rows: rows, Cols: cols}, nil
	}
	return worksheetFrom(resp.Replies[0].AddSheet.Properties), nil
}

// ReadAll implements sheets.Client.
func (c *Client) ReadAll(ctx context.Context, spreadsheetID, title string) ([][]string, error) {
	vr, err := c.srv.Spreadsheets.Values.Get(spreadsheetID, sheets.QuoteTitle(title)).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify("ReadAll", err)
	}

	out := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out, nil
}

// WriteRange implements sheets.Client.
func (c *Client) WriteRange(ctx context.Context, spreadsheetID, a1Range string, values [][]interface{}) error {
	vr := &sheetsapi.ValueRange{
		Range:          a1Range,
		MajorDimension: "ROWS",
		Values:         values,
	}
	_, err := c.srv.Spreadsheets.Values.Update(spreadsheetID, a1Range, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classify("WriteRange", err)
	}
	return nil
}

func worksheetFrom(p *sheetsapi.SheetProperties) sheets.Worksheet {
	ws := sheets.Worksheet{ID: p.SheetId, Title: p.Title}
	if p.GridProperties != nil {
		ws.Rows = int(p.GridProperties.RowCount)
		ws.Cols = int(p.GridProperties.ColumnCount)
	}
	return ws
}

// classify maps API failures onto the sheets sentinel errors. Only rejected
// credentials count as unavailable; 5xx and 429 responses stay transient so
// the caller's write retry applies.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return fmt.Errorf("%s: %w: %w", op, sheets.ErrUnavailable, err)
		case gerr.Code == http.StatusNotFound:
			return fmt.Errorf("%s: %w: %w", op, sheets.ErrNotFound, err)
		case gerr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(gerr.Message), "already exists"):
			return fmt.Errorf("%s: %w: %w", op, sheets.ErrAlreadyExists, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%s: %w: %w", op, sheets.ErrUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

var _ sheets.Client = (*Client)(nil)
