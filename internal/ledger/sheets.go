package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

type SheetsOptions struct {
	SpreadsheetID string
	// SheetName selects a tab; empty means the first sheet.
	SheetName string
	// CredentialsFile is a service-account JSON key. When empty and no
	// ClientOptions are given, application default credentials are used.
	CredentialsFile string
	ClientOptions   []option.ClientOption
}

type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheets(ctx context.Context, opts SheetsOptions) (*Sheets, error) {
	id := strings.TrimSpace(opts.SpreadsheetID)
	if id == "" {
		return nil, errors.New("spreadsheet id is required")
	}

	clientOpts := append([]option.ClientOption{}, opts.ClientOptions...)
	switch {
	case strings.TrimSpace(opts.CredentialsFile) != "":
		data, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials %s: %w", opts.CredentialsFile, err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials %s: %w", opts.CredentialsFile, err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(creds.TokenSource))
	case len(opts.ClientOptions) == 0:
		creds, err := google.FindDefaultCredentials(ctx, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("find default google credentials: %w", err)
		}
		clientOpts = append(clientOpts, option.WithTokenSource(creds.TokenSource))
	}

	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &Sheets{svc: svc, spreadsheetID: id, sheetName: strings.TrimSpace(opts.SheetName)}, nil
}

func (s *Sheets) a1(ref string) string {
	if s.sheetName == "" {
		return ref
	}
	return "'" + strings.ReplaceAll(s.sheetName, "'", "''") + "'!" + ref
}

func (s *Sheets) Rows(ctx context.Context) ([][]string, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.a1("A:"+ColumnName(ColCompletedOn))).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, v := range raw {
			row[i] = fmt.Sprint(v)
		}
		out = append(out, row)
	}
	return out, nil
}

// AppendRows adds rows after the last filled row. An empty sheet gets
// DefaultHeader first so row 1 stays the header.
func (s *Sheets) AppendRows(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	existing, err := s.Rows(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		rows = append([][]string{DefaultHeader}, rows...)
	}
	vr := &sheets.ValueRange{Values: toInterfaces(rows)}
	_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.a1("A1"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append %d ledger rows: %w", len(rows), err)
	}
	return nil
}

func (s *Sheets) UpdateCells(ctx context.Context, row, col int, values []string) error {
	if row <= 0 || col <= 0 || len(values) == 0 {
		return fmt.Errorf("invalid cell update at row=%d col=%d", row, col)
	}
	ref := fmt.Sprintf("%s%d:%s%d", ColumnName(col), row, ColumnName(col+len(values)-1), row)
	vr := &sheets.ValueRange{Values: toInterfaces([][]string{values})}
	_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, s.a1(ref), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update ledger %s: %w", ref, err)
	}
	return nil
}

func toInterfaces(rows [][]string) [][]interface{} {
	out := make([][]interface{}, len(rows))
	for i, r := range rows {
		cells := make([]interface{}, len(r))
		for j, v := range r {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}
