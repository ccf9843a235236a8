// Package ledger stores production records as rows of a table whose first
// row is a header. Rows and columns are 1-based, as in a spreadsheet.
package ledger

import (
	"context"
	"strings"
)

const (
	ColTitle = iota + 1
	ColScript
	ColPrompts
	ColFlag
	ColCompletedOn
)

var DefaultHeader = []string{"title", "script", "prompts", "flag", "completed_on"}

type Ledger interface {
	// Rows returns every row, header included. Trailing empty cells may be
	// omitted, so rows can be shorter than the header.
	Rows(ctx context.Context) ([][]string, error)
	AppendRows(ctx context.Context, rows [][]string) error
	// UpdateCells writes values into consecutive columns of one row,
	// starting at col.
	UpdateCells(ctx context.Context, row, col int, values []string) error
}

// ColumnName converts a 1-based column index to spreadsheet letters.
func ColumnName(col int) string {
	if col <= 0 {
		return ""
	}
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// Cell returns the trimmed value at a 1-based column, or "" when the row is
// too short.
func Cell(row []string, col int) string {
	if col <= 0 || col > len(row) {
		return ""
	}
	return strings.TrimSpace(row[col-1])
}
