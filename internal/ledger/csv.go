package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"scene-forge/internal/runstore"
)

// CSV keeps the ledger in a local file, for offline use and tests. Every
// write rewrites the file atomically.
type CSV struct {
	path string
	mu   sync.Mutex
}

func NewCSV(path string) *CSV {
	return &CSV{path: strings.TrimSpace(path)}
}

func (c *CSV) Rows(ctx context.Context) ([][]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read()
}

func (c *CSV) read() ([][]string, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return [][]string{}, nil
		}
		return nil, fmt.Errorf("read ledger %s: %w", c.path, err)
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse ledger %s: %w", c.path, err)
	}
	return rows, nil
}

func (c *CSV) write(rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode ledger %s: %w", c.path, err)
	}
	return runstore.WriteBytes(c.path, buf.Bytes())
}

func (c *CSV) AppendRows(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	existing, err := c.read()
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		existing = append(existing, append([]string(nil), DefaultHeader...))
	}
	return c.write(append(existing, rows...))
}

func (c *CSV) UpdateCells(ctx context.Context, row, col int, values []string) error {
	if row <= 0 || col <= 0 || len(values) == 0 {
		return fmt.Errorf("invalid cell update at row=%d col=%d", row, col)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rows, err := c.read()
	if err != nil {
		return err
	}
	for len(rows) < row {
		rows = append(rows, []string{})
	}
	target := rows[row-1]
	need := col - 1 + len(values)
	for len(target) < need {
		target = append(target, "")
	}
	copy(target[col-1:], values)
	rows[row-1] = target
	return c.write(rows)
}
