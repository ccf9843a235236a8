// Package queue tracks production records through
// unprocessed -> scripted -> completed on top of a ledger.
//
// The queue assumes a single writer. Appends are guarded by a title
// pre-check, which avoids duplicate rows in normal use but is not a
// transaction.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"scene-forge/internal/ledger"
	"scene-forge/internal/model"
)

const DefaultFlag = "完了"

var ErrNoUnprocessed = errors.New("no unprocessed rows in ledger")

type Options struct {
	// Flag is written into the completion column.
	Flag   string
	Now    func() time.Time
	Logger *zap.Logger
}

type Queue struct {
	ledger ledger.Ledger
	flag   string
	now    func() time.Time
	log    *zap.Logger
}

func New(l ledger.Ledger, opts Options) *Queue {
	flag := strings.TrimSpace(opts.Flag)
	if flag == "" {
		flag = DefaultFlag
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{ledger: l, flag: flag, now: now, log: log}
}

func decode(rowNum int, row []string) model.Record {
	rec := model.Record{
		Row:         rowNum,
		Title:       ledger.Cell(row, ledger.ColTitle),
		Script:      ledger.Cell(row, ledger.ColScript),
		Prompts:     ledger.Cell(row, ledger.ColPrompts),
		Flag:        ledger.Cell(row, ledger.ColFlag),
		CompletedOn: ledger.Cell(row, ledger.ColCompletedOn),
	}
	rec.State = model.DeriveState(rec)
	return rec
}

// List returns every record below the header in ledger order.
func (q *Queue) List(ctx context.Context) ([]model.Record, error) {
	rows, err := q.ledger.Rows(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Record, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		out = append(out, decode(i+1, row))
	}
	return out, nil
}

func (q *Queue) Record(ctx context.Context, row int) (model.Record, error) {
	if row <= 1 {
		return model.Record{}, fmt.Errorf("row %d is not a record row", row)
	}
	rows, err := q.ledger.Rows(ctx)
	if err != nil {
		return model.Record{}, err
	}
	if row > len(rows) {
		return model.Record{}, fmt.Errorf("row %d does not exist (ledger has %d rows)", row, len(rows))
	}
	return decode(row, rows[row-1]), nil
}

// NextUnprocessed returns the earliest row without a completion flag. Rows
// with missing trailing columns count as not done.
func (q *Queue) NextUnprocessed(ctx context.Context) (model.Record, error) {
	rows, err := q.ledger.Rows(ctx)
	if err != nil {
		return model.Record{}, err
	}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if ledger.Cell(row, ledger.ColFlag) == "" {
			return decode(i+1, row), nil
		}
	}
	return model.Record{}, ErrNoUnprocessed
}

func (q *Queue) Titles(ctx context.Context) ([]string, error) {
	records, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Title)
	}
	return out, nil
}

// AppendTitles adds one unprocessed row per title that is not in the ledger
// yet, and returns the titles actually appended.
func (q *Queue) AppendTitles(ctx context.Context, titles []string) ([]string, error) {
	existing, err := q.Titles(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing)+len(titles))
	for _, t := range existing {
		seen[titleKey(t)] = true
	}

	added := make([]string, 0, len(titles))
	rows := make([][]string, 0, len(titles))
	for _, t := range titles {
		v := strings.TrimSpace(t)
		if v == "" || seen[titleKey(v)] {
			continue
		}
		seen[titleKey(v)] = true
		added = append(added, v)
		rows = append(rows, []string{v})
	}
	if len(rows) == 0 {
		return added, nil
	}
	if err := q.ledger.AppendRows(ctx, rows); err != nil {
		return nil, err
	}
	q.log.Info("Titles appended.", zap.Int("added", len(added)), zap.Int("skipped", len(titles)-len(added)))
	return added, nil
}

// WriteScript stores the narration and prompts of a record, moving it to scripted.
func (q *Queue) WriteScript(ctx context.Context, row int, script string, prompts []string) (model.Record, error) {
	rec, err := q.Record(ctx, row)
	if err != nil {
		return model.Record{}, err
	}
	if err := model.TransitionRecord(&rec, model.StateScripted); err != nil {
		return model.Record{}, err
	}
	rec.Script = strings.TrimSpace(script)
	rec.Prompts = JoinPrompts(prompts)
	if err := q.ledger.UpdateCells(ctx, row, ledger.ColScript, []string{rec.Script, rec.Prompts}); err != nil {
		return model.Record{}, err
	}
	q.log.Info("Script written.", zap.Int("row", row), zap.Int("prompts", len(prompts)))
	return rec, nil
}

// MarkCompleted writes the flag and today's date. Marking a completed row
// again refreshes the date.
func (q *Queue) MarkCompleted(ctx context.Context, row int) (model.Record, error) {
	rec, err := q.Record(ctx, row)
	if err != nil {
		return model.Record{}, err
	}
	if err := model.TransitionRecord(&rec, model.StateCompleted); err != nil {
		return model.Record{}, err
	}
	rec.Flag = q.flag
	rec.CompletedOn = q.now().Format(time.DateOnly)
	if err := q.ledger.UpdateCells(ctx, row, ledger.ColFlag, []string{rec.Flag, rec.CompletedOn}); err != nil {
		return model.Record{}, err
	}
	q.log.Info("Record completed.", zap.Int("row", row), zap.String("date", rec.CompletedOn))
	return rec, nil
}

// Publish records a finished script under title, reusing the row that
// already carries the title or appending a new one.
func (q *Queue) Publish(ctx context.Context, title, script string, prompts []string) (model.Record, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return model.Record{}, errors.New("title is required")
	}
	row, err := q.findTitle(ctx, t)
	if err != nil {
		return model.Record{}, err
	}
	if row == 0 {
		if err := q.ledger.AppendRows(ctx, [][]string{{t}}); err != nil {
			return model.Record{}, err
		}
		if row, err = q.findTitle(ctx, t); err != nil {
			return model.Record{}, err
		}
		if row == 0 {
			return model.Record{}, fmt.Errorf("appended title %q not found in ledger", t)
		}
	}
	return q.WriteScript(ctx, row, script, prompts)
}

func (q *Queue) findTitle(ctx context.Context, title string) (int, error) {
	records, err := q.List(ctx)
	if err != nil {
		return 0, err
	}
	key := titleKey(title)
	for _, r := range records {
		if titleKey(r.Title) == key {
			return r.Row, nil
		}
	}
	return 0, nil
}

// JoinPrompts is the prompts column encoding: one prompt per paragraph.
func JoinPrompts(prompts []string) string {
	clean := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if v := strings.TrimSpace(p); v != "" {
			clean = append(clean, v)
		}
	}
	return strings.Join(clean, "\n\n")
}

// SplitPrompts reverses JoinPrompts; single newlines also separate prompts.
func SplitPrompts(column string) []string {
	lines := strings.Split(strings.ReplaceAll(column, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if v := strings.TrimSpace(l); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func titleKey(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
