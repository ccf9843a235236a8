package queue

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"scene-forge/internal/ledger"
	"scene-forge/internal/model"
)

func seedLedger(t *testing.T, rows ...[]string) *ledger.CSV {
	t.Helper()
	l := ledger.NewCSV(filepath.Join(t.TempDir(), "ledger.csv"))
	if len(rows) > 0 {
		if err := l.AppendRows(context.Background(), rows); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestNextUnprocessed_SkipsFlaggedRows(t *testing.T) {
	l := seedLedger(t,
		[]string{"done story", "s", "p", "完了", "2026-01-01"},
		[]string{"next story", "s", "p", ""},
		[]string{"later story"},
	)
	q := New(l, Options{})

	rec, err := q.NextUnprocessed(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if rec.Row != 3 || rec.Title != "next story" {
		t.Fatalf("expected row 3, got %+v", rec)
	}
}

func TestNextUnprocessed_ShortRowIsUnprocessed(t *testing.T) {
	l := seedLedger(t, []string{"short"})
	rec, err := New(l, Options{}).NextUnprocessed(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if rec.Row != 2 || rec.State != model.StateUnprocessed {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestNextUnprocessed_NothingLeft(t *testing.T) {
	l := seedLedger(t, []string{"a", "s", "p", "完了", "2026-01-01"})
	if _, err := New(l, Options{}).NextUnprocessed(context.Background()); !errors.Is(err, ErrNoUnprocessed) {
		t.Fatalf("expected ErrNoUnprocessed, got %v", err)
	}
	empty := seedLedger(t)
	if _, err := New(empty, Options{}).NextUnprocessed(context.Background()); !errors.Is(err, ErrNoUnprocessed) {
		t.Fatalf("expected ErrNoUnprocessed on empty ledger, got %v", err)
	}
}

func TestAppendTitles_SkipsExistingAndDuplicates(t *testing.T) {
	l := seedLedger(t, []string{"Ghost Ship"})
	q := New(l, Options{})

	added, err := q.AppendTitles(context.Background(), []string{"ghost ship ", "Silent Lake", "Silent Lake", "", "Red Door"})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(added, []string{"Silent Lake", "Red Door"}) {
		t.Fatalf("unexpected added titles %q", added)
	}
	titles, err := q.Titles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(titles, []string{"Ghost Ship", "Silent Lake", "Red Door"}) {
		t.Fatalf("unexpected titles %q", titles)
	}

	again, err := q.AppendTitles(context.Background(), []string{"Red Door"})
	if err != nil || len(again) != 0 {
		t.Fatalf("expected idempotent append, got %q %v", again, err)
	}
}

func TestWriteScript_ThenMarkCompleted(t *testing.T) {
	l := seedLedger(t, []string{"story"})
	c := &clock{t: time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)}
	q := New(l, Options{Now: c.now})
	ctx := context.Background()

	rec, err := q.WriteScript(ctx, 2, "line 1\nline 2", []string{"p1", " ", "p2"})
	if err != nil {
		t.Fatalf("write script: %v", err)
	}
	if rec.State != model.StateScripted || rec.Prompts != "p1\n\np2" {
		t.Fatalf("unexpected record %+v", rec)
	}

	rec, err = q.MarkCompleted(ctx, 2)
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if rec.Flag != DefaultFlag || rec.CompletedOn != "2026-10-19" {
		t.Fatalf("unexpected completion %+v", rec)
	}

	rows, err := l.Rows(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"story", "line 1\nline 2", "p1\n\np2", DefaultFlag, "2026-10-19"}
	if !reflect.DeepEqual(rows[1], want) {
		t.Fatalf("unexpected ledger row %q", rows[1])
	}
}

// Re-marking refreshes the completion date.
func TestMarkCompleted_RemarkRefreshesDate(t *testing.T) {
	l := seedLedger(t, []string{"story", "s", "p", DefaultFlag, "2026-01-01"})
	c := &clock{t: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
	q := New(l, Options{Now: c.now})

	rec, err := q.MarkCompleted(context.Background(), 2)
	if err != nil {
		t.Fatalf("expected re-mark to succeed, got %v", err)
	}
	if rec.CompletedOn != "2026-03-04" {
		t.Fatalf("expected refreshed date, got %s", rec.CompletedOn)
	}
	rows, _ := l.Rows(context.Background())
	if rows[1][3] != DefaultFlag || rows[1][4] != "2026-03-04" {
		t.Fatalf("unexpected row after re-mark %q", rows[1])
	}
}

func TestMarkCompleted_RejectsUnscriptedRow(t *testing.T) {
	l := seedLedger(t, []string{"story"})
	_, err := New(l, Options{}).MarkCompleted(context.Background(), 2)
	var terr *model.TransitionError
	if !errors.As(err, &terr) {
		t.Fatalf("expected transition error, got %v", err)
	}
	rows, _ := l.Rows(context.Background())
	if len(rows[1]) != 1 {
		t.Fatalf("expected row untouched, got %q", rows[1])
	}
}

func TestWriteScript_RejectsCompletedRow(t *testing.T) {
	l := seedLedger(t, []string{"story", "s", "p", DefaultFlag, "2026-01-01"})
	if _, err := New(l, Options{}).WriteScript(context.Background(), 2, "new", nil); err == nil {
		t.Fatalf("expected completed row to reject a new script")
	}
}

func TestRecord_RejectsHeaderAndOutOfRange(t *testing.T) {
	q := New(seedLedger(t, []string{"story"}), Options{})
	for _, row := range []int{0, 1, 3} {
		if _, err := q.Record(context.Background(), row); err == nil {
			t.Fatalf("expected row %d to be rejected", row)
		}
	}
}

func TestPublish_AppendsOrReusesTitleRow(t *testing.T) {
	l := seedLedger(t, []string{"first"}, []string{"Existing"})
	q := New(l, Options{})
	ctx := context.Background()

	rec, err := q.Publish(ctx, "New Story", "script", []string{"a", "b"})
	if err != nil {
		t.Fatalf("publish new: %v", err)
	}
	if rec.Row != 4 {
		t.Fatalf("expected appended row 4, got %d", rec.Row)
	}

	rec, err = q.Publish(ctx, "existing", "script 2", []string{"c"})
	if err != nil {
		t.Fatalf("publish existing: %v", err)
	}
	if rec.Row != 3 || rec.Script != "script 2" {
		t.Fatalf("expected row 3 reused, got %+v", rec)
	}
	rows, _ := l.Rows(ctx)
	if len(rows) != 4 {
		t.Fatalf("expected no duplicate rows, got %d", len(rows))
	}
}

func TestSplitPrompts_RoundTrip(t *testing.T) {
	in := []string{"a cat", "a dog"}
	if got := SplitPrompts(JoinPrompts(in)); !reflect.DeepEqual(got, in) {
		t.Fatalf("unexpected split %q", got)
	}
}
