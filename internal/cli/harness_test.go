package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"scene-forge/internal/align"
	"scene-forge/internal/ledger"
	"scene-forge/internal/model"
)

// setupWorkspace initializes a csv-backed workspace in a temp dir with a
// fake chrome so doctor passes.
func setupWorkspace(t *testing.T) (string, string) {
	t.Helper()
	tmp := t.TempDir()
	chdir(t, tmp)
	for _, k := range []string{
		"SCENE_FORGE_SPREADSHEET_ID", "SPREADSHEET_ID",
		"SCENE_FORGE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS",
		"SCENE_FORGE_SESSIONS_DIR", "AUTH_STATE_DIR",
	} {
		t.Setenv(k, "")
	}

	fakeBin := filepath.Join(tmp, "bin")
	if err := os.MkdirAll(fakeBin, 0o755); err != nil {
		t.Fatal(err)
	}
	chrome := filepath.Join(fakeBin, "chromium")
	if err := os.WriteFile(chrome, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SCENE_FORGE_CHROME_PATH", chrome)

	cfgPath := filepath.Join(tmp, "scene-forge.yaml")
	captureStdout(t, func() {
		if err := Run([]string{"init", "--config", cfgPath, "--ledger", "csv", "--json"}); err != nil {
			t.Fatalf("init failed: %v", err)
		}
	})
	return tmp, cfgPath
}

func TestHarnessQueueLifecycle(t *testing.T) {
	tmp, cfg := setupWorkspace(t)

	captureStdout(t, func() {
		err := Run([]string{"queue", "add", "--config", cfg, "--title", "Red Door", "--title", "Silent Lake", "--title", "Red Door"})
		if err != nil {
			t.Fatalf("queue add failed: %v", err)
		}
	})

	var next struct {
		Found  bool         `json:"found"`
		Record model.Record `json:"record"`
	}
	decodeJSON(t, captureStdout(t, func() {
		if err := Run([]string{"queue", "next", "--config", cfg, "--json"}); err != nil {
			t.Fatalf("queue next failed: %v", err)
		}
	}), &next)
	if !next.Found || next.Record.Row != 2 || next.Record.Title != "Red Door" {
		t.Fatalf("unexpected next record: %+v", next)
	}

	gen := filepath.Join(tmp, "gen.json")
	doc := "```json\n" + `{
  "title_en": "Red Door",
  "vrew_script": ["The door was red.", "Nobody opened it."],
  "mj_prompts": [
    {"scene": 1, "prompt": "Title card with bold typography"},
    {"scene": 2, "prompt": "a red door at night"},
    {"scene": 3, "prompt": "an empty hallway --ar 16:9"}
  ]
}` + "\n```"
	if err := os.WriteFile(gen, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	var imported scriptImportResult
	decodeJSON(t, captureStdout(t, func() {
		if err := Run([]string{"script", "import", "--config", cfg, "--file", gen, "--publish", "--json"}); err != nil {
			t.Fatalf("script import failed: %v", err)
		}
	}), &imported)
	if imported.Outcome != align.OutcomeDroppedTitleCard || len(imported.Prompts) != 2 {
		t.Fatalf("unexpected alignment: %+v", imported)
	}
	if imported.Prompts[0].Prompt != "a red door at night --ar 9:16 --v 6.0" || imported.Prompts[1].Prompt != "an empty hallway --ar 16:9" {
		t.Fatalf("unexpected prompts: %+v", imported.Prompts)
	}
	if imported.Published == nil || imported.Published.Row != 2 || imported.Published.State != model.StateScripted {
		t.Fatalf("expected row 2 scripted, got %+v", imported.Published)
	}

	captureStdout(t, func() {
		if err := Run([]string{"queue", "complete", "--config", cfg, "--row", "2", "--yes"}); err != nil {
			t.Fatalf("queue complete failed: %v", err)
		}
	})

	decodeJSON(t, captureStdout(t, func() {
		if err := Run([]string{"queue", "next", "--config", cfg, "--json"}); err != nil {
			t.Fatalf("queue next failed: %v", err)
		}
	}), &next)
	if next.Record.Row != 3 || next.Record.Title != "Silent Lake" {
		t.Fatalf("expected row 3 next, got %+v", next.Record)
	}

	rows, err := ledger.NewCSV(filepath.Join(tmp, "ledger.csv")).Rows(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 || rows[1][3] != "完了" || rows[1][1] != "The door was red.\nNobody opened it." {
		t.Fatalf("unexpected ledger rows: %q", rows)
	}
}

func TestRunQueueComplete_RejectsUnscriptedRow(t *testing.T) {
	_, cfg := setupWorkspace(t)
	captureStdout(t, func() {
		if err := Run([]string{"queue", "add", "--config", cfg, "--title", "Bare"}); err != nil {
			t.Fatal(err)
		}
		err := Run([]string{"queue", "complete", "--config", cfg, "--row", "2", "--yes"})
		if err == nil || !strings.Contains(err.Error(), "invalid record state transition") {
			t.Fatalf("expected transition error, got %v", err)
		}
	})
}

func TestRunDoctor_ReportsMissingChrome(t *testing.T) {
	tmp, cfg := setupWorkspace(t)

	out := captureStdout(t, func() {
		if err := Run([]string{"doctor", "--config", cfg}); err != nil {
			t.Fatalf("doctor failed: %v", err)
		}
	})
	if !strings.Contains(out, "all checks passed") {
		t.Fatalf("expected passing doctor, got:\n%s", out)
	}

	t.Setenv("SCENE_FORGE_CHROME_PATH", filepath.Join(tmp, "missing-chrome"))
	var res doctorResult
	decodeJSON(t, captureStdout(t, func() {
		if err := Run([]string{"doctor", "--config", cfg, "--json"}); err != nil {
			t.Fatalf("doctor --json failed: %v", err)
		}
	}), &res)
	if res.OK {
		t.Fatalf("expected doctor to fail without chrome: %+v", res)
	}
	for _, c := range res.Checks {
		if c.Name == "dependency:chrome" && c.OK {
			t.Fatalf("expected chrome check to fail: %+v", c)
		}
		if c.Name == "sessions" && (!c.OK || !strings.Contains(c.Message, "no session for image, video")) {
			t.Fatalf("expected informational sessions check, got %+v", c)
		}
	}
}

func TestRunAck_WritesSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "video-1234.ack")
	captureStdout(t, func() {
		if err := Run([]string{"ack", "--file", path}); err != nil {
			t.Fatalf("ack failed: %v", err)
		}
	})
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected ack file: %v", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	captureStdout(t, func() {
		if err := Run([]string{"bogus"}); err == nil {
			t.Fatalf("expected unknown command error")
		}
	})
}

func decodeJSON(t *testing.T, raw string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		t.Fatalf("decode JSON output: %v\n%s", err, raw)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	defer func() {
		os.Stdout = oldStdout
	}()
	defer r.Close()

	fn()

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir for Go < 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatal(err)
		}
	})
}
