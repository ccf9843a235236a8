package launcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"scene-forge/internal/model"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func writeFakeEngine(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-engine")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

const echoEngine = `#!/usr/bin/env bash
set -euo pipefail
payload=""
while [ $# -gt 0 ]; do
  case "$1" in
    --payload) payload="$2"; shift 2 ;;
    *) echo "arg $1"; shift ;;
  esac
done
echo "payload:"
cat "$payload"
echo "warming up" >&2
`

func TestStart_PassesContractAndCapturesOutput(t *testing.T) {
	tmp := t.TempDir()
	var stdout, stderr syncBuffer
	l := New(Options{
		Executable: writeFakeEngine(t, echoEngine),
		ConfigPath: "cfg.yaml",
		PayloadDir: filepath.Join(tmp, "payloads"),
		LogDir:     filepath.Join(tmp, "logs"),
		Stdout:     &stdout,
		Stderr:     &stderr,
	})

	p, err := l.Start(context.Background(), model.Job{Kind: model.EngineVideo, Payload: "一行目\n二行目"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if p.ExitCode() != 0 {
		t.Fatalf("expected exit code 0, got %d", p.ExitCode())
	}

	out := stdout.String()
	for _, want := range []string{
		"[video] arg engine",
		"[video] arg --kind",
		"[video] arg " + model.DefaultStyle,
		"[video] arg " + model.DefaultRatio,
		"[video] arg cfg.yaml",
		"[video] 一行目",
		"[video] 二行目",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected output to contain %q, got:\n%s", want, out)
		}
	}
	if !strings.Contains(stderr.String(), "[video] warming up") {
		t.Fatalf("expected prefixed stderr, got %q", stderr.String())
	}

	inv := p.Invocation()
	data, err := os.ReadFile(inv.PayloadPath)
	if err != nil {
		t.Fatalf("expected payload file to be kept: %v", err)
	}
	if string(data) != "一行目\n二行目" {
		t.Fatalf("unexpected payload content %q", data)
	}
	if inv.Job.ID == "" || !strings.HasSuffix(inv.AckPath, ".ack") || !strings.HasSuffix(inv.LogPath, ".log") {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
}

func TestStart_ImageJobOmitsStyleAndRatio(t *testing.T) {
	l := New(Options{Executable: "/bin/true", PayloadDir: t.TempDir(), LogDir: t.TempDir()})
	inv, err := l.Prepare(model.Job{Kind: model.EngineImage, Payload: "cat", Style: "x", Ratio: "1:1"})
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(inv.Command, " ")
	if strings.Contains(joined, "--style") || strings.Contains(joined, "--ratio") {
		t.Fatalf("image command should not carry style/ratio: %s", joined)
	}
}

func TestStart_FailureCarriesOutputTail(t *testing.T) {
	script := "#!/usr/bin/env bash\necho 'locator not found for \"new project\"' >&2\nexit 3\n"
	l := New(Options{
		Executable: writeFakeEngine(t, script),
		PayloadDir: t.TempDir(),
		LogDir:     t.TempDir(),
		Stdout:     &syncBuffer{},
		Stderr:     &syncBuffer{},
	})
	p, err := l.Start(context.Background(), model.Job{Kind: model.EngineVideo, Payload: "n"})
	if err != nil {
		t.Fatal(err)
	}
	err = p.Wait()
	if err == nil || !strings.Contains(err.Error(), "new project") {
		t.Fatalf("expected failure with stderr tail, got %v", err)
	}
	if p.ExitCode() != 3 {
		t.Fatalf("expected exit code 3, got %d", p.ExitCode())
	}
}

func TestStart_FailureKeepsLastLinesOfNoisyOutput(t *testing.T) {
	script := `#!/usr/bin/env bash
for i in $(seq 1 2000); do echo "progress step $i of a long render" >&2; done
echo 'fatal: export button never appeared' >&2
exit 4
`
	l := New(Options{
		Executable: writeFakeEngine(t, script),
		PayloadDir: t.TempDir(),
		LogDir:     t.TempDir(),
		Stdout:     &syncBuffer{},
		Stderr:     &syncBuffer{},
	})
	p, err := l.Start(context.Background(), model.Job{Kind: model.EngineVideo, Payload: "n"})
	if err != nil {
		t.Fatal(err)
	}
	err = p.Wait()
	if err == nil || !strings.Contains(err.Error(), "export button never appeared") {
		t.Fatalf("expected the final stderr line in the error, got %v", err)
	}
	if strings.Contains(err.Error(), "progress step 1 of") {
		t.Fatalf("expected early output to be dropped from the error")
	}
	if len(err.Error()) > 2*maxOutputTail+256 {
		t.Fatalf("error grew past the kept tail: %d bytes", len(err.Error()))
	}
}

func TestStart_OversizedLineDoesNotStallEngine(t *testing.T) {
	script := `#!/usr/bin/env bash
head -c 2000000 /dev/zero | tr '\0' 'a'
echo
head -c 2000000 /dev/zero | tr '\0' 'b'
echo
echo "finished"
`
	l := New(Options{
		Executable: writeFakeEngine(t, script),
		PayloadDir: t.TempDir(),
		LogDir:     t.TempDir(),
		Stdout:     &syncBuffer{},
		Stderr:     &syncBuffer{},
	})
	p, err := l.Start(context.Background(), model.Job{Kind: model.EngineImage, Payload: "n"})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- p.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("engine blocked writing to an unread pipe")
	}
	if p.ExitCode() != 0 {
		t.Fatalf("expected exit code 0, got %d", p.ExitCode())
	}
}

func TestAppendTail_KeepsNewestBytes(t *testing.T) {
	var out, errs strings.Builder
	for i := 0; i < 1000; i++ {
		appendTail(&out, &errs, StreamStdout, "0123456789abcdef")
	}
	appendTail(&out, &errs, StreamStdout, "最後の行")
	got := out.String()
	if len(got) > maxOutputTail {
		t.Fatalf("kept %d bytes, limit %d", len(got), maxOutputTail)
	}
	if !strings.HasSuffix(got, "最後の行\n") {
		t.Fatalf("expected newest line at the end, got %q", got[len(got)-32:])
	}
	if !strings.HasPrefix(got, "0123456789abcdef\n") {
		t.Fatalf("expected tail to start on a line boundary, got %q", got[:32])
	}
	if errs.Len() != 0 {
		t.Fatalf("stdout lines leaked into stderr buffer")
	}
}

func TestStartAll_RunsSiblingsAndRejectsSameSite(t *testing.T) {
	tmp := t.TempDir()
	l := New(Options{
		Executable: writeFakeEngine(t, echoEngine),
		PayloadDir: filepath.Join(tmp, "p"),
		LogDir:     filepath.Join(tmp, "l"),
		Stdout:     &syncBuffer{},
		Stderr:     &syncBuffer{},
	})

	if _, err := l.StartAll(context.Background(), []model.Job{
		{Kind: model.EngineImage, Payload: "a"},
		{Kind: model.EngineImage, Payload: "b"},
	}); err == nil {
		t.Fatalf("expected same-site jobs to be rejected")
	}
	if entries, _ := os.ReadDir(filepath.Join(tmp, "p")); len(entries) != 0 {
		t.Fatalf("expected no payload files for rejected batch, got %d", len(entries))
	}

	procs, err := l.StartAll(context.Background(), []model.Job{
		{Kind: model.EngineImage, Payload: "a"},
		{Kind: model.EngineVideo, Payload: "b"},
	})
	if err != nil {
		t.Fatalf("start all: %v", err)
	}
	if len(procs) != 2 {
		t.Fatalf("expected two processes, got %d", len(procs))
	}
	if err := WaitAll(procs); err != nil {
		t.Fatalf("wait all: %v", err)
	}
}

func TestParseContract_FlagAndPositionalForms(t *testing.T) {
	c, err := ParseContract([]string{"--kind", "video", "--payload", "/tmp/p.txt", "--ratio", "9:16"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != model.EngineVideo || c.PayloadPath != "/tmp/p.txt" || c.Ratio != "9:16" || c.Style != model.DefaultStyle {
		t.Fatalf("unexpected contract %+v", c)
	}

	c, err = ParseContract([]string{"video", "/tmp/p.txt", "Story"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Style != "Story" || c.Ratio != model.DefaultRatio {
		t.Fatalf("unexpected positional contract %+v", c)
	}

	back, err := ParseContract(c.Args()[1:], nil)
	if err != nil {
		t.Fatal(err)
	}
	if back != c {
		t.Fatalf("contract did not survive argv: %+v vs %+v", back, c)
	}

	partial, err := ParseContract([]string{"--kind", "image", "--ack-file", "/tmp/i.ack", "--log-file", "/tmp/i.log"}, nil)
	if err == nil {
		t.Fatalf("expected missing payload to fail")
	}
	if partial.AckFile != "/tmp/i.ack" || partial.LogFile != "/tmp/i.log" {
		t.Fatalf("expected failed parse to keep reporting paths, got %+v", partial)
	}
}

func TestReadPayload_Failures(t *testing.T) {
	dir := t.TempDir()
	if _, err := ReadPayload(filepath.Join(dir, "missing.txt")); !errors.Is(err, ErrPayloadRead) {
		t.Fatalf("expected ErrPayloadRead for missing file, got %v", err)
	}
	bad := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(bad, []byte{0xff, 0xfe, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPayload(bad); !errors.Is(err, ErrPayloadRead) {
		t.Fatalf("expected ErrPayloadRead for invalid UTF-8, got %v", err)
	}
	good := filepath.Join(dir, "good.txt")
	if err := os.WriteFile(good, []byte("\ufeffhello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got, err := ReadPayload(good); err != nil || got != "hello" {
		t.Fatalf("expected BOM-stripped payload, got %q %v", got, err)
	}
}
