package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scene-forge/internal/console"
	"scene-forge/internal/launcher"
	"scene-forge/internal/model"
)

func nonInteractive(t *testing.T) {
	t.Helper()
	oldTTY := stdinIsTTY
	stdinIsTTY = func() bool { return false }
	t.Cleanup(func() { stdinIsTTY = oldTTY })
}

// ackRepeatedly keeps creating the ack file until stopped, standing in for
// an operator who acknowledges whenever a hold begins.
func ackRepeatedly(path string) (stop func()) {
	done := make(chan struct{})
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				_ = console.Ack(path)
			}
		}
	}()
	return func() { close(done) }
}

func TestRunEngine_PayloadFailureHoldsUntilAck(t *testing.T) {
	nonInteractive(t)

	tmp := t.TempDir()
	ack := filepath.Join(tmp, "logs", "image-1.ack")
	logFile := filepath.Join(tmp, "logs", "image-1.log")

	stop := ackRepeatedly(ack)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	err := runEngineContract(ctx, launcher.Contract{
		Kind:        model.EngineImage,
		PayloadPath: filepath.Join(tmp, "missing.txt"),
		LogFile:     logFile,
		AckFile:     ack,
	}, &out)
	stop()

	if !errors.Is(err, launcher.ErrPayloadRead) {
		t.Fatalf("expected payload read failure, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected the ack file to release the hold before the deadline")
	}
	if !strings.Contains(out.String(), "Payload unreadable") || !strings.Contains(out.String(), ack) {
		t.Fatalf("unexpected console output:\n%s", out.String())
	}
	raw, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("expected engine log file: %v", err)
	}
	if !strings.Contains(string(raw), "Payload unreadable.") {
		t.Fatalf("expected failure in log file, got %s", raw)
	}
}

func TestRunEngine_LogFailureStillHolds(t *testing.T) {
	nonInteractive(t)

	tmp := t.TempDir()
	ack := filepath.Join(tmp, "video-1.ack")
	// A directory cannot be opened as the engine log.
	logDir := filepath.Join(tmp, "video-1.log")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stop := ackRepeatedly(ack)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	err := runEngineContract(ctx, launcher.Contract{
		Kind:        model.EngineVideo,
		PayloadPath: filepath.Join(tmp, "payload.txt"),
		LogFile:     logDir,
		AckFile:     ack,
	}, &out)
	stop()

	if err == nil || !strings.Contains(err.Error(), "open engine log") {
		t.Fatalf("expected log setup failure, got %v", err)
	}
	if ctx.Err() != nil {
		t.Fatalf("expected the ack file to release the hold before the deadline")
	}
	if !strings.Contains(out.String(), "Engine log unavailable") || !strings.Contains(out.String(), "waiting for "+ack) {
		t.Fatalf("expected the failure to be shown and held, got:\n%s", out.String())
	}
}

func TestRunEngine_InvalidArgumentsHoldOnAckFile(t *testing.T) {
	nonInteractive(t)

	ack := filepath.Join(t.TempDir(), "image-2.ack")
	stop := ackRepeatedly(ack)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- runEngine([]string{"--kind", "image", "--ack-file", ack}) }()
	select {
	case err := <-errc:
		if err == nil || !strings.Contains(err.Error(), "payload file path is required") {
			t.Fatalf("expected missing payload error, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("hold was not released by the ack file")
	}
}
