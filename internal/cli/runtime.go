package cli

import (
	"context"
	"os"

	"go.uber.org/zap"

	"scene-forge/internal/browser"
	"scene-forge/internal/config"
	"scene-forge/internal/engine"
	"scene-forge/internal/ledger"
	"scene-forge/internal/logging"
	"scene-forge/internal/queue"
)

func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, error) {
	if cfg.Ledger.Backend == config.LedgerCSV {
		return ledger.NewCSV(cfg.Ledger.CSVPath), nil
	}
	if err := cfg.CheckLedger(); err != nil {
		return nil, err
	}
	return ledger.NewSheets(ctx, ledger.SheetsOptions{
		SpreadsheetID:   cfg.Ledger.SpreadsheetID,
		SheetName:       cfg.Ledger.SheetName,
		CredentialsFile: cfg.Ledger.CredentialsFile,
	})
}

func openQueue(ctx context.Context, cfg config.Config, log *zap.Logger) (*queue.Queue, error) {
	l, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return queue.New(l, queue.Options{Flag: cfg.Ledger.CompletionFlag, Logger: log}), nil
}

// commandLogger is the stderr logger of short-lived operator commands.
func commandLogger(debug bool) *zap.Logger {
	log, _, err := logging.New(logging.Options{Console: os.Stderr, Debug: debug})
	if err != nil {
		return logging.Nop()
	}
	return log
}

func chromeOptions(cfg config.Config, log *zap.Logger) browser.ChromeOptions {
	return browser.ChromeOptions{
		ExecPath:    cfg.Browser.ChromePath,
		Headless:    cfg.Browser.Headless,
		UserDataDir: cfg.Browser.UserDataDir,
		UserAgent:   cfg.Browser.UserAgent,
		RemoteURL:   cfg.Browser.RemoteURL,
		Logger:      log,
	}
}

func engineOptions(cfg config.Config, log *zap.Logger) engine.Options {
	return engine.Options{
		Image: engine.ImageOptions{
			Trigger:    cfg.Engine.Trigger,
			Settle:     cfg.Engine.Settle,
			Pacing:     cfg.Engine.Pacing,
			CaptureDir: cfg.Engine.CaptureDir,
			BaseURL:    cfg.Sites.ImageURL,
		},
		Capture: cfg.Engine.Capture,
		Logger:  log,
	}
}
