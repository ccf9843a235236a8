package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"scene-forge/internal/browser"
	"scene-forge/internal/config"
	"scene-forge/internal/console"
	"scene-forge/internal/engine"
	"scene-forge/internal/launcher"
	"scene-forge/internal/logging"
	"scene-forge/internal/model"
	"scene-forge/internal/runstore"
	"scene-forge/internal/session"
)

const persistTimeout = 15 * time.Second

// runEngine is the process the launcher starts: one engine run against one
// site with one payload.
func runEngine(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	contract, err := launcher.ParseContract(args, flag.CommandLine.Output())
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	if err != nil {
		_ = console.ClearAck(contract.AckFile)
		return holdFailure(ctx, commandLogger(false), contract.AckFile, os.Stdout, "Engine arguments invalid", err)
	}
	return runEngineContract(ctx, contract, os.Stdout)
}

func runEngineContract(ctx context.Context, c launcher.Contract, out io.Writer) error {
	clearErr := console.ClearAck(c.AckFile)
	log, closeLog, err := logging.New(logging.Options{Console: os.Stderr, File: c.LogFile})
	if err != nil {
		return holdFailure(ctx, commandLogger(false), c.AckFile, out, "Engine log unavailable", fmt.Errorf("open engine log: %w", err))
	}
	defer func() { _ = closeLog() }()
	log = log.With(zap.String("engine", string(c.Kind)))
	if clearErr != nil {
		log.Warn("Stale ack file not removed.", zap.Error(clearErr))
	}

	hold := func(title string, cause error) error {
		return holdFailure(ctx, log, c.AckFile, out, title, cause)
	}

	payload, err := launcher.ReadPayload(c.PayloadPath)
	if err != nil {
		return hold("Payload unreadable", err)
	}
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return hold("Config unreadable", err)
	}

	ctrl, release, err := openSite(ctx, cfg, c.Kind, "engine "+string(c.Kind), log)
	if err != nil {
		return hold("Browser setup failed", err)
	}
	defer release()

	job := model.Job{Kind: c.Kind, Payload: payload, Style: c.Style, Ratio: c.Ratio}
	log.Info("Automation started.", zap.String("payload", c.PayloadPath), zap.Bool("authenticated", ctrl.Authenticated()))
	if err := engine.Execute(ctx, ctrl, job, engineOptions(cfg, log)); err != nil {
		return hold("Automation failed", err)
	}

	fmt.Fprintln(out, console.Banner(strings.ToUpper(string(c.Kind))+" engine ready", engine.Guide(c.Kind)))
	return waitForOperator(ctx, ctrl, cfg, log)
}

// holdFailure reports a failed engine run and keeps the console open until
// the operator acknowledges it. The cause is returned unchanged.
func holdFailure(ctx context.Context, log *zap.Logger, ackFile string, out io.Writer, title string, cause error) error {
	log.Error(title+".", zap.Error(cause))
	fmt.Fprintln(out, console.Failure(title, cause))
	herr := console.Hold(ctx, console.HoldOptions{
		Message:     "Read the error above, then acknowledge to close.",
		AckFile:     ackFile,
		Interactive: stdinIsTTY(),
		Out:         out,
	})
	if herr != nil {
		log.Warn("Hold ended without acknowledgement.", zap.Error(herr))
	}
	return cause
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	site := fs.String("site", "", "site to log in to: image|video")
	configPath := fs.String("config", config.DefaultPath, "config file path")
	debug := fs.Bool("debug", false, "debug logging")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	kind, err := model.ParseEngineKind(*site)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log := commandLogger(*debug).With(zap.String("site", kind.Site()))

	ctrl, release, err := openSite(ctx, cfg, kind, "login", log)
	if err != nil {
		return err
	}
	defer release()

	fmt.Println(console.Banner("Manual login: "+kind.Site(), engine.LoginGuide(kind.Site())))
	if err := waitForOperator(ctx, ctrl, cfg, log); err != nil {
		return err
	}
	fmt.Printf("session for %s will be saved to %s\n", kind.Site(), sessionPath(cfg, kind))
	return nil
}

// openSite claims the site lock, starts the browser and restores the stored
// session. release persists the session, closes the browser and drops the
// lock, in that order, whatever happened in between.
func openSite(ctx context.Context, cfg config.Config, kind model.EngineKind, purpose string, log *zap.Logger) (*browser.Controller, func(), error) {
	store := session.NewFileStore(cfg.SessionsDir)
	if err := runstore.Mkdir(cfg.SessionsDir); err != nil {
		return nil, nil, err
	}
	lock, err := store.Lock(kind.Site(), purpose)
	if err != nil {
		return nil, nil, err
	}

	driver, err := browser.NewChromeDriver(chromeOptions(cfg, log))
	if err != nil {
		_ = lock.Release()
		return nil, nil, err
	}
	ctrl := browser.NewController(driver, store, browser.Config{
		Site:          kind.Site(),
		StartURL:      cfg.SiteURL(kind),
		ActionTimeout: cfg.Engine.ActionTimeout,
		IOTimeout:     cfg.Engine.IOTimeout,
		Logger:        log,
	})

	release := func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		defer cancel()
		if err := ctrl.Persist(pctx); err != nil {
			log.Error("Session not saved.", zap.Error(err))
		}
		if err := ctrl.Close(); err != nil {
			log.Debug("Browser close failed.", zap.Error(err))
		}
		if err := lock.Release(); err != nil {
			log.Warn("Site lock not released.", zap.Error(err))
		}
	}

	if err := ctrl.Open(ctx); err != nil {
		release()
		return nil, nil, err
	}
	return ctrl, release, nil
}

// waitForOperator blocks until the browser window is closed. An interrupt
// counts as closing.
func waitForOperator(ctx context.Context, ctrl *browser.Controller, cfg config.Config, log *zap.Logger) error {
	err := ctrl.WaitClosed(ctx, cfg.Engine.SnapshotInterval)
	if errors.Is(err, context.Canceled) {
		log.Info("Interrupted, finalizing.")
		return nil
	}
	if err == nil {
		log.Info("Browser window closed.")
	}
	return err
}

func sessionPath(cfg config.Config, kind model.EngineKind) string {
	p, err := session.NewFileStore(cfg.SessionsDir).Path(kind.Site())
	if err != nil {
		return cfg.SessionsDir
	}
	return p
}
