package cli

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"scene-forge/internal/config"
	"scene-forge/internal/model"
	"scene-forge/internal/runstore"
	"scene-forge/internal/session"
)

type doctorResult struct {
	OK     bool          `json:"ok"`
	Checks []doctorCheck `json:"checks"`
}

type doctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

var chromeNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"headless-shell",
}

func doctor(cfg config.Config) doctorResult {
	checks := make([]doctorCheck, 0, 7)

	if cfg.Browser.RemoteURL != "" {
		checks = append(checks, doctorCheck{Name: "dependency:chrome", OK: true, Message: "attaching to " + cfg.Browser.RemoteURL})
	} else {
		path, ok := findChrome(cfg.Browser.ChromePath)
		msg := "chrome found at " + path
		if !ok {
			msg = "chrome not found (install Chrome/Chromium or set browser.chrome_path)"
		}
		checks = append(checks, doctorCheck{Name: "dependency:chrome", OK: ok, Message: msg})
	}

	for _, d := range []struct{ name, path string }{
		{"directory:sessions", cfg.SessionsDir},
		{"directory:payloads", cfg.Launcher.PayloadDir},
		{"directory:logs", cfg.Launcher.LogDir},
	} {
		ok, msg := ensureWritableDir(d.path)
		checks = append(checks, doctorCheck{Name: d.name, OK: ok, Message: d.path + ": " + msg})
	}

	checks = append(checks, sessionsCheck(cfg.SessionsDir))

	ledgerCheck := doctorCheck{Name: "ledger", OK: true}
	if err := cfg.CheckLedger(); err != nil {
		ledgerCheck.OK, ledgerCheck.Message = false, err.Error()
	} else if cfg.Ledger.Backend == config.LedgerCSV {
		ledgerCheck.Message = "csv at " + cfg.Ledger.CSVPath
	} else {
		ledgerCheck.Message = "sheets " + cfg.Ledger.SpreadsheetID
	}
	checks = append(checks, ledgerCheck)

	if cfg.Ledger.Backend == config.LedgerSheets {
		c := doctorCheck{Name: "credentials", OK: true, Message: "application default credentials"}
		if path := cfg.Ledger.CredentialsFile; path != "" {
			if _, err := os.Stat(path); err != nil {
				c.OK, c.Message = false, err.Error()
			} else {
				c.Message = "service account key " + path
			}
		}
		checks = append(checks, c)
	}

	ok := true
	for _, c := range checks {
		if !c.OK {
			ok = false
			break
		}
	}
	return doctorResult{OK: ok, Checks: checks}
}

// sessionsCheck only informs: a missing session means the engine opens the
// site logged out.
func sessionsCheck(dir string) doctorCheck {
	c := doctorCheck{Name: "sessions", OK: true}
	sites, err := session.NewFileStore(dir).Sites()
	if err != nil {
		c.Message = err.Error()
		return c
	}
	saved := make(map[string]bool, len(sites))
	for _, s := range sites {
		saved[s] = true
	}
	var missing []string
	for _, k := range []model.EngineKind{model.EngineImage, model.EngineVideo} {
		if !saved[k.Site()] {
			missing = append(missing, k.Site())
		}
	}
	if len(missing) == 0 {
		c.Message = "saved: " + strings.Join(sites, ", ")
		return c
	}
	c.Message = "no session for " + strings.Join(missing, ", ") + " (run scene-forge login --site " + missing[0] + ")"
	return c
}

func findChrome(explicit string) (string, bool) {
	if p := strings.TrimSpace(explicit); p != "" {
		if resolved, err := exec.LookPath(p); err == nil {
			return resolved, true
		}
		return p, false
	}
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, true
		}
	}
	if runtime.GOOS == "darwin" {
		const app = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(app); err == nil {
			return app, true
		}
	}
	return "", false
}

func ensureWritableDir(path string) (bool, string) {
	if strings.TrimSpace(path) == "" {
		return false, "empty path"
	}
	if err := runstore.Mkdir(path); err != nil {
		return false, err.Error()
	}
	f, err := os.CreateTemp(path, "scene-forge-check-*.tmp")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return false, "not writable"
		}
		return false, err.Error()
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true, "writable"
}
