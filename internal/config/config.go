// Package config loads scene-forge settings from a YAML file, a .env file
// and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scene-forge/internal/generator"
	"scene-forge/internal/model"
	"scene-forge/internal/queue"
	"scene-forge/internal/runstore"
)

const (
	DefaultPath        = "scene-forge.yaml"
	DefaultSessionsDir = "auth"
	DefaultImageURL    = "https://www.midjourney.com/explore"
	DefaultVideoURL    = "https://vrew.voyagerx.com/ja/"
	DefaultPayloadDir  = "payloads"
	DefaultLogDir      = "logs"
	DefaultCaptureDir  = "assets/images"
	DefaultCSVPath     = "ledger.csv"

	LedgerSheets = "sheets"
	LedgerCSV    = "csv"

	DefaultActionTimeout    = 3 * time.Second
	DefaultIOTimeout        = 30 * time.Second
	DefaultSettle           = time.Second
	DefaultPacing           = 5 * time.Second
	DefaultSnapshotInterval = 5 * time.Second
)

// ErrNoLedger is returned when the sheets backend is selected without a
// spreadsheet id.
var ErrNoLedger = errors.New("ledger is not configured (set ledger.spreadsheet_id or SPREADSHEET_ID, or use ledger.backend: csv)")

type Config struct {
	SessionsDir  string         `yaml:"sessions_dir"`
	PromptSuffix string         `yaml:"prompt_suffix"`
	Sites        SitesConfig    `yaml:"sites"`
	Browser      BrowserConfig  `yaml:"browser"`
	Engine       EngineConfig   `yaml:"engine"`
	Video        VideoConfig    `yaml:"video"`
	Launcher     LauncherConfig `yaml:"launcher"`
	Ledger       LedgerConfig   `yaml:"ledger"`
}

type SitesConfig struct {
	ImageURL string `yaml:"image_url"`
	VideoURL string `yaml:"video_url"`
}

type BrowserConfig struct {
	ChromePath  string `yaml:"chrome_path"`
	Headless    bool   `yaml:"headless"`
	RemoteURL   string `yaml:"remote_url"`
	UserDataDir string `yaml:"user_data_dir"`
	UserAgent   string `yaml:"user_agent"`
}

type EngineConfig struct {
	// ActionTimeout is the per-candidate locator wait for strategies that
	// do not set their own.
	ActionTimeout    time.Duration `yaml:"action_timeout"`
	IOTimeout        time.Duration `yaml:"io_timeout"`
	Trigger          string        `yaml:"trigger"`
	Settle           time.Duration `yaml:"settle"`
	Pacing           time.Duration `yaml:"pacing"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	Capture          bool          `yaml:"capture"`
	CaptureDir       string        `yaml:"capture_dir"`
}

type VideoConfig struct {
	Style string `yaml:"style"`
	Ratio string `yaml:"ratio"`
}

type LauncherConfig struct {
	PayloadDir string `yaml:"payload_dir"`
	LogDir     string `yaml:"log_dir"`
	// Wrapper prefixes the engine command, e.g. a terminal emulator that
	// gives each engine its own window.
	Wrapper []string `yaml:"wrapper,omitempty"`
	Detach  bool     `yaml:"detach"`
}

type LedgerConfig struct {
	Backend         string `yaml:"backend"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
	CredentialsFile string `yaml:"credentials_file"`
	CSVPath         string `yaml:"csv_path"`
	CompletionFlag  string `yaml:"completion_flag"`
}

func Default() Config {
	return Normalize(Config{})
}

// Load reads path (a missing file yields defaults), then applies .env and
// environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	p := normalizePath(path)
	data, err := os.ReadFile(p)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", p, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", p, err)
	}

	applyEnv(&cfg)
	return Normalize(cfg), nil
}

func Save(path string, cfg Config) error {
	p := normalizePath(path)
	data, err := yaml.Marshal(Normalize(cfg))
	if err != nil {
		return err
	}
	if err := runstore.Mkdir(filepath.Dir(p)); err != nil {
		return err
	}
	return runstore.WriteBytes(p, data)
}

func applyEnv(cfg *Config) {
	if v := firstEnv("SCENE_FORGE_SPREADSHEET_ID", "SPREADSHEET_ID"); v != "" {
		cfg.Ledger.SpreadsheetID = v
	}
	if v := firstEnv("SCENE_FORGE_CREDENTIALS", "GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		cfg.Ledger.CredentialsFile = v
	}
	if v := firstEnv("SCENE_FORGE_CHROME_PATH"); v != "" {
		cfg.Browser.ChromePath = v
	}
	if v := firstEnv("SCENE_FORGE_SESSIONS_DIR", "AUTH_STATE_DIR"); v != "" {
		cfg.SessionsDir = v
	}
}

func Normalize(raw Config) Config {
	cfg := raw
	cfg.SessionsDir = orDefault(cfg.SessionsDir, DefaultSessionsDir)
	if cfg.PromptSuffix == "" {
		cfg.PromptSuffix = generator.DefaultPromptSuffix
	}
	cfg.Sites.ImageURL = orDefault(cfg.Sites.ImageURL, DefaultImageURL)
	cfg.Sites.VideoURL = orDefault(cfg.Sites.VideoURL, DefaultVideoURL)

	cfg.Browser.ChromePath = strings.TrimSpace(cfg.Browser.ChromePath)
	cfg.Browser.RemoteURL = strings.TrimSpace(cfg.Browser.RemoteURL)
	cfg.Browser.UserDataDir = strings.TrimSpace(cfg.Browser.UserDataDir)
	cfg.Browser.UserAgent = strings.TrimSpace(cfg.Browser.UserAgent)

	if cfg.Engine.ActionTimeout <= 0 {
		cfg.Engine.ActionTimeout = DefaultActionTimeout
	}
	if cfg.Engine.IOTimeout <= 0 {
		cfg.Engine.IOTimeout = DefaultIOTimeout
	}
	cfg.Engine.Trigger = orDefault(cfg.Engine.Trigger, "/imagine")
	if cfg.Engine.Settle <= 0 {
		cfg.Engine.Settle = DefaultSettle
	}
	if cfg.Engine.Pacing < 0 {
		cfg.Engine.Pacing = 0
	} else if cfg.Engine.Pacing == 0 {
		cfg.Engine.Pacing = DefaultPacing
	}
	if cfg.Engine.SnapshotInterval <= 0 {
		cfg.Engine.SnapshotInterval = DefaultSnapshotInterval
	}
	cfg.Engine.CaptureDir = orDefault(cfg.Engine.CaptureDir, DefaultCaptureDir)

	cfg.Video.Style = orDefault(cfg.Video.Style, model.DefaultStyle)
	cfg.Video.Ratio = orDefault(cfg.Video.Ratio, model.DefaultRatio)

	cfg.Launcher.PayloadDir = orDefault(cfg.Launcher.PayloadDir, DefaultPayloadDir)
	cfg.Launcher.LogDir = orDefault(cfg.Launcher.LogDir, DefaultLogDir)
	wrapper := make([]string, 0, len(cfg.Launcher.Wrapper))
	for _, w := range cfg.Launcher.Wrapper {
		if v := strings.TrimSpace(w); v != "" {
			wrapper = append(wrapper, v)
		}
	}
	cfg.Launcher.Wrapper = wrapper

	switch strings.ToLower(strings.TrimSpace(cfg.Ledger.Backend)) {
	case LedgerCSV:
		cfg.Ledger.Backend = LedgerCSV
	default:
		cfg.Ledger.Backend = LedgerSheets
	}
	cfg.Ledger.SpreadsheetID = strings.TrimSpace(cfg.Ledger.SpreadsheetID)
	cfg.Ledger.SheetName = strings.TrimSpace(cfg.Ledger.SheetName)
	cfg.Ledger.CredentialsFile = strings.TrimSpace(cfg.Ledger.CredentialsFile)
	cfg.Ledger.CSVPath = orDefault(cfg.Ledger.CSVPath, DefaultCSVPath)
	cfg.Ledger.CompletionFlag = orDefault(cfg.Ledger.CompletionFlag, queue.DefaultFlag)
	return cfg
}

// SiteURL is the start page of the web application behind an engine kind.
func (c Config) SiteURL(kind model.EngineKind) string {
	if kind == model.EngineVideo {
		return c.Sites.VideoURL
	}
	return c.Sites.ImageURL
}

// CheckLedger reports whether the selected ledger backend has what it needs.
func (c Config) CheckLedger() error {
	if c.Ledger.Backend == LedgerSheets && c.Ledger.SpreadsheetID == "" {
		return ErrNoLedger
	}
	return nil
}

func normalizePath(path string) string {
	return orDefault(path, DefaultPath)
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
