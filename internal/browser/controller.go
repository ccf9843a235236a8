package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"scene-forge/internal/locator"
	"scene-forge/internal/session"
)

const KeyEnter = kb.Enter

const defaultSnapshotInterval = 5 * time.Second

type Config struct {
	Site     string
	StartURL string
	// ActionTimeout is the per-candidate locator timeout used when a
	// strategy does not carry its own.
	ActionTimeout time.Duration
	// IOTimeout bounds navigation and session snapshot calls.
	IOTimeout time.Duration
	Logger    *zap.Logger
}

type Controller struct {
	driver    Driver
	store     session.Store
	site      string
	startURL  string
	timeout   time.Duration
	ioTimeout time.Duration
	log       *zap.Logger

	mu            sync.Mutex
	snapshot      *session.State
	authenticated bool
}

func NewController(driver Driver, store session.Store, cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.ActionTimeout
	if timeout <= 0 {
		timeout = locator.DefaultTimeout
	}
	ioTimeout := cfg.IOTimeout
	if ioTimeout <= 0 {
		ioTimeout = 30 * time.Second
	}
	return &Controller{
		driver:    driver,
		store:     store,
		site:      strings.TrimSpace(cfg.Site),
		startURL:  strings.TrimSpace(cfg.StartURL),
		timeout:   timeout,
		ioTimeout: ioTimeout,
		log:       log.With(zap.String("site", strings.TrimSpace(cfg.Site))),
	}
}

// Authenticated reports whether a stored session was restored on Open.
func (c *Controller) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Open restores the site's stored session, if any, and loads the start page.
// A missing or unreadable snapshot leaves the browser unauthenticated so the
// operator can log in by hand.
func (c *Controller) Open(ctx context.Context) error {
	state, ok, err := c.store.Load(c.site)
	switch {
	case err != nil:
		c.log.Warn("Stored session unreadable, continuing unauthenticated.", zap.Error(err))
		ok = false
	case !ok:
		c.log.Warn("No stored session, continuing unauthenticated; log in manually in the browser window.")
	}

	if ok {
		c.mu.Lock()
		loaded := state
		c.snapshot = &loaded
		c.mu.Unlock()
		if len(state.Cookies) > 0 {
			if err := c.withIO(ctx, func(ctx context.Context) error {
				return c.driver.SetCookies(ctx, state.Cookies)
			}); err != nil {
				return fmt.Errorf("restore cookies for %s: %w", c.site, err)
			}
		}
	}

	if c.startURL == "" {
		return errors.New("start URL is required")
	}
	if err := c.withIO(ctx, func(ctx context.Context) error {
		return c.driver.Navigate(ctx, c.startURL)
	}); err != nil {
		return fmt.Errorf("navigate to %s: %w", c.startURL, err)
	}

	if ok {
		if err := c.restoreLocalStorage(ctx, state); err != nil {
			c.log.Warn("Local storage restore failed (non-fatal).", zap.Error(err))
		}
		c.mu.Lock()
		c.authenticated = true
		c.mu.Unlock()
		c.log.Info("Stored session restored.", zap.Int("cookies", len(state.Cookies)), zap.Int("origins", len(state.Origins)))
	}
	return nil
}

func (c *Controller) restoreLocalStorage(ctx context.Context, state session.State) error {
	if len(state.Origins) == 0 {
		return nil
	}
	var current session.Origin
	if err := c.withIO(ctx, func(ctx context.Context) error {
		var err error
		current, err = c.driver.LocalStorage(ctx)
		return err
	}); err != nil {
		return err
	}
	for _, o := range state.Origins {
		if o.Origin != current.Origin || len(o.LocalStorage) == 0 {
			continue
		}
		return c.withIO(ctx, func(ctx context.Context) error {
			if err := c.driver.SetLocalStorage(ctx, o.LocalStorage); err != nil {
				return err
			}
			return c.driver.Reload(ctx)
		})
	}
	return nil
}

func (c *Controller) withIO(ctx context.Context, fn func(context.Context) error) error {
	ioCtx, cancel := context.WithTimeout(ctx, c.ioTimeout)
	defer cancel()
	return fn(ioCtx)
}

func (c *Controller) strategy(s locator.Strategy) locator.Strategy {
	if s.Timeout <= 0 {
		s.Timeout = c.timeout
	}
	return s
}

// Resolve finds the first candidate of s that is visible.
func (c *Controller) Resolve(ctx context.Context, s locator.Strategy) (locator.Rule, error) {
	rule, err := locator.Require(ctx, c.strategy(s), c.driver.Visible)
	if err != nil {
		return locator.Rule{}, err
	}
	c.log.Debug("Resolved control.", zap.String("action", s.Action), zap.Stringer("rule", rule))
	return rule, nil
}

// Lookup is Resolve for optional controls: absence is reported as found=false.
func (c *Controller) Lookup(ctx context.Context, s locator.Strategy) (locator.Rule, bool) {
	res := locator.Resolve(ctx, c.strategy(s), c.driver.Visible)
	return res.Rule, res.Found
}

func (c *Controller) Click(ctx context.Context, s locator.Strategy) error {
	rule, err := c.Resolve(ctx, s)
	if err != nil {
		return err
	}
	if err := c.driver.Click(ctx, rule); err != nil {
		return fmt.Errorf("click %s: %w", s.Action, err)
	}
	return nil
}

// TryClick clicks the control if it can be resolved and reports whether it did.
func (c *Controller) TryClick(ctx context.Context, s locator.Strategy) (bool, error) {
	rule, ok := c.Lookup(ctx, s)
	if !ok {
		return false, nil
	}
	if err := c.driver.Click(ctx, rule); err != nil {
		return false, fmt.Errorf("click %s: %w", s.Action, err)
	}
	return true, nil
}

// Type sends keystrokes to whatever element has focus.
func (c *Controller) Type(ctx context.Context, text string) error {
	if err := c.driver.TypeText(ctx, text); err != nil {
		return fmt.Errorf("type text: %w", err)
	}
	return nil
}

func (c *Controller) Press(ctx context.Context, key string) error {
	if err := c.driver.PressKey(ctx, key); err != nil {
		return fmt.Errorf("press key: %w", err)
	}
	return nil
}

func (c *Controller) Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) HTML(ctx context.Context) (string, error) {
	return c.driver.HTML(ctx)
}

// Fetch retrieves url through the page so the site's session cookies apply.
func (c *Controller) Fetch(ctx context.Context, url string) (Resource, error) {
	return c.driver.Fetch(ctx, url)
}

// Snapshot captures the live session and remembers it as the freshest copy.
// Cookies are required; when localStorage cannot be read (the tab is gone)
// the previously captured origins are kept.
func (c *Controller) Snapshot(ctx context.Context) (session.State, error) {
	var cookies []session.Cookie
	if err := c.withIO(ctx, func(ctx context.Context) error {
		var err error
		cookies, err = c.driver.Cookies(ctx)
		return err
	}); err != nil {
		return session.State{}, err
	}
	var current session.Origin
	if err := c.withIO(ctx, func(ctx context.Context) error {
		var err error
		current, err = c.driver.LocalStorage(ctx)
		return err
	}); err != nil {
		c.log.Debug("Local storage not captured, keeping previous origins.", zap.Error(err))
		current = session.Origin{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var origins []session.Origin
	if c.snapshot != nil {
		for _, o := range c.snapshot.Origins {
			if current.Origin == "" || o.Origin != current.Origin {
				origins = append(origins, o)
			}
		}
	}
	if current.Origin != "" && current.Origin != "null" {
		origins = append(origins, current)
	}
	state := session.State{Cookies: cookies, Origins: origins}
	c.snapshot = &state
	return state, nil
}

// Checkpoint captures the live session and writes it to the store. Failures
// are logged; the previous stored copy stays in place.
func (c *Controller) Checkpoint(ctx context.Context) {
	state, err := c.Snapshot(ctx)
	if err != nil {
		c.log.Debug("Session checkpoint skipped.", zap.Error(err))
		return
	}
	if err := c.store.Save(c.site, state); err != nil {
		c.log.Warn("Session checkpoint not saved.", zap.Error(err))
	}
}

// Persist saves the freshest session available: a live capture when the
// browser is still up, otherwise the last periodic or loaded snapshot.
func (c *Controller) Persist(ctx context.Context) error {
	state, err := c.Snapshot(ctx)
	if err != nil {
		c.mu.Lock()
		last := c.snapshot
		c.mu.Unlock()
		if last == nil {
			return fmt.Errorf("capture session for %s: %w", c.site, err)
		}
		c.log.Debug("Live session capture failed, saving last snapshot.", zap.Error(err))
		state = *last
	}
	if err := c.store.Save(c.site, state); err != nil {
		return fmt.Errorf("save session for %s: %w", c.site, err)
	}
	c.log.Info("Session saved.", zap.Int("cookies", len(state.Cookies)))
	return nil
}

// WaitClosed blocks until the operator closes the browser window. There is no
// timeout; ctx cancellation is the only other way out. The session is
// checkpointed on entry, whenever the driver reports a change and every
// interval, so state survives the window disappearing.
func (c *Controller) WaitClosed(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = defaultSnapshotInterval
	}
	c.Checkpoint(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.driver.Closed():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-c.driver.Changed():
			c.Checkpoint(ctx)
		case <-ticker.C:
			c.Checkpoint(ctx)
		}
	}
}

func (c *Controller) Close() error {
	return c.driver.Close()
}
