package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"scene-forge/internal/locator"
	"scene-forge/internal/session"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultWidth     = 1280
	defaultHeight    = 800
)

type ChromeOptions struct {
	ExecPath    string
	Headless    bool
	UserDataDir string
	UserAgent   string
	Width       int
	Height      int
	// RemoteURL attaches to an already running browser's DevTools endpoint
	// instead of launching one.
	RemoteURL string
	Logger    *zap.Logger
}

type ChromeDriver struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	log         *zap.Logger

	changed   chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func NewChromeDriver(opts ChromeOptions) (*ChromeDriver, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if remote := strings.TrimSpace(opts.RemoteURL); remote != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), remote)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execAllocatorOptions(opts)...)
	}

	sugar := log.Sugar()
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Debugf),
	)
	if err := chromedp.Run(ctx, network.Enable()); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	d := &ChromeDriver{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		log:         log,
		changed:     make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
	d.watchClose()
	d.watchSession()
	return d, nil
}

func execAllocatorOptions(opts ChromeOptions) []chromedp.ExecAllocatorOption {
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = defaultWidth, defaultHeight
	}
	out := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(ua),
		chromedp.WindowSize(width, height),
	)
	if path := strings.TrimSpace(opts.ExecPath); path != "" {
		out = append(out, chromedp.ExecPath(path))
	}
	if dir := strings.TrimSpace(opts.UserDataDir); dir != "" {
		out = append(out, chromedp.UserDataDir(dir))
	}
	return out
}

// watchClose marks the driver closed when the page target goes away or the
// browser connection ends.
func (d *ChromeDriver) watchClose() {
	c := chromedp.FromContext(d.ctx)
	if c != nil && c.Target != nil {
		pageID := c.Target.TargetID
		chromedp.ListenBrowser(d.ctx, func(ev any) {
			switch e := ev.(type) {
			case *target.EventTargetDestroyed:
				if e.TargetID == pageID {
					d.markClosed()
				}
			case *target.EventTargetCrashed:
				if e.TargetID == pageID {
					d.markClosed()
				}
			}
		})
	}
	go func() {
		<-d.ctx.Done()
		d.markClosed()
	}()
}

// watchSession signals Changed whenever a response sets cookies or a page
// finishes loading.
func (d *ChromeDriver) watchSession() {
	chromedp.ListenTarget(d.ctx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceivedExtraInfo:
			if hasSetCookie(e.Headers) {
				d.notifyChanged()
			}
		case *page.EventLoadEventFired:
			d.notifyChanged()
		}
	})
}

func hasSetCookie(headers network.Headers) bool {
	for k := range headers {
		if strings.EqualFold(k, "set-cookie") {
			return true
		}
	}
	return false
}

func (d *ChromeDriver) notifyChanged() {
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

func (d *ChromeDriver) Changed() <-chan struct{} {
	return d.changed
}

func (d *ChromeDriver) markClosed() {
	d.closeOnce.Do(func() { close(d.closed) })
}

func (d *ChromeDriver) Closed() <-chan struct{} {
	return d.closed
}

func (d *ChromeDriver) Close() error {
	err := chromedp.Cancel(d.ctx)
	d.cancel()
	d.allocCancel()
	d.markClosed()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// run executes actions on the browser tab, bounded by the caller's deadline
// and cancellation.
func (d *ChromeDriver) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(d.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func queryOpts(rule locator.Rule) []chromedp.QueryOption {
	if rule.Kind == locator.KindXPath {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	return []chromedp.QueryOption{chromedp.ByQuery}
}

func (d *ChromeDriver) Navigate(ctx context.Context, url string) error {
	return d.run(ctx, chromedp.Navigate(url))
}

func (d *ChromeDriver) Reload(ctx context.Context) error {
	return d.run(ctx, chromedp.Reload())
}

func (d *ChromeDriver) Visible(ctx context.Context, rule locator.Rule) error {
	return d.run(ctx, chromedp.WaitVisible(rule.Expr, queryOpts(rule)...))
}

func (d *ChromeDriver) Click(ctx context.Context, rule locator.Rule) error {
	opts := append(queryOpts(rule), chromedp.NodeVisible)
	return d.run(ctx, chromedp.Click(rule.Expr, opts...))
}

func (d *ChromeDriver) TypeText(ctx context.Context, text string) error {
	return d.run(ctx, chromedp.KeyEvent(text))
}

func (d *ChromeDriver) PressKey(ctx context.Context, key string) error {
	return d.run(ctx, chromedp.KeyEvent(key))
}

func (d *ChromeDriver) SetValue(ctx context.Context, rule locator.Rule, value string) error {
	opts := queryOpts(rule)
	return d.run(ctx,
		chromedp.Focus(rule.Expr, opts...),
		chromedp.SetValue(rule.Expr, "", opts...),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if value == "" {
				return nil
			}
			return input.InsertText(value).Do(ctx)
		}),
	)
}

func (d *ChromeDriver) HTML(ctx context.Context) (string, error) {
	var html string
	if err := d.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// Cookies reads the cookie jar through the browser connection rather than
// the tab, so it still works after the operator closed the tab as long as the
// browser process is up.
func (d *ChromeDriver) Cookies(ctx context.Context) ([]session.Cookie, error) {
	c := chromedp.FromContext(d.ctx)
	if c == nil || c.Browser == nil {
		return nil, errors.New("read cookies: browser not started")
	}
	raw, err := storage.GetCookies().Do(cdp.WithExecutor(ctx, c.Browser))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	out := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		expires := c.Expires
		if c.Session {
			expires = -1
		}
		out = append(out, session.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (d *ChromeDriver) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			ts := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			param.Expires = &ts
		}
		switch strings.ToLower(c.SameSite) {
		case "strict":
			param.SameSite = network.CookieSameSiteStrict
		case "lax":
			param.SameSite = network.CookieSameSiteLax
		case "none":
			param.SameSite = network.CookieSameSiteNone
		}
		params = append(params, param)
	}
	return d.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
}

const readStorageJS = `(() => ({
  origin: location.origin,
  localStorage: Object.keys(localStorage).map(k => ({name: k, value: localStorage.getItem(k)}))
}))()`

func (d *ChromeDriver) LocalStorage(ctx context.Context) (session.Origin, error) {
	var origin session.Origin
	if err := d.run(ctx, chromedp.Evaluate(readStorageJS, &origin)); err != nil {
		return session.Origin{}, fmt.Errorf("read local storage: %w", err)
	}
	return origin, nil
}

func (d *ChromeDriver) SetLocalStorage(ctx context.Context, items []session.StorageItem) error {
	payload, err := json.Marshal(items)
	if err != nil {
		return err
	}
	js := fmt.Sprintf(`((items) => { for (const it of items) localStorage.setItem(it.name, it.value); return items.length; })(%s)`, payload)
	var n int
	if err := d.run(ctx, chromedp.Evaluate(js, &n)); err != nil {
		return fmt.Errorf("restore local storage: %w", err)
	}
	return nil
}

const fetchJS = `(async (url) => {
  const res = await fetch(url, {credentials: "include"});
  const buf = new Uint8Array(await res.arrayBuffer());
  let bin = "";
  for (let i = 0; i < buf.length; i += 0x8000) {
    bin += String.fromCharCode.apply(null, buf.subarray(i, i + 0x8000));
  }
  return {status: res.status, contentType: res.headers.get("content-type") || "", body: btoa(bin)};
})(%s)`

type fetchResult struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
}

func (d *ChromeDriver) Fetch(ctx context.Context, url string) (Resource, error) {
	quoted, err := json.Marshal(url)
	if err != nil {
		return Resource{}, err
	}
	var res fetchResult
	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	if err := d.run(ctx, chromedp.Evaluate(fmt.Sprintf(fetchJS, quoted), &res, awaitPromise)); err != nil {
		return Resource{}, fmt.Errorf("fetch %s in page: %w", url, err)
	}
	body, err := base64.StdEncoding.DecodeString(res.Body)
	if err != nil {
		return Resource{}, fmt.Errorf("decode body of %s: %w", url, err)
	}
	return Resource{URL: url, Status: res.Status, ContentType: res.ContentType, Body: body}, nil
}
