// Package browsertest provides an in-memory browser.Driver for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"scene-forge/internal/browser"
	"scene-forge/internal/locator"
	"scene-forge/internal/session"
)

var ErrNotPresent = errors.New("element not present")

// Driver records every action as a line in Events. Without a Document an
// element is visible when its rule expression contains one of the Present
// substrings. With a Document, rules are evaluated against the parsed HTML
// and actions record the first matched element.
type Driver struct {
	mu sync.Mutex

	Present   []string
	Document  *html.Node
	Events    []string
	Values    map[string]string
	Page      string
	Origin    string
	Jar       []session.Cookie
	Storage   map[string][]session.StorageItem
	Resources map[string]browser.Resource

	// CookieErr makes Cookies fail, as it does once the browser is gone.
	CookieErr error

	changed   chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

func New(present ...string) *Driver {
	return &Driver{
		Present:   present,
		Values:    map[string]string{},
		Storage:   map[string][]session.StorageItem{},
		Resources: map[string]browser.Resource{},
		Origin:    "https://example.test",
		changed:   make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
}

// NewDocument returns a driver whose page is the given HTML.
func NewDocument(markup string) (*Driver, error) {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	d := New()
	d.Document = doc
	d.Page = markup
	return d, nil
}

func (d *Driver) record(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Events = append(d.Events, fmt.Sprintf(format, args...))
}

func (d *Driver) Log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Events...)
}

func (d *Driver) Show(substr ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Present = append(d.Present, substr...)
}

func (d *Driver) visible(rule locator.Rule) bool {
	_, ok := d.target(rule)
	return ok
}

// target names the element rule acts on: the first document match, or the
// rule itself in substring mode.
func (d *Driver) target(rule locator.Rule) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Document != nil {
		n := d.first(rule)
		if n == nil {
			return "", false
		}
		return describe(n), true
	}
	for _, p := range d.Present {
		if strings.Contains(rule.Expr, p) {
			return rule.String(), true
		}
	}
	return "", false
}

func (d *Driver) first(rule locator.Rule) *html.Node {
	switch rule.Kind {
	case locator.KindXPath:
		nodes, err := htmlquery.QueryAll(d.Document, rule.Expr)
		if err != nil || len(nodes) == 0 {
			return nil
		}
		return nodes[0]
	default:
		sel := goquery.NewDocumentFromNode(d.Document).Find(rule.Expr)
		if sel.Length() == 0 {
			return nil
		}
		return sel.Nodes[0]
	}
}

func describe(n *html.Node) string {
	if id := htmlquery.SelectAttr(n, "id"); id != "" {
		return n.Data + "#" + id
	}
	return n.Data
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.record("navigate %s", url)
	return nil
}

func (d *Driver) Reload(ctx context.Context) error {
	d.record("reload")
	return nil
}

func (d *Driver) Visible(ctx context.Context, rule locator.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.visible(rule) {
		return nil
	}
	return ErrNotPresent
}

func (d *Driver) Click(ctx context.Context, rule locator.Rule) error {
	name, ok := d.target(rule)
	if !ok {
		return ErrNotPresent
	}
	d.record("click %s", name)
	return nil
}

func (d *Driver) TypeText(ctx context.Context, text string) error {
	d.record("type %s", text)
	return nil
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	if key == browser.KeyEnter {
		key = "enter"
	}
	d.record("key %s", key)
	return nil
}

func (d *Driver) SetValue(ctx context.Context, rule locator.Rule, value string) error {
	name, ok := d.target(rule)
	if !ok {
		return ErrNotPresent
	}
	d.mu.Lock()
	d.Values[rule.Expr] = value
	d.mu.Unlock()
	d.record("fill %s", name)
	return nil
}

func (d *Driver) HTML(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Page, nil
}

func (d *Driver) Cookies(ctx context.Context) ([]session.Cookie, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CookieErr != nil {
		return nil, d.CookieErr
	}
	return append([]session.Cookie(nil), d.Jar...), nil
}

// AddCookie simulates the site setting a cookie, e.g. after a login.
func (d *Driver) AddCookie(c session.Cookie) {
	d.mu.Lock()
	d.Jar = append(d.Jar, c)
	d.mu.Unlock()
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

// FailCookies makes every later Cookies call fail with err.
func (d *Driver) FailCookies(err error) {
	d.mu.Lock()
	d.CookieErr = err
	d.mu.Unlock()
}

func (d *Driver) Changed() <-chan struct{} {
	return d.changed
}

func (d *Driver) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	d.mu.Lock()
	d.Jar = append(d.Jar, cookies...)
	d.mu.Unlock()
	d.record("set-cookies %d", len(cookies))
	return nil
}

func (d *Driver) LocalStorage(ctx context.Context) (session.Origin, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return session.Origin{Origin: d.Origin, LocalStorage: append([]session.StorageItem(nil), d.Storage[d.Origin]...)}, nil
}

func (d *Driver) SetLocalStorage(ctx context.Context, items []session.StorageItem) error {
	d.mu.Lock()
	d.Storage[d.Origin] = append(d.Storage[d.Origin], items...)
	d.mu.Unlock()
	d.record("set-storage %d", len(items))
	return nil
}

func (d *Driver) Fetch(ctx context.Context, url string) (browser.Resource, error) {
	d.mu.Lock()
	res, ok := d.Resources[url]
	d.mu.Unlock()
	d.record("fetch %s", url)
	if !ok {
		return browser.Resource{URL: url, Status: 404, ContentType: "text/plain"}, nil
	}
	res.URL = url
	return res, nil
}

// CloseWindow simulates the operator closing the browser window.
func (d *Driver) CloseWindow() {
	d.closeOnce.Do(func() { close(d.closed) })
}

func (d *Driver) Closed() <-chan struct{} {
	return d.closed
}

func (d *Driver) Close() error {
	d.record("close")
	d.CloseWindow()
	return nil
}
