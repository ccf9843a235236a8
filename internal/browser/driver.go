// Package browser drives a live, human-visible browser window on behalf of
// an engine flow. Driver is the narrow surface over the browser; Controller
// layers session restore, locator fallback and action scripts on top of it.
package browser

import (
	"context"

	"scene-forge/internal/locator"
	"scene-forge/internal/session"
)

// Driver implementations block until the action completes or ctx is done.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	// Visible returns nil once rule matches a visible element.
	Visible(ctx context.Context, rule locator.Rule) error
	Click(ctx context.Context, rule locator.Rule) error
	// TypeText sends text as key events to the focused element.
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	// SetValue clears the matched field and inserts value as user input.
	SetValue(ctx context.Context, rule locator.Rule, value string) error
	HTML(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]session.Cookie, error)
	SetCookies(ctx context.Context, cookies []session.Cookie) error
	// LocalStorage reads the current page's origin and its localStorage.
	LocalStorage(ctx context.Context) (session.Origin, error)
	SetLocalStorage(ctx context.Context, items []session.StorageItem) error
	// Fetch retrieves url from inside the page, carrying the page's cookies.
	Fetch(ctx context.Context, url string) (Resource, error)
	// Changed receives a value, never blocking the sender, when the page may
	// hold new session state: a response set cookies or a page loaded.
	Changed() <-chan struct{}
	// Closed is closed once the operator closes the window or the browser dies.
	Closed() <-chan struct{}
	Close() error
}

type Resource struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}
