package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"scene-forge/internal/browser"
	"scene-forge/internal/locator"
)

const (
	DefaultTrigger = "/imagine"
	DefaultSettle  = 1 * time.Second
	DefaultPacing  = 5 * time.Second
)

var (
	promptInput = locator.Strategy{
		Action: "prompt input",
		Candidates: []locator.Rule{
			locator.CSS(`p[data-placeholder*="Prompt"]`),
			locator.CSS(`textarea[placeholder*="Imagine"]`),
			locator.CSS(`input[placeholder*="Imagine"]`),
			locator.CSS(`div[role="textbox"]`),
			locator.CSS(`textarea`),
		},
		Timeout: 3 * time.Second,
	}
	renderedImage = locator.Strategy{
		Action: "rendered image",
		Candidates: []locator.Rule{
			locator.CSS(`img[alt*="Imagine"]`),
			locator.CSS(`img[src*="cdn.midjourney.com"]`),
		},
		Timeout: 30 * time.Second,
	}
)

type ImageOptions struct {
	Trigger string
	// Settle is the wait between the trigger command and the prompt text.
	Settle time.Duration
	// Pacing is the wait between prompts; back-to-back submissions get
	// dropped or interleaved by the service.
	Pacing     time.Duration
	CaptureDir string
	BaseURL    string
	Now        func() time.Time
}

func (o ImageOptions) normalized() ImageOptions {
	if strings.TrimSpace(o.Trigger) == "" {
		o.Trigger = DefaultTrigger
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.Pacing < 0 {
		o.Pacing = 0
	}
	if strings.TrimSpace(o.CaptureDir) == "" {
		o.CaptureDir = "assets/images"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type ImageFlow struct {
	page Page
	opts ImageOptions
	log  *zap.Logger
}

func NewImageFlow(page Page, opts ImageOptions, log *zap.Logger) *ImageFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &ImageFlow{page: page, opts: opts.normalized(), log: log.With(zap.String("engine", "image"))}
}

// SplitPrompts turns a newline-delimited payload into trimmed, non-empty prompts.
func SplitPrompts(payload string) []string {
	lines := strings.Split(strings.ReplaceAll(payload, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if v := strings.TrimSpace(l); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Submit sends every prompt in payload, in order, and returns how many were sent.
func (f *ImageFlow) Submit(ctx context.Context, payload string) (int, error) {
	prompts := SplitPrompts(payload)
	if len(prompts) == 0 {
		return 0, errors.New("image payload contains no prompts")
	}
	f.log.Info("Submitting prompts.", zap.Int("count", len(prompts)))

	for i, prompt := range prompts {
		if err := f.submitOne(ctx, prompt); err != nil {
			return i, fmt.Errorf("prompt %d/%d: %w", i+1, len(prompts), err)
		}
		f.log.Info("Prompt submitted.", zap.Int("index", i+1), zap.Int("total", len(prompts)))
		if i < len(prompts)-1 {
			if err := f.page.Pause(ctx, f.opts.Pacing); err != nil {
				return i + 1, err
			}
		}
	}
	return len(prompts), nil
}

func (f *ImageFlow) submitOne(ctx context.Context, prompt string) error {
	if err := f.page.Click(ctx, promptInput); err != nil {
		return err
	}
	if err := f.page.Type(ctx, f.opts.Trigger); err != nil {
		return err
	}
	if err := f.page.Press(ctx, browser.KeyEnter); err != nil {
		return err
	}
	if err := f.page.Pause(ctx, f.opts.Settle); err != nil {
		return err
	}
	if err := f.page.Type(ctx, prompt); err != nil {
		return err
	}
	return f.page.Press(ctx, browser.KeyEnter)
}
