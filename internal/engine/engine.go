// Package engine holds the two automation flows that drive the image and
// video services through their web UIs.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"scene-forge/internal/browser"
	"scene-forge/internal/locator"
	"scene-forge/internal/model"
)

// Page is the slice of browser.Controller the flows need.
type Page interface {
	Resolve(ctx context.Context, s locator.Strategy) (locator.Rule, error)
	Click(ctx context.Context, s locator.Strategy) error
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
	Pause(ctx context.Context, d time.Duration) error
	Run(ctx context.Context, steps []browser.Step) error
	HTML(ctx context.Context) (string, error)
	Fetch(ctx context.Context, url string) (browser.Resource, error)
}

type Options struct {
	Image ImageOptions
	// Capture downloads the latest render after submission.
	Capture bool
	Logger  *zap.Logger
}

// Execute runs the flow matching job.Kind. A capture failure is logged and
// does not fail the job.
func Execute(ctx context.Context, page Page, job model.Job, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	job = job.WithDefaults()

	switch job.Kind {
	case model.EngineImage:
		flow := NewImageFlow(page, opts.Image, log)
		n, err := flow.Submit(ctx, job.Payload)
		if err != nil {
			return err
		}
		log.Info("All prompts submitted.", zap.Int("count", n))
		if opts.Capture {
			path, err := flow.CaptureLatest(ctx)
			if err != nil {
				log.Warn("Image capture failed (non-fatal).", zap.Error(err))
			} else {
				log.Info("Latest render saved.", zap.String("path", path))
			}
		}
		return nil
	case model.EngineVideo:
		return NewVideoFlow(page, log).Prepare(ctx, job.Payload, job.Style, job.Ratio)
	default:
		return fmt.Errorf("unsupported engine kind %q", job.Kind)
	}
}

// Guide is the operator instruction printed once a flow finished.
func Guide(kind model.EngineKind) []string {
	switch kind {
	case model.EngineImage:
		return []string{
			"All prompts were submitted.",
			"Watch the renders, upscale or vary as needed.",
			"Close the browser window when done; the session is saved on close.",
		}
	case model.EngineVideo:
		return []string{
			"The narration was pasted into the editor.",
			"Review the scenes and finish the project in the browser.",
			"Close the browser window when done; the session is saved on close.",
		}
	default:
		return []string{"Close the browser window when done."}
	}
}

// LoginGuide is printed by the manual login flow.
func LoginGuide(site string) []string {
	return []string{
		fmt.Sprintf("Log in to the %s service in the browser window.", site),
		"Close the browser window once you are logged in; the session is saved on close.",
	}
}
