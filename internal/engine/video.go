package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"scene-forge/internal/browser"
	"scene-forge/internal/locator"
)

var (
	newProject = locator.Strategy{
		Action: "new project",
		Candidates: []locator.Rule{
			locator.Text("button", "新規で作成する"),
			locator.Text("button", "Create New"),
			locator.Text("", "新規で作成する"),
		},
		Timeout: 30 * time.Second,
	}
	fromText = locator.Strategy{
		Action: "create from text",
		Candidates: []locator.Rule{
			locator.Text("", "テキストからビデオを作成"),
			locator.Text("", "Create video from text"),
		},
		Timeout: 20 * time.Second,
	}
	nextButton = locator.Strategy{
		Action: "next",
		Candidates: []locator.Rule{
			locator.Text("button", "次へ"),
			locator.Text("button", "Next"),
		},
		Timeout: 10 * time.Second,
	}
	narrationInput = locator.Strategy{
		Action: "narration input",
		Candidates: []locator.Rule{
			locator.CSS(`textarea[placeholder*="入力"]`),
			locator.CSS(`textarea[placeholder*="script"]`),
			locator.CSS(`textarea`),
		},
		Timeout: 30 * time.Second,
	}
)

func ratioOption(ratio string) locator.Strategy {
	return locator.Strategy{
		Action:     "aspect ratio " + ratio,
		Candidates: []locator.Rule{locator.Text("", ratio)},
		Timeout:    5 * time.Second,
	}
}

func styleOption(style string) locator.Strategy {
	return locator.Strategy{
		Action:     "style " + style,
		Candidates: []locator.Rule{locator.Text("", style)},
		Timeout:    10 * time.Second,
	}
}

type VideoFlow struct {
	page Page
	log  *zap.Logger
}

func NewVideoFlow(page Page, log *zap.Logger) *VideoFlow {
	if log == nil {
		log = zap.NewNop()
	}
	return &VideoFlow{page: page, log: log.With(zap.String("engine", "video"))}
}

// Steps is the project wizard: new project, create from text, optional
// ratio, optional style, then the narration paste.
func (f *VideoFlow) Steps(narration, style, ratio string) []browser.Step {
	return []browser.Step{
		{Target: newProject},
		{Target: fromText},
		{
			Target:   ratioOption(ratio),
			Optional: true,
			Skipped:  "Aspect ratio control not found, assuming the default is active.",
			Then:     []browser.Step{{Target: nextButton}},
		},
		{
			Target:   styleOption(style),
			Optional: true,
			Skipped:  "Style control not found, falling back to the service default style.",
			Then:     []browser.Step{{Target: nextButton}},
		},
		{Target: narrationInput, Action: browser.ActionFill, Value: narration},
	}
}

func (f *VideoFlow) Prepare(ctx context.Context, narration, style, ratio string) error {
	if strings.TrimSpace(narration) == "" {
		return errors.New("video payload contains no narration")
	}
	f.log.Info("Preparing project.", zap.String("style", style), zap.String("ratio", ratio), zap.Int("chars", len([]rune(narration))))
	if err := f.page.Run(ctx, f.Steps(narration, style, ratio)); err != nil {
		return err
	}
	f.log.Info("Narration pasted.")
	return nil
}
