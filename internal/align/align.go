// Package align reconciles the narration lines and scene prompts returned by
// the script generator so that every line has exactly one prompt.
package align

import (
	"strings"

	"scene-forge/internal/model"
)

type Outcome string

const (
	OutcomeUnchanged        Outcome = "unchanged"
	OutcomeDroppedTitleCard Outcome = "dropped_title_card"
	OutcomeTruncated        Outcome = "truncated"
)

// Degraded reports whether content was discarded to force the counts to match.
func (o Outcome) Degraded() bool {
	return o == OutcomeTruncated
}

type Result struct {
	Narration []string            `json:"narration"`
	Prompts   []model.ScenePrompt `json:"prompts"`
	Outcome   Outcome             `json:"outcome"`
	// Dropped counts discarded narration lines plus discarded prompts.
	Dropped int `json:"dropped"`
}

// titleMarkers flag a prompt that describes a title card rather than a scene.
// This is a best-effort guess at one generator failure mode; anything it
// misses falls through to truncation.
var titleMarkers = []string{"title", "intro", "text", "typography"}

// Align applies, in order: equal counts are returned as-is; one surplus
// prompt that looks like a title card is dropped; anything else is truncated
// to the shorter list. Prompts are renumbered from 1 whenever they change.
func Align(narration []string, prompts []model.ScenePrompt, title string) Result {
	if len(prompts) == len(narration) {
		return Result{
			Narration: append([]string(nil), narration...),
			Prompts:   append([]model.ScenePrompt(nil), prompts...),
			Outcome:   OutcomeUnchanged,
		}
	}

	if len(prompts) == len(narration)+1 && LooksLikeTitleCard(prompts[0].Prompt, title) {
		return Result{
			Narration: append([]string(nil), narration...),
			Prompts:   renumber(prompts[1:]),
			Outcome:   OutcomeDroppedTitleCard,
			Dropped:   1,
		}
	}

	n := min(len(narration), len(prompts))
	return Result{
		Narration: append([]string(nil), narration[:n]...),
		Prompts:   renumber(prompts[:n]),
		Outcome:   OutcomeTruncated,
		Dropped:   len(narration) - n + len(prompts) - n,
	}
}

// LooksLikeTitleCard reports whether prompt contains a title marker or the
// job title, case-insensitively. An empty title never matches.
func LooksLikeTitleCard(prompt, title string) bool {
	text := strings.ToLower(prompt)
	for _, m := range titleMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	t := strings.ToLower(strings.TrimSpace(title))
	return t != "" && strings.Contains(text, t)
}

func renumber(prompts []model.ScenePrompt) []model.ScenePrompt {
	out := make([]model.ScenePrompt, len(prompts))
	for i, p := range prompts {
		out[i] = model.ScenePrompt{Scene: i + 1, Prompt: p.Prompt}
	}
	return out
}
