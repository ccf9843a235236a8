// Package generator reads the JSON document produced by the script generator
// into narration lines and scene prompts.
package generator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"scene-forge/internal/model"
)

const DefaultPromptSuffix = " --ar 9:16 --v 6.0"

var ErrEmptyOutput = errors.New("generator output is empty")

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

type Output struct {
	TitleEN     string              `json:"title_en,omitempty"`
	TitleJP     string              `json:"title_jp,omitempty"`
	Description string              `json:"description,omitempty"`
	Hashtags    []string            `json:"hashtags,omitempty"`
	Notes       string              `json:"editorial_notes,omitempty"`
	Narration   []string            `json:"narration"`
	Prompts     []model.ScenePrompt `json:"prompts"`
	// Repaired is set when the document only decoded after JSON repair.
	Repaired bool `json:"repaired,omitempty"`
}

// Title prefers the English title.
func (o Output) Title() string {
	if v := strings.TrimSpace(o.TitleEN); v != "" {
		return v
	}
	return strings.TrimSpace(o.TitleJP)
}

type rawOutput struct {
	TitleEN     string          `json:"title_en"`
	TitleJP     string          `json:"title_jp"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Hashtags    json.RawMessage `json:"hashtags"`
	Notes       string          `json:"editorial_notes"`
	Narration   json.RawMessage `json:"narration"`
	VrewScript  json.RawMessage `json:"vrew_script"`
	Prompts     json.RawMessage `json:"prompts"`
	MJPrompts   json.RawMessage `json:"mj_prompts"`
}

// Parse decodes generator output. Markdown code fences around the document
// are stripped and malformed JSON is repaired before giving up.
func Parse(text string) (Output, error) {
	body := StripFences(text)
	if body == "" {
		return Output{}, ErrEmptyOutput
	}

	var raw rawOutput
	repaired := false
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		fixed, repairErr := jsonrepair.JSONRepair(body)
		if repairErr != nil {
			return Output{}, fmt.Errorf("decode generator output: %w (repair failed: %v)", err, repairErr)
		}
		raw = rawOutput{}
		if err := json.Unmarshal([]byte(fixed), &raw); err != nil {
			return Output{}, fmt.Errorf("decode repaired generator output: %w", err)
		}
		repaired = true
	}

	out := Output{
		TitleEN:     strings.TrimSpace(firstNonEmpty(raw.TitleEN, raw.Title)),
		TitleJP:     strings.TrimSpace(raw.TitleJP),
		Description: strings.TrimSpace(raw.Description),
		Notes:       strings.TrimSpace(raw.Notes),
		Repaired:    repaired,
	}

	var err error
	if out.Hashtags, err = decodeLines(raw.Hashtags, " "); err != nil {
		return Output{}, fmt.Errorf("decode hashtags: %w", err)
	}
	if out.Narration, err = decodeLines(firstPresent(raw.Narration, raw.VrewScript), "\n"); err != nil {
		return Output{}, fmt.Errorf("decode narration: %w", err)
	}
	if out.Prompts, err = decodePrompts(firstPresent(raw.Prompts, raw.MJPrompts)); err != nil {
		return Output{}, fmt.Errorf("decode prompts: %w", err)
	}
	if len(out.Narration) == 0 && len(out.Prompts) == 0 {
		return Output{}, errors.New("generator output has neither narration nor prompts")
	}
	return out, nil
}

// StripFences returns the body of the first fenced block, or the trimmed
// text when there is none.
func StripFences(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.Trim(text, "` \t\r\n")
}

// ImagePayload renders prompts as an image engine payload, one per line.
// Prompts without an aspect-ratio parameter get suffix appended.
func ImagePayload(prompts []model.ScenePrompt, suffix string) string {
	lines := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if v := WithSuffix(p.Prompt, suffix); v != "" {
			lines = append(lines, v)
		}
	}
	return strings.Join(lines, "\n")
}

func WithSuffix(prompt, suffix string) string {
	// Newlines would split one prompt into several submissions.
	v := strings.Join(strings.Fields(prompt), " ")
	if v == "" {
		return ""
	}
	if strings.TrimSpace(suffix) == "" || strings.Contains(v, "--ar") {
		return v
	}
	return v + " " + strings.TrimSpace(suffix)
}

func decodeLines(raw json.RawMessage, sep string) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var single string
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, err
		}
		list = strings.Split(single, sep)
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func decodePrompts(raw json.RawMessage) ([]model.ScenePrompt, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	out := make([]model.ScenePrompt, 0, len(items))
	for _, item := range items {
		var p model.ScenePrompt
		if err := json.Unmarshal(item, &p); err != nil {
			var text string
			if err2 := json.Unmarshal(item, &text); err2 != nil {
				return nil, err
			}
			p.Prompt = text
		}
		p.Prompt = strings.TrimSpace(p.Prompt)
		if p.Prompt == "" {
			continue
		}
		if p.Scene <= 0 {
			p.Scene = len(out) + 1
		}
		out = append(out, p)
	}
	return out, nil
}

func firstPresent(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 && string(v) != "null" {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
