package model

import (
	"fmt"
	"strings"
)

type EngineKind string

const (
	EngineImage EngineKind = "image"
	EngineVideo EngineKind = "video"
)

const (
	DefaultStyle = "情報の伝達"
	DefaultRatio = "16:9"
)

func ParseEngineKind(raw string) (EngineKind, error) {
	switch EngineKind(strings.ToLower(strings.TrimSpace(raw))) {
	case EngineImage:
		return EngineImage, nil
	case EngineVideo:
		return EngineVideo, nil
	default:
		return "", fmt.Errorf("invalid engine kind %q (expected image or video)", strings.TrimSpace(raw))
	}
}

// Site is the session key an engine kind authenticates against.
func (k EngineKind) Site() string {
	return string(k)
}

// Job is one request to drive an engine's web UI with a payload. Style and
// Ratio only apply to the video engine.
type Job struct {
	ID      string     `json:"id"`
	Kind    EngineKind `json:"kind"`
	Payload string     `json:"payload"`
	Style   string     `json:"style,omitempty"`
	Ratio   string     `json:"ratio,omitempty"`
	Title   string     `json:"title,omitempty"`
}

func (j Job) WithDefaults() Job {
	if j.Kind != EngineVideo {
		j.Style = ""
		j.Ratio = ""
		return j
	}
	if strings.TrimSpace(j.Style) == "" {
		j.Style = DefaultStyle
	}
	if strings.TrimSpace(j.Ratio) == "" {
		j.Ratio = DefaultRatio
	}
	return j
}

type ScenePrompt struct {
	Scene  int    `json:"scene"`
	Prompt string `json:"prompt"`
}

// Record is one ledger row. Row is the 1-based sheet row number.
type Record struct {
	Row         int    `json:"row"`
	Title       string `json:"title"`
	Script      string `json:"script,omitempty"`
	Prompts     string `json:"prompts,omitempty"`
	Flag        string `json:"flag,omitempty"`
	CompletedOn string `json:"completed_on,omitempty"`
	State       string `json:"state"`
}

func PromptTexts(prompts []ScenePrompt) []string {
	out := make([]string, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, p.Prompt)
	}
	return out
}
