package generator

import (
	"errors"
	"reflect"
	"testing"

	"scene-forge/internal/model"
)

func TestParse_FencedDocumentWithOriginalKeys(t *testing.T) {
	text := "Here you go:\n```json\n{\n" +
		`"title_en": "The Red Door",` + "\n" +
		`"hashtags": ["#Shorts", "#JHorror"],` + "\n" +
		`"vrew_script": ["Line one.", " ", "Line two."],` + "\n" +
		`"mj_prompts": [{"scene": 1, "prompt": "title card"}, {"scene": 2, "prompt": "a door"}]` +
		"\n}\n```\nEnjoy."

	out, err := Parse(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.Title() != "The Red Door" || out.Repaired {
		t.Fatalf("unexpected output %+v", out)
	}
	if !reflect.DeepEqual(out.Narration, []string{"Line one.", "Line two."}) {
		t.Fatalf("unexpected narration %q", out.Narration)
	}
	want := []model.ScenePrompt{{Scene: 1, Prompt: "title card"}, {Scene: 2, Prompt: "a door"}}
	if !reflect.DeepEqual(out.Prompts, want) {
		t.Fatalf("unexpected prompts %+v", out.Prompts)
	}
	if len(out.Hashtags) != 2 {
		t.Fatalf("unexpected hashtags %q", out.Hashtags)
	}
}

func TestParse_NarrationStringAndPlainPrompts(t *testing.T) {
	out, err := Parse(`{"narration": "a\nb\n", "prompts": ["p1", "p2"]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(out.Narration, []string{"a", "b"}) {
		t.Fatalf("unexpected narration %q", out.Narration)
	}
	if out.Prompts[1].Scene != 2 || out.Prompts[1].Prompt != "p2" {
		t.Fatalf("expected scenes numbered in order, got %+v", out.Prompts)
	}
}

func TestParse_RepairsTrailingComma(t *testing.T) {
	out, err := Parse(`{"narration": ["a", "b",], "prompts": [{"scene": 1, "prompt": "x"},]}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !out.Repaired || len(out.Narration) != 2 || len(out.Prompts) != 1 {
		t.Fatalf("unexpected repaired output %+v", out)
	}
}

func TestParse_Rejects(t *testing.T) {
	if _, err := Parse("  ``` ```  "); !errors.Is(err, ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
	if _, err := Parse(`{"title_en": "only a title"}`); err == nil {
		t.Fatalf("expected document without content to fail")
	}
}

func TestImagePayload_AppendsSuffixOnlyWithoutAspectRatio(t *testing.T) {
	prompts := []model.ScenePrompt{
		{Scene: 1, Prompt: "a hallway"},
		{Scene: 2, Prompt: "a lake --ar 16:9"},
		{Scene: 3, Prompt: "  "},
		{Scene: 4, Prompt: "two\nlines"},
	}
	got := ImagePayload(prompts, DefaultPromptSuffix)
	want := "a hallway --ar 9:16 --v 6.0\na lake --ar 16:9\ntwo lines --ar 9:16 --v 6.0"
	if got != want {
		t.Fatalf("unexpected payload:\n%s", got)
	}
	if WithSuffix("plain", "") != "plain" {
		t.Fatalf("expected empty suffix to leave prompt unchanged")
	}
}
