package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"scene-forge/internal/align"
	"scene-forge/internal/config"
	"scene-forge/internal/generator"
	"scene-forge/internal/model"
)

type scriptImportResult struct {
	Title     string              `json:"title"`
	Outcome   align.Outcome       `json:"outcome"`
	Dropped   int                 `json:"dropped"`
	Repaired  bool                `json:"repaired"`
	Narration []string            `json:"narration"`
	Prompts   []model.ScenePrompt `json:"prompts"`
	Published *model.Record       `json:"published,omitempty"`
}

func runScript(args []string) error {
	if len(args) == 0 {
		printScriptUsage()
		return nil
	}
	switch args[0] {
	case "import":
		return runScriptImport(args[1:])
	case "help", "-h", "--help":
		printScriptUsage()
		return nil
	default:
		printScriptUsage()
		return fmt.Errorf("unknown script subcommand %q", args[0])
	}
}

func runScriptImport(args []string) error {
	fs := flag.NewFlagSet("script import", flag.ContinueOnError)
	file := fs.String("file", "", "generator output file (JSON, optionally fenced)")
	title := fs.String("title", "", "record title (default: title from the generator output)")
	publish := fs.Bool("publish", false, "write the aligned script to the ledger")
	configPath := fs.String("config", config.DefaultPath, "config file path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return fmt.Errorf("--file is required")
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := commandLogger(false)

	out, err := generator.Parse(string(raw))
	if err != nil {
		return err
	}
	t := firstNonEmpty(*title, out.Title())
	if out.Repaired {
		log.Warn("Generator output was malformed JSON and has been repaired.", zap.String("file", *file))
	}

	aligned := align.Align(out.Narration, out.Prompts, t)
	if aligned.Outcome.Degraded() {
		log.Warn("Narration and prompts do not pair up; both truncated.",
			zap.Int("narration", len(out.Narration)),
			zap.Int("prompts", len(out.Prompts)),
			zap.Int("kept", len(aligned.Narration)))
	}
	for i := range aligned.Prompts {
		aligned.Prompts[i].Prompt = generator.WithSuffix(aligned.Prompts[i].Prompt, cfg.PromptSuffix)
	}

	res := scriptImportResult{
		Title:     t,
		Outcome:   aligned.Outcome,
		Dropped:   aligned.Dropped,
		Repaired:  out.Repaired,
		Narration: aligned.Narration,
		Prompts:   aligned.Prompts,
	}

	if *publish {
		if t == "" {
			if t, err = promptRequired("title"); err != nil {
				return err
			}
			res.Title = t
		}
		ctx := context.Background()
		q, err := openQueue(ctx, cfg, log)
		if err != nil {
			return err
		}
		rec, err := q.Publish(ctx, t, strings.Join(aligned.Narration, "\n"), model.PromptTexts(aligned.Prompts))
		if err != nil {
			return err
		}
		res.Published = &rec
	}

	if *jsonOut {
		return printJSON(res)
	}
	fmt.Printf("title: %s\n", res.Title)
	fmt.Printf("alignment: %s (%d scene(s))\n", res.Outcome, len(res.Narration))
	for i := range res.Narration {
		fmt.Printf("%3d  %s\n", res.Prompts[i].Scene, res.Narration[i])
		fmt.Printf("     %s\n", res.Prompts[i].Prompt)
	}
	if res.Published != nil {
		fmt.Printf("published to row %d\n", res.Published.Row)
	}
	return nil
}

func printScriptUsage() {
	fmt.Println("scene-forge script: generator output")
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  import    align generator JSON --file F [--title T] [--publish]")
}
