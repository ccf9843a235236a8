package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"scene-forge/internal/config"
	"scene-forge/internal/generator"
	"scene-forge/internal/launcher"
	"scene-forge/internal/model"
	"scene-forge/internal/queue"
)

type launchResult struct {
	Row         int                   `json:"row,omitempty"`
	Title       string                `json:"title,omitempty"`
	Invocations []launcher.Invocation `json:"invocations"`
	Waited      bool                  `json:"waited"`
	Completed   bool                  `json:"completed"`
}

func runLaunch(args []string) error {
	fs := flag.NewFlagSet("launch", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultPath, "config file path")
	kind := fs.String("kind", "both", "engines to launch: image|video|both")
	row := fs.Int("row", 0, "ledger row to launch (2 or greater)")
	next := fs.Bool("next", false, "launch the next unprocessed ledger row")
	imageFile := fs.String("image-file", "", "image prompts file (one prompt per line)")
	videoFile := fs.String("video-file", "", "video narration file")
	style := fs.String("style", "", "video style label (default from config)")
	ratio := fs.String("ratio", "", "video aspect ratio (default from config)")
	detach := fs.Bool("detach", false, "start engines and return without waiting")
	complete := fs.Bool("complete", false, "mark the ledger row completed after all engines exit cleanly")
	yes := fs.Bool("yes", false, "skip the completion confirmation prompt")
	engineBin := fs.String("engine-bin", "", "engine executable (default: this binary)")
	debug := fs.Bool("debug", false, "debug logging")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	kinds, err := parseKinds(*kind)
	if err != nil {
		return err
	}
	fromLedger := *row > 0 || *next
	if fromLedger && (*imageFile != "" || *videoFile != "") {
		return errors.New("use either --row/--next or payload files, not both")
	}
	if !fromLedger && *imageFile == "" && *videoFile == "" {
		return errors.New("nothing to launch: pass --row N, --next, --image-file or --video-file")
	}
	if *complete && !fromLedger {
		return errors.New("--complete requires --row or --next")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	log := commandLogger(*debug)

	payloads := map[model.EngineKind]string{}
	res := launchResult{}
	var q *queue.Queue
	if fromLedger {
		q, err = openQueue(ctx, cfg, log)
		if err != nil {
			return err
		}
		var rec model.Record
		if *next {
			rec, err = q.NextUnprocessed(ctx)
		} else {
			rec, err = q.Record(ctx, *row)
		}
		if err != nil {
			return err
		}
		res.Row, res.Title = rec.Row, rec.Title
		payloads[model.EngineImage] = generator.ImagePayload(scenePrompts(queue.SplitPrompts(rec.Prompts)), cfg.PromptSuffix)
		payloads[model.EngineVideo] = rec.Script
	} else {
		for k, path := range map[model.EngineKind]string{model.EngineImage: *imageFile, model.EngineVideo: *videoFile} {
			if strings.TrimSpace(path) == "" {
				continue
			}
			text, err := launcher.ReadPayload(path)
			if err != nil {
				return err
			}
			payloads[k] = text
		}
	}

	jobs := make([]model.Job, 0, len(kinds))
	for _, k := range kinds {
		payload := strings.TrimSpace(payloads[k])
		if payload == "" {
			if !*jsonOut {
				fmt.Printf("skip %s engine: no payload\n", k)
			}
			continue
		}
		job := model.Job{Kind: k, Payload: payload, Title: res.Title}
		if k == model.EngineVideo {
			job.Style = firstNonEmpty(*style, cfg.Video.Style)
			job.Ratio = firstNonEmpty(*ratio, cfg.Video.Ratio)
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return errors.New("no engine has a payload to run")
	}

	opts := launcher.Options{
		Executable: strings.TrimSpace(*engineBin),
		ConfigPath: *configPath,
		PayloadDir: cfg.Launcher.PayloadDir,
		LogDir:     cfg.Launcher.LogDir,
		Wrapper:    cfg.Launcher.Wrapper,
		Detach:     *detach || cfg.Launcher.Detach,
		Logger:     log,
	}
	if *jsonOut {
		opts.Stdout = os.Stderr
	}
	l := launcher.New(opts)
	procs, err := l.StartAll(ctx, jobs)
	if err != nil {
		return err
	}
	for _, p := range procs {
		inv := p.Invocation()
		res.Invocations = append(res.Invocations, inv)
		if !*jsonOut {
			fmt.Printf("launched %s engine pid=%d payload=%s log=%s\n", inv.Job.Kind, p.PID(), inv.PayloadPath, inv.LogPath)
		}
	}

	if *detach || cfg.Launcher.Detach || len(cfg.Launcher.Wrapper) > 0 {
		if *jsonOut {
			return printJSON(res)
		}
		fmt.Println("engines run independently; release a held engine with: scene-forge ack --file <ack-file>")
		return nil
	}

	waitErr := launcher.WaitAll(procs)
	res.Waited = true
	if waitErr == nil && *complete {
		ok := *yes
		if !ok {
			ok, err = promptConfirm(fmt.Sprintf("mark row %d (%s) completed? [y/N]: ", res.Row, res.Title))
			if err != nil {
				return err
			}
		}
		if ok {
			if _, err := q.MarkCompleted(ctx, res.Row); err != nil {
				return err
			}
			res.Completed = true
		}
	}
	if *jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		return waitErr
	}
	if waitErr != nil {
		return waitErr
	}
	fmt.Println("all engines finished")
	if res.Completed {
		fmt.Printf("row %d marked completed\n", res.Row)
	}
	return nil
}

func parseKinds(raw string) ([]model.EngineKind, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" || v == "both" || v == "all" {
		return []model.EngineKind{model.EngineImage, model.EngineVideo}, nil
	}
	k, err := model.ParseEngineKind(v)
	if err != nil {
		return nil, fmt.Errorf("invalid --kind %q (expected image, video or both)", raw)
	}
	return []model.EngineKind{k}, nil
}

func scenePrompts(texts []string) []model.ScenePrompt {
	out := make([]model.ScenePrompt, 0, len(texts))
	for i, t := range texts {
		out = append(out, model.ScenePrompt{Scene: i + 1, Prompt: t})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
